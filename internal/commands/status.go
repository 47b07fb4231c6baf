package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Nightscout returns 10 entries unless a count is given
const readingsPerHour = 12

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show event sources and the latest reading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			unit := e.cfg.Notifications.Unit

			if e.store != nil {
				events, err := e.store.Load()
				if err != nil {
					fmt.Fprintf(out, "📁 Event log: %s ❌ %v\n", e.store.Path(), err)
				} else {
					fmt.Fprintf(out, "📁 Event log: %s (%d events)\n", e.store.Path(), len(events))
				}
			} else {
				fmt.Fprintln(out, "📁 Event log: not configured")
			}

			if e.ns == nil {
				fmt.Fprintln(out, "🌐 Nightscout: not configured")
				return nil
			}

			status, err := e.ns.GetStatus(ctx)
			if err != nil {
				fmt.Fprintf(out, "🌐 Nightscout: %s ❌ %v\n", e.cfg.Nightscout.URL, err)
				return nil
			}
			fmt.Fprintf(out, "🌐 Nightscout: %s ✅ %s %s\n", e.cfg.Nightscout.URL, status.Name, status.Version)

			entry, err := e.ns.GetCurrentEntry(ctx)
			if err != nil {
				fmt.Fprintf(out, "   Latest reading: ❌ %v\n", err)
				return nil
			}
			age := e.now.Sub(entry.Time()).Round(time.Minute)
			fmt.Fprintf(out, "   Latest reading: %s %s (%s ago)\n", formatBSL(entry.ValueMmolL(), unit), entry.TrendArrow(), age)

			hours := e.cfg.Nightscout.Hours
			entries, err := e.ns.GetEntries(ctx, e.now.Add(-time.Duration(hours)*time.Hour), e.now, hours*readingsPerHour)
			if err != nil {
				fmt.Fprintf(out, "   Readings: ❌ %v\n", err)
				return nil
			}
			fmt.Fprintf(out, "   Readings in the last %dh: %d\n", hours, len(entries))
			return nil
		},
	}
}
