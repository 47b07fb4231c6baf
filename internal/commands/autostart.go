package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/autostart"
)

// watchEntry is the login entry running watch with the current config and event log
func (o *rootOptions) watchEntry() (*autostart.Entry, error) {
	args := []string{"watch"}
	for _, f := range []struct{ flag, path string }{
		{"--config", o.configPath},
		{"--events", o.eventsFile},
	} {
		if f.path == "" {
			continue
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return nil, err
		}
		args = append(args, f.flag, abs)
	}
	return autostart.NewEntry(args...), nil
}

func newAutostartCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start watch at login",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Run watch at login with the current --config and --events",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				entry, err := opts.watchEntry()
				if err != nil {
					return err
				}
				if err := entry.Enable(); err != nil {
					return fmt.Errorf("failed to enable autostart: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Autostart enabled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop running watch at login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := autostart.NewEntry().Disable(); err != nil {
					return fmt.Errorf("failed to disable autostart: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Autostart disabled")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether watch runs at login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				enabled, err := autostart.NewEntry().IsEnabled()
				if err != nil {
					return err
				}
				if enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "Autostart: ✅ enabled")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Autostart: ❌ disabled")
				}
				return nil
			},
		},
	)
	return cmd
}
