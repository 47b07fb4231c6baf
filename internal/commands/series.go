package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/chart"
	"github.com/mrcode/glycemia/internal/prediction"
)

const sparklineWidth = 48

// horizon returns the --hours flag or the configured prediction horizon
func horizon(hours float64, e *env) (time.Duration, error) {
	if hours < 0 {
		return 0, fmt.Errorf("--hours must not be negative")
	}
	if hours == 0 {
		return e.cfg.Prediction.Horizon, nil
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

func newSeriesCmd(opts *rootOptions) *cobra.Command {
	var hours float64

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Predict a BSL time series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}
			span, err := horizon(hours, e)
			if err != nil {
				return err
			}

			series, err := svc.Series(cmd.Context(), e.now, e.now.Add(span))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, series)
			}
			if len(series.Points) == 0 {
				fmt.Fprintln(out, "No points")
				return nil
			}

			unit := e.cfg.Notifications.Unit
			thresholds := e.cfg.Prediction.AlertThresholds()
			fmt.Fprintf(out, "%s - %s  %s\n", series.Start.Format("15:04"), series.End.Format("15:04"),
				prediction.Sparkline(series.Values(), sparklineWidth))

			lo, hi := series.Points[0], series.Points[0]
			for _, p := range series.Points {
				if p.BSL < lo.BSL {
					lo = p
				}
				if p.BSL > hi.BSL {
					hi = p
				}
			}
			fmt.Fprintf(out, "  Min: %s at %s\n", formatBSL(lo.BSL, unit), lo.Time.Format("15:04"))
			fmt.Fprintf(out, "  Max: %s at %s\n", formatBSL(hi.BSL, unit), hi.Time.Format("15:04"))
			fmt.Fprintf(out, "  Trend: %s\n", chart.Direction(chart.SeriesRate(series)))

			c := prediction.CrossingTimes(series, thresholds.Hypo, thresholds.Hyper)
			if c.LowInMinutes >= 0 {
				fmt.Fprintf(out, "  Low in %d min\n", c.LowInMinutes)
			}
			if c.HighInMinutes >= 0 {
				fmt.Fprintf(out, "  High in %d min\n", c.HighInMinutes)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 0, "Hours to predict, default prediction.horizon")
	return cmd
}

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List predicted hypo and hyper alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			alerts, _, err := svc.Alerts(cmd.Context(), e.now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, alerts)
			}
			if len(alerts) == 0 {
				fmt.Fprintf(out, "No alerts in the next %s\n", e.cfg.Prediction.Horizon)
				return nil
			}
			for _, a := range alerts {
				fmt.Fprintf(out, "%s  %-7s %-6s %s\n", a.Time.Format("15:04"), a.Severity, a.Type, a.Message)
			}
			return nil
		},
	}
}

func newChartCmd(opts *rootOptions) *cobra.Command {
	var (
		outPath string
		hours   float64
		badge   bool
	)

	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render the predicted series as a PNG",
		Long: `Render the predicted BSL series as a PNG chart with its confidence band.
With --badge a small status icon of the current prediction is written instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}
			span, err := horizon(hours, e)
			if err != nil {
				return err
			}

			series, err := svc.Series(cmd.Context(), e.now, e.now.Add(span))
			if err != nil {
				return err
			}

			unit := e.cfg.Notifications.Unit
			thresholds := e.cfg.Prediction.AlertThresholds()

			var data []byte
			if badge {
				var bsl float64
				if len(series.Points) > 0 {
					bsl = series.Points[0].BSL
				}
				data, err = chart.RenderBadge(bsl, chart.Direction(chart.SeriesRate(series)), unit, thresholds)
			} else {
				chartOpts := chart.DefaultOptions()
				chartOpts.Unit = unit
				chartOpts.Thresholds = thresholds
				chartOpts.Title = fmt.Sprintf("Predicted BSL %s - %s", series.Start.Format("15:04"), series.End.Format("15:04"))
				data, err = chart.RenderSeries(series, chartOpts)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("failed to write chart: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output PNG file")
	cmd.Flags().Float64Var(&hours, "hours", 0, "Hours to predict, default prediction.horizon")
	cmd.Flags().BoolVar(&badge, "badge", false, "Render a 64x64 status badge")
	return cmd
}
