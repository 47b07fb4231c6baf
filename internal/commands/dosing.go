package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/dosing"
)

// bslFlag returns the --bsl value, or nil when the flag was not given
func bslFlag(cmd *cobra.Command, value float64) (*float64, error) {
	if !cmd.Flags().Changed("bsl") {
		return nil, nil
	}
	if value <= 0 {
		return nil, fmt.Errorf("--bsl must be positive")
	}
	return &value, nil
}

func newRecommendCmd(opts *rootOptions) *cobra.Command {
	var carbs, bsl float64

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend an insulin dose for a meal",
		Long: `Recommend a meal bolus from carbs, the current BSL and everything
still on board. Without --bsl a logged reading from the last 15 minutes is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if carbs < 0 {
				return fmt.Errorf("--carbs must not be negative")
			}
			current, err := bslFlag(cmd, bsl)
			if err != nil {
				return err
			}
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			rec, err := svc.Recommend(cmd.Context(), carbs, current, e.now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, rec)
			}

			b := rec.Breakdown
			fmt.Fprintf(out, "Recommended dose: %.1f U (%.1f - %.1f, confidence %.0f%%)\n",
				rec.RecommendedDose, rec.ConfidenceInterval[0], rec.ConfidenceInterval[1], rec.Confidence*100)
			fmt.Fprintf(out, "  Carb coverage:  %+.2f\n", b.CarbCoverage)
			fmt.Fprintf(out, "  Correction:     %+.2f\n", b.CorrectionDose)
			fmt.Fprintf(out, "  IOB:            %+.2f\n", b.IOBAdjustment)
			fmt.Fprintf(out, "  COB:            %+.2f\n", b.COBAdjustment)
			fmt.Fprintf(out, "  Alcohol:        %+.2f\n", b.AlcoholAdjustment)
			fmt.Fprintf(out, "  Time of day:    %+.2f\n", b.CircadianAdjustment)
			fmt.Fprintf(out, "  Safety:         %+.2f\n", b.SafetyAdjustment)

			timing := dosing.GetTimingRecommendation(rec.CurrentBSL)
			fmt.Fprintf(out, "Timing: %s\n", timing.Advice)

			for _, w := range rec.Warnings {
				fmt.Fprintf(out, "⚠️  %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&carbs, "carbs", 0, "Meal carbs in grams")
	cmd.Flags().Float64Var(&bsl, "bsl", 0, "Current BSL in mmol/L")
	return cmd
}

func newTimingCmd(opts *rootOptions) *cobra.Command {
	var bsl float64

	cmd := &cobra.Command{
		Use:   "timing",
		Short: "Suggest when to dose relative to a meal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := bslFlag(cmd, bsl)
			if err != nil {
				return err
			}

			t := dosing.GetTimingRecommendation(current)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, t)
			}

			switch {
			case t.OffsetMinutes > 0:
				fmt.Fprintf(out, "Dose %d min before eating\n", t.OffsetMinutes)
			case t.OffsetMinutes < 0:
				fmt.Fprintf(out, "Dose %d min after starting the meal\n", -t.OffsetMinutes)
			default:
				fmt.Fprintln(out, "Dose at the start of the meal")
			}
			fmt.Fprintln(out, t.Advice)
			return nil
		},
	}

	cmd.Flags().Float64Var(&bsl, "bsl", 0, "Current BSL in mmol/L")
	return cmd
}

func newICRCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "icr",
		Short: "Suggest an insulin-to-carb ratio adjustment from history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			sug, err := svc.SuggestICR(cmd.Context(), e.now, days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, sug)
			}

			fmt.Fprintf(out, "Meals analyzed: %d (low %d, good %d, high %d)\n", sug.Samples, sug.Low, sug.Good, sug.High)
			if sug.Sufficient && sug.Change != 0 {
				fmt.Fprintf(out, "Suggested ICR: %.1f g/U (currently %.1f, %+.0f%%)\n", sug.SuggestedICR, sug.CurrentICR, sug.Change*100)
			} else {
				fmt.Fprintf(out, "Keep ICR at %.1f g/U\n", sug.CurrentICR)
			}
			fmt.Fprintln(out, sug.Reason)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "Days of history to analyze")
	return cmd
}

func newOvernightCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "overnight",
		Short: "Check overnight readings for dawn phenomenon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			day := e.now
			if date != "" {
				day, err = time.ParseInLocation("2006-01-02", date, e.now.Location())
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			a, err := svc.AnalyzeOvernight(cmd.Context(), day)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, a)
			}

			fmt.Fprintf(out, "Night of %s\n", day.Format("2006-01-02"))
			fmt.Fprintf(out, "  00:00-03:00: %.1f mmol/L (%d readings)\n", a.PreDawnAverage, a.PreDawnReadings)
			fmt.Fprintf(out, "  03:00-07:00: %.1f mmol/L (%d readings)\n", a.DawnAverage, a.DawnReadings)
			if a.Detected {
				fmt.Fprintf(out, "  Dawn phenomenon detected: rise %.1f mmol/L, intensity %.0f%%\n", a.Rise, a.Intensity*100)
				for h := 0; h < 24; h++ {
					if m, ok := a.SuggestedAdjustments[h]; ok {
						fmt.Fprintf(out, "    %02d:00  x%.2f\n", h, m)
					}
				}
			}
			fmt.Fprintln(out, a.Recommendation)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Morning to analyze (YYYY-MM-DD), default today")
	return cmd
}
