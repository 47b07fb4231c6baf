package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/models"
)

type scenarioFlags struct {
	carbs     float64
	insulin   float64
	drinks    float64
	drinkType string
}

// events builds the hypothetical events, all logged at at
func (f scenarioFlags) events(at time.Time) []models.PhysiologicalEvent {
	var events []models.PhysiologicalEvent
	if f.carbs > 0 {
		events = append(events, models.NewMealEvent(at, models.MealMetadata{Carbs: f.carbs}))
	}
	if f.insulin > 0 {
		events = append(events, models.NewInsulinEvent(at, f.insulin, models.InsulinBolus))
	}
	if f.drinks > 0 {
		events = append(events, models.NewDrinkEvent(at, f.drinks, models.DrinkType(f.drinkType)))
	}
	return events
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var (
		minutes  int
		scenario scenarioFlags
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict BSL at a future time",
		Long: `Predict the blood sugar level some minutes ahead.

Scenario flags add hypothetical events at the evaluation time without
writing them to the event log:
  glycemia predict --minutes 90 --carbs 40 --insulin 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes < 0 {
				return fmt.Errorf("--minutes must not be negative")
			}
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			target := e.now.Add(time.Duration(minutes) * time.Minute)
			p, err := svc.PredictWithScenario(cmd.Context(), target, scenario.events(e.now)...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, p)
			}

			unit := e.cfg.Notifications.Unit
			fmt.Fprintf(out, "Predicted BSL at %s: %s\n", target.Format("15:04"), formatBSL(p.PredictedBSL, unit))
			fmt.Fprintf(out, "  Range:      %s - %s (confidence %.0f%%)\n",
				formatBSL(p.ConfidenceInterval[0], unit), formatBSL(p.ConfidenceInterval[1], unit), p.Confidence*100)
			if p.HasBSL {
				fmt.Fprintf(out, "  From:       %s, %.0f min before target\n", formatBSL(p.CurrentBSL, unit), p.MinutesSinceLastBSL)
			} else {
				fmt.Fprintf(out, "  From:       target BSL (no recent reading)\n")
			}
			fmt.Fprintf(out, "  Insulin:    %+.2f\n", p.Factors.InsulinEffect)
			fmt.Fprintf(out, "  Carbs:      %+.2f\n", p.Factors.CarbEffect)
			fmt.Fprintf(out, "  Alcohol:    %+.2f\n", p.Factors.AlcoholEffect)
			fmt.Fprintf(out, "  Circadian:  %+.2f\n", p.Factors.CircadianAdjustment)
			fmt.Fprintf(out, "  Drift:      %+.2f\n", p.Factors.BaselineDrift)
			return nil
		},
	}

	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "Minutes ahead of the evaluation time")
	cmd.Flags().Float64Var(&scenario.carbs, "carbs", 0, "Hypothetical carbs in grams")
	cmd.Flags().Float64Var(&scenario.insulin, "insulin", 0, "Hypothetical bolus in units")
	cmd.Flags().Float64Var(&scenario.drinks, "drinks", 0, "Hypothetical standard drinks")
	cmd.Flags().StringVar(&scenario.drinkType, "drink-type", string(models.DrinkBeer), "Drink type: beer, wine, spirit, mixed")
	return cmd
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show insulin, carbs and alcohol on board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, err := opts.setupService(cmd)
			if err != nil {
				return err
			}

			s, err := svc.State(cmd.Context(), e.now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, s)
			}

			fmt.Fprintf(out, "Metabolic state at %s\n", s.Timestamp.Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "  Insulin on board: %.2f U (%d doses)\n", s.Insulin.TotalIOB, len(s.Insulin.DoseContributions))
			fmt.Fprintf(out, "  Carbs on board:   %.1f g\n", s.Carbs.TotalCOB)
			if s.Alcohol.HasAlcohol() {
				fmt.Fprintf(out, "  Alcohol:          %.1f g (%.2f g/L), sensitivity x%.2f\n",
					s.Alcohol.GramsInSystem, s.Alcohol.BAL, s.Alcohol.SensitivityModifier)
			}
			if s.Alcohol.HypoRisk.Active {
				fmt.Fprintf(out, "  Hypo risk:        %s\n", s.Alcohol.HypoRisk.Recommendation)
			}
			fmt.Fprintf(out, "  Circadian factor: %.2f\n", s.Circadian.CombinedFactor)
			if s.LastBSL != nil {
				fmt.Fprintf(out, "  Last BSL:         %s at %s\n", formatBSL(s.LastBSL.Value, e.cfg.Notifications.Unit), s.LastBSL.Timestamp.Format("15:04"))
			}
			return nil
		},
	}
}
