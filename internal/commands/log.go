package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/glycemia/internal/eventlog"
	"github.com/mrcode/glycemia/internal/models"
)

type logOptions struct {
	*rootOptions
	ago time.Duration
}

// openStore resolves the local event log; logging needs a file
func (o *logOptions) openStore(cmd *cobra.Command) (*env, *eventlog.Store, error) {
	e, err := o.setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	if e.store == nil {
		return nil, nil, fmt.Errorf("no event log: set events.file or --events")
	}
	if o.ago < 0 {
		return nil, nil, fmt.Errorf("--ago must not be negative")
	}
	return e, e.store, nil
}

// record appends ev and prints it
func (o *logOptions) record(cmd *cobra.Command, build func(at time.Time) models.PhysiologicalEvent) error {
	e, store, err := o.openStore(cmd)
	if err != nil {
		return err
	}

	ev := build(e.now.Add(-o.ago))
	if err := store.Append(ev); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.jsonOutput {
		return printJSON(out, ev)
	}
	fmt.Fprintf(out, "Logged %s %g at %s (%s)\n", ev.Type, ev.Value, ev.Timestamp.Format("2006-01-02 15:04"), ev.ID)
	return nil
}

// positiveArg parses the single numeric argument of a log command
func positiveArg(args []string, what string) (float64, error) {
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, args[0], err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %g", what, v)
	}
	return v, nil
}

func newLogCmd(root *rootOptions) *cobra.Command {
	opts := &logOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record events in the local event log",
		Long: `Record insulin, meals, drinks, BSL readings and exercise in the local
event log. Use --ago to backdate an event:
  glycemia log insulin 4 --ago 20m`,
	}
	cmd.PersistentFlags().DurationVar(&opts.ago, "ago", 0, "How long ago the event happened")

	cmd.AddCommand(
		newLogInsulinCmd(opts),
		newLogMealCmd(opts),
		newLogDrinkCmd(opts),
		newLogBSLCmd(opts),
		newLogExerciseCmd(opts),
		newLogListCmd(opts),
	)
	return cmd
}

func newLogInsulinCmd(opts *logOptions) *cobra.Command {
	var insulinType string

	cmd := &cobra.Command{
		Use:   "insulin <units>",
		Short: "Log an insulin dose",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := positiveArg(args, "units")
			if err != nil {
				return err
			}
			it := models.InsulinType(insulinType)
			if it != models.InsulinBolus && it != models.InsulinBasal {
				return fmt.Errorf("--type must be bolus or basal")
			}
			return opts.record(cmd, func(at time.Time) models.PhysiologicalEvent {
				return models.NewInsulinEvent(at, units, it)
			})
		},
	}

	cmd.Flags().StringVar(&insulinType, "type", string(models.InsulinBolus), "Insulin type: bolus or basal")
	return cmd
}

func newLogMealCmd(opts *logOptions) *cobra.Command {
	var (
		meal      models.MealMetadata
		drinkType string
	)

	cmd := &cobra.Command{
		Use:   "meal <carbs>",
		Short: "Log a meal in grams of carbs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			carbs, err := positiveArg(args, "carbs")
			if err != nil {
				return err
			}
			if meal.GlycemicIndex < 0 || meal.GlycemicIndex > 100 {
				return fmt.Errorf("--gi must be between 0 and 100")
			}
			if meal.AlcoholUnits < 0 {
				return fmt.Errorf("--drinks must not be negative")
			}
			meal.Carbs = carbs
			if meal.AlcoholUnits > 0 {
				meal.AlcoholType = models.DrinkType(drinkType)
			}
			return opts.record(cmd, func(at time.Time) models.PhysiologicalEvent {
				return models.NewMealEvent(at, meal)
			})
		},
	}

	cmd.Flags().StringVarP(&meal.Description, "description", "d", "", "What was eaten, used to estimate the glycemic index")
	cmd.Flags().Float64Var(&meal.GlycemicIndex, "gi", 0, "Glycemic index, 0 estimates it from the description")
	cmd.Flags().Float64Var(&meal.AlcoholUnits, "drinks", 0, "Standard drinks taken with the meal")
	cmd.Flags().StringVar(&drinkType, "drink-type", string(models.DrinkBeer), "Drink type: beer, wine, spirit, mixed")
	return cmd
}

func newLogDrinkCmd(opts *logOptions) *cobra.Command {
	var drinkType string

	cmd := &cobra.Command{
		Use:   "drink <standard-drinks>",
		Short: "Log alcohol in standard drinks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := positiveArg(args, "drinks")
			if err != nil {
				return err
			}
			return opts.record(cmd, func(at time.Time) models.PhysiologicalEvent {
				return models.NewDrinkEvent(at, units, models.DrinkType(drinkType))
			})
		},
	}

	cmd.Flags().StringVar(&drinkType, "type", string(models.DrinkBeer), "Drink type: beer, wine, spirit, mixed")
	return cmd
}

func newLogBSLCmd(opts *logOptions) *cobra.Command {
	var unit, source string

	cmd := &cobra.Command{
		Use:   "bsl <value>",
		Short: "Log a blood sugar reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := positiveArg(args, "BSL")
			if err != nil {
				return err
			}
			if unit != models.UnitMmolL && unit != models.UnitMgDL {
				return fmt.Errorf("--unit must be %s or %s", models.UnitMmolL, models.UnitMgDL)
			}
			return opts.record(cmd, func(at time.Time) models.PhysiologicalEvent {
				return models.NewBSLEvent(at, value, unit, source)
			})
		},
	}

	cmd.Flags().StringVar(&unit, "unit", models.UnitMmolL, "Reading unit: mmol/L or mg/dL")
	cmd.Flags().StringVar(&source, "source", "manual", "Reading source")
	return cmd
}

func newLogExerciseCmd(opts *logOptions) *cobra.Command {
	var intensity string

	cmd := &cobra.Command{
		Use:   "exercise <minutes>",
		Short: "Log exercise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mins, err := positiveArg(args, "minutes")
			if err != nil {
				return err
			}
			return opts.record(cmd, func(at time.Time) models.PhysiologicalEvent {
				return models.NewExerciseEvent(at, mins, intensity)
			})
		},
	}

	cmd.Flags().StringVar(&intensity, "intensity", "moderate", "Intensity: low, moderate, high")
	return cmd
}

func newLogListCmd(opts *logOptions) *cobra.Command {
	var hours float64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			e, store, err := opts.openStore(cmd)
			if err != nil {
				return err
			}

			events, err := store.Events(cmd.Context(), e.now.Add(-time.Duration(hours*float64(time.Hour))), e.now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintf(out, "No events in the last %g hours\n", hours)
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(out, "%s  %-8s %8.1f  %s\n", ev.Timestamp.Format("2006-01-02 15:04"), ev.Type, ev.Value, describe(ev))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 24, "Hours of history to list")
	return cmd
}

// describe summarizes the metadata of an event
func describe(ev models.PhysiologicalEvent) string {
	switch {
	case ev.Insulin != nil:
		return string(ev.Insulin.Type)
	case ev.Meal != nil:
		s := ev.Meal.Description
		if ev.Meal.AlcoholUnits > 0 {
			s = fmt.Sprintf("%s %g %s drinks", s, ev.Meal.AlcoholUnits, ev.Meal.AlcoholType)
		}
		return s
	case ev.BSL != nil:
		return ev.BSL.Unit + " " + ev.BSL.Source
	case ev.Exercise != nil:
		return ev.Exercise.Intensity
	}
	return ""
}
