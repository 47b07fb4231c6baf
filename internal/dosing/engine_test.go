package dosing

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// 14:00 has a neutral circadian factor of 1.0
var baseTime = time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(prediction.NewDefaultModel(), models.DefaultSafetyLimits())
}

func bsl(v float64) *float64 { return &v }

func emptyWindow(at time.Time) prediction.EventWindow {
	return prediction.NewEventLog(nil).Window(at)
}

func hasWarning(rec models.InsulinRecommendation, substr string) bool {
	for _, w := range rec.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestEngine_CalculateMealDose(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()

	tests := []struct {
		name        string
		carbs       float64
		bsl         *float64
		at          time.Time
		wantDose    float64
		wantWarning string
	}{
		{"Carb coverage only", 60, bsl(6.0), baseTime, 6, ""},
		{"With correction", 30, bsl(12), baseTime, 6, ""},
		{"Correction capped", 0, bsl(30), baseTime, 10, ""},
		{"Hypo: do not dose", 40, bsl(3.8), baseTime, 0, "Do not dose"},
		{"Low BSL halves coverage", 40, bsl(4.5), baseTime, 2, "dose limited"},
		{"No reading", 0, nil, baseTime, 0, "No BSL"},
		{"Maximum single dose", 400, bsl(6.0), baseTime, 30, "capped"},
		{"Dawn resistance", 50, bsl(6.5), time.Date(2024, 3, 12, 7, 0, 0, 0, time.UTC), 6.5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.CalculateMealDose(tt.carbs, tt.bsl, emptyWindow(tt.at), params)
			if rec.RecommendedDose != tt.wantDose {
				t.Errorf("RecommendedDose = %.2f, want %.2f (breakdown %+v)", rec.RecommendedDose, tt.wantDose, rec.Breakdown)
			}
			if tt.wantWarning != "" && !hasWarning(rec, tt.wantWarning) {
				t.Errorf("Warnings = %q, want one mentioning %q", rec.Warnings, tt.wantWarning)
			}
			if tt.wantWarning == "" && len(rec.Warnings) != 0 {
				t.Errorf("unexpected warnings: %q", rec.Warnings)
			}
			if rec.Breakdown.Total != rec.RecommendedDose {
				t.Errorf("Breakdown.Total = %.2f, want %.2f", rec.Breakdown.Total, rec.RecommendedDose)
			}
			if rec.ConfidenceInterval[0] > rec.RecommendedDose || rec.ConfidenceInterval[1] < rec.RecommendedDose {
				t.Errorf("ConfidenceInterval %v does not contain %.2f", rec.ConfidenceInterval, rec.RecommendedDose)
			}
		})
	}
}

func TestEngine_HypoOverridesCarbCoverage(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()

	rec := e.CalculateMealDose(40, bsl(3.8), emptyWindow(baseTime), params)

	if rec.RecommendedDose != 0 {
		t.Fatalf("RecommendedDose = %.2f, want 0", rec.RecommendedDose)
	}
	if rec.Breakdown.CarbCoverage != 4 {
		t.Errorf("CarbCoverage = %.2f, want 4", rec.Breakdown.CarbCoverage)
	}
	if rec.Breakdown.SafetyAdjustment != -4 {
		t.Errorf("SafetyAdjustment = %.2f, want -4", rec.Breakdown.SafetyAdjustment)
	}
	if !hasWarning(rec, "URGENT") {
		t.Errorf("Warnings = %q, want an urgent warning", rec.Warnings)
	}
}

func TestEngine_SubtractsIOB(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()
	log := prediction.NewEventLog([]models.PhysiologicalEvent{
		models.NewInsulinEvent(baseTime.Add(-time.Hour), 4, models.InsulinBolus),
	})

	rec := e.CalculateMealDose(50, bsl(6.5), log.Window(baseTime), params)

	if math.Abs(rec.Breakdown.IOBAdjustment+2.12) > 0.02 {
		t.Errorf("IOBAdjustment = %.3f, want about -2.12", rec.Breakdown.IOBAdjustment)
	}
	if rec.RecommendedDose != 3 {
		t.Errorf("RecommendedDose = %.2f, want 3.0", rec.RecommendedDose)
	}
	if rec.ConfidenceInterval[1]-rec.ConfidenceInterval[0] <= 2*0.15*3 {
		t.Errorf("ConfidenceInterval %v should include IOB uncertainty", rec.ConfidenceInterval)
	}
}

func TestEngine_StackingCapsCorrection(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()
	log := prediction.NewEventLog([]models.PhysiologicalEvent{
		models.NewInsulinEvent(baseTime.Add(-20*time.Minute), 3, models.InsulinBolus),
	})

	rec := e.CalculateMealDose(20, bsl(25), log.Window(baseTime), params)

	if rec.RecommendedDose != 2 {
		t.Errorf("RecommendedDose = %.2f, want carb coverage 2.0 (breakdown %+v)", rec.RecommendedDose, rec.Breakdown)
	}
	if !hasWarning(rec, "stacking") {
		t.Errorf("Warnings = %q, want a stacking warning", rec.Warnings)
	}
}

func TestEngine_COBReduction(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()
	log := prediction.NewEventLog([]models.PhysiologicalEvent{
		models.NewMealEvent(baseTime.Add(-30*time.Minute), models.MealMetadata{Carbs: 60, Description: "pasta"}),
	})
	w := log.Window(baseTime)

	cob := prediction.NewDefaultModel().Carbs().ActiveCarbs(w.Meals, baseTime).TotalCOB
	rec := e.CalculateMealDose(20, bsl(5.5), w, params)

	want := -0.25 * cob / params.InsulinToCarbRatio
	if math.Abs(rec.Breakdown.COBAdjustment-want) > 1e-9 {
		t.Errorf("COBAdjustment = %.3f, want %.3f", rec.Breakdown.COBAdjustment, want)
	}

	// No reduction once BSL is at or above 6
	rec = e.CalculateMealDose(20, bsl(6.5), w, params)
	if rec.Breakdown.COBAdjustment != 0 {
		t.Errorf("COBAdjustment at 6.5 = %.3f, want 0", rec.Breakdown.COBAdjustment)
	}
}

func TestEngine_AlcoholReducesDose(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()
	log := prediction.NewEventLog([]models.PhysiologicalEvent{
		models.NewDrinkEvent(baseTime.Add(-time.Hour), 2, models.DrinkWine),
	})

	rec := e.CalculateMealDose(50, bsl(6.5), log.Window(baseTime), params)

	if math.Abs(rec.Breakdown.AlcoholAdjustment+1) > 1e-9 {
		t.Errorf("AlcoholAdjustment = %.3f, want -1.0 (20%% of 5U)", rec.Breakdown.AlcoholAdjustment)
	}
	if rec.RecommendedDose != 4 {
		t.Errorf("RecommendedDose = %.2f, want 4.0", rec.RecommendedDose)
	}
	if !hasWarning(rec, "Alcohol") || !hasWarning(rec, "hypoglycemia") {
		t.Errorf("Warnings = %q, want alcohol and delayed hypo warnings", rec.Warnings)
	}
}

func TestEngine_NoBSLConfidence(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()

	rec := e.CalculateMealDose(0, nil, emptyWindow(baseTime), params)

	if rec.ConfidenceInterval != [2]float64{0, 1} {
		t.Errorf("ConfidenceInterval = %v, want [0 1]", rec.ConfidenceInterval)
	}
	if math.Abs(rec.Confidence-0.5) > 1e-9 {
		t.Errorf("Confidence = %.2f, want 0.5", rec.Confidence)
	}
}

func TestEngine_DoseProperties(t *testing.T) {
	e := newTestEngine()
	params := models.DefaultUserModelParameters()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dose is within [0, 30] in 0.5 unit steps", prop.ForAll(
		func(carbs, reading, units, drinks float64, known bool) bool {
			log := prediction.NewEventLog([]models.PhysiologicalEvent{
				models.NewInsulinEvent(baseTime.Add(-45*time.Minute), units, models.InsulinBolus),
				models.NewDrinkEvent(baseTime.Add(-2*time.Hour), drinks, models.DrinkSpirit),
			})
			var current *float64
			if known {
				current = &reading
			}
			rec := e.CalculateMealDose(carbs, current, log.Window(baseTime), params)
			d := rec.RecommendedDose
			steps := d / 0.5
			return d >= 0 && d <= 30 &&
				math.Abs(steps-math.Round(steps)) < 1e-9 &&
				rec.ConfidenceInterval[0] >= 0 && rec.ConfidenceInterval[1] <= 30
		},
		gen.Float64Range(0, 500),
		gen.Float64Range(1, 35),
		gen.Float64Range(0, 25),
		gen.Float64Range(0, 8),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
