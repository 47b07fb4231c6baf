package prediction

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mrcode/glycemia/internal/models"
)

func TestModel_PredictBSL_NoEvents(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()

	p := m.PredictBSL(NewEventLog(nil), baseTime, params)

	if p.PredictedBSL != params.TargetBSL {
		t.Errorf("PredictedBSL = %.2f, want target %.2f", p.PredictedBSL, params.TargetBSL)
	}
	if p.HasBSL {
		t.Error("HasBSL should be false without readings")
	}
	if math.Abs(p.Uncertainty-1.5) > 1e-9 {
		t.Errorf("Uncertainty = %.2f, want 1.5 (base + no reading)", p.Uncertainty)
	}
	if math.Abs(p.Confidence-0.7) > 1e-9 {
		t.Errorf("Confidence = %.2f, want 0.7", p.Confidence)
	}
	if p.ConfidenceInterval != [2]float64{4.5, 7.5} {
		t.Errorf("ConfidenceInterval = %v, want [4.5 7.5]", p.ConfidenceInterval)
	}
}

func TestModel_PredictBSL_AnchoredOnReading(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 8.0, models.UnitMmolL, "manual"),
	})

	p := m.PredictBSL(log, baseTime.Add(time.Hour), params)

	if !p.HasBSL || p.CurrentBSL != 8.0 {
		t.Fatalf("CurrentBSL = %.2f HasBSL = %v, want 8.0 from the reading", p.CurrentBSL, p.HasBSL)
	}
	if p.Factors.BaselineDrift != lowIOBDrift {
		t.Errorf("BaselineDrift = %.2f, want %.2f without insulin", p.Factors.BaselineDrift, lowIOBDrift)
	}
	if math.Abs(p.PredictedBSL-8.1) > 1e-9 {
		t.Errorf("PredictedBSL = %.3f, want 8.1", p.PredictedBSL)
	}
	if math.Abs(p.MinutesSinceLastBSL-60) > 1e-9 {
		t.Errorf("MinutesSinceLastBSL = %.1f, want 60", p.MinutesSinceLastBSL)
	}
	if math.Abs(p.Uncertainty-1.7) > 1e-9 {
		t.Errorf("Uncertainty = %.2f, want 1.7", p.Uncertainty)
	}
}

func TestModel_CalculatePredictionFactors(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()

	bolusOnly := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 10, models.UnitMmolL, "manual"),
		models.NewInsulinEvent(baseTime, 4, models.InsulinBolus),
	})
	withDrink := bolusOnly.With(models.NewDrinkEvent(baseTime, 2, models.DrinkWine))

	at := baseTime.Add(time.Hour)

	state := m.CalculateMetabolicState(bolusOnly.Window(at), at, params)
	f := m.CalculatePredictionFactors(state, at, params)
	wantInsulin := -state.Insulin.TotalIOB * params.CorrectionFactor
	if math.Abs(f.InsulinEffect-wantInsulin) > 1e-9 {
		t.Errorf("InsulinEffect = %.3f, want %.3f", f.InsulinEffect, wantInsulin)
	}
	if f.BaselineDrift != 0 {
		t.Errorf("BaselineDrift = %.2f, want 0 with active insulin", f.BaselineDrift)
	}
	if f.CarbEffect != 0 || f.AlcoholEffect != 0 {
		t.Errorf("unexpected carb/alcohol effects: %+v", f)
	}

	p := m.PredictBSL(bolusOnly, at, params)
	if math.Abs(p.PredictedBSL-(10+p.Factors.Total())) > 1e-9 {
		t.Errorf("PredictedBSL = %.3f, want current + factors %.3f", p.PredictedBSL, 10+p.Factors.Total())
	}
	if p.PredictedBSL >= 10 {
		t.Errorf("PredictedBSL = %.2f, insulin on board should lower it", p.PredictedBSL)
	}

	drinkState := m.CalculateMetabolicState(withDrink.Window(at), at, params)
	df := m.CalculatePredictionFactors(drinkState, at, params)
	if df.InsulinEffect >= f.InsulinEffect {
		t.Errorf("alcohol should deepen the insulin effect: %.3f vs %.3f", df.InsulinEffect, f.InsulinEffect)
	}
	if df.AlcoholEffect >= 0 {
		t.Errorf("AlcoholEffect = %.3f, want negative", df.AlcoholEffect)
	}

	drinkPrediction := m.PredictBSL(withDrink, at, params)
	if drinkPrediction.Uncertainty <= p.Uncertainty {
		t.Errorf("alcohol should widen uncertainty: %.2f vs %.2f", drinkPrediction.Uncertainty, p.Uncertainty)
	}
}

func TestModel_CarbEffect(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 6, models.UnitMmolL, "manual"),
		models.NewMealEvent(baseTime, models.MealMetadata{Carbs: 60, Description: "pasta"}),
	})

	state := m.CalculateMetabolicState(log.Window(baseTime), baseTime, params)
	f := m.CalculatePredictionFactors(state, baseTime, params)

	want := 60.0 / params.InsulinToCarbRatio * params.CorrectionFactor / state.Circadian.CombinedFactor
	if math.Abs(f.CarbEffect-want) > 1e-9 {
		t.Errorf("CarbEffect = %.3f, want %.3f", f.CarbEffect, want)
	}
}

func TestModel_DawnAdjustment(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	night := time.Date(2024, 3, 12, 3, 0, 0, 0, time.UTC)

	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(night, 6, models.UnitMmolL, "cgm"),
	})

	p := m.PredictBSL(log, night.Add(4*time.Hour), params)

	// Dawn curve 03:00-07:00 integrates to 2.65 unit-hours
	if math.Abs(p.Factors.CircadianAdjustment-1.5*2.65) > 1e-6 {
		t.Errorf("CircadianAdjustment = %.4f, want %.4f", p.Factors.CircadianAdjustment, 1.5*2.65)
	}
	if math.Abs(p.PredictedBSL-(6+3.975+0.1)) > 1e-6 {
		t.Errorf("PredictedBSL = %.3f, want 10.075", p.PredictedBSL)
	}
}

func TestModel_PredictBSL_Floor(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 3.0, models.UnitMmolL, "manual"),
		models.NewInsulinEvent(baseTime, 10, models.InsulinBolus),
	})

	p := m.PredictBSL(log, baseTime.Add(30*time.Minute), params)

	if p.PredictedBSL != MinPredictedBSL {
		t.Errorf("PredictedBSL = %.2f, want floor %.1f", p.PredictedBSL, MinPredictedBSL)
	}
	if p.ConfidenceInterval[0] < 0 || p.ConfidenceInterval[0] > p.PredictedBSL {
		t.Errorf("lower bound %.2f outside [0, %.2f]", p.ConfidenceInterval[0], p.PredictedBSL)
	}
}

func TestUncertainty(t *testing.T) {
	tests := []struct {
		name       string
		hasBSL     bool
		minutes    float64
		hasAlcohol bool
		want       float64
	}{
		{"Fresh reading", true, 0, false, 0.5},
		{"Hour old reading", true, 60, false, 1.7},
		{"No reading", false, 0, false, 1.5},
		{"No reading with alcohol", false, 0, true, 1.8},
		{"Capped", true, 600, true, 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Uncertainty(tt.hasBSL, tt.minutes, tt.hasAlcohol); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Uncertainty = %.3f, want %.3f", got, tt.want)
			}
		})
	}
}

func TestModel_GenerateBSLTimeSeries_NoEvents(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()

	series, err := m.GenerateBSLTimeSeries(context.Background(), NewEventLog(nil), baseTime, baseTime.Add(2*time.Hour), 0, params)
	if err != nil {
		t.Fatalf("GenerateBSLTimeSeries failed: %v", err)
	}

	if len(series.Points) != 25 { // 2 hours / 5 min, inclusive
		t.Fatalf("Expected 25 points, got %d", len(series.Points))
	}
	if series.ResolutionMinutes != 5 {
		t.Errorf("ResolutionMinutes = %.1f, want 5", series.ResolutionMinutes)
	}

	first := series.Points[0]
	for i, p := range series.Points {
		if p.BSL != params.TargetBSL {
			t.Errorf("point %d: BSL = %.2f, want flat %.2f", i, p.BSL, params.TargetBSL)
		}
		if p.Lower != first.Lower || p.Upper != first.Upper {
			t.Errorf("point %d: bounds [%.2f, %.2f] changed from [%.2f, %.2f]", i, p.Lower, p.Upper, first.Lower, first.Upper)
		}
		if want := baseTime.Add(time.Duration(i) * 5 * time.Minute); !p.Time.Equal(want) {
			t.Errorf("point %d: Time = %v, want %v", i, p.Time, want)
		}
	}
}

func TestModel_GenerateBSLTimeSeries_ReadingExpires(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 8.0, models.UnitMmolL, "manual"),
	})

	// Crosses the moment the reading falls out of the BSL lookback
	start := baseTime.Add(BSLLookback - 10*time.Minute)
	series, err := m.GenerateBSLTimeSeries(context.Background(), log, start, start.Add(20*time.Minute), 5*time.Minute, params)
	if err != nil {
		t.Fatalf("GenerateBSLTimeSeries failed: %v", err)
	}
	if len(series.Points) != 5 {
		t.Fatalf("Expected 5 points, got %d", len(series.Points))
	}

	for i, p := range series.Points {
		if math.Abs(p.Confidence-minConfidence) > 1e-9 {
			t.Errorf("point %d: Confidence = %.2f, want %.2f", i, p.Confidence, minConfidence)
		}
		if width := p.Upper - p.Lower; p.Lower > 0 && math.Abs(width-2*maxUncertainty) > 1e-9 {
			t.Errorf("point %d: interval width = %.2f, want %.2f", i, width, 2*maxUncertainty)
		}
		if p.State.LastReadingAt == nil || !p.State.LastReadingAt.Equal(baseTime) {
			t.Errorf("point %d: LastReadingAt = %v, want %v", i, p.State.LastReadingAt, baseTime)
		}
	}

	after := m.PredictBSL(log, baseTime.Add(BSLLookback+5*time.Minute), params)
	if after.HasBSL {
		t.Fatal("HasBSL should be false past the lookback")
	}
	if math.Abs(after.MinutesSinceLastBSL-725) > 1e-9 {
		t.Errorf("MinutesSinceLastBSL = %.1f, want 725", after.MinutesSinceLastBSL)
	}
	if after.Uncertainty != maxUncertainty {
		t.Errorf("Uncertainty = %.2f, want %.2f", after.Uncertainty, maxUncertainty)
	}
}

func TestModel_GenerateBSLTimeSeries_MatchesPointPredictions(t *testing.T) {
	m := NewDefaultModel()
	m.SetWorkers(3)
	params := models.DefaultUserModelParameters()

	log := NewEventLog([]models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime, 9.5, models.UnitMmolL, "cgm"),
		models.NewInsulinEvent(baseTime, 5, models.InsulinBolus),
		models.NewMealEvent(baseTime.Add(10*time.Minute), models.MealMetadata{Carbs: 45, Description: "rice"}),
		models.NewDrinkEvent(baseTime.Add(-time.Hour), 2, models.DrinkBeer),
	})

	series, err := m.GenerateBSLTimeSeries(context.Background(), log, baseTime, baseTime.Add(3*time.Hour), 15*time.Minute, params)
	if err != nil {
		t.Fatalf("GenerateBSLTimeSeries failed: %v", err)
	}
	if len(series.Points) != 13 {
		t.Fatalf("Expected 13 points, got %d", len(series.Points))
	}

	for _, p := range series.Points {
		want := m.PredictBSL(log, p.Time, params)
		if p.BSL != want.PredictedBSL || p.Lower != want.ConfidenceInterval[0] || p.Upper != want.ConfidenceInterval[1] {
			t.Errorf("%s: point %.3f [%.3f, %.3f] differs from PredictBSL %.3f %v",
				p.Time.Format("15:04"), p.BSL, p.Lower, p.Upper, want.PredictedBSL, want.ConfidenceInterval)
		}
		if p.State.LastBSL == nil {
			t.Errorf("%s: state is missing the last reading", p.Time.Format("15:04"))
		}
	}
}

func TestModel_GenerateBSLTimeSeries_Errors(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()
	log := NewEventLog(nil)

	_, err := m.GenerateBSLTimeSeries(context.Background(), log, baseTime, baseTime.Add(-time.Minute), 0, params)
	if !errors.Is(err, models.ErrInvalidWindow) {
		t.Errorf("end before start: err = %v, want ErrInvalidWindow", err)
	}

	_, err = m.GenerateBSLTimeSeries(context.Background(), log, baseTime, baseTime.Add(365*24*time.Hour), time.Minute, params)
	if !errors.Is(err, models.ErrInvalidWindow) {
		t.Errorf("oversized window: err = %v, want ErrInvalidWindow", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.GenerateBSLTimeSeries(ctx, log, baseTime, baseTime.Add(6*time.Hour), 0, params)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: err = %v, want context.Canceled", err)
	}
}

func TestModel_PredictionProperties(t *testing.T) {
	m := NewDefaultModel()
	params := models.DefaultUserModelParameters()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("prediction is floored and inside its interval", prop.ForAll(
		func(bsl, units, carbs, minutes float64) bool {
			log := NewEventLog([]models.PhysiologicalEvent{
				models.NewBSLEvent(baseTime, bsl, models.UnitMmolL, "cgm"),
				models.NewInsulinEvent(baseTime, units, models.InsulinBolus),
				models.NewMealEvent(baseTime, models.MealMetadata{Carbs: carbs}),
			})
			p := m.PredictBSL(log, baseTime.Add(time.Duration(minutes*float64(time.Minute))), params)
			return p.PredictedBSL >= MinPredictedBSL &&
				p.ConfidenceInterval[0] <= p.PredictedBSL &&
				p.PredictedBSL <= p.ConfidenceInterval[1] &&
				p.Confidence >= minConfidence && p.Confidence <= 1
		},
		gen.Float64Range(2, 25),
		gen.Float64Range(0, 20),
		gen.Float64Range(0, 150),
		gen.Float64Range(0, 600),
	))

	properties.Property("interval width grows with time since reading", prop.ForAll(
		func(m1, dm float64, hasAlcohol bool) bool {
			return Uncertainty(true, m1, hasAlcohol) <= Uncertainty(true, m1+dm, hasAlcohol)
		},
		gen.Float64Range(0, 600),
		gen.Float64Range(0, 300),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
