// Package prediction composes the metabolic models into BSL predictions,
// time series and alerts
package prediction

import (
	"math"
	"runtime"
	"time"

	"github.com/mrcode/glycemia/internal/metabolism"
	"github.com/mrcode/glycemia/internal/models"
)

// Prediction constants
const (
	MinPredictedBSL = 2.0 // mmol/L physiological floor

	alcoholGlucoseSuppression = 0.05 // mmol/L per gram in system
	dawnRisePerUnitHour       = 1.5  // mmol/L
	lowIOBDrift               = 0.1  // mmol/L when liver output dominates
	lowIOBUnits               = 0.5

	baseUncertainty       = 0.5
	uncertaintyPerMinute  = 0.02
	noBSLUncertainty      = 1.0
	alcoholUncertainty    = 0.3
	maxUncertainty        = 5.0
	minConfidence         = 0.2
	minAlcoholSensitivity = 0.25
)

// Model is the BSL prediction model. It holds no mutable state besides
// configuration and is safe for concurrent use.
type Model struct {
	insulin   *metabolism.InsulinModel
	carbs     *metabolism.CarbModel
	alcohol   *metabolism.AlcoholModel
	circadian *metabolism.CircadianModel

	workers int
}

// NewModel creates a prediction model from its leaf models
func NewModel(insulin *metabolism.InsulinModel, carbs *metabolism.CarbModel, alcohol *metabolism.AlcoholModel, circadian *metabolism.CircadianModel) *Model {
	return &Model{
		insulin:   insulin,
		carbs:     carbs,
		alcohol:   alcohol,
		circadian: circadian,
		workers:   runtime.GOMAXPROCS(0),
	}
}

// NewDefaultModel creates a prediction model with the default tables
func NewDefaultModel() *Model {
	return NewModel(
		metabolism.NewInsulinModel(metabolism.DefaultInsulinProfiles()),
		metabolism.NewCarbModel(metabolism.DefaultGlycemicIndexTable()),
		metabolism.NewAlcoholModel(metabolism.DefaultDrinkProfiles()),
		metabolism.NewCircadianModel(metabolism.DefaultCircadianTables()),
	)
}

// SetWorkers sets the number of goroutines used for time series generation
func (m *Model) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.workers = n
}

// Insulin returns the insulin model
func (m *Model) Insulin() *metabolism.InsulinModel { return m.insulin }

// Carbs returns the carb model
func (m *Model) Carbs() *metabolism.CarbModel { return m.carbs }

// Alcohol returns the alcohol model
func (m *Model) Alcohol() *metabolism.AlcoholModel { return m.alcohol }

// Circadian returns the circadian model
func (m *Model) Circadian() *metabolism.CircadianModel { return m.circadian }

// CalculateMetabolicState evaluates the four leaf models at atTime
func (m *Model) CalculateMetabolicState(w EventWindow, atTime time.Time, params models.UserModelParameters) models.MetabolicState {
	state := models.MetabolicState{
		Timestamp: atTime,
		Insulin:   m.insulin.ActiveInsulin(w.Insulin, atTime),
		Carbs:     m.carbs.ActiveCarbs(w.Meals, atTime),
		Alcohol:   m.alcohol.BloodAlcohol(w.Drinks, atTime, params.BodyWeightKg),
		Circadian: m.circadian.Factors(atTime, params.CircadianAdjustments),
	}
	if !w.LastReadingAt.IsZero() {
		last := w.LastReadingAt
		state.LastReadingAt = &last
	}

	// Window slices are sorted; walk back to the latest reading not after atTime
	for i := len(w.BSL) - 1; i >= 0; i-- {
		e := &w.BSL[i]
		if e.Timestamp.After(atTime) || !e.IsUsableBSL() {
			continue
		}
		r := toReading(e)
		state.LastBSL = &r
		break
	}

	return state
}

// CalculatePredictionFactors computes the additive BSL contributions for a
// prediction at targetTime from state.
func (m *Model) CalculatePredictionFactors(state models.MetabolicState, targetTime time.Time, params models.UserModelParameters) models.PredictionFactors {
	var f models.PredictionFactors

	// Alcohol raises insulin sensitivity, so a modifier below 1 deepens the drop
	alcoholMod := math.Max(minAlcoholSensitivity, state.Alcohol.SensitivityModifier)
	if alcoholMod <= 0 || alcoholMod > 1 {
		alcoholMod = 1
	}
	f.InsulinEffect = -metabolism.EstimateInsulinBSLEffect(state.Insulin.TotalIOB, params.CorrectionFactor) / alcoholMod

	combined := state.Circadian.CombinedFactor
	if combined <= 0 {
		combined = 1
	}
	f.CarbEffect = (state.Carbs.TotalCOB / params.InsulinToCarbRatio * params.CorrectionFactor) / combined

	f.AlcoholEffect = -state.Alcohol.GramsInSystem * alcoholGlucoseSuppression

	if state.LastBSL != nil {
		f.CircadianAdjustment = dawnRisePerUnitHour * m.circadian.IntegrateDawnEffect(state.LastBSL.Timestamp, targetTime)
		if state.Insulin.TotalIOB < lowIOBUnits {
			f.BaselineDrift = lowIOBDrift
		}
	}

	return f
}

// PredictBSL predicts the BSL at targetTime from the log.
// Without a recent reading the prediction is anchored at the target BSL.
func (m *Model) PredictBSL(log *EventLog, targetTime time.Time, params models.UserModelParameters) models.BSLPrediction {
	w := log.Window(targetTime)
	state := m.CalculateMetabolicState(w, targetTime, params)
	return m.predictFromState(state, targetTime, params)
}

func (m *Model) predictFromState(state models.MetabolicState, targetTime time.Time, params models.UserModelParameters) models.BSLPrediction {
	factors := m.CalculatePredictionFactors(state, targetTime, params)

	p := models.BSLPrediction{
		CurrentBSL: params.TargetBSL,
		Factors:    factors,
		TargetTime: targetTime,
	}
	if state.LastBSL != nil {
		p.HasBSL = true
		p.CurrentBSL = state.LastBSL.Value
		p.MinutesSinceLastBSL = math.Max(0, targetTime.Sub(state.LastBSL.Timestamp).Minutes())
	} else if state.LastReadingAt != nil {
		p.MinutesSinceLastBSL = math.Max(0, targetTime.Sub(*state.LastReadingAt).Minutes())
	}

	p.PredictedBSL = math.Max(MinPredictedBSL, p.CurrentBSL+factors.Total())
	p.Uncertainty = Uncertainty(p.HasBSL, p.MinutesSinceLastBSL, state.Alcohol.HasAlcohol())
	if !p.HasBSL && state.LastReadingAt != nil {
		// An expired reading never makes the estimate look more certain
		p.Uncertainty = math.Max(p.Uncertainty, Uncertainty(true, p.MinutesSinceLastBSL, state.Alcohol.HasAlcohol()))
	}
	p.Confidence = math.Max(minConfidence, 1-p.Uncertainty/maxUncertainty)
	p.ConfidenceInterval = [2]float64{
		math.Max(0, p.PredictedBSL-p.Uncertainty),
		p.PredictedBSL + p.Uncertainty,
	}

	return p
}

// Uncertainty returns the half-width of the confidence interval in mmol/L.
// It grows with the time since the last reading and is capped at 5.
func Uncertainty(hasBSL bool, minutesSinceLastBSL float64, hasAlcohol bool) float64 {
	u := baseUncertainty
	if hasBSL {
		u += uncertaintyPerMinute * math.Max(0, minutesSinceLastBSL)
	} else {
		u += noBSLUncertainty
	}
	if hasAlcohol {
		u += alcoholUncertainty
	}
	return math.Min(u, maxUncertainty)
}
