// Package dosing recommends insulin doses from the predicted metabolic state
package dosing

import (
	"fmt"
	"math"

	"github.com/mrcode/glycemia/internal/metabolism"
	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// COB reduction applies when more than this many grams are still on board
// and BSL is below cobReductionBSL
const (
	cobReductionCarbs    = 20.0
	cobReductionBSL      = 6.0
	cobReductionFraction = 0.25
	lowBSLCoverage       = 0.5
	stackingMinIOB       = 0.5
)

// Confidence interval spread
const (
	doseUncertainty    = 0.15 // Fraction of the dose
	iobUncertainty     = 0.20 // Fraction of IOB
	alcoholSpread      = 0.30 // Fraction of the dose
	noBSLSpread        = 1.0  // Units
	largeMealCarbs     = 60.0
	largeMealPerGram   = 0.1 // Fraction of the extra carb coverage
	minDoseConfidence  = 0.1
	confidenceDoseBase = 1.0
)

// Engine computes insulin recommendations. It is safe for concurrent use.
type Engine struct {
	model  *prediction.Model
	limits models.SafetyLimits
}

// NewEngine creates an engine using model for the metabolic state
func NewEngine(model *prediction.Model, limits models.SafetyLimits) *Engine {
	return &Engine{model: model, limits: limits}
}

// Limits returns the safety limits of the engine
func (e *Engine) Limits() models.SafetyLimits {
	return e.limits
}

// CalculateMealDose recommends a dose for a meal of carbs grams at w.At.
// currentBSL is in mmol/L; nil means no reading is available. Safety
// constraints never produce an error: they clamp the dose and add warnings.
func (e *Engine) CalculateMealDose(carbs float64, currentBSL *float64, w prediction.EventWindow, params models.UserModelParameters) models.InsulinRecommendation {
	at := w.At
	state := e.model.CalculateMetabolicState(w, at, params)
	carbs = math.Max(0, carbs)

	rec := models.InsulinRecommendation{
		Timestamp: at,
		Warnings:  []string{},
	}
	if currentBSL != nil {
		v := *currentBSL
		rec.CurrentBSL = &v
	}
	b := &rec.Breakdown

	b.CarbCoverage = carbs / params.InsulinToCarbRatio
	if currentBSL != nil && *currentBSL > e.limits.CorrectionThreshold {
		b.CorrectionDose = math.Min((*currentBSL-params.TargetBSL)/params.CorrectionFactor, e.limits.MaxCorrection)
	}
	b.IOBAdjustment = -state.Insulin.TotalIOB
	if currentBSL != nil && state.Carbs.TotalCOB > cobReductionCarbs && *currentBSL < cobReductionBSL {
		b.COBAdjustment = -cobReductionFraction * state.Carbs.TotalCOB / params.InsulinToCarbRatio
	}

	base := b.CarbCoverage + b.CorrectionDose + b.IOBAdjustment + b.COBAdjustment

	alcoholMod := state.Alcohol.SensitivityModifier
	if alcoholMod < 1 {
		b.AlcoholAdjustment = -math.Max(0, base) * (1 - alcoholMod)
	}
	afterAlcohol := base + b.AlcoholAdjustment
	b.CircadianAdjustment = math.Max(0, afterAlcohol) * (state.Circadian.CombinedFactor - 1)

	dose := afterAlcohol + b.CircadianAdjustment
	preSafety := dose
	warn := func(format string, args ...any) {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf(format, args...))
	}

	switch {
	case currentBSL != nil && *currentBSL < e.limits.HypoFloor:
		dose = 0
		warn("URGENT: BSL %.1f mmol/L is below %.1f. Do not dose insulin. Treat the low with fast-acting carbs and recheck in 15 minutes.", *currentBSL, e.limits.HypoFloor)
	case currentBSL != nil && *currentBSL < e.limits.LowBSLThreshold:
		limit := lowBSLCoverage * b.CarbCoverage
		if dose > limit {
			dose = limit
		}
		warn("BSL %.1f mmol/L is low: dose limited to %.0f%% of carb coverage. Consider dosing after eating.", *currentBSL, lowBSLCoverage*100)
	}

	// Stacking compares active insulin plus the part of the dose not covered by carbs
	if state.Insulin.TotalIOB >= stackingMinIOB && dose > 0 {
		stacking := metabolism.AssessInsulinStacking(state.Insulin.TotalIOB, math.Max(0, dose-b.CarbCoverage), params.CorrectionFactor)
		if stacking.Risk == metabolism.RiskHigh && dose > b.CarbCoverage {
			dose = b.CarbCoverage
		}
		if stacking.Warning != "" {
			rec.Warnings = append(rec.Warnings, stacking.Warning)
		}
	}

	if currentBSL == nil {
		warn("No BSL reading: correction skipped. Check BSL before dosing.")
	}
	if state.Alcohol.HasAlcohol() {
		warn("Alcohol increases insulin sensitivity: dose reduced by %.1f units.", -b.AlcoholAdjustment)
		if state.Alcohol.HypoRisk.Active {
			rec.Warnings = append(rec.Warnings, state.Alcohol.HypoRisk.Recommendation)
		}
	}

	if dose > e.limits.MaxSingleDose {
		warn("Dose capped at the maximum single dose of %.1f units.", e.limits.MaxSingleDose)
	}
	dose = e.round(clamp(dose, 0, e.limits.MaxSingleDose))

	b.SafetyAdjustment = dose - preSafety
	b.Total = dose
	rec.RecommendedDose = dose

	spread := doseUncertainty*dose + iobUncertainty*state.Insulin.TotalIOB
	if state.Alcohol.HasAlcohol() {
		spread += alcoholSpread * dose
	}
	if currentBSL == nil {
		spread += noBSLSpread
	}
	if carbs > largeMealCarbs {
		spread += largeMealPerGram * (carbs - largeMealCarbs) / params.InsulinToCarbRatio
	}

	rec.ConfidenceInterval = [2]float64{
		math.Max(0, dose-spread),
		math.Min(e.limits.MaxSingleDose, dose+spread),
	}
	rec.Confidence = clamp(1-spread/(2*math.Max(dose, confidenceDoseBase)), minDoseConfidence, 1)

	return rec
}

// round rounds to the nearest dose increment without exceeding the maximum
func (e *Engine) round(dose float64) float64 {
	inc := e.limits.DoseIncrement
	if inc <= 0 {
		return dose
	}
	r := math.Round(dose/inc) * inc
	if r > e.limits.MaxSingleDose {
		r = math.Floor(e.limits.MaxSingleDose/inc) * inc
	}
	return math.Max(0, r)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
