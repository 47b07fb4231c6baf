package metabolism

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// Weight of the dawn effect in the combined factor
const dawnBlend = 0.1

// Overnight pattern windows (hour of day, end exclusive) and detection threshold
const (
	preDawnStartHour = 0
	preDawnEndHour   = 3
	dawnStartHour    = 3
	dawnEndHour      = 7
	dawnRiseMmol     = 1.5
)

// CircadianTables holds the hourly sensitivity and dawn-effect curves
type CircadianTables struct {
	// Insulin sensitivity by hour: <1.0 more sensitive, >1.0 more resistant
	Sensitivity [24]float64
	// Dawn phenomenon intensity by hour, 0-1
	Dawn [24]float64
}

// DefaultCircadianTables returns the population-average daily pattern
func DefaultCircadianTables() CircadianTables {
	return CircadianTables{
		Sensitivity: [24]float64{
			0.95, 0.90, 0.85, 0.90, 1.00, 1.10, // 00:00-05:59 (overnight sensitivity)
			1.15, 1.20, 1.15, 1.05, 1.00, 1.00, // 06:00-11:59 (dawn resistance peak at 7)
			1.05, 1.10, 1.00, 0.95, 0.95, 1.00, // 12:00-17:59 (post-lunch bump)
			1.05, 1.10, 1.05, 1.00, 0.95, 0.95, // 18:00-23:59 (evening bump)
		},
		Dawn: [24]float64{
			0, 0, 0, 0.1, 0.4, 0.8, // 00:00-05:59
			1.0, 0.8, 0.5, 0.1, 0, 0, // 06:00-11:59
			0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0,
		},
	}
}

// CircadianModel computes time-of-day insulin sensitivity
type CircadianModel struct {
	tables CircadianTables
}

// NewCircadianModel creates a model from the given tables
func NewCircadianModel(tables CircadianTables) *CircadianModel {
	return &CircadianModel{tables: tables}
}

// fractionalHour returns the hour of day of t in its own location
func fractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

// interpolate linearly between hourly table entries, wrapping at midnight
func interpolate(table [24]float64, hour float64, scale func(int) float64) float64 {
	h0 := int(math.Floor(hour)) % 24
	h1 := (h0 + 1) % 24
	frac := hour - math.Floor(hour)
	v0 := table[h0] * scale(h0)
	v1 := table[h1] * scale(h1)
	return v0 + (v1-v0)*frac
}

func unitScale(int) float64 { return 1 }

// Factors returns the circadian factors at atTime. User adjustments multiply
// the base sensitivity of their hour; hours without an adjustment use the base table.
func (m *CircadianModel) Factors(atTime time.Time, userAdjustments map[int]float64) models.CircadianFactors {
	hour := fractionalHour(atTime)

	adjust := unitScale
	if len(userAdjustments) > 0 {
		adjust = func(h int) float64 {
			if v, ok := userAdjustments[h]; ok && v > 0 {
				return v
			}
			return 1
		}
	}

	sensitivity := interpolate(m.tables.Sensitivity, hour, adjust)
	dawn := interpolate(m.tables.Dawn, hour, unitScale)

	return models.CircadianFactors{
		Hour:               hour,
		InsulinSensitivity: sensitivity,
		DawnEffect:         dawn,
		CombinedFactor:     sensitivity + dawn*dawnBlend,
	}
}

// DawnEffect returns the interpolated dawn effect at t
func (m *CircadianModel) DawnEffect(t time.Time) float64 {
	return interpolate(m.tables.Dawn, fractionalHour(t), unitScale)
}

// IntegrateDawnEffect integrates the dawn curve over [from, to] in unit-hours
// using the trapezoid rule at 5 minute steps.
func (m *CircadianModel) IntegrateDawnEffect(from, to time.Time) float64 {
	if !to.After(from) {
		return 0
	}

	const step = 5 * time.Minute
	var total float64
	prev := m.DawnEffect(from)
	for t := from; t.Before(to); {
		next := t.Add(step)
		if next.After(to) {
			next = to
		}
		cur := m.DawnEffect(next)
		total += (prev + cur) / 2 * next.Sub(t).Hours()
		prev = cur
		t = next
	}
	return total
}

// DoseAdjustment is a time-of-day adjusted dose
type DoseAdjustment struct {
	AdjustedDose float64 `json:"adjustedDose"`
	Adjustment   float64 `json:"adjustment"` // AdjustedDose - base dose
	Factor       float64 `json:"factor"`
	Reason       string  `json:"reason"`
}

// AdjustDoseForTimeOfDay scales a dose by the combined circadian factor
func (m *CircadianModel) AdjustDoseForTimeOfDay(baseDose float64, atTime time.Time, userAdjustments map[int]float64) DoseAdjustment {
	f := m.Factors(atTime, userAdjustments)
	adjusted := baseDose * f.CombinedFactor

	var reason string
	switch {
	case f.DawnEffect >= 0.3 && f.CombinedFactor > 1.05:
		reason = fmt.Sprintf("Dawn phenomenon: insulin resistance raised by %.0f%%", (f.CombinedFactor-1)*100)
	case f.CombinedFactor > 1.05:
		reason = fmt.Sprintf("Higher insulin resistance at this time of day (+%.0f%%)", (f.CombinedFactor-1)*100)
	case f.CombinedFactor < 0.95:
		reason = fmt.Sprintf("Higher insulin sensitivity at this time of day (%.0f%%)", (f.CombinedFactor-1)*100)
	default:
		reason = "No significant time-of-day adjustment"
	}

	return DoseAdjustment{
		AdjustedDose: adjusted,
		Adjustment:   adjusted - baseDose,
		Factor:       f.CombinedFactor,
		Reason:       reason,
	}
}

// OvernightAnalysis is the result of a dawn phenomenon check
type OvernightAnalysis struct {
	Detected             bool            `json:"detected"`
	PreDawnAverage       float64         `json:"preDawnAverage"` // mmol/L, 00:00-03:00
	DawnAverage          float64         `json:"dawnAverage"`    // mmol/L, 03:00-07:00
	Rise                 float64         `json:"rise"`
	Intensity            float64         `json:"intensity"` // 0-1
	PreDawnReadings      int             `json:"preDawnReadings"`
	DawnReadings         int             `json:"dawnReadings"`
	SuggestedAdjustments map[int]float64 `json:"suggestedAdjustments,omitempty"`
	Recommendation       string          `json:"recommendation"`
}

// Relative weight of the suggested multiplier for hours 4-8
var dawnSuggestionWeights = map[int]float64{4: 0.5, 5: 0.8, 6: 1.0, 7: 0.8, 8: 0.4}

// AnalyzeOvernightPattern compares the average pre-dawn BSL with the dawn
// window. A rise above 1.5 mmol/L is reported as dawn phenomenon with
// suggested hourly multipliers scaled by its intensity.
func (m *CircadianModel) AnalyzeOvernightPattern(readings []models.BSLReading) OvernightAnalysis {
	var preSum, dawnSum float64
	var a OvernightAnalysis

	for _, r := range readings {
		if r.Value <= 0 {
			continue
		}
		h := r.Timestamp.Hour()
		switch {
		case h >= preDawnStartHour && h < preDawnEndHour:
			preSum += r.Value
			a.PreDawnReadings++
		case h >= dawnStartHour && h < dawnEndHour:
			dawnSum += r.Value
			a.DawnReadings++
		}
	}

	if a.PreDawnReadings == 0 || a.DawnReadings == 0 {
		a.Recommendation = "Not enough overnight readings to analyze the dawn pattern"
		return a
	}

	a.PreDawnAverage = preSum / float64(a.PreDawnReadings)
	a.DawnAverage = dawnSum / float64(a.DawnReadings)
	a.Rise = a.DawnAverage - a.PreDawnAverage

	if a.Rise <= dawnRiseMmol {
		a.Recommendation = "No significant dawn phenomenon detected"
		return a
	}

	a.Detected = true
	a.Intensity = clamp((a.Rise-dawnRiseMmol)/3.0, 0.1, 1)
	a.SuggestedAdjustments = make(map[int]float64, len(dawnSuggestionWeights))
	for h, w := range dawnSuggestionWeights {
		a.SuggestedAdjustments[h] = math.Round((1+0.3*a.Intensity*w)*100) / 100
	}
	a.Recommendation = fmt.Sprintf("Dawn phenomenon detected: BSL rises %.1f mmol/L between 03:00 and 07:00. Consider increasing early-morning basal or applying the suggested multipliers.", a.Rise)

	return a
}
