// Package metabolism implements the pharmacokinetic and pharmacodynamic curve
// models the prediction engine composes: insulin decay, carbohydrate
// absorption, alcohol metabolism and circadian insulin sensitivity.
//
// Every model is an immutable value built from static tables. Methods are
// pure: the same inputs always produce the same outputs.
package metabolism

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// InsulinProfile holds the kinetic parameters of one insulin type (minutes)
type InsulinProfile struct {
	Onset    float64
	Peak     float64
	Duration float64
	HalfLife float64
}

// tau1 is the slow (elimination) time constant
func (p InsulinProfile) tau1() float64 {
	return p.HalfLife * 1.4
}

// tau2 is the fast (absorption) time constant
func (p InsulinProfile) tau2() float64 {
	return p.Onset * 0.7
}

// DefaultInsulinProfiles returns the rapid-acting bolus and long-acting basal profiles
func DefaultInsulinProfiles() map[models.InsulinType]InsulinProfile {
	return map[models.InsulinType]InsulinProfile{
		models.InsulinBolus: {Onset: 15, Peak: 75, Duration: 240, HalfLife: 55},
		models.InsulinBasal: {Onset: 90, Peak: 360, Duration: 1440, HalfLife: 300},
	}
}

// InsulinActivity is the state of a single unit dose at some minute offset
type InsulinActivity struct {
	ActivityLevel  float64 `json:"activityLevel"`  // 0-1, 1 at the profile peak
	InsulinOnBoard float64 `json:"insulinOnBoard"` // 0-1 fraction remaining
}

// InsulinModel computes insulin on board using a biexponential curve per type
type InsulinModel struct {
	profiles map[models.InsulinType]InsulinProfile
	peakNorm map[models.InsulinType]float64
}

// NewInsulinModel creates a model from the given profiles.
// Profiles must have HalfLife*1.4 != Onset*0.7.
func NewInsulinModel(profiles map[models.InsulinType]InsulinProfile) *InsulinModel {
	m := &InsulinModel{
		profiles: make(map[models.InsulinType]InsulinProfile, len(profiles)),
		peakNorm: make(map[models.InsulinType]float64, len(profiles)),
	}
	for t, p := range profiles {
		m.profiles[t] = p
		// Scale so the curve equals 1 at the profile's stated peak
		raw := biexponential(p.Peak, p.tau1(), p.tau2())
		if raw > 0 {
			m.peakNorm[t] = 1 / raw
		} else {
			m.peakNorm[t] = 1
		}
	}
	return m
}

// Profile returns the kinetic profile for an insulin type, falling back to bolus
func (m *InsulinModel) Profile(insulinType models.InsulinType) InsulinProfile {
	if p, ok := m.profiles[insulinType]; ok {
		return p
	}
	return m.profiles[models.InsulinBolus]
}

func (m *InsulinModel) norm(insulinType models.InsulinType) float64 {
	if n, ok := m.peakNorm[insulinType]; ok {
		return n
	}
	return m.peakNorm[models.InsulinBolus]
}

func biexponential(t, tau1, tau2 float64) float64 {
	return math.Exp(-t/tau1) - math.Exp(-t/tau2)
}

// Activity returns the normalized activity and remaining fraction of a dose
func (m *InsulinModel) Activity(minutesFromDose float64, insulinType models.InsulinType) InsulinActivity {
	p := m.Profile(insulinType)

	if minutesFromDose <= 0 {
		return InsulinActivity{ActivityLevel: 0, InsulinOnBoard: 1}
	}
	if minutesFromDose >= p.Duration {
		return InsulinActivity{ActivityLevel: 0, InsulinOnBoard: 0}
	}

	tau1, tau2 := p.tau1(), p.tau2()
	activity := m.norm(insulinType) * biexponential(minutesFromDose, tau1, tau2)

	// Remaining area under the curve, normalized to 1 at t=0
	iob := (tau1*math.Exp(-minutesFromDose/tau1) - tau2*math.Exp(-minutesFromDose/tau2)) / (tau1 - tau2)

	return InsulinActivity{
		ActivityLevel:  clamp(activity, 0, 1),
		InsulinOnBoard: clamp(iob, 0, 1),
	}
}

// ActiveInsulin sums insulin on board across all doses at atTime.
// Non-insulin events, non-positive doses, future doses and doses older than
// their duration are ignored.
func (m *InsulinModel) ActiveInsulin(events []models.PhysiologicalEvent, atTime time.Time) models.ActiveInsulinResult {
	result := models.ActiveInsulinResult{DoseContributions: []models.DoseContribution{}}

	for i := range events {
		e := &events[i]
		if !e.IsUsableInsulin() || e.Timestamp.After(atTime) {
			continue
		}

		insulinType := e.InsulinType()
		p := m.Profile(insulinType)
		minutesAgo := atTime.Sub(e.Timestamp).Minutes()
		if minutesAgo >= p.Duration {
			continue
		}

		a := m.Activity(minutesAgo, insulinType)
		iob := e.Value * a.InsulinOnBoard

		result.TotalIOB += iob
		result.ActivityRate += e.Value * a.ActivityLevel
		result.DoseContributions = append(result.DoseContributions, models.DoseContribution{
			EventID:     e.ID,
			Timestamp:   e.Timestamp,
			Units:       e.Value,
			InsulinType: insulinType,
			MinutesAgo:  minutesAgo,
			IOB:         iob,
			Activity:    a.ActivityLevel,
		})

		clearAt := e.Timestamp.Add(minutes(p.Duration))
		if clearAt.After(result.EstimatedClearTime) {
			result.EstimatedClearTime = clearAt
		}
	}

	return result
}

// EstimateInsulinBSLEffect returns the expected BSL drop (mmol/L) from iob units
func EstimateInsulinBSLEffect(iob, correctionFactor float64) float64 {
	return iob * correctionFactor
}

// Stacking risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Expected drop thresholds (mmol/L) for stacking risk
const (
	stackingHighDrop   = 8.0
	stackingMediumDrop = 5.0
)

// AssessInsulinStacking classifies the combined effect of IOB and a proposed dose
func AssessInsulinStacking(currentIOB, proposedDose, correctionFactor float64) models.StackingAssessment {
	total := math.Max(0, currentIOB) + math.Max(0, proposedDose)
	drop := EstimateInsulinBSLEffect(total, correctionFactor)

	a := models.StackingAssessment{
		Risk:         RiskLow,
		TotalInsulin: total,
		ExpectedDrop: drop,
	}

	switch {
	case drop > stackingHighDrop:
		a.Risk = RiskHigh
		a.Warning = fmt.Sprintf("High insulin stacking risk: %.1fU active plus %.1fU proposed may drop BSL by %.1f mmol/L", currentIOB, proposedDose, drop)
	case drop > stackingMediumDrop:
		a.Risk = RiskMedium
		a.Warning = fmt.Sprintf("Moderate insulin stacking: %.1fU active insulin, expected drop %.1f mmol/L", currentIOB, drop)
	}

	return a
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
