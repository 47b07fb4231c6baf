package dosing

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// Meal outcome sampling
const (
	mealInsulinWindow  = 30 * time.Minute
	outcomeWindowStart = 2 * time.Hour
	outcomeWindowEnd   = 4 * time.Hour
	minICRSamples      = 5

	outcomeLowBSL  = 4.0
	outcomeHighBSL = 10.0

	biasFraction       = 0.4 // Share of low or high outcomes that counts as systematic
	strongBiasFraction = 0.6
	icrStep            = 0.10
	icrStrongStep      = 0.15
)

// Meal outcome classes
const (
	OutcomeLow  = "low"
	OutcomeGood = "good"
	OutcomeHigh = "high"
)

// MealOutcome is one meal with its bolus and the BSL 2-4h later
type MealOutcome struct {
	MealTime   time.Time `json:"mealTime"`
	Carbs      float64   `json:"carbs"`
	Insulin    float64   `json:"insulin"`
	OutcomeBSL float64   `json:"outcomeBsl"` // Mean of readings 2-4h after the meal
	Outcome    string    `json:"outcome"`
}

// ICRSuggestion is a proposed insulin-to-carb ratio change
type ICRSuggestion struct {
	CurrentICR   float64       `json:"currentIcr"`
	SuggestedICR float64       `json:"suggestedIcr"`
	Change       float64       `json:"change"` // Relative, e.g. 0.1 = +10%
	Samples      int           `json:"samples"`
	Low          int           `json:"low"`
	Good         int           `json:"good"`
	High         int           `json:"high"`
	Sufficient   bool          `json:"sufficient"`
	Reason       string        `json:"reason"`
	Outcomes     []MealOutcome `json:"outcomes,omitempty"`
}

// SuggestICRAdjustment mines meals that had a bolus within 30 minutes and a
// BSL reading 2-4h later. With at least five samples, a systematic share of
// lows raises the ratio (less insulin per gram) and a systematic share of
// highs lowers it, by 10% or 15% for a strong bias.
func (e *Engine) SuggestICRAdjustment(log *prediction.EventLog, params models.UserModelParameters) ICRSuggestion {
	s := ICRSuggestion{
		CurrentICR:   params.InsulinToCarbRatio,
		SuggestedICR: params.InsulinToCarbRatio,
	}

	for _, meal := range log.Events() {
		if !meal.IsUsableMeal() {
			continue
		}

		var insulin float64
		for _, ev := range log.Between(meal.Timestamp.Add(-mealInsulinWindow), meal.Timestamp.Add(mealInsulinWindow)) {
			if ev.IsUsableInsulin() && ev.InsulinType() == models.InsulinBolus {
				insulin += ev.Value
			}
		}
		if insulin == 0 {
			continue
		}

		readings := log.BSLReadings(meal.Timestamp.Add(outcomeWindowStart), meal.Timestamp.Add(outcomeWindowEnd))
		if len(readings) == 0 {
			continue
		}
		var sum float64
		for _, r := range readings {
			sum += r.Value
		}

		o := MealOutcome{
			MealTime:   meal.Timestamp,
			Carbs:      meal.Carbs(),
			Insulin:    insulin,
			OutcomeBSL: sum / float64(len(readings)),
			Outcome:    OutcomeGood,
		}
		switch {
		case o.OutcomeBSL < outcomeLowBSL:
			o.Outcome = OutcomeLow
			s.Low++
		case o.OutcomeBSL > outcomeHighBSL:
			o.Outcome = OutcomeHigh
			s.High++
		default:
			s.Good++
		}
		s.Outcomes = append(s.Outcomes, o)
	}

	s.Samples = len(s.Outcomes)
	if s.Samples < minICRSamples {
		s.Reason = fmt.Sprintf("Need at least %d meals with a bolus and a follow-up reading, found %d", minICRSamples, s.Samples)
		return s
	}
	s.Sufficient = true

	lowShare := float64(s.Low) / float64(s.Samples)
	highShare := float64(s.High) / float64(s.Samples)

	switch {
	case lowShare >= biasFraction && s.Low > s.High:
		s.Change = icrStep
		if lowShare >= strongBiasFraction {
			s.Change = icrStrongStep
		}
		s.Reason = fmt.Sprintf("%d of %d meals ended low: increase the ratio so each unit covers more carbs", s.Low, s.Samples)
	case highShare >= biasFraction && s.High > s.Low:
		s.Change = -icrStep
		if highShare >= strongBiasFraction {
			s.Change = -icrStrongStep
		}
		s.Reason = fmt.Sprintf("%d of %d meals ended high: decrease the ratio so each unit covers fewer carbs", s.High, s.Samples)
	default:
		s.Reason = fmt.Sprintf("No systematic bias across %d meals: keep the current ratio", s.Samples)
		return s
	}

	s.SuggestedICR = math.Round(params.InsulinToCarbRatio*(1+s.Change)*10) / 10
	return s
}
