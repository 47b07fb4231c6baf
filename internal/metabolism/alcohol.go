package metabolism

import (
	"math"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// GramsPerStandardDrink is the alcohol content of one unit
const GramsPerStandardDrink = 10.0

// Widmark distribution ratio and reference weight for elimination scaling
const (
	widmarkRatio       = 0.6
	referenceWeightKg  = 70.0
	sensitivityRampMin = 60.0
)

// Delayed hypoglycemia risk window after drinking
const (
	hypoRiskStart = 6 * time.Hour
	hypoRiskEnd   = 12 * time.Hour
)

// DrinkProfile holds per-drink-type alcohol kinetics
type DrinkProfile struct {
	AbsorptionHalfLife  float64 // Minutes
	EliminationRate     float64 // g/h for a 70kg adult
	PeakMinutes         float64
	SensitivityModifier float64 // Insulin sensitivity multiplier at full effect (<1 = more sensitive)
	EffectDuration      float64 // Minutes the sensitivity change lasts
}

// DefaultDrinkProfiles returns kinetics for beer, wine, spirits and mixed drinks
func DefaultDrinkProfiles() map[models.DrinkType]DrinkProfile {
	return map[models.DrinkType]DrinkProfile{
		models.DrinkBeer:   {AbsorptionHalfLife: 30, EliminationRate: 7, PeakMinutes: 60, SensitivityModifier: 0.85, EffectDuration: 12 * 60},
		models.DrinkWine:   {AbsorptionHalfLife: 25, EliminationRate: 7, PeakMinutes: 50, SensitivityModifier: 0.80, EffectDuration: 14 * 60},
		models.DrinkSpirit: {AbsorptionHalfLife: 15, EliminationRate: 7, PeakMinutes: 40, SensitivityModifier: 0.75, EffectDuration: 16 * 60},
		models.DrinkMixed:  {AbsorptionHalfLife: 20, EliminationRate: 7, PeakMinutes: 45, SensitivityModifier: 0.80, EffectDuration: 14 * 60},
	}
}

// AlcoholState is the state of one drink event at some minute offset
type AlcoholState struct {
	Absorbing           float64 `json:"absorbing"`  // Grams still in the gut
	InSystem            float64 `json:"inSystem"`   // Grams in blood
	Eliminated          float64 `json:"eliminated"` // Grams metabolized
	BAL                 float64 `json:"bal"`        // g/L
	SensitivityModifier float64 `json:"sensitivityModifier"`
}

// AlcoholModel computes blood alcohol and its effect on insulin sensitivity
type AlcoholModel struct {
	profiles map[models.DrinkType]DrinkProfile
}

// NewAlcoholModel creates a model from the given drink profiles
func NewAlcoholModel(profiles map[models.DrinkType]DrinkProfile) *AlcoholModel {
	m := &AlcoholModel{profiles: make(map[models.DrinkType]DrinkProfile, len(profiles))}
	for t, p := range profiles {
		m.profiles[t] = p
	}
	return m
}

// Profile returns the profile of a drink type, falling back to mixed
func (m *AlcoholModel) Profile(drinkType models.DrinkType) DrinkProfile {
	if p, ok := m.profiles[drinkType]; ok {
		return p
	}
	return m.profiles[models.DrinkMixed]
}

// MaxEffectDuration is the longest sensitivity effect of any drink type (minutes)
func (m *AlcoholModel) MaxEffectDuration() float64 {
	var longest float64
	for _, p := range m.profiles {
		longest = math.Max(longest, p.EffectDuration)
	}
	return longest
}

// eliminationRatePerMinute scales the hourly rate by (weight/70)^0.25
func eliminationRatePerMinute(p DrinkProfile, bodyWeightKg float64) float64 {
	if bodyWeightKg <= 0 {
		bodyWeightKg = referenceWeightKg
	}
	return p.EliminationRate * math.Pow(bodyWeightKg/referenceWeightKg, 0.25) / 60
}

// BloodAlcoholLevel converts grams in the blood to g/L with a simplified Widmark formula
func BloodAlcoholLevel(gramsInSystem, bodyWeightKg float64) float64 {
	if bodyWeightKg <= 0 {
		bodyWeightKg = referenceWeightKg
	}
	return gramsInSystem / (bodyWeightKg * widmarkRatio) * 10
}

// SensitivityModifier ramps from 1.0 to the drink's modifier over the first hour
// and relaxes linearly back to 1.0 by the end of the effect duration.
func (m *AlcoholModel) SensitivityModifier(minutesSinceDrink float64, drinkType models.DrinkType) float64 {
	p := m.Profile(drinkType)
	if minutesSinceDrink <= 0 || minutesSinceDrink >= p.EffectDuration {
		return 1
	}

	depth := 1 - p.SensitivityModifier
	if minutesSinceDrink <= sensitivityRampMin {
		return 1 - depth*(minutesSinceDrink/sensitivityRampMin)
	}

	recovery := (minutesSinceDrink - sensitivityRampMin) / (p.EffectDuration - sensitivityRampMin)
	return p.SensitivityModifier + depth*clamp(recovery, 0, 1)
}

// AlcoholState returns the alcohol distribution of one drink event.
// Absorption follows 1-e^(-t/halfLife); elimination is linear and never
// exceeds what has been absorbed.
func (m *AlcoholModel) AlcoholState(minutesSinceDrink, units float64, drinkType models.DrinkType, bodyWeightKg float64) AlcoholState {
	grams := math.Max(0, units) * GramsPerStandardDrink
	if grams == 0 || minutesSinceDrink < 0 {
		return AlcoholState{Absorbing: grams, SensitivityModifier: 1}
	}

	p := m.Profile(drinkType)
	absorbed := grams * (1 - math.Exp(-minutesSinceDrink/p.AbsorptionHalfLife))
	eliminated := math.Min(absorbed, eliminationRatePerMinute(p, bodyWeightKg)*minutesSinceDrink)
	inSystem := math.Max(0, absorbed-eliminated)

	return AlcoholState{
		Absorbing:           grams - absorbed,
		InSystem:            inSystem,
		Eliminated:          eliminated,
		BAL:                 BloodAlcoholLevel(inSystem, bodyWeightKg),
		SensitivityModifier: m.SensitivityModifier(minutesSinceDrink, drinkType),
	}
}

// BloodAlcohol combines all drink events at atTime. Sensitivity modifiers of
// concurrent drinks multiply. Events without alcohol or in the future are ignored.
func (m *AlcoholModel) BloodAlcohol(events []models.PhysiologicalEvent, atTime time.Time, bodyWeightKg float64) models.BloodAlcoholResult {
	result := models.BloodAlcoholResult{
		SensitivityModifier: 1,
		DrinkContributions:  []models.DrinkContribution{},
	}

	var lastDrink time.Time
	for i := range events {
		e := &events[i]
		if !e.IsUsableDrink() || e.Timestamp.After(atTime) {
			continue
		}

		drinkType := e.Meal.AlcoholType
		p := m.Profile(drinkType)
		minutesAgo := atTime.Sub(e.Timestamp).Minutes()
		state := m.AlcoholState(minutesAgo, e.Meal.AlcoholUnits, drinkType, bodyWeightKg)

		if minutesAgo >= p.EffectDuration && state.InSystem == 0 && state.Absorbing < 0.01 {
			continue
		}

		result.TotalUnits += e.Meal.AlcoholUnits
		result.GramsAbsorbing += state.Absorbing
		result.GramsInSystem += state.InSystem
		result.GramsEliminated += state.Eliminated
		result.SensitivityModifier *= state.SensitivityModifier
		result.DrinkContributions = append(result.DrinkContributions, models.DrinkContribution{
			EventID:             e.ID,
			Timestamp:           e.Timestamp,
			Units:               e.Meal.AlcoholUnits,
			DrinkType:           drinkType,
			MinutesAgo:          minutesAgo,
			GramsInSystem:       state.InSystem,
			SensitivityModifier: state.SensitivityModifier,
		})

		if e.Timestamp.After(lastDrink) {
			lastDrink = e.Timestamp
		}
	}

	result.BAL = BloodAlcoholLevel(result.GramsInSystem, bodyWeightKg)
	if result.TotalUnits > 0 {
		result.HypoRisk = HypoglycemiaRiskWindow(lastDrink, result.TotalUnits)
	}

	return result
}

// HypoglycemiaRiskWindow returns the delayed-hypoglycemia window 6-12h after drinking
func HypoglycemiaRiskWindow(drinkTime time.Time, totalUnits float64) models.HypoRiskWindow {
	if totalUnits <= 0 {
		return models.HypoRiskWindow{}
	}

	w := models.HypoRiskWindow{
		Active: true,
		Start:  drinkTime.Add(hypoRiskStart),
		End:    drinkTime.Add(hypoRiskEnd),
	}

	switch {
	case totalUnits >= 5:
		w.Severity = RiskHigh
		w.Recommendation = "High risk of delayed hypoglycemia. Eat a substantial carbohydrate snack before sleep, consider reducing basal insulin and set an overnight alarm."
	case totalUnits >= 3:
		w.Severity = RiskMedium
		w.Recommendation = "Moderate risk of delayed hypoglycemia. Have a bedtime snack and check BSL during the night."
	default:
		w.Severity = RiskLow
		w.Recommendation = "Low risk of delayed hypoglycemia. Check BSL before sleeping."
	}

	return w
}
