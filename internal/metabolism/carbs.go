package metabolism

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// Glycemic index fallbacks
const (
	DefaultGlycemicIndex = 60.0
	MixedGlycemicIndex   = 55.0
)

// Fraction of a meal absorbed by the time absorption peaks
const absorbedAtPeak = 0.4

// DefaultGlycemicIndexTable maps food keywords to their glycemic index
func DefaultGlycemicIndexTable() map[string]float64 {
	return map[string]float64{
		"bread":        75,
		"white bread":  75,
		"toast":        75,
		"bagel":        72,
		"croissant":    67,
		"crackers":     74,
		"rice":         73,
		"brown rice":   68,
		"pasta":        50,
		"spaghetti":    50,
		"noodles":      47,
		"potato":       78,
		"sweet potato": 63,
		"fries":        63,
		"oats":         55,
		"porridge":     55,
		"cornflakes":   81,
		"cereal":       70,
		"muesli":       57,
		"quinoa":       53,
		"couscous":     65,
		"corn":         52,
		"beans":        30,
		"lentils":      32,
		"chickpeas":    28,
		"apple":        36,
		"banana":       51,
		"orange":       43,
		"pear":         38,
		"grapes":       59,
		"mango":        51,
		"watermelon":   76,
		"dates":        42,
		"milk":         39,
		"yogurt":       41,
		"ice cream":    51,
		"chocolate":    40,
		"cake":         67,
		"cookie":       62,
		"biscuit":      62,
		"sugar":        65,
		"honey":        61,
		"juice":        50,
		"soda":         63,
		"cola":         63,
		"pizza":        60,
		"burger":       66,
		"sushi":        55,
		"popcorn":      65,
		"salad":        15,
		"mixed":        MixedGlycemicIndex,
	}
}

// AbsorptionParams are the GI-derived absorption curve parameters (minutes)
type AbsorptionParams struct {
	GlycemicIndex float64 `json:"glycemicIndex"`
	PeakMinutes   float64 `json:"peakMinutes"`
	Duration      float64 `json:"durationMinutes"`
	HalfLife      float64 `json:"halfLife"`
}

// exponent of the rising power curve
func (p AbsorptionParams) exponent() float64 {
	return p.PeakMinutes / p.HalfLife
}

// CarbAbsorption is the absorption state of a single meal
type CarbAbsorption struct {
	AbsorptionRate float64 `json:"absorptionRate"` // g/min
	CarbsOnBoard   float64 `json:"carbsOnBoard"`
	CarbsAbsorbed  float64 `json:"carbsAbsorbed"`
}

// CarbModel computes carbs on board from glycemic-index driven absorption curves
type CarbModel struct {
	giTable  map[string]float64
	keywords []string // Longest first
}

// NewCarbModel creates a model using the given keyword to GI table
func NewCarbModel(giTable map[string]float64) *CarbModel {
	m := &CarbModel{giTable: make(map[string]float64, len(giTable))}
	for k, v := range giTable {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		m.giTable[k] = v
		m.keywords = append(m.keywords, k)
	}
	sort.Slice(m.keywords, func(i, j int) bool {
		if len(m.keywords[i]) != len(m.keywords[j]) {
			return len(m.keywords[i]) > len(m.keywords[j])
		}
		return m.keywords[i] < m.keywords[j]
	})
	return m
}

// EstimateGlycemicIndex estimates GI from a free-text meal description.
// Every matched keyword contributes once; a keyword contained in a longer
// matched keyword ("bread" inside "white bread") is not counted again.
// Unknown descriptions get DefaultGlycemicIndex.
func (m *CarbModel) EstimateGlycemicIndex(description string) float64 {
	text := " " + normalizeDescription(description) + " "
	if strings.TrimSpace(text) == "" {
		return DefaultGlycemicIndex
	}

	var matched []string
	var sum float64
	for _, k := range m.keywords {
		if !containsWord(text, k) {
			continue
		}
		subsumed := false
		for _, longer := range matched {
			if containsWord(" "+longer+" ", k) {
				subsumed = true
				break
			}
		}
		if subsumed {
			continue
		}
		matched = append(matched, k)
		sum += m.giTable[k]
	}

	if len(matched) == 0 {
		return DefaultGlycemicIndex
	}
	return sum / float64(len(matched))
}

// normalizeDescription lowercases and replaces punctuation with spaces
func normalizeDescription(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), " ")
}

// containsWord matches k as a whole word, allowing a plural "s"
func containsWord(text, k string) bool {
	return strings.Contains(text, " "+k+" ") || strings.Contains(text, " "+k+"s ")
}

// AbsorptionParams derives the absorption curve from a glycemic index
func (m *CarbModel) AbsorptionParams(glycemicIndex float64) AbsorptionParams {
	gi := clamp(glycemicIndex, 0, 100)
	peak := 120 - (gi/100)*90
	duration := 120 + ((100-gi)/100)*180
	return AbsorptionParams{
		GlycemicIndex: gi,
		PeakMinutes:   peak,
		Duration:      duration,
		HalfLife:      duration / 3,
	}
}

// Absorption returns the absorption state of a meal minutesFromMeal after eating.
// The rising phase follows (t/tPeak)^k and accounts for 40% of the meal by the
// peak; the remainder decays exponentially until the meal's duration.
func (m *CarbModel) Absorption(minutesFromMeal, totalCarbs, glycemicIndex float64) CarbAbsorption {
	if totalCarbs <= 0 {
		return CarbAbsorption{}
	}
	if minutesFromMeal <= 0 {
		return CarbAbsorption{CarbsOnBoard: totalCarbs}
	}

	p := m.AbsorptionParams(glycemicIndex)
	if minutesFromMeal >= p.Duration {
		return CarbAbsorption{CarbsAbsorbed: totalCarbs}
	}

	k := p.exponent()
	var fraction, rate float64
	if minutesFromMeal < p.PeakMinutes {
		x := minutesFromMeal / p.PeakMinutes
		fraction = absorbedAtPeak * math.Pow(x, k+1)
		rate = totalCarbs * absorbedAtPeak * (k + 1) / p.PeakMinutes * math.Pow(x, k)
	} else {
		decay := math.Exp(-(minutesFromMeal - p.PeakMinutes) / p.HalfLife)
		fraction = absorbedAtPeak + (1-absorbedAtPeak)*(1-decay)
		rate = totalCarbs * (1 - absorbedAtPeak) / p.HalfLife * decay
	}

	absorbed := totalCarbs * clamp(fraction, 0, 1)
	return CarbAbsorption{
		AbsorptionRate: rate,
		CarbsOnBoard:   math.Max(0, totalCarbs-absorbed),
		CarbsAbsorbed:  absorbed,
	}
}

// MealGlycemicIndex returns the explicit GI of a meal or estimates it
func (m *CarbModel) MealGlycemicIndex(e *models.PhysiologicalEvent) float64 {
	if e.Meal != nil && e.Meal.GlycemicIndex > 0 {
		return clamp(e.Meal.GlycemicIndex, 0, 100)
	}
	if e.Meal == nil {
		return DefaultGlycemicIndex
	}
	return m.EstimateGlycemicIndex(e.Meal.Description)
}

// ActiveCarbs sums carbs on board across meals at atTime. Meals without carbs,
// future meals and meals past their absorption duration are ignored.
func (m *CarbModel) ActiveCarbs(events []models.PhysiologicalEvent, atTime time.Time) models.ActiveCarbsResult {
	result := models.ActiveCarbsResult{MealContributions: []models.MealContribution{}}

	for i := range events {
		e := &events[i]
		if !e.IsUsableMeal() || e.Timestamp.After(atTime) {
			continue
		}

		gi := m.MealGlycemicIndex(e)
		p := m.AbsorptionParams(gi)
		minutesAgo := atTime.Sub(e.Timestamp).Minutes()
		if minutesAgo >= p.Duration {
			continue
		}

		carbs := e.Carbs()
		a := m.Absorption(minutesAgo, carbs, gi)

		result.TotalCOB += a.CarbsOnBoard
		result.AbsorptionRate += a.AbsorptionRate
		result.MealContributions = append(result.MealContributions, models.MealContribution{
			EventID:        e.ID,
			Timestamp:      e.Timestamp,
			TotalCarbs:     carbs,
			GlycemicIndex:  gi,
			MinutesAgo:     minutesAgo,
			CarbsOnBoard:   a.CarbsOnBoard,
			CarbsAbsorbed:  a.CarbsAbsorbed,
			AbsorptionRate: a.AbsorptionRate,
		})

		clearAt := e.Timestamp.Add(minutes(p.Duration))
		if clearAt.After(result.EstimatedClearTime) {
			result.EstimatedClearTime = clearAt
		}
	}

	return result
}
