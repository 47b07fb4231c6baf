// Package models contains data structures used throughout the application
package models

import "time"

// DoseContribution is one insulin dose's share of the active insulin
type DoseContribution struct {
	EventID     string      `json:"eventId"`
	Timestamp   time.Time   `json:"timestamp"`
	Units       float64     `json:"units"`
	InsulinType InsulinType `json:"insulinType"`
	MinutesAgo  float64     `json:"minutesAgo"`
	IOB         float64     `json:"iob"`      // Units still on board
	Activity    float64     `json:"activity"` // 0-1 normalized activity
}

// ActiveInsulinResult summarizes insulin on board at one instant
type ActiveInsulinResult struct {
	TotalIOB           float64            `json:"totalIob"`
	ActivityRate       float64            `json:"activityRate"` // Units weighted by normalized activity
	DoseContributions  []DoseContribution `json:"doseContributions"`
	EstimatedClearTime time.Time          `json:"estimatedClearTime"` // Zero when no insulin is active
}

// MealContribution is one meal's share of the active carbs
type MealContribution struct {
	EventID        string    `json:"eventId"`
	Timestamp      time.Time `json:"timestamp"`
	TotalCarbs     float64   `json:"totalCarbs"`
	GlycemicIndex  float64   `json:"glycemicIndex"`
	MinutesAgo     float64   `json:"minutesAgo"`
	CarbsOnBoard   float64   `json:"carbsOnBoard"`
	CarbsAbsorbed  float64   `json:"carbsAbsorbed"`
	AbsorptionRate float64   `json:"absorptionRate"` // g/min
}

// ActiveCarbsResult summarizes carbs on board at one instant
type ActiveCarbsResult struct {
	TotalCOB           float64            `json:"totalCob"`
	AbsorptionRate     float64            `json:"absorptionRate"` // g/min
	MealContributions  []MealContribution `json:"mealContributions"`
	EstimatedClearTime time.Time          `json:"estimatedClearTime"`
}

// DrinkContribution is one drink event's share of the blood alcohol
type DrinkContribution struct {
	EventID             string    `json:"eventId"`
	Timestamp           time.Time `json:"timestamp"`
	Units               float64   `json:"units"`
	DrinkType           DrinkType `json:"drinkType"`
	MinutesAgo          float64   `json:"minutesAgo"`
	GramsInSystem       float64   `json:"gramsInSystem"`
	SensitivityModifier float64   `json:"sensitivityModifier"`
}

// HypoRiskWindow is the delayed-hypoglycemia window following drinking
type HypoRiskWindow struct {
	Active         bool      `json:"active"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Severity       string    `json:"severity"` // "low", "medium", "high"
	Recommendation string    `json:"recommendation"`
}

// BloodAlcoholResult summarizes alcohol state at one instant
type BloodAlcoholResult struct {
	TotalUnits          float64             `json:"totalUnits"`
	GramsAbsorbing      float64             `json:"gramsAbsorbing"`
	GramsInSystem       float64             `json:"gramsInSystem"`
	GramsEliminated     float64             `json:"gramsEliminated"`
	BAL                 float64             `json:"bal"`                 // g/L, simplified Widmark
	SensitivityModifier float64             `json:"sensitivityModifier"` // Product over drinks, 1.0 = none
	DrinkContributions  []DrinkContribution `json:"drinkContributions"`
	HypoRisk            HypoRiskWindow      `json:"hypoRisk"`
}

// HasAlcohol returns true if any alcohol is still acting on the body
func (r BloodAlcoholResult) HasAlcohol() bool {
	return r.GramsInSystem > 0 || r.GramsAbsorbing > 0 || r.SensitivityModifier < 1
}

// CircadianFactors is the time-of-day sensitivity at one instant
type CircadianFactors struct {
	Hour               float64 `json:"hour"` // Fractional hour of day
	InsulinSensitivity float64 `json:"insulinSensitivity"`
	DawnEffect         float64 `json:"dawnEffect"`
	CombinedFactor     float64 `json:"combinedFactor"`
}

// BSLReading is a BSL value normalized to mmol/L
type BSLReading struct {
	EventID   string    `json:"eventId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"` // mmol/L
	Source    string    `json:"source,omitempty"`
}

// MetabolicState is a derived snapshot at one instant
type MetabolicState struct {
	Timestamp time.Time           `json:"timestamp"`
	Insulin   ActiveInsulinResult `json:"insulin"`
	Carbs     ActiveCarbsResult   `json:"carbs"`
	Alcohol   BloodAlcoholResult  `json:"alcohol"`
	Circadian CircadianFactors    `json:"circadian"`
	LastBSL   *BSLReading         `json:"lastBsl,omitempty"`

	// Latest reading in the log even when it is too old to anchor on
	LastReadingAt *time.Time `json:"lastReadingAt,omitempty"`
}

// PredictionFactors are the additive contributions to BSL change
type PredictionFactors struct {
	InsulinEffect       float64 `json:"insulinEffect"`
	CarbEffect          float64 `json:"carbEffect"`
	AlcoholEffect       float64 `json:"alcoholEffect"`
	CircadianAdjustment float64 `json:"circadianAdjustment"`
	BaselineDrift       float64 `json:"baselineDrift"`
}

// Total returns the sum of all factors
func (f PredictionFactors) Total() float64 {
	return f.InsulinEffect + f.CarbEffect + f.AlcoholEffect + f.CircadianAdjustment + f.BaselineDrift
}

// BSLPrediction is a predicted BSL at a target time
type BSLPrediction struct {
	PredictedBSL        float64           `json:"predictedBsl"`
	CurrentBSL          float64           `json:"currentBsl"`
	ConfidenceInterval  [2]float64        `json:"confidenceInterval"`
	Confidence          float64           `json:"confidence"`
	Uncertainty         float64           `json:"uncertainty"`
	Factors             PredictionFactors `json:"factors"`
	TargetTime          time.Time         `json:"targetTime"`
	HasBSL              bool              `json:"hasBsl"`
	MinutesSinceLastBSL float64           `json:"minutesSinceLastBsl"`
}

// TimeSeriesPoint is one sampled prediction
type TimeSeriesPoint struct {
	Time       time.Time      `json:"time"`
	BSL        float64        `json:"bsl"`
	Lower      float64        `json:"lower"`
	Upper      float64        `json:"upper"`
	Confidence float64        `json:"confidence"`
	State      MetabolicState `json:"state"`
}

// BSLTimeSeries is a sampled prediction over a window
type BSLTimeSeries struct {
	Start             time.Time         `json:"start"`
	End               time.Time         `json:"end"`
	ResolutionMinutes float64           `json:"resolutionMinutes"`
	Points            []TimeSeriesPoint `json:"points"`
}

// Values returns the predicted BSL of every point
func (s *BSLTimeSeries) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.BSL
	}
	return values
}

// Alert types and severities
const (
	AlertHypo  = "hypo"
	AlertHyper = "hyper"

	SeverityUrgent  = "urgent"
	SeverityAlert   = "alert"
	SeverityWarning = "warning"
)

// BSLAlert is a predicted threshold crossing
type BSLAlert struct {
	Type         string    `json:"type"`     // "hypo" or "hyper"
	Severity     string    `json:"severity"` // "urgent", "alert", "warning"
	Time         time.Time `json:"time"`
	PredictedBSL float64   `json:"predictedBsl"`
	BoundBSL     float64   `json:"boundBsl"` // Lower bound for hypo, upper for hyper
	Message      string    `json:"message"`
}

// DoseBreakdown itemizes a recommendation
type DoseBreakdown struct {
	CarbCoverage        float64 `json:"carbCoverage"`
	CorrectionDose      float64 `json:"correctionDose"`
	IOBAdjustment       float64 `json:"iobAdjustment"`
	COBAdjustment       float64 `json:"cobAdjustment"`
	AlcoholAdjustment   float64 `json:"alcoholAdjustment"`
	CircadianAdjustment float64 `json:"circadianAdjustment"`
	SafetyAdjustment    float64 `json:"safetyAdjustment"`
	Total               float64 `json:"total"`
}

// InsulinRecommendation is a safety-bounded dose suggestion
type InsulinRecommendation struct {
	RecommendedDose    float64       `json:"recommendedDose"`
	ConfidenceInterval [2]float64    `json:"confidenceInterval"`
	Confidence         float64       `json:"confidence"`
	Breakdown          DoseBreakdown `json:"breakdown"`
	Warnings           []string      `json:"warnings"`
	Timestamp          time.Time     `json:"timestamp"`
	CurrentBSL         *float64      `json:"currentBsl,omitempty"` // Reading the dose was based on
}

// StackingAssessment classifies the risk of adding insulin on top of IOB
type StackingAssessment struct {
	Risk         string  `json:"risk"` // "low", "medium", "high"
	TotalInsulin float64 `json:"totalInsulin"`
	ExpectedDrop float64 `json:"expectedDrop"` // mmol/L
	Warning      string  `json:"warning,omitempty"`
}
