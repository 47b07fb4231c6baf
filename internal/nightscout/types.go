package nightscout

import (
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// Entry represents a single glucose reading from Nightscout
type Entry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`  // Sensor glucose value in mg/dL
	Date      int64  `json:"date"` // Unix timestamp in milliseconds
	DateStr   string `json:"dateString"`
	Trend     int    `json:"trend"`     // Trend direction (1-7)
	Direction string `json:"direction"` // Trend direction as string
	Device    string `json:"device"`
	Type      string `json:"type"`
}

// Time returns the time of the glucose entry
func (e *Entry) Time() time.Time {
	return time.UnixMilli(e.Date)
}

// ValueMmolL returns the glucose value in mmol/L
func (e *Entry) ValueMmolL() float64 {
	return models.ToMmol(float64(e.SGV))
}

// TrendArrow returns the Unicode arrow character for the trend
func (e *Entry) TrendArrow() string {
	arrows := map[string]string{
		"DoubleUp":          "⇈",
		"SingleUp":          "↑",
		"FortyFiveUp":       "↗",
		"Flat":              "→",
		"FortyFiveDown":     "↘",
		"SingleDown":        "↓",
		"DoubleDown":        "⇊",
		"NOT COMPUTABLE":    "?",
		"RATE OUT OF RANGE": "⚠",
	}

	if e.Direction != "" {
		if arrow, ok := arrows[e.Direction]; ok {
			return arrow
		}
	}

	// Fallback to numeric trend
	if e.Trend >= 1 && e.Trend <= 7 {
		return []string{"⇈", "↑", "↗", "→", "↘", "↓", "⇊"}[e.Trend-1]
	}

	return "-"
}

// Treatment represents a treatment entry from Nightscout (insulin, carbs, etc.)
type Treatment struct {
	ID          string  `json:"_id"`
	EventType   string  `json:"eventType"`
	Date        int64   `json:"date"` // Unix timestamp in milliseconds
	CreatedAt   string  `json:"created_at"`
	Insulin     float64 `json:"insulin"`     // Units of insulin
	Carbs       float64 `json:"carbs"`       // Grams of carbohydrates
	Duration    float64 `json:"duration"`    // Minutes (temp basal, exercise)
	Glucose     float64 `json:"glucose"`     // Blood glucose value if recorded
	GlucoseType string  `json:"glucoseType"` // "Sensor", "Finger", "Manual"
	Units       string  `json:"units"`       // "mg/dl" or "mmol"
	Notes       string  `json:"notes"`
	EnteredBy   string  `json:"enteredBy"`

	// For basal changes
	Absolute float64 `json:"absolute"` // Temp basal rate in U/h
	Rate     float64 `json:"rate"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	// Fallback to created_at
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// BasalRate returns the temp basal rate in U/h
func (t *Treatment) BasalRate() float64 {
	if t.Absolute > 0 {
		return t.Absolute
	}
	return t.Rate
}

// Common Nightscout treatment event types
const (
	EventBGCheck         = "BG Check"
	EventSnackBolus      = "Snack Bolus"
	EventMealBolus       = "Meal Bolus"
	EventCorrectionBolus = "Correction Bolus"
	EventCarbCorrection  = "Carb Correction"
	EventExercise        = "Exercise"
	EventTempBasal       = "Temp Basal"
)

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status     string         `json:"status"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	APIEnabled bool           `json:"apiEnabled"`
	Settings   ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains Nightscout server settings
type ServerSettings struct {
	Units string `json:"units"`
}
