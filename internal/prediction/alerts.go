package prediction

import (
	"fmt"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// AlertDedupWindow suppresses repeated alerts of the same type
const AlertDedupWindow = 30 * time.Minute

// AlertThresholds are the BSL levels (mmol/L) that raise alerts
type AlertThresholds struct {
	Hypo       float64 `json:"hypo" mapstructure:"hypo_threshold"`
	Hyper      float64 `json:"hyper" mapstructure:"hyper_threshold"`
	UrgentLow  float64 `json:"urgentLow" mapstructure:"urgent_low"`
	UrgentHigh float64 `json:"urgentHigh" mapstructure:"urgent_high"`
}

// DefaultAlertThresholds returns 4.0 / 10.0 mmol/L with urgent levels at 3.5 / 14.0
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		Hypo:       4.0,
		Hyper:      10.0,
		UrgentLow:  3.5,
		UrgentHigh: 14.0,
	}
}

var severityRank = map[string]int{
	models.SeverityWarning: 1,
	models.SeverityAlert:   2,
	models.SeverityUrgent:  3,
}

// CheckForAlerts scans a series for points whose lower bound falls below the
// hypo threshold or whose upper bound rises above the hyper threshold.
// An alert of the same type within AlertDedupWindow of the previous one is
// dropped unless it is more severe.
func CheckForAlerts(series models.BSLTimeSeries, thresholds AlertThresholds) []models.BSLAlert {
	var alerts []models.BSLAlert
	last := map[string]models.BSLAlert{}

	emit := func(a models.BSLAlert) {
		if prev, ok := last[a.Type]; ok && a.Time.Sub(prev.Time) < AlertDedupWindow &&
			severityRank[a.Severity] <= severityRank[prev.Severity] {
			return
		}
		last[a.Type] = a
		alerts = append(alerts, a)
	}

	for _, p := range series.Points {
		if p.Lower < thresholds.Hypo {
			severity := models.SeverityWarning
			switch {
			case p.BSL < thresholds.UrgentLow:
				severity = models.SeverityUrgent
			case p.BSL < thresholds.Hypo:
				severity = models.SeverityAlert
			}
			emit(models.BSLAlert{
				Type:         models.AlertHypo,
				Severity:     severity,
				Time:         p.Time,
				PredictedBSL: p.BSL,
				BoundBSL:     p.Lower,
				Message:      fmt.Sprintf("Possible low: %.1f mmol/L predicted at %s (could be %.1f)", p.BSL, p.Time.Format("15:04"), p.Lower),
			})
		}

		if p.Upper > thresholds.Hyper {
			severity := models.SeverityWarning
			switch {
			case p.BSL > thresholds.UrgentHigh:
				severity = models.SeverityUrgent
			case p.BSL > thresholds.Hyper:
				severity = models.SeverityAlert
			}
			emit(models.BSLAlert{
				Type:         models.AlertHyper,
				Severity:     severity,
				Time:         p.Time,
				PredictedBSL: p.BSL,
				BoundBSL:     p.Upper,
				Message:      fmt.Sprintf("Possible high: %.1f mmol/L predicted at %s (could be %.1f)", p.BSL, p.Time.Format("15:04"), p.Upper),
			})
		}
	}

	return alerts
}

// Crossings holds the first predicted threshold crossings of a series.
// Minutes are counted from the series start; -1 means no crossing.
type Crossings struct {
	LowInMinutes  int `json:"lowInMinutes"`
	HighInMinutes int `json:"highInMinutes"`
}

// CrossingTimes returns when the predicted BSL first drops below hypo
// or rises above hyper
func CrossingTimes(series models.BSLTimeSeries, hypo, hyper float64) Crossings {
	c := Crossings{LowInMinutes: -1, HighInMinutes: -1}
	for _, p := range series.Points {
		mins := int(p.Time.Sub(series.Start).Minutes())
		if c.LowInMinutes < 0 && p.BSL < hypo {
			c.LowInMinutes = mins
		}
		if c.HighInMinutes < 0 && p.BSL > hyper {
			c.HighInMinutes = mins
		}
		if c.LowInMinutes >= 0 && c.HighInMinutes >= 0 {
			break
		}
	}
	return c
}
