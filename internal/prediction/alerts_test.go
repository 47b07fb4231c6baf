package prediction

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mrcode/glycemia/internal/models"
)

// makeSeries builds a 5-minute series with a symmetric band around each value
func makeSeries(values []float64, halfWidth float64) models.BSLTimeSeries {
	s := models.BSLTimeSeries{Start: baseTime, ResolutionMinutes: 5}
	for i, v := range values {
		at := baseTime.Add(time.Duration(i) * 5 * time.Minute)
		s.Points = append(s.Points, models.TimeSeriesPoint{
			Time:  at,
			BSL:   v,
			Lower: v - halfWidth,
			Upper: v + halfWidth,
		})
		s.End = at
	}
	return s
}

func TestCheckForAlerts_HypoEscalation(t *testing.T) {
	series := makeSeries([]float64{6, 5, 4.2, 3.8, 3.4, 3.6}, 0.5)

	alerts := CheckForAlerts(series, DefaultAlertThresholds())

	wantSeverities := []string{models.SeverityWarning, models.SeverityAlert, models.SeverityUrgent}
	if len(alerts) != len(wantSeverities) {
		t.Fatalf("got %d alerts, want %d: %+v", len(alerts), len(wantSeverities), alerts)
	}
	for i, want := range wantSeverities {
		if alerts[i].Type != models.AlertHypo {
			t.Errorf("alert %d: Type = %s, want hypo", i, alerts[i].Type)
		}
		if alerts[i].Severity != want {
			t.Errorf("alert %d: Severity = %s, want %s", i, alerts[i].Severity, want)
		}
		if alerts[i].Message == "" {
			t.Errorf("alert %d: missing message", i)
		}
	}
	if !alerts[0].Time.Equal(baseTime.Add(10 * time.Minute)) {
		t.Errorf("first alert at %v, want 10 minutes in", alerts[0].Time)
	}
}

func TestCheckForAlerts_Dedup(t *testing.T) {
	values := make([]float64, 13) // one hour
	for i := range values {
		values[i] = 3.8
	}

	alerts := CheckForAlerts(makeSeries(values, 0.5), DefaultAlertThresholds())

	if len(alerts) != 3 {
		t.Fatalf("got %d alerts, want 3 (0, 30 and 60 minutes)", len(alerts))
	}
	for i, a := range alerts {
		want := baseTime.Add(time.Duration(i) * 30 * time.Minute)
		if !a.Time.Equal(want) {
			t.Errorf("alert %d at %v, want %v", i, a.Time, want)
		}
	}
}

func TestCheckForAlerts_Hyper(t *testing.T) {
	tests := []struct {
		name         string
		value        float64
		wantSeverity string
	}{
		{"Upper bound only", 9.8, models.SeverityWarning},
		{"Above threshold", 11, models.SeverityAlert},
		{"Far above", 15, models.SeverityUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := CheckForAlerts(makeSeries([]float64{tt.value}, 0.5), DefaultAlertThresholds())
			if len(alerts) != 1 {
				t.Fatalf("got %d alerts, want 1", len(alerts))
			}
			if alerts[0].Type != models.AlertHyper || alerts[0].Severity != tt.wantSeverity {
				t.Errorf("alert = %s/%s, want hyper/%s", alerts[0].Type, alerts[0].Severity, tt.wantSeverity)
			}
			if alerts[0].BoundBSL != tt.value+0.5 {
				t.Errorf("BoundBSL = %.2f, want the upper bound %.2f", alerts[0].BoundBSL, tt.value+0.5)
			}
		})
	}
}

func TestCheckForAlerts_InRange(t *testing.T) {
	alerts := CheckForAlerts(makeSeries([]float64{6, 6, 6, 6}, 1.5), DefaultAlertThresholds())
	if len(alerts) != 0 {
		t.Errorf("got %d alerts for an in-range series: %+v", len(alerts), alerts)
	}
}

func TestCrossingTimes(t *testing.T) {
	series := makeSeries([]float64{6, 5, 3.9, 3.5, 7, 11}, 0)

	c := CrossingTimes(series, 4.0, 10.0)
	if c.LowInMinutes != 10 {
		t.Errorf("LowInMinutes = %d, want 10", c.LowInMinutes)
	}
	if c.HighInMinutes != 25 {
		t.Errorf("HighInMinutes = %d, want 25", c.HighInMinutes)
	}

	none := CrossingTimes(makeSeries([]float64{6, 6}, 0), 4.0, 10.0)
	if none.LowInMinutes != -1 || none.HighInMinutes != -1 {
		t.Errorf("in-range crossings = %+v, want -1/-1", none)
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 0); got != "▁▂▃▄▅▆▇█" {
		t.Errorf("Sparkline = %q", got)
	}
	if got := Sparkline([]float64{5, 5, 5}, 0); got != "▁▁▁" {
		t.Errorf("flat Sparkline = %q", got)
	}
	if got := Sparkline([]float64{5}, 0); got != "" {
		t.Errorf("single value Sparkline = %q, want empty", got)
	}

	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	if got := utf8.RuneCountInString(Sparkline(values, 20)); got != 20 {
		t.Errorf("downsampled Sparkline has %d runes, want 20", got)
	}
}
