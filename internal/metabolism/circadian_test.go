package metabolism

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

func newTestCircadianModel() *CircadianModel {
	return NewCircadianModel(DefaultCircadianTables())
}

func clockAt(hour, minute int) time.Time {
	return time.Date(2024, 3, 12, hour, minute, 0, 0, time.UTC)
}

func TestCircadianModel_Factors(t *testing.T) {
	m := newTestCircadianModel()

	tests := []struct {
		name            string
		time            time.Time
		adjustments     map[int]float64
		wantSensitivity float64
		wantDawn        float64
		wantCombined    float64
	}{
		{"Dawn peak resistance", clockAt(7, 0), nil, 1.2, 0.8, 1.28},
		{"Interpolated half hour", clockAt(6, 30), nil, 1.175, 0.9, 1.265},
		{"Overnight sensitivity", clockAt(2, 0), nil, 0.85, 0, 0.85},
		{"Wraps at midnight", clockAt(23, 30), nil, 0.95, 0, 0.95},
		{"User multiplier", clockAt(7, 0), map[int]float64{7: 1.1}, 1.32, 0.8, 1.40},
		{"Multiplier on other hour ignored", clockAt(14, 0), map[int]float64{7: 1.1}, 1.0, 0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := m.Factors(tt.time, tt.adjustments)
			if math.Abs(f.InsulinSensitivity-tt.wantSensitivity) > 1e-9 {
				t.Errorf("InsulinSensitivity = %.4f, want %.4f", f.InsulinSensitivity, tt.wantSensitivity)
			}
			if math.Abs(f.DawnEffect-tt.wantDawn) > 1e-9 {
				t.Errorf("DawnEffect = %.4f, want %.4f", f.DawnEffect, tt.wantDawn)
			}
			if math.Abs(f.CombinedFactor-tt.wantCombined) > 1e-9 {
				t.Errorf("CombinedFactor = %.4f, want %.4f", f.CombinedFactor, tt.wantCombined)
			}
		})
	}
}

func TestCircadianModel_FactorsUseLocalHour(t *testing.T) {
	m := newTestCircadianModel()
	sydney := time.FixedZone("AEST", 10*3600)

	local := time.Date(2024, 3, 12, 7, 0, 0, 0, sydney)
	f := m.Factors(local, nil)
	if math.Abs(f.InsulinSensitivity-1.2) > 1e-9 {
		t.Errorf("InsulinSensitivity at 07:00 AEST = %.3f, want 1.2", f.InsulinSensitivity)
	}
	if f.Hour != 7 {
		t.Errorf("Hour = %.2f, want 7", f.Hour)
	}
}

func TestCircadianModel_AdjustDoseForTimeOfDay(t *testing.T) {
	m := newTestCircadianModel()

	tests := []struct {
		name       string
		time       time.Time
		wantDose   float64
		wantReason string
	}{
		{"Dawn", clockAt(7, 0), 12.8, "Dawn phenomenon"},
		{"Night", clockAt(2, 0), 8.5, "sensitivity"},
		{"Neutral", clockAt(10, 0), 10, "No significant"},
		{"Evening resistance", clockAt(19, 0), 11, "resistance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := m.AdjustDoseForTimeOfDay(10, tt.time, nil)
			if math.Abs(a.AdjustedDose-tt.wantDose) > 1e-9 {
				t.Errorf("AdjustedDose = %.3f, want %.3f", a.AdjustedDose, tt.wantDose)
			}
			if math.Abs(a.Adjustment-(tt.wantDose-10)) > 1e-9 {
				t.Errorf("Adjustment = %.3f, want %.3f", a.Adjustment, tt.wantDose-10)
			}
			if !strings.Contains(a.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to mention %q", a.Reason, tt.wantReason)
			}
		})
	}
}

func TestCircadianModel_IntegrateDawnEffect(t *testing.T) {
	m := newTestCircadianModel()

	if got := m.IntegrateDawnEffect(clockAt(0, 0), clockAt(1, 0)); got != 0 {
		t.Errorf("integral over 00:00-01:00 = %.4f, want 0", got)
	}
	if got := m.IntegrateDawnEffect(clockAt(5, 0), clockAt(7, 0)); math.Abs(got-1.8) > 1e-6 {
		t.Errorf("integral over 05:00-07:00 = %.4f, want 1.8", got)
	}
	if got := m.IntegrateDawnEffect(clockAt(7, 0), clockAt(5, 0)); got != 0 {
		t.Errorf("reversed interval = %.4f, want 0", got)
	}
}

func overnightReadings(preDawn, dawn float64) []models.BSLReading {
	var readings []models.BSLReading
	for _, h := range []int{0, 1, 2} {
		readings = append(readings, models.BSLReading{Timestamp: clockAt(h, 30), Value: preDawn, Source: "cgm"})
	}
	for _, h := range []int{3, 4, 5, 6} {
		readings = append(readings, models.BSLReading{Timestamp: clockAt(h, 30), Value: dawn, Source: "cgm"})
	}
	// Outside both windows
	readings = append(readings, models.BSLReading{Timestamp: clockAt(12, 0), Value: 15, Source: "cgm"})
	return readings
}

func TestCircadianModel_AnalyzeOvernightPattern(t *testing.T) {
	m := newTestCircadianModel()

	a := m.AnalyzeOvernightPattern(overnightReadings(6.0, 8.5))
	if !a.Detected {
		t.Fatalf("expected dawn phenomenon, got %+v", a)
	}
	if a.PreDawnReadings != 3 || a.DawnReadings != 4 {
		t.Errorf("readings = %d/%d, want 3/4", a.PreDawnReadings, a.DawnReadings)
	}
	if math.Abs(a.Rise-2.5) > 1e-9 {
		t.Errorf("Rise = %.2f, want 2.5", a.Rise)
	}
	if math.Abs(a.SuggestedAdjustments[6]-1.1) > 1e-9 {
		t.Errorf("hour 6 multiplier = %.3f, want 1.1", a.SuggestedAdjustments[6])
	}
	if a.SuggestedAdjustments[4] >= a.SuggestedAdjustments[6] {
		t.Errorf("hour 4 multiplier %.3f should be below hour 6 %.3f", a.SuggestedAdjustments[4], a.SuggestedAdjustments[6])
	}
	if _, ok := a.SuggestedAdjustments[12]; ok {
		t.Error("no adjustment expected outside the dawn hours")
	}
}

func TestCircadianModel_AnalyzeOvernightPattern_NoRise(t *testing.T) {
	m := newTestCircadianModel()

	a := m.AnalyzeOvernightPattern(overnightReadings(6.0, 7.0))
	if a.Detected {
		t.Errorf("1.0 mmol/L rise should not be detected, got %+v", a)
	}
	if len(a.SuggestedAdjustments) != 0 {
		t.Errorf("SuggestedAdjustments = %v, want none", a.SuggestedAdjustments)
	}
}

func TestCircadianModel_AnalyzeOvernightPattern_Sparse(t *testing.T) {
	m := newTestCircadianModel()

	a := m.AnalyzeOvernightPattern([]models.BSLReading{{Timestamp: clockAt(1, 0), Value: 6}})
	if a.Detected || !strings.Contains(a.Recommendation, "Not enough") {
		t.Errorf("sparse readings gave %+v", a)
	}
}
