package chart

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

func TestDirection(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{4, DirectionDoubleUp},
		{2, DirectionSingleUp},
		{1, DirectionFortyFiveUp},
		{0, DirectionFlat},
		{-0.5, DirectionFlat},
		{-1, DirectionFortyFiveDown},
		{-2, DirectionSingleDown},
		{-5, DirectionDoubleDown},
	}

	for _, tt := range tests {
		if got := Direction(tt.rate); got != tt.want {
			t.Errorf("Direction(%.1f) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestSeriesRate(t *testing.T) {
	s := models.BSLTimeSeries{}
	for i := 0; i <= 24; i++ {
		s.Points = append(s.Points, models.TimeSeriesPoint{
			Time: baseTime.Add(time.Duration(i) * 5 * time.Minute),
			BSL:  6 + 0.1*float64(i), // 1.2 mmol/L per hour
		})
	}

	if got := SeriesRate(s); got < 1.19 || got > 1.21 {
		t.Errorf("SeriesRate() = %.3f, want 1.2", got)
	}
	if got := SeriesRate(models.BSLTimeSeries{Points: s.Points[:1]}); got != 0 {
		t.Errorf("SeriesRate(single point) = %.3f, want 0", got)
	}
}

func TestRenderBadge(t *testing.T) {
	thresholds := prediction.DefaultAlertThresholds()

	tests := []struct {
		name      string
		bsl       float64
		direction string
		unit      string
	}{
		{"In range flat", 6.2, DirectionFlat, models.UnitMmolL},
		{"Low falling", 3.6, DirectionDoubleDown, models.UnitMmolL},
		{"High mg/dL", 12.5, DirectionSingleUp, models.UnitMgDL},
		{"Unknown", 0, "", models.UnitMmolL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := RenderBadge(tt.bsl, tt.direction, tt.unit, thresholds)
			if err != nil {
				t.Fatalf("RenderBadge() error = %v", err)
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Output is not a PNG: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
				t.Errorf("Size = %dx%d, want 64x64", b.Dx(), b.Dy())
			}
		})
	}
}
