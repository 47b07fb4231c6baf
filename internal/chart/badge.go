package chart

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// Trend directions, named as Nightscout names them
const (
	DirectionDoubleUp      = "DoubleUp"
	DirectionSingleUp      = "SingleUp"
	DirectionFortyFiveUp   = "FortyFiveUp"
	DirectionFlat          = "Flat"
	DirectionFortyFiveDown = "FortyFiveDown"
	DirectionSingleDown    = "SingleDown"
	DirectionDoubleDown    = "DoubleDown"
)

// Direction classifies a rate of change in mmol/L per hour
func Direction(ratePerHour float64) string {
	switch {
	case ratePerHour > 3:
		return DirectionDoubleUp
	case ratePerHour > 1.5:
		return DirectionSingleUp
	case ratePerHour > 0.5:
		return DirectionFortyFiveUp
	case ratePerHour >= -0.5:
		return DirectionFlat
	case ratePerHour >= -1.5:
		return DirectionFortyFiveDown
	case ratePerHour >= -3:
		return DirectionSingleDown
	default:
		return DirectionDoubleDown
	}
}

// SeriesRate returns the predicted rate of change over the first hour of the
// series (or the whole series if shorter), in mmol/L per hour
func SeriesRate(series models.BSLTimeSeries) float64 {
	if len(series.Points) < 2 {
		return 0
	}
	first := series.Points[0]
	last := series.Points[len(series.Points)-1]
	for _, p := range series.Points[1:] {
		if p.Time.Sub(first.Time).Hours() >= 1 {
			last = p
			break
		}
	}
	hours := last.Time.Sub(first.Time).Hours()
	if hours <= 0 {
		return 0
	}
	return (last.BSL - first.BSL) / hours
}

// RenderBadge draws a 64x64 status badge with the value and a trend arrow
func RenderBadge(bsl float64, direction, unit string, thresholds prediction.AlertThresholds) ([]byte, error) {
	// Size constants
	const (
		width  = 64
		height = 64
		radius = 16
	)

	dc := gg.NewContext(width, height)

	// Transparent background
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	r, g, b := parseHexColor(StatusColor(bsl, thresholds))
	dc.SetRGB255(int(r), int(g), int(b))
	dc.DrawRoundedRectangle(0, 0, float64(width), float64(height), float64(radius))
	dc.Fill()

	// Text color (black or white depending on brightness)
	brightness := (int(r)*299 + int(g)*587 + int(b)*114) / 1000
	if brightness > 128 {
		dc.SetColor(color.Black)
	} else {
		dc.SetColor(color.White)
	}

	text := "---"
	if bsl > 0 {
		text = fmt.Sprintf("%.1f", bsl)
		if unit == models.UnitMgDL {
			text = fmt.Sprintf("%.0f", models.ToMgdl(bsl))
		}
	}
	size := 34.0
	if len(text) > 3 {
		size = 26
	}
	if err := loadFont(dc, size); err == nil {
		dc.DrawStringAnchored(text, width/2, height/2-12, 0.5, 0.5)
	}

	if direction != "" {
		drawArrow(dc, width/2, height-16, 24, direction)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding badge: %w", err)
	}
	return buf.Bytes(), nil
}

// drawArrow draws a vector arrow based on direction
func drawArrow(dc *gg.Context, x, y, size float64, direction string) {
	dc.Push()
	defer dc.Pop()

	// Translate to center of arrow
	dc.Translate(x, y)

	var angle float64
	switch direction {
	case DirectionDoubleUp, DirectionSingleUp:
		angle = 0
	case DirectionFortyFiveUp:
		angle = 45
	case DirectionFlat:
		angle = 90
	case DirectionFortyFiveDown:
		angle = 135
	case DirectionDoubleDown, DirectionSingleDown:
		angle = 180
	default:
		return // No arrow
	}

	dc.Rotate(gg.Radians(angle))

	halfSize := size / 2
	if direction == DirectionDoubleUp || direction == DirectionDoubleDown {
		drawSingleArrow(dc, 0, -halfSize/2, size*0.8)
		drawSingleArrow(dc, 0, halfSize/2, size*0.8)
	} else {
		drawSingleArrow(dc, 0, 0, size)
	}
}

// drawSingleArrow draws an arrow centered at ox, oy pointing up
func drawSingleArrow(dc *gg.Context, ox, oy, s float64) {
	w := s * 0.5

	dc.NewSubPath()
	dc.MoveTo(ox, oy-s/2)
	dc.LineTo(ox+w/2, oy)
	dc.LineTo(ox+w/6, oy)
	dc.LineTo(ox+w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy+s/2)
	dc.LineTo(ox-w/6, oy)
	dc.LineTo(ox-w/2, oy)
	dc.ClosePath()
	dc.Fill()
}
