// Package chart renders predicted BSL series and status badges as PNG images
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/prediction"
)

// ErrEmptySeries is returned when there is nothing to draw
var ErrEmptySeries = errors.New("series has no points")

// Status colors
const (
	colorUrgent  = "#ef4444" // Red
	colorLow     = "#f97316" // Orange
	colorHigh    = "#facc15" // Yellow
	colorInRange = "#4ade80" // Green
	colorUnknown = "#808080" // Gray
)

// Options controls the series chart
type Options struct {
	Width      int
	Height     int
	Thresholds prediction.AlertThresholds
	Unit       string // Axis labels in "mmol/L" or "mg/dL"
	Title      string
}

// DefaultOptions returns an 800x400 chart with the default thresholds
func DefaultOptions() Options {
	return Options{
		Width:      800,
		Height:     400,
		Thresholds: prediction.DefaultAlertThresholds(),
		Unit:       models.UnitMmolL,
	}
}

const (
	marginLeft   = 56.0
	marginRight  = 16.0
	marginTop    = 32.0
	marginBottom = 36.0
)

// RenderSeries draws the prediction line, its confidence band and the
// hypo/hyper thresholds, and encodes the chart as PNG
func RenderSeries(series models.BSLTimeSeries, opts Options) ([]byte, error) {
	if len(series.Points) == 0 {
		return nil, ErrEmptySeries
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid chart size %dx%d", opts.Width, opts.Height)
	}

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(color.White)
	dc.Clear()

	lo, hi := valueRange(series, opts.Thresholds)
	plotW := float64(opts.Width) - marginLeft - marginRight
	plotH := float64(opts.Height) - marginTop - marginBottom

	start := series.Points[0].Time
	span := series.Points[len(series.Points)-1].Time.Sub(start).Minutes()
	if span <= 0 {
		span = 1
	}
	x := func(i int) float64 {
		return marginLeft + plotW*series.Points[i].Time.Sub(start).Minutes()/span
	}
	y := func(v float64) float64 {
		return marginTop + plotH*(1-(v-lo)/(hi-lo))
	}

	// Target range band
	dc.SetRGBA255(74, 222, 128, 40)
	dc.DrawRectangle(marginLeft, y(opts.Thresholds.Hyper), plotW, y(opts.Thresholds.Hypo)-y(opts.Thresholds.Hyper))
	dc.Fill()

	// Confidence band: upper bound forward, lower bound back
	dc.SetRGBA255(59, 130, 246, 60)
	dc.MoveTo(x(0), y(series.Points[0].Upper))
	for i := 1; i < len(series.Points); i++ {
		dc.LineTo(x(i), y(series.Points[i].Upper))
	}
	for i := len(series.Points) - 1; i >= 0; i-- {
		dc.LineTo(x(i), y(series.Points[i].Lower))
	}
	dc.ClosePath()
	dc.Fill()

	// Threshold lines
	dc.SetLineWidth(1)
	dc.SetDash(4, 4)
	for _, th := range []struct {
		value float64
		hex   string
	}{
		{opts.Thresholds.Hypo, colorLow},
		{opts.Thresholds.Hyper, colorHigh},
	} {
		r, g, b := parseHexColor(th.hex)
		dc.SetRGB255(int(r), int(g), int(b))
		dc.DrawLine(marginLeft, y(th.value), marginLeft+plotW, y(th.value))
		dc.Stroke()
	}
	dc.SetDash()

	// Prediction line, colored per segment
	dc.SetLineWidth(2.5)
	for i := 1; i < len(series.Points); i++ {
		r, g, b := parseHexColor(StatusColor(series.Points[i].BSL, opts.Thresholds))
		dc.SetRGB255(int(r), int(g), int(b))
		dc.DrawLine(x(i-1), y(series.Points[i-1].BSL), x(i), y(series.Points[i].BSL))
		dc.Stroke()
	}
	if len(series.Points) == 1 {
		r, g, b := parseHexColor(StatusColor(series.Points[0].BSL, opts.Thresholds))
		dc.SetRGB255(int(r), int(g), int(b))
		dc.DrawCircle(x(0), y(series.Points[0].BSL), 3)
		dc.Fill()
	}

	// Axes and labels
	dc.SetColor(color.Gray{Y: 90})
	dc.SetLineWidth(1)
	dc.DrawLine(marginLeft, marginTop, marginLeft, marginTop+plotH)
	dc.DrawLine(marginLeft, marginTop+plotH, marginLeft+plotW, marginTop+plotH)
	dc.Stroke()

	if err := loadFont(dc, 12); err == nil {
		for v := math.Ceil(lo); v <= hi; v += tickStep(hi - lo) {
			dc.DrawStringAnchored(formatValue(v, opts.Unit), marginLeft-6, y(v), 1, 0.5)
		}
		last := series.Points[len(series.Points)-1]
		dc.DrawStringAnchored(start.Format("15:04"), marginLeft, marginTop+plotH+16, 0, 0.5)
		dc.DrawStringAnchored(last.Time.Format("15:04"), marginLeft+plotW, marginTop+plotH+16, 1, 0.5)
		if opts.Title != "" {
			dc.DrawStringAnchored(opts.Title, float64(opts.Width)/2, marginTop/2, 0.5, 0.5)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding chart: %w", err)
	}
	return buf.Bytes(), nil
}

// valueRange returns the mmol/L range to plot, always including the thresholds
func valueRange(series models.BSLTimeSeries, t prediction.AlertThresholds) (float64, float64) {
	lo := math.Min(t.Hypo, 2)
	hi := t.Hyper + 2
	for _, p := range series.Points {
		lo = math.Min(lo, p.Lower)
		hi = math.Max(hi, p.Upper)
	}
	return math.Floor(lo), math.Ceil(hi)
}

func tickStep(span float64) float64 {
	switch {
	case span > 20:
		return 5
	case span > 10:
		return 2
	default:
		return 1
	}
}

func formatValue(mmol float64, unit string) string {
	if unit == models.UnitMgDL {
		return fmt.Sprintf("%.0f", models.ToMgdl(mmol))
	}
	return fmt.Sprintf("%.0f", mmol)
}

// StatusColor returns the status color of a BSL value in mmol/L
func StatusColor(bsl float64, t prediction.AlertThresholds) string {
	switch {
	case bsl <= 0:
		return colorUnknown
	case bsl < t.UrgentLow || bsl > t.UrgentHigh:
		return colorUrgent
	case bsl < t.Hypo:
		return colorLow
	case bsl > t.Hyper:
		return colorHigh
	default:
		return colorInRange
	}
}

// loadFont helper to load font safely
func loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: size})
	dc.SetFontFace(face)
	return nil
}

// parseHexColor parses a hex color string to RGB values
func parseHexColor(hex string) (r, g, b byte) {
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return
}
