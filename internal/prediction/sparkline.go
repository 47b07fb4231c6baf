package prediction

import (
	"math"
	"strings"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as a single line of block characters.
// Series longer than width are downsampled by averaging buckets.
func Sparkline(values []float64, width int) string {
	if len(values) < 2 {
		return ""
	}
	if width > 0 && len(values) > width {
		values = downsample(values, width)
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	rangeVal := maxVal - minVal
	if rangeVal == 0 {
		rangeVal = 1
	}

	var b strings.Builder
	top := len(sparkRunes) - 1
	for _, v := range values {
		idx := int(math.Round((v - minVal) / rangeVal * float64(top)))
		b.WriteRune(sparkRunes[max(0, min(top, idx))])
	}
	return b.String()
}

func downsample(values []float64, width int) []float64 {
	out := make([]float64, width)
	step := float64(len(values)) / float64(width)
	for i := range out {
		lo := int(float64(i) * step)
		hi := max(lo+1, int(float64(i+1)*step))
		hi = min(hi, len(values))

		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
