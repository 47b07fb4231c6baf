package prediction

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcode/glycemia/internal/models"
)

// DefaultResolution is the sampling step of a time series
const DefaultResolution = 5 * time.Minute

// MaxSeriesPoints bounds the size of a single time series
const MaxSeriesPoints = 10000

// GenerateBSLTimeSeries samples PredictBSL every resolution from start to end
// inclusive. Points are evaluated in parallel; ctx cancellation stops the
// generation and returns ctx.Err().
func (m *Model) GenerateBSLTimeSeries(ctx context.Context, log *EventLog, start, end time.Time, resolution time.Duration, params models.UserModelParameters) (models.BSLTimeSeries, error) {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	if end.Before(start) {
		return models.BSLTimeSeries{}, fmt.Errorf("%w: end %s before start %s", models.ErrInvalidWindow, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	n := int(end.Sub(start)/resolution) + 1
	if n > MaxSeriesPoints {
		return models.BSLTimeSeries{}, fmt.Errorf("%w: %d points exceeds limit of %d", models.ErrInvalidWindow, n, MaxSeriesPoints)
	}

	series := models.BSLTimeSeries{
		Start:             start,
		End:               end,
		ResolutionMinutes: resolution.Minutes(),
		Points:            make([]models.TimeSeriesPoint, n),
	}

	workers := m.workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		lo := lo // per-iteration copy (go.mod targets go1.21, which predates per-iteration loop vars)
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				at := start.Add(time.Duration(i) * resolution)
				series.Points[i] = m.point(log, at, params)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.BSLTimeSeries{}, err
	}
	// errgroup only reports errors from the workers; catch a cancel that raced the last point
	if err := ctx.Err(); err != nil {
		return models.BSLTimeSeries{}, err
	}

	return series, nil
}

func (m *Model) point(log *EventLog, at time.Time, params models.UserModelParameters) models.TimeSeriesPoint {
	state := m.CalculateMetabolicState(log.Window(at), at, params)
	p := m.predictFromState(state, at, params)
	return models.TimeSeriesPoint{
		Time:       at,
		BSL:        p.PredictedBSL,
		Lower:      p.ConfidenceInterval[0],
		Upper:      p.ConfidenceInterval[1],
		Confidence: p.Confidence,
		State:      state,
	}
}
