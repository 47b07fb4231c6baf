// Package app wires event sources, the prediction model and the dosing
// engine into a service with caching, metrics, alerts and a refresh loop
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mrcode/glycemia/internal/chart"
	"github.com/mrcode/glycemia/internal/dosing"
	"github.com/mrcode/glycemia/internal/metabolism"
	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/notifications"
	"github.com/mrcode/glycemia/internal/prediction"
)

// FreshReadingWindow is how old a logged reading may be to stand in for a
// missing current BSL in a recommendation
const FreshReadingWindow = 15 * time.Minute

// Overnight analysis window in the local day
const (
	overnightStartHour = 0
	overnightEndHour   = 8
)

// ErrNoSources is returned when a service has no event source
var ErrNoSources = errors.New("no event sources configured")

// EventSource provides physiological events for a time range
type EventSource interface {
	Events(ctx context.Context, from, to time.Time) ([]models.PhysiologicalEvent, error)
}

// Options configures a Service
type Options struct {
	Params     models.UserModelParameters
	Limits     models.SafetyLimits
	Thresholds prediction.AlertThresholds
	Resolution time.Duration
	Horizon    time.Duration
	Workers    int
	CacheTTL   time.Duration // 0 disables caching

	Model    *prediction.Model // nil = default model
	Notifier *notifications.Manager
	Registry prometheus.Registerer // nil = private registry
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Snapshot is the outcome of one refresh
type Snapshot struct {
	Time       time.Time             `json:"time"`
	Prediction models.BSLPrediction  `json:"prediction"`
	State      models.MetabolicState `json:"state"`
	Series     models.BSLTimeSeries  `json:"series"`
	Alerts     []models.BSLAlert     `json:"alerts"`
	Crossings  prediction.Crossings  `json:"crossings"`
	Direction  string                `json:"direction"`
}

// Service answers prediction and dosing queries over merged event sources.
// It is safe for concurrent use.
type Service struct {
	sources    []EventSource
	model      *prediction.Model
	engine     *dosing.Engine
	params     models.UserModelParameters
	thresholds prediction.AlertThresholds
	resolution time.Duration
	horizon    time.Duration
	notifier   *notifications.Manager
	cache      *cache.Cache
	metrics    *Metrics
	logger     *logrus.Logger
	now        func() time.Time

	mu                sync.RWMutex
	last              *Snapshot
	lastSuccessTime   time.Time
	consecutiveErrors int
}

// NewService creates a service reading from sources
func NewService(opts Options, sources ...EventSource) (*Service, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}

	if opts.Model == nil {
		opts.Model = prediction.NewDefaultModel()
	}
	if opts.Workers > 0 {
		opts.Model.SetWorkers(opts.Workers)
	}
	if opts.Resolution <= 0 {
		opts.Resolution = prediction.DefaultResolution
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 4 * time.Hour
	}
	if opts.Thresholds == (prediction.AlertThresholds{}) {
		opts.Thresholds = prediction.DefaultAlertThresholds()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		sources:    sources,
		model:      opts.Model,
		engine:     dosing.NewEngine(opts.Model, opts.Limits),
		params:     opts.Params,
		thresholds: opts.Thresholds,
		resolution: opts.Resolution,
		horizon:    opts.Horizon,
		notifier:   opts.Notifier,
		metrics:    NewMetrics(opts.Registry),
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return s, nil
}

// Params returns the user model parameters
func (s *Service) Params() models.UserModelParameters {
	return s.params
}

// Engine returns the dosing engine
func (s *Service) Engine() *dosing.Engine {
	return s.engine
}

// Model returns the prediction model
func (s *Service) Model() *prediction.Model {
	return s.model
}

// Now returns the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// EventLog loads a snapshot of every source's events in [from, to].
// A failing source is skipped as long as another one answers.
func (s *Service) EventLog(ctx context.Context, from, to time.Time) (*prediction.EventLog, error) {
	key := strconv.FormatInt(from.Unix(), 10) + ":" + strconv.FormatInt(to.Unix(), 10)
	if s.cache != nil {
		if cached, found := s.cache.Get(key); found {
			return cached.(*prediction.EventLog), nil
		}
	}

	var (
		events   []models.PhysiologicalEvent
		seen     = make(map[string]bool)
		failures int
		firstErr error
	)
	for i, src := range s.sources {
		evs, err := src.Events(ctx, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("source %d: %w", i, err)
			}
			s.metrics.RefreshErrors.WithLabelValues("source").Inc()
			s.logger.WithFields(logrus.Fields{"source": i, "error": err}).Warn("Event source failed")
			continue
		}
		for _, ev := range evs {
			// Sources can overlap, e.g. a local log mirrored to Nightscout
			if ev.ID != "" {
				if seen[ev.ID] {
					continue
				}
				seen[ev.ID] = true
			}
			events = append(events, ev)
		}
	}
	if failures == len(s.sources) {
		return nil, firstErr
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	log := prediction.NewEventLog(events)

	if s.cache != nil {
		s.cache.Set(key, log, cache.DefaultExpiration)
	}
	s.logger.WithFields(logrus.Fields{"events": log.Len(), "from": from, "to": to}).Debug("Loaded event log")
	return log, nil
}

// logUntil loads everything that can influence predictions up to until
func (s *Service) logUntil(ctx context.Context, at, until time.Time) (*prediction.EventLog, error) {
	return s.EventLog(ctx, at.Add(-prediction.InsulinLookback), until)
}

// Predict returns the predicted BSL at target
func (s *Service) Predict(ctx context.Context, target time.Time) (models.BSLPrediction, error) {
	log, err := s.logUntil(ctx, target, target)
	if err != nil {
		return models.BSLPrediction{}, err
	}
	return s.model.PredictBSL(log, target, s.params), nil
}

// PredictWithScenario predicts BSL at target as if the hypothetical events
// had been logged. The stored log is not changed.
func (s *Service) PredictWithScenario(ctx context.Context, target time.Time, hypothetical ...models.PhysiologicalEvent) (models.BSLPrediction, error) {
	log, err := s.logUntil(ctx, target, target)
	if err != nil {
		return models.BSLPrediction{}, err
	}
	return s.model.PredictBSL(log.With(hypothetical...), target, s.params), nil
}

// State returns the metabolic state at at
func (s *Service) State(ctx context.Context, at time.Time) (models.MetabolicState, error) {
	log, err := s.logUntil(ctx, at, at)
	if err != nil {
		return models.MetabolicState{}, err
	}
	return s.model.CalculateMetabolicState(log.Window(at), at, s.params), nil
}

// Series returns predictions from start to end at the configured resolution
func (s *Service) Series(ctx context.Context, start, end time.Time) (models.BSLTimeSeries, error) {
	log, err := s.logUntil(ctx, start, end)
	if err != nil {
		return models.BSLTimeSeries{}, err
	}
	return s.model.GenerateBSLTimeSeries(ctx, log, start, end, s.resolution, s.params)
}

// Alerts predicts the series over the horizon from start and returns the
// alerts raised on it
func (s *Service) Alerts(ctx context.Context, start time.Time) ([]models.BSLAlert, models.BSLTimeSeries, error) {
	series, err := s.Series(ctx, start, start.Add(s.horizon))
	if err != nil {
		return nil, models.BSLTimeSeries{}, err
	}
	return prediction.CheckForAlerts(series, s.thresholds), series, nil
}

// Recommend returns an insulin recommendation for carbs grams at at.
// Without currentBSL the latest logged reading is used if it is fresh.
func (s *Service) Recommend(ctx context.Context, carbs float64, currentBSL *float64, at time.Time) (models.InsulinRecommendation, error) {
	log, err := s.logUntil(ctx, at, at)
	if err != nil {
		return models.InsulinRecommendation{}, err
	}

	if currentBSL == nil {
		if r := log.LastBSL(at); r != nil && at.Sub(r.Timestamp) <= FreshReadingWindow {
			v := r.Value
			currentBSL = &v
			s.logger.WithFields(logrus.Fields{"bsl": v, "reading_time": r.Timestamp}).Debug("Using logged reading as current BSL")
		}
	}

	rec := s.engine.CalculateMealDose(carbs, currentBSL, log.Window(at), s.params)

	s.metrics.Recommendations.Inc()
	s.metrics.RecommendedDose.Observe(rec.RecommendedDose)
	s.logger.WithFields(logrus.Fields{
		"carbs":    carbs,
		"dose":     rec.RecommendedDose,
		"warnings": len(rec.Warnings),
	}).Info("Calculated insulin recommendation")
	return rec, nil
}

// SuggestICR mines the last days of history for an ICR adjustment
func (s *Service) SuggestICR(ctx context.Context, at time.Time, days int) (dosing.ICRSuggestion, error) {
	if days < 1 {
		return dosing.ICRSuggestion{}, fmt.Errorf("days must be at least 1, got %d", days)
	}
	log, err := s.EventLog(ctx, at.AddDate(0, 0, -days), at)
	if err != nil {
		return dosing.ICRSuggestion{}, err
	}
	return s.engine.SuggestICRAdjustment(log, s.params), nil
}

// AnalyzeOvernight checks the readings of the night ending on day's
// morning (00:00-08:00 in day's location) for dawn phenomenon
func (s *Service) AnalyzeOvernight(ctx context.Context, day time.Time) (metabolism.OvernightAnalysis, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, overnightStartHour, 0, 0, 0, day.Location())
	to := time.Date(y, m, d, overnightEndHour, 0, 0, 0, day.Location())

	log, err := s.EventLog(ctx, from, to)
	if err != nil {
		return metabolism.OvernightAnalysis{}, err
	}
	return s.model.Circadian().AnalyzeOvernightPattern(log.BSLReadings(from, to)), nil
}

// Refresh predicts the next horizon from now, records metrics and sends
// notifications for new alerts
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	started := time.Now()
	at := s.now()

	log, err := s.logUntil(ctx, at, at.Add(s.horizon))
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	series, err := s.model.GenerateBSLTimeSeries(ctx, log, at, at.Add(s.horizon), s.resolution, s.params)
	if err != nil {
		s.metrics.RefreshErrors.WithLabelValues("series").Inc()
		s.recordFailure(err)
		return nil, err
	}

	state := s.model.CalculateMetabolicState(log.Window(at), at, s.params)
	snap := &Snapshot{
		Time:       at,
		Prediction: s.model.PredictBSL(log, at, s.params),
		State:      state,
		Series:     series,
		Alerts:     prediction.CheckForAlerts(series, s.thresholds),
		Crossings:  prediction.CrossingTimes(series, s.thresholds.Hypo, s.thresholds.Hyper),
		Direction:  chart.Direction(chart.SeriesRate(series)),
	}

	s.metrics.observeState(state)
	s.metrics.observePrediction(snap.Prediction)
	s.metrics.observeAlerts(snap.Alerts)
	s.metrics.Refreshes.Inc()
	s.metrics.RefreshLatency.Observe(time.Since(started).Seconds())

	if s.notifier != nil && len(snap.Alerts) > 0 {
		if _, err := s.notifier.CheckAndNotify(snap.Alerts); err != nil {
			s.metrics.RefreshErrors.WithLabelValues("notify").Inc()
			s.logger.WithError(err).Warn("Failed to send alert notification")
		}
	} else if s.notifier != nil {
		// Back in range: the next excursion notifies immediately
		s.notifier.ClearAlertState("")
	}

	s.mu.Lock()
	s.last = snap
	s.lastSuccessTime = at
	s.consecutiveErrors = 0
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"predicted_bsl": snap.Prediction.PredictedBSL,
		"iob":           state.Insulin.TotalIOB,
		"cob":           state.Carbs.TotalCOB,
		"alerts":        len(snap.Alerts),
		"direction":     snap.Direction,
	}).Info("Refreshed prediction")
	return snap, nil
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	s.consecutiveErrors++
	count := s.consecutiveErrors
	lastSuccess := s.lastSuccessTime
	s.mu.Unlock()

	entry := s.logger.WithFields(logrus.Fields{"attempt": count, "error": err})
	if !lastSuccess.IsZero() {
		entry = entry.WithField("stale_minutes", int(s.now().Sub(lastSuccess).Minutes()))
	}
	entry.Warn("Refresh failed")
}

// LastSnapshot returns the most recent successful refresh
func (s *Service) LastSnapshot() (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

// ConsecutiveErrors returns the number of failed refreshes since the last success
func (s *Service) ConsecutiveErrors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutiveErrors
}

// Watch refreshes immediately and then on every tick until ctx is done.
// Refresh errors are logged and do not stop the loop.
func (s *Service) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial fetch
	_, _ = s.Refresh(ctx)

	for {
		select {
		case <-ticker.C:
			if s.cache != nil {
				s.cache.DeleteExpired()
			}
			_, _ = s.Refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
