package app

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/mrcode/glycemia/internal/models"
	"github.com/mrcode/glycemia/internal/notifications"
)

// 14:00 has a neutral circadian factor
var baseTime = time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)

type staticSource struct {
	events []models.PhysiologicalEvent
	err    error

	mu    sync.Mutex
	calls int
}

func (s *staticSource) Events(_ context.Context, from, to time.Time) ([]models.PhysiologicalEvent, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	var out []models.PhysiologicalEvent
	for _, ev := range s.events {
		if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *staticSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingNotifier struct {
	titles []string
}

func (r *recordingNotifier) Notify(title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOptions() Options {
	return Options{
		Params:   models.DefaultUserModelParameters(),
		Limits:   models.DefaultSafetyLimits(),
		Horizon:  2 * time.Hour,
		Registry: prometheus.NewRegistry(),
		Logger:   quietLogger(),
		Now:      func() time.Time { return baseTime },
	}
}

func newTestService(t *testing.T, opts Options, sources ...EventSource) *Service {
	t.Helper()
	s, err := NewService(opts, sources...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return s
}

func TestNewService_Errors(t *testing.T) {
	if _, err := NewService(testOptions()); !errors.Is(err, ErrNoSources) {
		t.Errorf("NewService() without sources error = %v, want ErrNoSources", err)
	}

	opts := testOptions()
	opts.Params.InsulinToCarbRatio = 0
	if _, err := NewService(opts, &staticSource{}); !errors.Is(err, models.ErrInvalidParameters) {
		t.Errorf("NewService() with bad params error = %v, want ErrInvalidParameters", err)
	}
}

func TestService_PredictWithoutEvents(t *testing.T) {
	s := newTestService(t, testOptions(), &staticSource{})

	p, err := s.Predict(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.PredictedBSL != 6.0 || p.HasBSL {
		t.Errorf("Predict() = %.2f (hasBSL %v), want target 6.0 without a reading", p.PredictedBSL, p.HasBSL)
	}
}

func TestService_PredictWithScenario(t *testing.T) {
	src := &staticSource{events: []models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime.Add(-10*time.Minute), 8.0, models.UnitMmolL, "cgm"),
	}}
	s := newTestService(t, testOptions(), src)
	target := baseTime.Add(time.Hour)

	base, err := s.Predict(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	withBolus, err := s.PredictWithScenario(context.Background(), target,
		models.NewInsulinEvent(baseTime, 2, models.InsulinBolus))
	if err != nil {
		t.Fatal(err)
	}

	if withBolus.PredictedBSL >= base.PredictedBSL {
		t.Errorf("Scenario with bolus = %.2f, want below baseline %.2f", withBolus.PredictedBSL, base.PredictedBSL)
	}

	// The scenario must not leak into later predictions
	again, _ := s.Predict(context.Background(), target)
	if again.PredictedBSL != base.PredictedBSL {
		t.Errorf("Predict() after scenario = %.2f, want %.2f", again.PredictedBSL, base.PredictedBSL)
	}
}

func TestService_EventLogMergesSources(t *testing.T) {
	shared := models.NewInsulinEvent(baseTime.Add(-time.Hour), 3, models.InsulinBolus)
	local := &staticSource{events: []models.PhysiologicalEvent{
		shared,
		models.NewMealEvent(baseTime.Add(-30*time.Minute), models.MealMetadata{Carbs: 40}),
	}}
	remote := &staticSource{events: []models.PhysiologicalEvent{
		shared,
		models.NewBSLEvent(baseTime.Add(-5*time.Minute), 140, models.UnitMgDL, "cgm"),
	}}
	failing := &staticSource{err: errors.New("connection refused")}

	s := newTestService(t, testOptions(), local, remote, failing)

	log, err := s.EventLog(context.Background(), baseTime.Add(-24*time.Hour), baseTime)
	if err != nil {
		t.Fatalf("EventLog() error = %v", err)
	}
	if log.Len() != 3 {
		t.Errorf("EventLog() has %d events, want 3 after de-duplication", log.Len())
	}
	if got := testutil.ToFloat64(s.metrics.RefreshErrors.WithLabelValues("source")); got != 1 {
		t.Errorf("source errors = %.0f, want 1", got)
	}
}

func TestService_EventLogAllSourcesFail(t *testing.T) {
	s := newTestService(t, testOptions(), &staticSource{err: errors.New("down")})

	if _, err := s.EventLog(context.Background(), baseTime.Add(-time.Hour), baseTime); err == nil {
		t.Error("Expected error when every source fails")
	}
}

func TestService_EventLogCache(t *testing.T) {
	tests := []struct {
		name      string
		ttl       time.Duration
		wantCalls int
	}{
		{"Cached", time.Minute, 1},
		{"Uncached", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &staticSource{}
			opts := testOptions()
			opts.CacheTTL = tt.ttl
			s := newTestService(t, opts, src)

			for i := 0; i < 2; i++ {
				if _, err := s.Predict(context.Background(), baseTime); err != nil {
					t.Fatal(err)
				}
			}
			if src.Calls() != tt.wantCalls {
				t.Errorf("source calls = %d, want %d", src.Calls(), tt.wantCalls)
			}
		})
	}
}

func TestService_Recommend(t *testing.T) {
	tests := []struct {
		name       string
		readingAgo time.Duration
		current    *float64
		wantDose   float64
		wantBSL    float64 // 0 when no reading is used
	}{
		{"Fresh logged reading used", 5 * time.Minute, nil, 6, 12},
		{"Stale logged reading ignored", 30 * time.Minute, nil, 3, 0},
		{"Explicit reading wins", 5 * time.Minute, func() *float64 { v := 6.0; return &v }(), 3, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &staticSource{events: []models.PhysiologicalEvent{
				models.NewBSLEvent(baseTime.Add(-tt.readingAgo), 12, models.UnitMmolL, "cgm"),
			}}
			s := newTestService(t, testOptions(), src)

			rec, err := s.Recommend(context.Background(), 30, tt.current, baseTime)
			if err != nil {
				t.Fatalf("Recommend() error = %v", err)
			}
			if rec.RecommendedDose != tt.wantDose {
				t.Errorf("RecommendedDose = %.1f, want %.1f (breakdown %+v)", rec.RecommendedDose, tt.wantDose, rec.Breakdown)
			}
			switch {
			case tt.wantBSL == 0 && rec.CurrentBSL != nil:
				t.Errorf("CurrentBSL = %.1f, want none", *rec.CurrentBSL)
			case tt.wantBSL != 0 && (rec.CurrentBSL == nil || *rec.CurrentBSL != tt.wantBSL):
				t.Errorf("CurrentBSL = %v, want %.1f", rec.CurrentBSL, tt.wantBSL)
			}
			if got := testutil.ToFloat64(s.metrics.Recommendations); got != 1 {
				t.Errorf("recommendations = %.0f, want 1", got)
			}
		})
	}
}

func TestService_RefreshRaisesAlerts(t *testing.T) {
	src := &staticSource{events: []models.PhysiologicalEvent{
		models.NewBSLEvent(baseTime.Add(-5*time.Minute), 5.0, models.UnitMmolL, "cgm"),
		models.NewInsulinEvent(baseTime.Add(-10*time.Minute), 10, models.InsulinBolus),
	}}
	notifier := &recordingNotifier{}

	opts := testOptions()
	opts.Notifier = notifications.NewManager(notifications.Settings{
		Enabled:     true,
		Unit:        models.UnitMmolL,
		MinSeverity: models.SeverityWarning,
	}, notifier, quietLogger())
	s := newTestService(t, opts, src)

	snap, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if len(snap.Series.Points) != 25 {
		t.Errorf("Series has %d points, want 25 over 2h at 5 min", len(snap.Series.Points))
	}
	if len(snap.Alerts) == 0 || snap.Alerts[0].Type != models.AlertHypo {
		t.Fatalf("Alerts = %+v, want a hypo alert", snap.Alerts)
	}
	if snap.Crossings.LowInMinutes < 0 {
		t.Errorf("LowInMinutes = %d, want a crossing", snap.Crossings.LowInMinutes)
	}
	if len(notifier.titles) == 0 {
		t.Error("Expected a notification")
	}

	if got := testutil.ToFloat64(s.metrics.PredictedBSL); math.Abs(got-snap.Prediction.PredictedBSL) > 1e-9 {
		t.Errorf("predicted gauge = %.2f, want %.2f", got, snap.Prediction.PredictedBSL)
	}
	if got := testutil.ToFloat64(s.metrics.IOB); got <= 9 {
		t.Errorf("IOB gauge = %.2f, want most of the 10U bolus", got)
	}
	if got := testutil.ToFloat64(s.metrics.Refreshes); got != 1 {
		t.Errorf("refreshes = %.0f, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.Alerts.WithLabelValues(models.AlertHypo, snap.Alerts[0].Severity)); got < 1 {
		t.Errorf("hypo alert counter = %.0f, want at least 1", got)
	}

	last, ok := s.LastSnapshot()
	if !ok || last != snap {
		t.Error("LastSnapshot() should return the refresh result")
	}
}

func TestService_RefreshFailure(t *testing.T) {
	s := newTestService(t, testOptions(), &staticSource{err: errors.New("down")})

	for i := 0; i < 2; i++ {
		if _, err := s.Refresh(context.Background()); err == nil {
			t.Fatal("Expected refresh error")
		}
	}
	if s.ConsecutiveErrors() != 2 {
		t.Errorf("ConsecutiveErrors() = %d, want 2", s.ConsecutiveErrors())
	}
	if _, ok := s.LastSnapshot(); ok {
		t.Error("LastSnapshot() should be empty after failures")
	}
}

func TestService_AnalyzeOvernight(t *testing.T) {
	night := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	var events []models.PhysiologicalEvent
	for _, r := range []struct {
		hour  int
		value float64
	}{{1, 6.0}, {2, 6.2}, {4, 8.0}, {5, 8.4}, {6, 8.6}} {
		events = append(events, models.NewBSLEvent(night.Add(time.Duration(r.hour)*time.Hour), r.value, models.UnitMmolL, "cgm"))
	}
	s := newTestService(t, testOptions(), &staticSource{events: events})

	a, err := s.AnalyzeOvernight(context.Background(), night.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("AnalyzeOvernight() error = %v", err)
	}
	if !a.Detected {
		t.Errorf("Detected = false, want dawn phenomenon (rise %.2f)", a.Rise)
	}
}

func TestService_SuggestICR(t *testing.T) {
	s := newTestService(t, testOptions(), &staticSource{})

	if _, err := s.SuggestICR(context.Background(), baseTime, 0); err == nil {
		t.Error("Expected error for zero days")
	}
	sug, err := s.SuggestICR(context.Background(), baseTime, 14)
	if err != nil {
		t.Fatalf("SuggestICR() error = %v", err)
	}
	if sug.Sufficient || sug.SuggestedICR != 10 {
		t.Errorf("SuggestICR() = %+v, want insufficient data and unchanged ratio", sug)
	}
}

func TestService_Watch(t *testing.T) {
	s := newTestService(t, testOptions(), &staticSource{})

	if err := s.Watch(context.Background(), 0); err == nil {
		t.Error("Expected error for zero interval")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Watch(ctx, time.Hour); err != nil {
		t.Errorf("Watch() error = %v, want nil on cancellation", err)
	}
}
