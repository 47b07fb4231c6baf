package nightscout

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcode/glycemia/internal/models"
)

// History fetches are sized for one reading per CGM interval over the window
const (
	readingInterval = 5 * time.Minute
	minFetchCount   = 288 // one day
)

// fetchCount is the record count that covers from..to. Nightscout returns the
// newest records first, so a smaller count would drop the start of the window.
func fetchCount(from, to time.Time) int {
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return minFetchCount
	}
	return max(minFetchCount, int(to.Sub(from)/readingInterval)+1)
}

// Events fetches entries and treatments between from and to and converts
// them to physiological events sorted by time
func (c *Client) Events(ctx context.Context, from, to time.Time) ([]models.PhysiologicalEvent, error) {
	var (
		entries    []Entry
		treatments []Treatment
	)

	count := fetchCount(from, to)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = c.GetEntries(gctx, from, to, count)
		return err
	})
	g.Go(func() error {
		var err error
		treatments, err = c.GetTreatments(gctx, from, to, count)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := EntriesToEvents(entries)
	events = append(events, TreatmentsToEvents(treatments)...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// EntriesToEvents converts sensor entries to mg/dL BSL events
func EntriesToEvents(entries []Entry) []models.PhysiologicalEvent {
	events := make([]models.PhysiologicalEvent, 0, len(entries))
	for _, e := range entries {
		if e.SGV <= 0 || e.Date <= 0 {
			continue
		}
		ev := models.NewBSLEvent(e.Time(), float64(e.SGV), models.UnitMgDL, "cgm")
		if e.ID != "" {
			ev.ID = e.ID
		}
		events = append(events, ev)
	}
	return events
}

// TreatmentsToEvents converts treatments to insulin, meal, BSL and exercise
// events. One treatment can yield several events, e.g. a meal bolus gives
// an insulin and a meal event.
func TreatmentsToEvents(treatments []Treatment) []models.PhysiologicalEvent {
	var events []models.PhysiologicalEvent
	for _, t := range treatments {
		at := t.Time()
		if at.IsZero() {
			continue
		}

		add := func(ev models.PhysiologicalEvent, suffix string) {
			if t.ID != "" {
				ev.ID = t.ID + "-" + suffix
			}
			events = append(events, ev)
		}

		if t.EventType == EventTempBasal {
			// Temp basal delivers rate * duration, modeled as one basal dose
			if rate := t.BasalRate(); rate > 0 && t.Duration > 0 {
				add(models.NewInsulinEvent(at, rate*t.Duration/60, models.InsulinBasal), "basal")
			}
			continue
		}

		if t.Insulin > 0 {
			add(models.NewInsulinEvent(at, t.Insulin, models.InsulinBolus), "insulin")
		}
		if t.Carbs > 0 {
			add(models.NewMealEvent(at, models.MealMetadata{Carbs: t.Carbs, Description: t.Notes}), "meal")
		}
		if t.Glucose > 0 && (t.EventType == EventBGCheck || t.Insulin > 0 || t.Carbs > 0) {
			unit := models.UnitMgDL
			if strings.HasPrefix(strings.ToLower(t.Units), "mmol") {
				unit = models.UnitMmolL
			}
			source := strings.ToLower(t.GlucoseType)
			if source == "" {
				source = "finger"
			}
			add(models.NewBSLEvent(at, t.Glucose, unit, source), "bsl")
		}
		if t.EventType == EventExercise && t.Duration > 0 {
			add(models.NewExerciseEvent(at, t.Duration, ""), "exercise")
		}
	}
	return events
}
