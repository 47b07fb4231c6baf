package prediction

import (
	"sort"
	"time"

	"github.com/mrcode/glycemia/internal/models"
)

// Lookback windows relative to the query time
const (
	InsulinLookback = 24 * time.Hour
	MealLookback    = 6 * time.Hour
	BSLLookback     = 12 * time.Hour
	// Alcohol keeps acting on sensitivity for up to 16h after the drink
	DrinkLookback = 16 * time.Hour
)

// EventLog is a frozen, time-ordered snapshot of physiological events.
// Events are split by kind so windows are sub-slices found by binary search.
type EventLog struct {
	all     []models.PhysiologicalEvent
	insulin []models.PhysiologicalEvent
	meals   []models.PhysiologicalEvent
	drinks  []models.PhysiologicalEvent
	bsl     []models.PhysiologicalEvent
}

// EventWindow is the read-only view of the log used for one prediction.
// Slices are shared with the log and must not be modified.
type EventWindow struct {
	At      time.Time
	Insulin []models.PhysiologicalEvent
	Meals   []models.PhysiologicalEvent
	Drinks  []models.PhysiologicalEvent
	BSL     []models.PhysiologicalEvent

	// LastReadingAt is the latest reading at or before At in the whole log,
	// including readings older than the BSL lookback. Zero without readings.
	LastReadingAt time.Time
}

// NewEventLog copies and sorts events. Unusable records (unknown type,
// non-positive values) are dropped here so every window is pre-filtered.
func NewEventLog(events []models.PhysiologicalEvent) *EventLog {
	sorted := make([]models.PhysiologicalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	l := &EventLog{all: sorted}
	for i := range sorted {
		e := &sorted[i]
		switch {
		case e.IsUsableInsulin():
			l.insulin = append(l.insulin, *e)
		case e.IsUsableBSL():
			l.bsl = append(l.bsl, *e)
		case e.Type == models.EventMeal:
			if e.IsUsableMeal() {
				l.meals = append(l.meals, *e)
			}
			if e.IsUsableDrink() {
				l.drinks = append(l.drinks, *e)
			}
		}
	}
	return l
}

// Len returns the number of events in the snapshot
func (l *EventLog) Len() int {
	return len(l.all)
}

// Events returns a copy of all events in time order
func (l *EventLog) Events() []models.PhysiologicalEvent {
	out := make([]models.PhysiologicalEvent, len(l.all))
	copy(out, l.all)
	return out
}

// With returns a new snapshot containing the log's events plus extra
func (l *EventLog) With(extra ...models.PhysiologicalEvent) *EventLog {
	events := make([]models.PhysiologicalEvent, 0, len(l.all)+len(extra))
	events = append(events, l.all...)
	events = append(events, extra...)
	return NewEventLog(events)
}

// Window returns the events relevant for a prediction at time at
func (l *EventLog) Window(at time.Time) EventWindow {
	return EventWindow{
		At:      at,
		Insulin: between(l.insulin, at.Add(-InsulinLookback), at),
		Meals:   between(l.meals, at.Add(-MealLookback), at),
		Drinks:  between(l.drinks, at.Add(-DrinkLookback), at),
		BSL:     between(l.bsl, at.Add(-BSLLookback), at),

		LastReadingAt: l.lastReadingAt(at),
	}
}

func (l *EventLog) lastReadingAt(at time.Time) time.Time {
	i := sort.Search(len(l.bsl), func(i int) bool {
		return l.bsl[i].Timestamp.After(at)
	})
	if i == 0 {
		return time.Time{}
	}
	return l.bsl[i-1].Timestamp
}

// Events returns every event of the window, in kind order
func (w EventWindow) Events() []models.PhysiologicalEvent {
	out := make([]models.PhysiologicalEvent, 0, len(w.Insulin)+len(w.Meals)+len(w.Drinks)+len(w.BSL))
	out = append(out, w.Insulin...)
	out = append(out, w.Meals...)
	out = append(out, w.Drinks...)
	return append(out, w.BSL...)
}

// LastBSL returns the latest BSL reading at or before at within the BSL lookback
func (l *EventLog) LastBSL(at time.Time) *models.BSLReading {
	return lastReading(between(l.bsl, at.Add(-BSLLookback), at))
}

// BSLReadings returns all readings in [from, to], converted to mmol/L
func (l *EventLog) BSLReadings(from, to time.Time) []models.BSLReading {
	events := between(l.bsl, from, to)
	readings := make([]models.BSLReading, len(events))
	for i := range events {
		readings[i] = toReading(&events[i])
	}
	return readings
}

// Between returns all events with from <= timestamp <= to
func (l *EventLog) Between(from, to time.Time) []models.PhysiologicalEvent {
	events := between(l.all, from, to)
	out := make([]models.PhysiologicalEvent, len(events))
	copy(out, events)
	return out
}

// between sub-slices a sorted slice to from <= timestamp <= to
func between(events []models.PhysiologicalEvent, from, to time.Time) []models.PhysiologicalEvent {
	if to.Before(from) {
		return nil
	}
	lo := sort.Search(len(events), func(i int) bool {
		return !events[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(events), func(i int) bool {
		return events[i].Timestamp.After(to)
	})
	if lo >= hi {
		return nil
	}
	return events[lo:hi:hi]
}

func lastReading(events []models.PhysiologicalEvent) *models.BSLReading {
	if len(events) == 0 {
		return nil
	}
	r := toReading(&events[len(events)-1])
	return &r
}

func toReading(e *models.PhysiologicalEvent) models.BSLReading {
	r := models.BSLReading{
		EventID:   e.ID,
		Timestamp: e.Timestamp,
		Value:     e.BSLMmol(),
	}
	if e.BSL != nil {
		r.Source = e.BSL.Source
	}
	return r
}
