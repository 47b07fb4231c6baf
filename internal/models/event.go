// Package models contains data structures used throughout the application
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of physiological event
type EventType string

// Supported event types
const (
	EventInsulin  EventType = "insulin"
	EventMeal     EventType = "meal"
	EventBSL      EventType = "bsl"
	EventExercise EventType = "exercise"
)

// InsulinType identifies the kinetic profile of an insulin dose
type InsulinType string

// Supported insulin types
const (
	InsulinBolus InsulinType = "bolus"
	InsulinBasal InsulinType = "basal"
)

// DrinkType identifies the alcohol absorption profile of a drink
type DrinkType string

// Supported drink types
const (
	DrinkBeer   DrinkType = "beer"
	DrinkWine   DrinkType = "wine"
	DrinkSpirit DrinkType = "spirit"
	DrinkMixed  DrinkType = "mixed"
)

// Glucose units accepted on BSL events
const (
	UnitMmolL = "mmol/L"
	UnitMgDL  = "mg/dL"
)

// InsulinMetadata is the payload of an insulin event
type InsulinMetadata struct {
	Type InsulinType `json:"type"`
}

// MealMetadata is the payload of a meal event
type MealMetadata struct {
	Carbs         float64   `json:"carbs"`
	Description   string    `json:"description,omitempty"`
	GlycemicIndex float64   `json:"glycemicIndex,omitempty"` // 0 = estimate from description
	AlcoholUnits  float64   `json:"alcoholUnits,omitempty"`  // Standard drinks (10g each)
	AlcoholType   DrinkType `json:"alcoholType,omitempty"`
}

// BSLMetadata is the payload of a blood sugar reading
type BSLMetadata struct {
	Unit   string `json:"unit"`   // "mmol/L" or "mg/dL"
	Source string `json:"source"` // "manual", "cgm", "import", ...
}

// ExerciseMetadata is the payload of an exercise event
type ExerciseMetadata struct {
	Intensity string `json:"intensity,omitempty"` // "low", "moderate", "high"
}

// PhysiologicalEvent is an immutable entry of the event log.
// Exactly one of the metadata pointers is set, matching Type.
type PhysiologicalEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"eventType"`
	Value     float64   `json:"value"` // Units, grams, BSL reading or exercise minutes

	Insulin  *InsulinMetadata  `json:"-"`
	Meal     *MealMetadata     `json:"-"`
	BSL      *BSLMetadata      `json:"-"`
	Exercise *ExerciseMetadata `json:"-"`
}

// NewEventID generates a UUIDv7 event identifier.
// Panics on clock regression (uuid.Must).
func NewEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewInsulinEvent creates an insulin dose event
func NewInsulinEvent(at time.Time, units float64, insulinType InsulinType) PhysiologicalEvent {
	return PhysiologicalEvent{
		ID:        NewEventID(),
		Timestamp: at,
		Type:      EventInsulin,
		Value:     units,
		Insulin:   &InsulinMetadata{Type: insulinType},
	}
}

// NewMealEvent creates a meal event. Value mirrors the carb amount.
func NewMealEvent(at time.Time, meal MealMetadata) PhysiologicalEvent {
	m := meal
	return PhysiologicalEvent{
		ID:        NewEventID(),
		Timestamp: at,
		Type:      EventMeal,
		Value:     meal.Carbs,
		Meal:      &m,
	}
}

// NewDrinkEvent creates an alcohol-only meal event
func NewDrinkEvent(at time.Time, units float64, drink DrinkType) PhysiologicalEvent {
	return NewMealEvent(at, MealMetadata{AlcoholUnits: units, AlcoholType: drink})
}

// NewBSLEvent creates a blood sugar reading event
func NewBSLEvent(at time.Time, value float64, unit, source string) PhysiologicalEvent {
	return PhysiologicalEvent{
		ID:        NewEventID(),
		Timestamp: at,
		Type:      EventBSL,
		Value:     value,
		BSL:       &BSLMetadata{Unit: unit, Source: source},
	}
}

// NewExerciseEvent creates an exercise event, value in minutes
func NewExerciseEvent(at time.Time, minutes float64, intensity string) PhysiologicalEvent {
	return PhysiologicalEvent{
		ID:        NewEventID(),
		Timestamp: at,
		Type:      EventExercise,
		Value:     minutes,
		Exercise:  &ExerciseMetadata{Intensity: intensity},
	}
}

// InsulinType returns the insulin type, defaulting to bolus
func (e *PhysiologicalEvent) InsulinType() InsulinType {
	if e.Insulin == nil || e.Insulin.Type == "" {
		return InsulinBolus
	}
	return e.Insulin.Type
}

// Carbs returns the carbohydrate grams of a meal event
func (e *PhysiologicalEvent) Carbs() float64 {
	if e.Type != EventMeal {
		return 0
	}
	if e.Meal != nil && e.Meal.Carbs > 0 {
		return e.Meal.Carbs
	}
	return e.Value
}

// AlcoholUnits returns the standard drinks recorded on a meal event
func (e *PhysiologicalEvent) AlcoholUnits() float64 {
	if e.Type != EventMeal || e.Meal == nil {
		return 0
	}
	return e.Meal.AlcoholUnits
}

// BSLMmol returns the BSL reading in mmol/L
func (e *PhysiologicalEvent) BSLMmol() float64 {
	if e.BSL != nil && e.BSL.Unit == UnitMgDL {
		return ToMmol(e.Value)
	}
	// Values above 35 cannot be mmol/L readings
	if e.BSL == nil && e.Value > 35 {
		return ToMmol(e.Value)
	}
	return e.Value
}

// IsUsableInsulin returns true for positive insulin doses
func (e *PhysiologicalEvent) IsUsableInsulin() bool {
	return e.Type == EventInsulin && e.Value > 0
}

// IsUsableMeal returns true for meals with carbs
func (e *PhysiologicalEvent) IsUsableMeal() bool {
	return e.Type == EventMeal && e.Carbs() > 0
}

// IsUsableDrink returns true for meals with alcohol
func (e *PhysiologicalEvent) IsUsableDrink() bool {
	return e.AlcoholUnits() > 0
}

// IsUsableBSL returns true for positive BSL readings
func (e *PhysiologicalEvent) IsUsableBSL() bool {
	return e.Type == EventBSL && e.Value > 0
}

// wireEvent is the JSON shape shared with upstream producers
type wireEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"eventType"`
	Value     float64         `json:"value"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON encodes the typed payload under "metadata"
func (e PhysiologicalEvent) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventInsulin:
		payload = e.Insulin
	case EventMeal:
		payload = e.Meal
	case EventBSL:
		payload = e.BSL
	case EventExercise:
		payload = e.Exercise
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}

	w := wireEvent{ID: e.ID, Timestamp: e.Timestamp, Type: e.Type, Value: e.Value}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" {
			w.Metadata = raw
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes "metadata" into the variant selected by "eventType"
func (e *PhysiologicalEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = PhysiologicalEvent{ID: w.ID, Timestamp: w.Timestamp, Type: w.Type, Value: w.Value}

	decode := func(target any) error {
		if len(w.Metadata) == 0 {
			return nil
		}
		if err := json.Unmarshal(w.Metadata, target); err != nil {
			return fmt.Errorf("%w: %s metadata: %v", ErrInvalidEvent, w.Type, err)
		}
		return nil
	}

	switch w.Type {
	case EventInsulin:
		e.Insulin = &InsulinMetadata{Type: InsulinBolus}
		return decode(e.Insulin)
	case EventMeal:
		e.Meal = &MealMetadata{}
		if err := decode(e.Meal); err != nil {
			return err
		}
		if e.Meal.Carbs == 0 {
			e.Meal.Carbs = e.Value
		}
		return nil
	case EventBSL:
		e.BSL = &BSLMetadata{Unit: UnitMmolL}
		return decode(e.BSL)
	case EventExercise:
		e.Exercise = &ExerciseMetadata{}
		return decode(e.Exercise)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}
}
