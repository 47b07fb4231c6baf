// Package models contains data structures used throughout the application
package models

import "errors"

// Sentinel errors for the metabolic engine.
var (
	// ErrInvalidParameters indicates user model parameters outside sane ranges.
	ErrInvalidParameters = errors.New("invalid user model parameters")

	// ErrUnknownEventType indicates an event type the engine does not model.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidEvent indicates a malformed event payload.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidWindow indicates a time-series window with end before start or a non-positive step.
	ErrInvalidWindow = errors.New("invalid time window")
)
