// Package models contains data structures used throughout the application
package models

import (
	"fmt"
	"maps"
)

// Default user model parameters
const (
	DefaultICR              = 10.0 // g/unit
	DefaultCorrectionFactor = 2.0  // mmol/L per unit
	DefaultTargetBSL        = 6.0  // mmol/L
	DefaultBodyWeightKg     = 70.0
)

// UserModelParameters holds the per-person dosing configuration.
// Values are always fully populated; use NewParametersBuilder or
// DefaultUserModelParameters rather than a zero struct.
type UserModelParameters struct {
	InsulinToCarbRatio float64 `json:"insulinToCarbRatio" mapstructure:"icr"`               // Grams covered by one unit
	CorrectionFactor   float64 `json:"correctionFactor" mapstructure:"correction_factor"`  // mmol/L drop per unit
	TargetBSL          float64 `json:"targetBSL" mapstructure:"target_bsl"`                // mmol/L
	BodyWeightKg       float64 `json:"bodyWeightKg" mapstructure:"body_weight_kg"`

	// Per-hour multipliers applied on top of the circadian base table (hour 0-23)
	CircadianAdjustments map[int]float64 `json:"circadianAdjustments,omitempty" mapstructure:"circadian_adjustments"`
}

// DefaultUserModelParameters returns the engine defaults
func DefaultUserModelParameters() UserModelParameters {
	return UserModelParameters{
		InsulinToCarbRatio: DefaultICR,
		CorrectionFactor:   DefaultCorrectionFactor,
		TargetBSL:          DefaultTargetBSL,
		BodyWeightKg:       DefaultBodyWeightKg,
	}
}

// Validate checks that all parameters are in sane ranges
func (p UserModelParameters) Validate() error {
	if p.InsulinToCarbRatio <= 0 || p.InsulinToCarbRatio > 100 {
		return fmt.Errorf("%w: insulin-to-carb ratio must be in (0, 100], got %g", ErrInvalidParameters, p.InsulinToCarbRatio)
	}
	if p.CorrectionFactor <= 0 || p.CorrectionFactor > 20 {
		return fmt.Errorf("%w: correction factor must be in (0, 20], got %g", ErrInvalidParameters, p.CorrectionFactor)
	}
	if p.TargetBSL < 3 || p.TargetBSL > 15 {
		return fmt.Errorf("%w: target BSL must be in [3, 15] mmol/L, got %g", ErrInvalidParameters, p.TargetBSL)
	}
	if p.BodyWeightKg < 20 || p.BodyWeightKg > 300 {
		return fmt.Errorf("%w: body weight must be in [20, 300] kg, got %g", ErrInvalidParameters, p.BodyWeightKg)
	}
	for hour, m := range p.CircadianAdjustments {
		if hour < 0 || hour > 23 {
			return fmt.Errorf("%w: circadian adjustment hour %d out of range", ErrInvalidParameters, hour)
		}
		if m <= 0 || m > 3 {
			return fmt.Errorf("%w: circadian multiplier for hour %d must be in (0, 3], got %g", ErrInvalidParameters, hour, m)
		}
	}
	return nil
}

// Clone returns a deep copy of the parameters
func (p UserModelParameters) Clone() UserModelParameters {
	c := p
	if p.CircadianAdjustments != nil {
		c.CircadianAdjustments = maps.Clone(p.CircadianAdjustments)
	}
	return c
}

// ParametersBuilder merges overrides onto the defaults
type ParametersBuilder struct {
	params UserModelParameters
}

// NewParametersBuilder starts from DefaultUserModelParameters
func NewParametersBuilder() *ParametersBuilder {
	return &ParametersBuilder{params: DefaultUserModelParameters()}
}

// WithICR sets the insulin-to-carb ratio
func (b *ParametersBuilder) WithICR(icr float64) *ParametersBuilder {
	b.params.InsulinToCarbRatio = icr
	return b
}

// WithCorrectionFactor sets the correction factor
func (b *ParametersBuilder) WithCorrectionFactor(cf float64) *ParametersBuilder {
	b.params.CorrectionFactor = cf
	return b
}

// WithTargetBSL sets the target BSL
func (b *ParametersBuilder) WithTargetBSL(target float64) *ParametersBuilder {
	b.params.TargetBSL = target
	return b
}

// WithBodyWeight sets the body weight in kg
func (b *ParametersBuilder) WithBodyWeight(kg float64) *ParametersBuilder {
	b.params.BodyWeightKg = kg
	return b
}

// WithCircadianAdjustment sets the multiplier for one hour of the day
func (b *ParametersBuilder) WithCircadianAdjustment(hour int, multiplier float64) *ParametersBuilder {
	if b.params.CircadianAdjustments == nil {
		b.params.CircadianAdjustments = make(map[int]float64)
	}
	b.params.CircadianAdjustments[hour] = multiplier
	return b
}

// Build validates and returns a copy of the parameters
func (b *ParametersBuilder) Build() (UserModelParameters, error) {
	p := b.params.Clone()
	if err := p.Validate(); err != nil {
		return UserModelParameters{}, err
	}
	return p, nil
}

// SafetyLimits bounds the insulin recommendation
type SafetyLimits struct {
	MaxSingleDose       float64 `json:"maxSingleDose" mapstructure:"max_single_dose"`             // Units
	HypoFloor           float64 `json:"hypoFloor" mapstructure:"hypo_floor"`                      // Below this: no dose
	LowBSLThreshold     float64 `json:"lowBslThreshold" mapstructure:"low_bsl_threshold"`         // Below this: cap at half carb coverage
	CorrectionThreshold float64 `json:"correctionThreshold" mapstructure:"correction_threshold"` // Correct only above this
	MaxCorrection       float64 `json:"maxCorrection" mapstructure:"max_correction"`             // Units
	DoseIncrement       float64 `json:"doseIncrement" mapstructure:"dose_increment"`             // Rounding step
}

// DefaultSafetyLimits returns the standard dosing safety limits
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxSingleDose:       30,
		HypoFloor:           4.0,
		LowBSLThreshold:     5.0,
		CorrectionThreshold: 7.0,
		MaxCorrection:       10,
		DoseIncrement:       0.5,
	}
}

// Validate checks the limits are usable
func (l SafetyLimits) Validate() error {
	if l.MaxSingleDose <= 0 {
		return fmt.Errorf("%w: max single dose must be positive", ErrInvalidParameters)
	}
	if l.DoseIncrement <= 0 || l.DoseIncrement > l.MaxSingleDose {
		return fmt.Errorf("%w: dose increment must be in (0, max single dose]", ErrInvalidParameters)
	}
	if l.HypoFloor <= 0 || l.LowBSLThreshold < l.HypoFloor {
		return fmt.Errorf("%w: low BSL threshold must be at or above the hypo floor", ErrInvalidParameters)
	}
	if l.MaxCorrection < 0 {
		return fmt.Errorf("%w: max correction must not be negative", ErrInvalidParameters)
	}
	return nil
}
