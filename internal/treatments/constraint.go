package treatments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConstraint marks a treatment whose duration bounds are inconsistent.
	ErrInvalidConstraint = errors.New("treatments: invalid duration bounds")
	// ErrDurationOutOfRange marks a requested duration outside [min, max].
	ErrDurationOutOfRange = errors.New("treatments: duration out of range")
)

// Constraint is the scheduling-relevant part of a treatment type.
type Constraint struct {
	Code                     string `json:"code"`
	Name                     string `json:"name"`
	DefaultDurationMinutes   int    `json:"default_duration_minutes"`
	MinDurationMinutes       int    `json:"min_duration_minutes"`
	MaxDurationMinutes       int    `json:"max_duration_minutes"`
	RequiresMultipleSessions bool   `json:"requires_multiple_sessions"`
	SessionGapDays           int    `json:"session_gap_days"`
}

// Validate enforces 0 < min <= default <= max and a non-negative gap.
func (c Constraint) Validate() error {
	switch {
	case c.MinDurationMinutes <= 0:
		return fmt.Errorf("%w: min duration %d must be positive", ErrInvalidConstraint, c.MinDurationMinutes)
	case c.MinDurationMinutes > c.DefaultDurationMinutes:
		return fmt.Errorf("%w: min %d exceeds default %d", ErrInvalidConstraint, c.MinDurationMinutes, c.DefaultDurationMinutes)
	case c.DefaultDurationMinutes > c.MaxDurationMinutes:
		return fmt.Errorf("%w: default %d exceeds max %d", ErrInvalidConstraint, c.DefaultDurationMinutes, c.MaxDurationMinutes)
	case c.SessionGapDays < 0:
		return fmt.Errorf("%w: negative session gap %d", ErrInvalidConstraint, c.SessionGapDays)
	}
	return nil
}

// ResolveDuration returns the duration to book. Zero selects the default.
func (c Constraint) ResolveDuration(requested int) (int, error) {
	if requested == 0 {
		return c.DefaultDurationMinutes, nil
	}
	if requested < c.MinDurationMinutes || requested > c.MaxDurationMinutes {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrDurationOutOfRange, requested, c.MinDurationMinutes, c.MaxDurationMinutes)
	}
	return requested, nil
}

// Sanitize repairs catalog entries so Validate holds: missing bounds collapse
// onto the default and inverted bounds are clamped around it. A constraint
// without a positive default is returned unchanged and still fails Validate.
func (c Constraint) Sanitize() Constraint {
	if c.DefaultDurationMinutes <= 0 {
		return c
	}
	if c.MinDurationMinutes <= 0 || c.MinDurationMinutes > c.DefaultDurationMinutes {
		c.MinDurationMinutes = c.DefaultDurationMinutes
	}
	if c.MaxDurationMinutes < c.DefaultDurationMinutes {
		c.MaxDurationMinutes = c.DefaultDurationMinutes
	}
	if c.SessionGapDays < 0 {
		c.SessionGapDays = 0
	}
	return c
}
