package treatments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleaning() Constraint {
	return Constraint{
		Code:                   "cleaning",
		Name:                   "Limpieza dental",
		DefaultDurationMinutes: 30,
		MinDurationMinutes:     20,
		MaxDurationMinutes:     60,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Constraint)
		wantErr bool
	}{
		{"valid", func(c *Constraint) {}, false},
		{"zero min", func(c *Constraint) { c.MinDurationMinutes = 0 }, true},
		{"min above default", func(c *Constraint) { c.MinDurationMinutes = 45 }, true},
		{"default above max", func(c *Constraint) { c.MaxDurationMinutes = 25 }, true},
		{"negative gap", func(c *Constraint) { c.SessionGapDays = -1 }, true},
		{"all equal", func(c *Constraint) { c.MinDurationMinutes, c.MaxDurationMinutes = 30, 30 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cleaning()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConstraint)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestResolveDuration(t *testing.T) {
	c := cleaning()

	got, err := c.ResolveDuration(0)
	require.NoError(t, err)
	assert.Equal(t, 30, got)

	got, err = c.ResolveDuration(45)
	require.NoError(t, err)
	assert.Equal(t, 45, got)

	_, err = c.ResolveDuration(10)
	assert.ErrorIs(t, err, ErrDurationOutOfRange)
	_, err = c.ResolveDuration(61)
	assert.ErrorIs(t, err, ErrDurationOutOfRange)
}

func TestSanitize(t *testing.T) {
	c := Constraint{Code: "implant", DefaultDurationMinutes: 90, MinDurationMinutes: 120, MaxDurationMinutes: 60, SessionGapDays: -2}
	fixed := c.Sanitize()
	require.NoError(t, fixed.Validate())
	assert.Equal(t, 90, fixed.MinDurationMinutes)
	assert.Equal(t, 90, fixed.MaxDurationMinutes)
	assert.Zero(t, fixed.SessionGapDays)

	broken := Constraint{Code: "x"}
	assert.Error(t, broken.Sanitize().Validate())
}
