package bookings

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an appointment in the records service.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
	// StatusBlocked marks an external calendar block rather than a patient visit.
	StatusBlocked Status = "blocked"
)

// ParseStatus lower-cases and validates a wire status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusPending, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow, StatusBlocked:
		return st, true
	}
	return "", false
}

// Blocking reports whether a booking in this state occupies the professional.
// Scheduled and in-progress visits count alongside confirmed and pending ones.
func (s Status) Blocking() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusScheduled, StatusInProgress, StatusBlocked:
		return true
	}
	return false
}

// BlockingStatuses lists every Status for which Blocking is true.
func BlockingStatuses() []Status {
	return []Status{StatusConfirmed, StatusPending, StatusScheduled, StatusInProgress, StatusBlocked}
}

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds [start, start+minutes).
func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps is true iff the spans share any instant; touching spans do not.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Appointment is a persisted booking as read back from the records service.
// It is never mutated locally.
type Appointment struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id,omitempty"`
	ProfessionalID  string    `json:"professional_id"`
	PatientID       string    `json:"patient_id,omitempty"`
	TreatmentCode   string    `json:"appointment_type,omitempty"`
	Start           time.Time `json:"appointment_datetime"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	Source          string    `json:"source,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func (a Appointment) Interval() Interval {
	return NewInterval(a.Start, a.DurationMinutes)
}

func (a Appointment) End() time.Time {
	return a.Interval().End
}

// Draft is a booking the user intends to commit.
type Draft struct {
	ProfessionalID  string    `json:"professional_id"`
	PatientID       string    `json:"patient_id"`
	TreatmentCode   string    `json:"appointment_type"`
	Start           time.Time `json:"appointment_datetime"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes,omitempty"`
	Source          string    `json:"source,omitempty"`
}

// ErrInvalidDraft is returned for drafts that cannot be booked at all.
var ErrInvalidDraft = errors.New("bookings: invalid draft")

func (d Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.ProfessionalID) == "":
		return fmt.Errorf("%w: professional required", ErrInvalidDraft)
	case strings.TrimSpace(d.PatientID) == "":
		return fmt.Errorf("%w: patient required", ErrInvalidDraft)
	case d.Start.IsZero():
		return fmt.Errorf("%w: start required", ErrInvalidDraft)
	case d.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidDraft)
	}
	return nil
}

func (d Draft) Interval() Interval {
	return NewInterval(d.Start, d.DurationMinutes)
}
