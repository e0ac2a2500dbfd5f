package bookings

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrSlotConflict matches every *SlotConflict via errors.Is.
var ErrSlotConflict = errors.New("bookings: slot conflict")

// SlotConflict reports that a draft overlaps an existing booking. Source is
// "guard" when detected locally and "store" when the authoritative store
// refused the write.
type SlotConflict struct {
	Draft       Interval  `json:"requested"`
	Conflicting *Interval `json:"conflicting,omitempty"`
	BookingID   string    `json:"booking_id,omitempty"`
	Source      string    `json:"source"`
	Detail      string    `json:"detail,omitempty"`
}

func (e *SlotConflict) Error() string {
	if e.Conflicting != nil {
		return fmt.Sprintf("bookings: slot %s conflicts with %s", e.Draft, *e.Conflicting)
	}
	if e.Detail != "" {
		return "bookings: slot conflict: " + e.Detail
	}
	return "bookings: slot " + e.Draft.String() + " is no longer free"
}

func (e *SlotConflict) Is(target error) bool {
	return target == ErrSlotConflict
}

// AcceptanceToken is issued by the guard for a draft that was free against a
// snapshot. It binds the exact interval that was checked.
type AcceptanceToken struct {
	ID       uuid.UUID `json:"id"`
	Interval Interval  `json:"interval"`
	IssuedAt time.Time `json:"issued_at"`
}

// Guard performs the local pre-commit overlap check.
type Guard struct {
	now func() time.Time
}

func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

// Check accepts draft iff it overlaps no blocking booking of the same
// professional in snapshot. The earliest conflicting booking is reported.
func (g *Guard) Check(draft Draft, snapshot []Appointment) (AcceptanceToken, error) {
	if err := draft.Validate(); err != nil {
		return AcceptanceToken{}, err
	}
	want := draft.Interval()

	candidates := make([]Appointment, 0, len(snapshot))
	for _, appt := range snapshot {
		if !appt.Status.Blocking() {
			continue
		}
		if appt.ProfessionalID != "" && appt.ProfessionalID != draft.ProfessionalID {
			continue
		}
		if appt.Interval().Overlaps(want) {
			candidates = append(candidates, appt)
		}
	}
	if len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Start.Before(candidates[j].Start)
		})
		hit := candidates[0]
		conflicting := hit.Interval()
		return AcceptanceToken{}, &SlotConflict{
			Draft:       want,
			Conflicting: &conflicting,
			BookingID:   hit.ID,
			Source:      "guard",
		}
	}

	return AcceptanceToken{ID: uuid.New(), Interval: want, IssuedAt: g.now()}, nil
}
