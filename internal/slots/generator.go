package slots

import (
	"encoding/json"
	"iter"
	"slices"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/treatments"
)

// DefaultMinGranularity is the smallest step between candidate starts.
const DefaultMinGranularity = 15

// Slot is a bookable start time for a given duration.
type Slot struct {
	Start           time.Time
	DurationMinutes int
}

func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

func (s Slot) Interval() bookings.Interval {
	return bookings.Interval{Start: s.Start, End: s.End()}
}

func (s Slot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start           string `json:"start"`
		End             string `json:"end"`
		Time            string `json:"time"`
		DurationMinutes int    `json:"duration_minutes"`
	}{
		Start:           s.Start.Format(time.RFC3339),
		End:             s.End().Format(time.RFC3339),
		Time:            s.Start.Format("15:04"),
		DurationMinutes: s.DurationMinutes,
	})
}

// Request is everything the generator needs for one professional and date.
type Request struct {
	Availability availability.WeeklyAvailability
	Treatment    treatments.Constraint
	Date         time.Time
	// DurationMinutes overrides the treatment default when non-zero.
	DurationMinutes int
	// Bookings is the professional's snapshot for Date; only blocking
	// statuses are considered.
	Bookings []bookings.Appointment
	// PreviousSessionEnd is the end of the patient's latest session of the
	// same treatment, if any.
	PreviousSessionEnd *time.Time
}

// Generator enumerates candidate slots. The zero value uses the treatment
// default duration as the step with a 15 minute floor, in Date's location.
type Generator struct {
	// GranularityMinutes fixes the step; zero derives it from the treatment.
	GranularityMinutes int
	// MinGranularityMinutes floors the step; zero means DefaultMinGranularity.
	MinGranularityMinutes int
	// Location interprets availability clocks; nil uses Date's location.
	Location *time.Location
}

// Plan is the resolved input of one generation run.
type Plan struct {
	Date            time.Time
	Day             availability.Weekday
	DurationMinutes int
	StepMinutes     int
	Ranges          []availability.TimeRange
	// DurationFallback is set when the requested duration was rejected and
	// the treatment default was used instead.
	DurationFallback bool
	// SessionGapBlocked is set when the multi-session gap rules out the date.
	SessionGapBlocked bool
}

// Empty reports whether the plan can produce no slot at all.
func (p Plan) Empty() bool {
	return p.DurationMinutes <= 0 || p.SessionGapBlocked || len(p.Ranges) == 0
}

// Plan resolves durations, step and ranges for req without enumerating.
func (g Generator) Plan(req Request) Plan {
	loc := g.Location
	if loc == nil {
		loc = req.Date.Location()
	}
	date := req.Date.In(loc)
	y, m, d := date.Date()
	date = time.Date(y, m, d, 0, 0, 0, 0, loc)

	treatment := req.Treatment.Sanitize()
	plan := Plan{Date: date, Day: availability.WeekdayOf(date)}

	duration, err := treatment.ResolveDuration(req.DurationMinutes)
	if err != nil {
		duration = treatment.DefaultDurationMinutes
		plan.DurationFallback = true
	}
	plan.DurationMinutes = duration

	minStep := g.MinGranularityMinutes
	if minStep <= 0 {
		minStep = DefaultMinGranularity
	}
	step := g.GranularityMinutes
	if step <= 0 {
		step = treatment.DefaultDurationMinutes
	}
	plan.StepMinutes = max(step, minStep)

	if treatment.RequiresMultipleSessions && req.PreviousSessionEnd != nil {
		if daysBetween(req.PreviousSessionEnd.In(loc), date) < treatment.SessionGapDays {
			plan.SessionGapBlocked = true
		}
	}

	day := req.Availability.Day(plan.Day)
	if day.Enabled {
		ranges := slices.Clone(day.Slots)
		slices.SortStableFunc(ranges, func(a, b availability.TimeRange) int {
			if a.Start != b.Start {
				return int(a.Start - b.Start)
			}
			return int(a.End - b.End)
		})
		plan.Ranges = ranges
	}
	return plan
}

// Generate returns the lazily evaluated slot sequence for req. Slots come out
// in ascending start order, each fits entirely inside one availability range
// and none overlaps a blocking booking. The sequence can be ranged over any
// number of times. An empty sequence is a normal result.
func (g Generator) Generate(req Request) iter.Seq[Slot] {
	plan := g.Plan(req)
	busy := make([]bookings.Interval, 0, len(req.Bookings))
	for _, b := range req.Bookings {
		if b.Status.Blocking() && b.DurationMinutes > 0 {
			busy = append(busy, b.Interval())
		}
	}
	loc := plan.Date.Location()

	return func(yield func(Slot) bool) {
		if plan.Empty() {
			return
		}
		lastStart := availability.Clock(-1)
		for _, r := range plan.Ranges {
			for start := r.Start; start.Add(plan.DurationMinutes) <= r.End; start = start.Add(plan.StepMinutes) {
				if start <= lastStart {
					continue
				}
				slot := Slot{Start: start.On(plan.Date, loc), DurationMinutes: plan.DurationMinutes}
				if overlapsAny(slot.Interval(), busy) {
					continue
				}
				lastStart = start
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Slot]) []Slot {
	return slices.Collect(seq)
}

func overlapsAny(candidate bookings.Interval, busy []bookings.Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

// daysBetween counts calendar days from a's date to b's date.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
