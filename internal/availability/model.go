package availability

import (
	"encoding/json"
	"fmt"
	"slices"
)

// TimeRange is a half-open interval [Start, End) within one day.
type TimeRange struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// NewRange parses "HH:MM" bounds.
func NewRange(start, end string) (TimeRange, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeRange{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Start: s, End: e}, nil
}

// MustRange is NewRange for literals.
func MustRange(start, end string) TimeRange {
	r, err := NewRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r TimeRange) Valid() bool {
	return r.Start.Valid() && r.End.Valid() && r.Start < r.End
}

// Overlaps applies the half-open rule: touching ranges do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r TimeRange) Minutes() int {
	return int(r.End - r.Start)
}

func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// DayConfig is the availability of one weekday.
type DayConfig struct {
	Enabled bool        `json:"enabled"`
	Slots   []TimeRange `json:"slots"`
}

func (d DayConfig) clone() DayConfig {
	out := DayConfig{Enabled: d.Enabled, Slots: make([]TimeRange, len(d.Slots))}
	copy(out.Slots, d.Slots)
	return out
}

func sortRanges(ranges []TimeRange) {
	slices.SortStableFunc(ranges, func(a, b TimeRange) int {
		if a.Start != b.Start {
			return int(a.Start - b.Start)
		}
		return int(a.End - b.End)
	})
}

// WeeklyAvailability holds exactly one DayConfig per Weekday. It is a value:
// Day and With copy slot slices so callers never share backing arrays.
type WeeklyAvailability struct {
	days [daysPerWeek]DayConfig
}

// Day returns a copy of the configuration for d.
func (w WeeklyAvailability) Day(d Weekday) DayConfig {
	if !d.Valid() {
		return DayConfig{Slots: []TimeRange{}}
	}
	return w.days[d].clone()
}

// With returns a copy of w with d replaced by cfg.
func (w WeeklyAvailability) With(d Weekday, cfg DayConfig) WeeklyAvailability {
	if !d.Valid() {
		return w
	}
	out := w.Clone()
	out.days[d] = cfg.clone()
	return out
}

// Clone deep-copies w.
func (w WeeklyAvailability) Clone() WeeklyAvailability {
	var out WeeklyAvailability
	for i := range w.days {
		out.days[i] = w.days[i].clone()
	}
	return out
}

// Sorted returns a copy with every day's slots ordered by start time.
func (w WeeklyAvailability) Sorted() WeeklyAvailability {
	out := w.Clone()
	for i := range out.days {
		sortRanges(out.days[i].Slots)
	}
	return out
}

// EnabledDays lists the days with availability switched on.
func (w WeeklyAvailability) EnabledDays() []Weekday {
	var days []Weekday
	for _, d := range Weekdays() {
		if w.days[d].Enabled {
			days = append(days, d)
		}
	}
	return days
}

func (w WeeklyAvailability) MarshalJSON() ([]byte, error) {
	out := make(map[Weekday]DayConfig, daysPerWeek)
	for _, d := range Weekdays() {
		day := w.days[d].clone()
		out[d] = day
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the strict decoder used for edits: every day must be
// present and every time must parse. Persisted blobs of unknown quality go
// through Normalize instead.
func (w *WeeklyAvailability) UnmarshalJSON(b []byte) error {
	var raw map[Weekday]DayConfig
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("availability: decode weekly config: %w", err)
	}
	var out WeeklyAvailability
	for _, d := range Weekdays() {
		day, ok := raw[d]
		if !ok {
			return fmt.Errorf("availability: missing %s", d)
		}
		if day.Slots == nil {
			day.Slots = []TimeRange{}
		}
		out.days[d] = day
	}
	*w = out
	return nil
}

// DefaultRange is the clinic's standard opening window.
var DefaultRange = TimeRange{Start: 9 * 60, End: 18 * 60}

// Default is the clinic default: every day open 09:00-18:00 except Sunday.
func Default() WeeklyAvailability {
	return DefaultWithRestDay(Sunday)
}

// DefaultWithRestDay builds the clinic default with the given closed day.
func DefaultWithRestDay(rest Weekday) WeeklyAvailability {
	var w WeeklyAvailability
	for _, d := range Weekdays() {
		if d == rest {
			w.days[d] = DayConfig{Enabled: false, Slots: []TimeRange{}}
			continue
		}
		w.days[d] = DayConfig{Enabled: true, Slots: []TimeRange{DefaultRange}}
	}
	return w
}

// FromDays builds a WeeklyAvailability from a partial map; absent days are
// disabled.
func FromDays(days map[Weekday]DayConfig) WeeklyAvailability {
	var w WeeklyAvailability
	for _, d := range Weekdays() {
		cfg, ok := days[d]
		if !ok {
			w.days[d] = DayConfig{Slots: []TimeRange{}}
			continue
		}
		w.days[d] = cfg.clone()
	}
	return w
}
