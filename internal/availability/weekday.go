package availability

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is the clinic's day-of-week, Monday first. Unlike time.Weekday it
// is the only key a WeeklyAvailability can be indexed by.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

const daysPerWeek = 7

var weekdayNames = [daysPerWeek]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// Weekdays lists every day in week order.
func Weekdays() []Weekday {
	return []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
}

// Valid reports whether d is one of the seven enumerated days.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// FromStd converts a time.Weekday. Every input maps to a day.
func FromStd(w time.Weekday) Weekday {
	return Weekday(((int(w)%daysPerWeek)+daysPerWeek+daysPerWeek-1) % daysPerWeek)
}

// WeekdayOf returns the clinic weekday of t in t's location.
func WeekdayOf(t time.Time) Weekday {
	return FromStd(t.Weekday())
}

// ParseWeekday accepts lower, upper or title case English day names.
func ParseWeekday(s string) (Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if name == s {
			return Weekday(i), true
		}
	}
	return 0, false
}

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("availability: invalid weekday %d", int(d))
	}
	return []byte(weekdayNames[d]), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	parsed, ok := ParseWeekday(string(b))
	if !ok {
		return fmt.Errorf("availability: unknown weekday %q", string(b))
	}
	*d = parsed
	return nil
}
