package availability

import (
	"fmt"
	"strings"
)

// ViolationKind classifies a configuration error.
type ViolationKind string

const (
	ViolationInvertedRange ViolationKind = "inverted_range"
	ViolationOverlap       ViolationKind = "overlap"
)

// Violation points at one offending slot (and, for overlaps, the slot it
// collides with). Indexes refer to the day's slot list as given.
type Violation struct {
	Day        Weekday       `json:"day"`
	Kind       ViolationKind `json:"kind"`
	Index      int           `json:"index"`
	OtherIndex int           `json:"other_index,omitempty"`
	Message    string        `json:"message"`
}

// Validate reports every slot whose start is not before its end and every
// pair of overlapping slots within a day. Touching slots are fine.
func Validate(w WeeklyAvailability) []Violation {
	var out []Violation
	for _, d := range Weekdays() {
		slots := w.days[d].Slots
		for i, r := range slots {
			if r.Start >= r.End {
				out = append(out, Violation{
					Day:     d,
					Kind:    ViolationInvertedRange,
					Index:   i,
					Message: fmt.Sprintf("%s slot %d: start %s is not before end %s", d, i, r.Start, r.End),
				})
			}
		}
		for i := 0; i < len(slots); i++ {
			if slots[i].Start >= slots[i].End {
				continue
			}
			for j := i + 1; j < len(slots); j++ {
				if slots[j].Start >= slots[j].End {
					continue
				}
				if slots[i].Overlaps(slots[j]) {
					out = append(out, Violation{
						Day:        d,
						Kind:       ViolationOverlap,
						Index:      i,
						OtherIndex: j,
						Message:    fmt.Sprintf("%s slots %s and %s overlap", d, slots[i], slots[j]),
					})
				}
			}
		}
	}
	return out
}

// ValidationError wraps a non-empty list of violations.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return "availability: invalid weekly config: " + strings.Join(msgs, "; ")
}

// Check returns a *ValidationError when Validate finds anything.
func Check(w WeeklyAvailability) error {
	if v := Validate(w); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}
