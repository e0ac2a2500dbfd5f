package availability

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Normalize turns a persisted working-hours blob of unknown quality into a
// complete WeeklyAvailability. It never fails:
//
//   - unparseable input yields the clinic default,
//   - a missing day, or a missing enabled/slots field, is taken from the default,
//   - individual slot entries with malformed times are dropped; if that leaves
//     an enabled day with nothing, the default window is used,
//   - slots are sorted by start.
//
// Days may be given as {"enabled":..,"slots":[..]} or, in the older
// professional form, as a bare list of ranges where a non-empty list means
// enabled. Inverted or overlapping ranges are kept so Validate can report
// them.
func Normalize(raw []byte) WeeklyAvailability {
	return NormalizeWithDefault(raw, Default())
}

// NormalizeWithDefault is Normalize with an explicit fallback configuration.
func NormalizeWithDefault(raw []byte, fallback WeeklyAvailability) WeeklyAvailability {
	fallback = fallback.Clone()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fallback.Sorted()
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byName); err != nil || byName == nil {
		return fallback.Sorted()
	}
	days := make(map[Weekday]json.RawMessage, len(byName))
	for name, value := range byName {
		if d, ok := ParseWeekday(name); ok {
			days[d] = value
		}
	}

	var out WeeklyAvailability
	for _, d := range Weekdays() {
		out.days[d] = normalizeDay(days[d], fallback.days[d])
		sortRanges(out.days[d].Slots)
	}
	return out
}

type rawDay struct {
	Enabled *bool           `json:"enabled"`
	Slots   json.RawMessage `json:"slots"`
}

type rawRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func normalizeDay(raw json.RawMessage, fallback DayConfig) DayConfig {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback.clone()
	}

	switch raw[0] {
	case '[':
		slots, ok, given := normalizeSlots(raw)
		if !ok {
			return fallback.clone()
		}
		enabled := given > 0
		if enabled && len(slots) == 0 {
			slots = defaultSlots(fallback)
		}
		return DayConfig{Enabled: enabled, Slots: slots}
	case '{':
		var day rawDay
		if err := json.Unmarshal(raw, &day); err != nil {
			return fallback.clone()
		}
		out := fallback.clone()
		if day.Enabled != nil {
			out.Enabled = *day.Enabled
		}
		slotsRaw := bytes.TrimSpace(day.Slots)
		slotsMissing := len(slotsRaw) == 0 || bytes.Equal(slotsRaw, []byte("null"))
		if !slotsMissing {
			slots, ok, given := normalizeSlots(slotsRaw)
			switch {
			case !ok:
			case given > 0 && len(slots) == 0:
				out.Slots = defaultSlots(fallback)
			default:
				out.Slots = slots
			}
		}
		if out.Enabled && len(out.Slots) == 0 && slotsMissing {
			out.Slots = defaultSlots(fallback)
		}
		return out
	default:
		return fallback.clone()
	}
}

// normalizeSlots parses a JSON array of ranges, dropping malformed entries.
// ok is false when raw is not an array at all; given counts the entries.
func normalizeSlots(raw json.RawMessage) (slots []TimeRange, ok bool, given int) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, 0
	}
	slots = make([]TimeRange, 0, len(entries))
	for _, entry := range entries {
		var r rawRange
		if err := json.Unmarshal(entry, &r); err != nil {
			continue
		}
		start, err := ParseClock(strings.TrimSpace(r.Start))
		if err != nil {
			continue
		}
		end, err := ParseClock(strings.TrimSpace(r.End))
		if err != nil {
			continue
		}
		slots = append(slots, TimeRange{Start: start, End: end})
	}
	return slots, true, len(entries)
}

func defaultSlots(fallback DayConfig) []TimeRange {
	if len(fallback.Slots) > 0 {
		return fallback.clone().Slots
	}
	return []TimeRange{DefaultRange}
}
