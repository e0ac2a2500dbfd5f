package records

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ID accepts both numeric and string identifiers on the wire.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numbers for numeric ids, which the records service expects.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

type professional struct {
	ID           ID              `json:"id"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Email        string          `json:"email"`
	IsActive     bool            `json:"is_active"`
	WorkingHours json.RawMessage `json:"working_hours"`
}

type appointment struct {
	ID                  ID        `json:"id"`
	PatientID           ID        `json:"patient_id"`
	ProfessionalID      ID        `json:"professional_id"`
	AppointmentDatetime time.Time `json:"appointment_datetime"`
	DurationMinutes     int       `json:"duration_minutes"`
	AppointmentType     string    `json:"appointment_type"`
	Status              string    `json:"status"`
	Source              string    `json:"source"`
	Notes               string    `json:"notes"`
}

type calendarBlock struct {
	ID             ID        `json:"id"`
	ProfessionalID ID        `json:"professional_id"`
	Title          string    `json:"title"`
	StartDatetime  time.Time `json:"start_datetime"`
	EndDatetime    time.Time `json:"end_datetime"`
}

type createAppointmentRequest struct {
	PatientID           ID     `json:"patient_id"`
	ProfessionalID      ID     `json:"professional_id"`
	AppointmentDatetime string `json:"appointment_datetime"`
	DurationMinutes     int    `json:"duration_minutes"`
	AppointmentType     string `json:"appointment_type,omitempty"`
	Notes               string `json:"notes,omitempty"`
	Status              string `json:"status"`
	Source              string `json:"source"`
}

// collisionReport is the records service's own collision check result.
type collisionReport struct {
	HasCollisions           bool            `json:"has_collisions"`
	ConflictingAppointments []appointment   `json:"conflicting_appointments"`
	ConflictingBlocks       []calendarBlock `json:"conflicting_blocks"`
}
