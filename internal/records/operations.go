package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/treatments"
)

var (
	_ availability.Source = (*Client)(nil)
	_ bookings.Store      = (*Client)(nil)
)

func (c *Client) professional(ctx context.Context, professionalID string) (professional, error) {
	var list []professional
	if err := c.doJSON(ctx, http.MethodGet, "/admin/professionals", nil, &list); err != nil {
		return professional{}, fmt.Errorf("list professionals: %w", err)
	}
	for _, p := range list {
		if string(p.ID) == professionalID {
			return p, nil
		}
	}
	return professional{}, fmt.Errorf("%w: professional %s", ErrNotFound, professionalID)
}

// FetchWorkingHours returns the professional's raw working_hours blob.
func (c *Client) FetchWorkingHours(ctx context.Context, professionalID string) (json.RawMessage, error) {
	p, err := c.professional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	return p.WorkingHours, nil
}

// UpdateWorkingHours replaces the professional's working_hours.
func (c *Client) UpdateWorkingHours(ctx context.Context, professionalID string, w availability.WeeklyAvailability) error {
	path := fmt.Sprintf("/admin/professionals/%s", url.PathEscape(professionalID))
	body := map[string]any{"working_hours": w}
	if err := c.doJSON(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("update working hours: %w", err)
	}
	return nil
}

// Treatment looks up a treatment type by code.
func (c *Client) Treatment(ctx context.Context, code string) (treatments.Constraint, error) {
	var list []treatments.Constraint
	if err := c.doJSON(ctx, http.MethodGet, "/admin/treatment-types", nil, &list); err != nil {
		return treatments.Constraint{}, fmt.Errorf("list treatment types: %w", err)
	}
	for _, t := range list {
		if t.Code == code {
			return t, nil
		}
	}
	return treatments.Constraint{}, fmt.Errorf("%w: treatment %s", ErrNotFound, code)
}

func rangeQuery(professionalID string, from, to time.Time) url.Values {
	q := url.Values{}
	q.Set("professional_id", professionalID)
	q.Set("start_date", from.Format(time.RFC3339))
	q.Set("end_date", to.Format(time.RFC3339))
	return q
}

// ListBookings returns the professional's appointments and calendar blocks
// overlapping [from, to). Blocks come back with StatusBlocked.
func (c *Client) ListBookings(ctx context.Context, professionalID string, from, to time.Time) ([]bookings.Appointment, error) {
	q := rangeQuery(professionalID, from, to)

	var appts []appointment
	if err := c.doJSON(ctx, http.MethodGet, "/admin/appointments?"+q.Encode(), nil, &appts); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	var blocks []calendarBlock
	if err := c.doJSON(ctx, http.MethodGet, "/admin/calendar/blocks?"+q.Encode(), nil, &blocks); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("list calendar blocks: %w", err)
		}
		c.logger.Debug("calendar blocks unavailable", "professional_id", professionalID)
	}

	window := bookings.Interval{Start: from, End: to}
	out := make([]bookings.Appointment, 0, len(appts)+len(blocks))
	for _, a := range appts {
		appt := toAppointment(a)
		if appt.ProfessionalID != "" && appt.ProfessionalID != professionalID {
			continue
		}
		if appt.Interval().Overlaps(window) {
			out = append(out, appt)
		}
	}
	for _, b := range blocks {
		if b.ProfessionalID != "" && string(b.ProfessionalID) != professionalID {
			continue
		}
		minutes := int(b.EndDatetime.Sub(b.StartDatetime) / time.Minute)
		if minutes <= 0 {
			continue
		}
		appt := bookings.Appointment{
			ID:              "block-" + string(b.ID),
			ProfessionalID:  professionalID,
			Start:           b.StartDatetime,
			DurationMinutes: minutes,
			Status:          bookings.StatusBlocked,
			Source:          "calendar",
			Notes:           b.Title,
		}
		if appt.Interval().Overlaps(window) {
			out = append(out, appt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func toAppointment(a appointment) bookings.Appointment {
	status, ok := bookings.ParseStatus(a.Status)
	if !ok {
		status = bookings.StatusScheduled
	}
	return bookings.Appointment{
		ID:              string(a.ID),
		ProfessionalID:  string(a.ProfessionalID),
		PatientID:       string(a.PatientID),
		TreatmentCode:   a.AppointmentType,
		Start:           a.AppointmentDatetime,
		DurationMinutes: a.DurationMinutes,
		Status:          status,
		Source:          a.Source,
		Notes:           a.Notes,
	}
}

// CreateAppointment asks the records service to insert the appointment with
// its own collision check enabled.
func (c *Client) CreateAppointment(ctx context.Context, draft bookings.Draft) (bookings.Appointment, error) {
	source := draft.Source
	if source == "" {
		source = "manual"
	}
	req := createAppointmentRequest{
		PatientID:           ID(draft.PatientID),
		ProfessionalID:      ID(draft.ProfessionalID),
		AppointmentDatetime: draft.Start.Format(time.RFC3339),
		DurationMinutes:     draft.DurationMinutes,
		AppointmentType:     draft.TreatmentCode,
		Notes:               draft.Notes,
		Status:              string(bookings.StatusConfirmed),
		Source:              source,
	}
	var created appointment
	if err := c.doJSON(ctx, http.MethodPost, "/admin/appointments?check_collisions=true", req, &created); err != nil {
		var conflict *bookings.StoreConflict
		if errors.As(err, &conflict) && conflict.Conflicting == nil {
			c.explainConflict(ctx, draft, conflict)
		}
		return bookings.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	appt := toAppointment(created)
	if appt.Start.IsZero() {
		appt.Start = draft.Start
	}
	if appt.DurationMinutes == 0 {
		appt.DurationMinutes = draft.DurationMinutes
	}
	if appt.ProfessionalID == "" {
		appt.ProfessionalID = draft.ProfessionalID
	}
	return appt, nil
}

func (c *Client) checkCollisions(ctx context.Context, professionalID string, start time.Time, durationMinutes int) (collisionReport, error) {
	q := url.Values{}
	q.Set("professional_id", professionalID)
	q.Set("datetime_str", start.Format(time.RFC3339))
	q.Set("duration_minutes", strconv.Itoa(durationMinutes))
	var report collisionReport
	if err := c.doJSON(ctx, http.MethodGet, "/admin/appointments/check-collisions?"+q.Encode(), nil, &report); err != nil {
		return collisionReport{}, fmt.Errorf("check collisions: %w", err)
	}
	return report, nil
}

// explainConflict fills in the earliest booking or block behind a 409 that
// came back without one. Failures leave the conflict as it was.
func (c *Client) explainConflict(ctx context.Context, draft bookings.Draft, conflict *bookings.StoreConflict) {
	report, err := c.checkCollisions(ctx, draft.ProfessionalID, draft.Start, draft.DurationMinutes)
	if err != nil {
		c.logger.Debug("collision details unavailable", "professional_id", draft.ProfessionalID, "error", err)
		return
	}
	var (
		earliest *bookings.Interval
		id       string
	)
	consider := func(iv bookings.Interval, bookingID string) {
		if iv.End.After(iv.Start) && (earliest == nil || iv.Start.Before(earliest.Start)) {
			earliest, id = &iv, bookingID
		}
	}
	for _, a := range report.ConflictingAppointments {
		consider(toAppointment(a).Interval(), string(a.ID))
	}
	for _, b := range report.ConflictingBlocks {
		consider(bookings.Interval{Start: b.StartDatetime, End: b.EndDatetime}, "block-"+string(b.ID))
	}
	if earliest != nil {
		conflict.Conflicting = earliest
		conflict.BookingID = id
	}
}

// LastSessionEnd returns the end of the patient's latest completed session
// of treatmentCode that started before before, or nil if there is none.
func (c *Client) LastSessionEnd(ctx context.Context, patientID, treatmentCode string, before time.Time) (*time.Time, error) {
	q := url.Values{}
	q.Set("patient_id", patientID)
	q.Set("appointment_type", treatmentCode)
	q.Set("end_date", before.Format(time.RFC3339))
	var appts []appointment
	if err := c.doJSON(ctx, http.MethodGet, "/admin/appointments?"+q.Encode(), nil, &appts); err != nil {
		return nil, fmt.Errorf("list patient sessions: %w", err)
	}
	var latest *time.Time
	for _, a := range appts {
		appt := toAppointment(a)
		if string(a.PatientID) != patientID || appt.TreatmentCode != treatmentCode {
			continue
		}
		if appt.Status == bookings.StatusCancelled || appt.Status == bookings.StatusNoShow {
			continue
		}
		if !appt.Start.Before(before) {
			continue
		}
		end := appt.End()
		if latest == nil || end.After(*latest) {
			latest = &end
		}
	}
	return latest, nil
}
