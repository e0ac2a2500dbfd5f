package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/records"
	"github.com/adriangmrraa/dentalogic-sub000/internal/scheduling"
	"github.com/adriangmrraa/dentalogic-sub000/internal/treatments"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

type fakeAvailability struct {
	weekly availability.WeeklyAvailability
	err    error
	saved  *availability.WeeklyAvailability
}

func (f *fakeAvailability) Load(context.Context, string) (availability.WeeklyAvailability, error) {
	return f.weekly, f.err
}

func (f *fakeAvailability) Save(_ context.Context, _ string, w availability.WeeklyAvailability) error {
	if err := availability.Check(w); err != nil {
		return err
	}
	f.saved = &w
	return f.err
}

type fakeTreatments map[string]treatments.Constraint

func (f fakeTreatments) Treatment(_ context.Context, code string) (treatments.Constraint, error) {
	c, ok := f[code]
	if !ok {
		return treatments.Constraint{}, records.ErrNotFound
	}
	return c, nil
}

type fakeBookings []bookings.Appointment

func (f fakeBookings) ListBookings(context.Context, string, time.Time, time.Time) ([]bookings.Appointment, error) {
	return f, nil
}

type fakeBooker struct {
	drafts []bookings.Draft
	err    error
}

func (f *fakeBooker) Book(_ context.Context, draft bookings.Draft) (bookings.Confirmation, error) {
	f.drafts = append(f.drafts, draft)
	if f.err != nil {
		return bookings.Confirmation{}, f.err
	}
	return bookings.Confirmation{Appointment: bookings.Appointment{ID: "appt-1", ProfessionalID: draft.ProfessionalID}}, nil
}

var cleaning = treatments.Constraint{
	Code:                   "cleaning",
	DefaultDurationMinutes: 60,
	MinDurationMinutes:     30,
	MaxDurationMinutes:     90,
}

func morningOnly() availability.WeeklyAvailability {
	days := map[availability.Weekday]availability.DayConfig{}
	for _, d := range availability.Weekdays() {
		days[d] = availability.DayConfig{Enabled: true, Slots: []availability.TimeRange{availability.MustRange("09:00", "12:00")}}
	}
	return availability.FromDays(days)
}

func newSchedulingRouter(booked fakeBookings, booker *fakeBooker) http.Handler {
	cfg := SchedulingConfig{
		Deps: scheduling.Deps{
			Availability: &fakeAvailability{weekly: morningOnly()},
			Treatments:   fakeTreatments{"cleaning": cleaning},
			Bookings:     booked,
		},
		Logger: logging.Discard(),
	}
	// A typed nil would make the interface non-nil.
	if booker != nil {
		cfg.Booker = booker
	}
	h := NewSchedulingHandler(cfg)
	r := chi.NewRouter()
	r.Get("/api/professionals/{id}/slots", h.ListSlots)
	r.Post("/api/appointments", h.CreateAppointment)
	return r
}

func TestListSlotsSkipsBookedTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)
	booked := fakeBookings{{
		ID:              "b1",
		ProfessionalID:  "7",
		Start:           time.Date(2024, 3, 4, 10, 0, 0, 0, loc),
		DurationMinutes: 60,
		Status:          bookings.StatusScheduled,
	}}
	router := newSchedulingRouter(booked, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/professionals/7/slots?date=2024-03-04&treatment=cleaning", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		DurationMinutes int `json:"duration_minutes"`
		Slots           []struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 60, resp.DurationMinutes)
	var times []string
	for _, s := range resp.Slots {
		times = append(times, s.Time)
	}
	assert.Equal(t, []string{"09:00", "11:00"}, times)
}

func TestListSlotsBadInput(t *testing.T) {
	router := newSchedulingRouter(nil, nil)
	for _, target := range []string{
		"/api/professionals/7/slots",
		"/api/professionals/7/slots?date=04-03-2024",
		"/api/professionals/7/slots?date=2024-03-04&duration=abc",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListSlotsUnknownTreatment(t *testing.T) {
	router := newSchedulingRouter(nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/professionals/7/slots?date=2024-03-04&treatment=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func postAppointment(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewReader(payload)))
	return rec
}

func TestCreateAppointmentResolvesDefaultDuration(t *testing.T) {
	booker := &fakeBooker{}
	router := newSchedulingRouter(nil, booker)

	rec := postAppointment(t, router, map[string]any{
		"professional_id":      "7",
		"patient_id":           "42",
		"appointment_type":     "cleaning",
		"appointment_datetime": "2024-03-04T09:00:00-03:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, booker.drafts, 1)
	assert.Equal(t, 60, booker.drafts[0].DurationMinutes)
	assert.Equal(t, "console", booker.drafts[0].Source)
}

func TestCreateAppointmentConflict(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	taken := bookings.NewInterval(start, 60)
	booker := &fakeBooker{err: &bookings.SlotConflict{
		Draft:       bookings.NewInterval(start.Add(30*time.Minute), 30),
		Conflicting: &taken,
		BookingID:   "b1",
		Source:      "guard",
	}}
	router := newSchedulingRouter(nil, booker)

	rec := postAppointment(t, router, map[string]any{
		"professional_id":      "7",
		"patient_id":           "42",
		"appointment_datetime": "2024-03-04T09:30:00Z",
		"duration_minutes":     30,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp struct {
		Error    string `json:"error"`
		Conflict struct {
			BookingID string `json:"booking_id"`
			Source    string `json:"source"`
		} `json:"conflict"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "slot_conflict", resp.Error)
	assert.Equal(t, "b1", resp.Conflict.BookingID)
	assert.Equal(t, "guard", resp.Conflict.Source)
}

func TestCreateAppointmentUpstreamRejectionIsVerbatim(t *testing.T) {
	booker := &fakeBooker{err: &bookings.UpstreamRejection{Status: http.StatusForbidden, Detail: "Profesional inactivo"}}
	router := newSchedulingRouter(nil, booker)

	rec := postAppointment(t, router, map[string]any{
		"professional_id":      "7",
		"patient_id":           "42",
		"appointment_datetime": "2024-03-04T09:30:00Z",
		"duration_minutes":     30,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Profesional inactivo", resp["detail"])
}

func TestCreateAppointmentInvalidDraft(t *testing.T) {
	booker := &fakeBooker{err: bookings.ErrInvalidDraft}
	router := newSchedulingRouter(nil, booker)
	rec := postAppointment(t, router, map[string]any{"professional_id": "7", "duration_minutes": 30})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAppointmentWithoutBooker(t *testing.T) {
	router := newSchedulingRouter(nil, nil)
	rec := postAppointment(t, router, map[string]any{"professional_id": "7"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
