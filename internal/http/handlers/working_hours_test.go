package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func newWorkingHoursRouter(store *fakeAvailability) http.Handler {
	h := NewWorkingHoursHandler(store, logging.Discard())
	r := chi.NewRouter()
	r.Get("/api/professionals/{id}/working-hours", h.Get)
	r.Put("/api/professionals/{id}/working-hours", h.Put)
	return r
}

func weekJSON(monday string) string {
	return `{
		"monday": {"enabled": true, "slots": ` + monday + `},
		"tuesday": {"enabled": true, "slots": [{"start": "09:00", "end": "18:00"}]},
		"wednesday": {"enabled": true, "slots": [{"start": "09:00", "end": "18:00"}]},
		"thursday": {"enabled": true, "slots": [{"start": "09:00", "end": "18:00"}]},
		"friday": {"enabled": true, "slots": [{"start": "09:00", "end": "18:00"}]},
		"saturday": {"enabled": true, "slots": [{"start": "09:00", "end": "13:00"}]},
		"sunday": {"enabled": false, "slots": []}
	}`
}

func TestWorkingHoursGet(t *testing.T) {
	router := newWorkingHoursRouter(&fakeAvailability{weekly: availability.Default()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/professionals/7/working-hours", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ProfessionalID string                            `json:"professional_id"`
		WorkingHours   map[string]availability.DayConfig `json:"working_hours"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "7", resp.ProfessionalID)
	assert.Len(t, resp.WorkingHours, 7)
	assert.False(t, resp.WorkingHours["sunday"].Enabled)
}

func TestWorkingHoursGetUpstreamFailure(t *testing.T) {
	router := newWorkingHoursRouter(&fakeAvailability{err: errors.New("connection refused")})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/professionals/7/working-hours", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWorkingHoursPutSortsAndSaves(t *testing.T) {
	store := &fakeAvailability{}
	router := newWorkingHoursRouter(store)
	body := weekJSON(`[{"start": "14:00", "end": "18:00"}, {"start": "09:00", "end": "13:00"}]`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/professionals/7/working-hours", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, store.saved)

	var resp struct {
		WorkingHours map[string]availability.DayConfig `json:"working_hours"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	monday := resp.WorkingHours["monday"].Slots
	require.Len(t, monday, 2)
	assert.Equal(t, "09:00", monday[0].Start.String())
}

func TestWorkingHoursPutRejectsOverlap(t *testing.T) {
	store := &fakeAvailability{}
	router := newWorkingHoursRouter(store)
	body := weekJSON(`[{"start": "09:00", "end": "13:00"}, {"start": "12:00", "end": "15:00"}, {"start": "17:00", "end": "16:00"}]`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/professionals/7/working-hours", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Nil(t, store.saved)

	var resp struct {
		Error      string                   `json:"error"`
		Violations []availability.Violation `json:"violations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "invalid_working_hours", resp.Error)
	kinds := map[availability.ViolationKind]bool{}
	for _, v := range resp.Violations {
		kinds[v.Kind] = true
	}
	assert.True(t, kinds[availability.ViolationOverlap])
	assert.True(t, kinds[availability.ViolationInvertedRange])
}

func TestWorkingHoursPutRejectsMalformed(t *testing.T) {
	router := newWorkingHoursRouter(&fakeAvailability{})
	for _, body := range []string{
		`{"monday": {"enabled": true, "slots": []}}`,
		weekJSON(`[{"start": "9am", "end": "13:00"}]`),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/professionals/7/working-hours", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}
