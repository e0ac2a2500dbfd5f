package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// AvailabilityStore loads and saves a professional's weekly configuration.
type AvailabilityStore interface {
	Load(ctx context.Context, professionalID string) (availability.WeeklyAvailability, error)
	Save(ctx context.Context, professionalID string, w availability.WeeklyAvailability) error
}

// WorkingHoursHandler edits professionals' working hours.
type WorkingHoursHandler struct {
	store  AvailabilityStore
	logger *logging.Logger
}

func NewWorkingHoursHandler(store AvailabilityStore, logger *logging.Logger) *WorkingHoursHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkingHoursHandler{store: store, logger: logger}
}

type workingHoursResponse struct {
	ProfessionalID string                          `json:"professional_id"`
	WorkingHours   availability.WeeklyAvailability `json:"working_hours"`
}

// Get returns the normalized configuration; malformed stored data comes
// back filled with the clinic defaults.
func (h *WorkingHoursHandler) Get(w http.ResponseWriter, r *http.Request) {
	professionalID := strings.TrimSpace(chi.URLParam(r, "id"))
	weekly, err := h.store.Load(r.Context(), professionalID)
	if err != nil {
		h.logger.Warn("working hours load failed", "error", err, "professional_id", professionalID)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workingHoursResponse{ProfessionalID: professionalID, WorkingHours: weekly})
}

// Put replaces the configuration. Every day must be present; inverted or
// overlapping ranges are rejected with the full violation list.
func (h *WorkingHoursHandler) Put(w http.ResponseWriter, r *http.Request) {
	professionalID := strings.TrimSpace(chi.URLParam(r, "id"))
	var weekly availability.WeeklyAvailability
	if err := json.NewDecoder(r.Body).Decode(&weekly); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.store.Save(r.Context(), professionalID, weekly)
	var invalid *availability.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, workingHoursResponse{ProfessionalID: professionalID, WorkingHours: weekly.Sorted()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "invalid_working_hours",
			"violations": invalid.Violations,
		})
	default:
		h.logger.Warn("working hours save failed", "error", err, "professional_id", professionalID)
		writeUpstreamError(w, err)
	}
}
