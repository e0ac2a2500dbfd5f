package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/scheduling"
	"github.com/adriangmrraa/dentalogic-sub000/internal/slots"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ClinicSettings resolves the calling tenant's clinic configuration.
type ClinicSettings interface {
	ForContext(ctx context.Context) *clinic.Config
}

type staticSettings struct{}

func (staticSettings) ForContext(context.Context) *clinic.Config { return clinic.DefaultConfig("") }

// SchedulingConfig wires the slot and booking endpoints.
type SchedulingConfig struct {
	Deps    scheduling.Deps
	Booker  scheduling.Booker
	Clinic  ClinicSettings
	Metrics *metrics.SchedulingMetrics
	Logger  *logging.Logger
}

// SchedulingHandler serves slot offers and guarded booking.
type SchedulingHandler struct {
	deps    scheduling.Deps
	booker  scheduling.Booker
	clinic  ClinicSettings
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
}

func NewSchedulingHandler(cfg SchedulingConfig) *SchedulingHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clinic == nil {
		cfg.Clinic = staticSettings{}
	}
	return &SchedulingHandler{
		deps:    cfg.Deps,
		booker:  cfg.Booker,
		clinic:  cfg.Clinic,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// SlotsResponse is the body of a slot listing.
type SlotsResponse struct {
	ProfessionalID    string       `json:"professional_id"`
	Date              string       `json:"date"`
	Treatment         string       `json:"treatment"`
	DurationMinutes   int          `json:"duration_minutes"`
	StepMinutes       int          `json:"step_minutes"`
	DurationFallback  bool         `json:"duration_fallback,omitempty"`
	SessionGapBlocked bool         `json:"session_gap_blocked,omitempty"`
	Slots             []slots.Slot `json:"slots"`
}

// ListSlots handles GET /api/professionals/{id}/slots.
func (h *SchedulingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	professionalID := strings.TrimSpace(chi.URLParam(r, "id"))
	if professionalID == "" {
		writeError(w, http.StatusBadRequest, "professional id required")
		return
	}
	settings := h.clinic.ForContext(ctx)
	loc := settings.Location()

	q := r.URL.Query()
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(q.Get("date")), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("duration")); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration < 0 {
			writeError(w, http.StatusBadRequest, "duration must be a positive number of minutes")
			return
		}
	}

	planner := scheduling.NewPlanner(h.deps, settings.Generator(), h.logger).WithMetrics(h.metrics)
	res, err := planner.Offer(ctx, scheduling.Target{
		ProfessionalID:  professionalID,
		Date:            date,
		TreatmentCode:   strings.TrimSpace(q.Get("treatment")),
		DurationMinutes: duration,
		PatientID:       strings.TrimSpace(q.Get("patient_id")),
	})
	if err != nil {
		h.logger.Warn("slot listing failed", "error", err, "professional_id", professionalID)
		writeUpstreamError(w, err)
		return
	}

	out := res.Slots
	if out == nil {
		out = []slots.Slot{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{
		ProfessionalID:    professionalID,
		Date:              date.Format("2006-01-02"),
		Treatment:         res.Treatment.Code,
		DurationMinutes:   res.Plan.DurationMinutes,
		StepMinutes:       res.Plan.StepMinutes,
		DurationFallback:  res.Plan.DurationFallback,
		SessionGapBlocked: res.Plan.SessionGapBlocked,
		Slots:             out,
	})
}

// CreateAppointment handles POST /api/appointments.
func (h *SchedulingHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	if h.booker == nil {
		writeError(w, http.StatusServiceUnavailable, "booking disabled")
		return
	}
	ctx := r.Context()
	var draft bookings.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if draft.DurationMinutes == 0 && draft.TreatmentCode != "" && h.deps.Treatments != nil {
		treatment, err := h.deps.Treatments.Treatment(ctx, draft.TreatmentCode)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		draft.DurationMinutes, _ = treatment.Sanitize().ResolveDuration(0)
	}
	if draft.Source == "" {
		draft.Source = "console"
	}

	conf, err := h.booker.Book(ctx, draft)
	var conflict *bookings.SlotConflict
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, conf)
	case errors.Is(err, bookings.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "slot_conflict", "conflict": conflict})
	default:
		h.logger.Warn("booking failed", "error", err, "professional_id", draft.ProfessionalID)
		writeUpstreamError(w, err)
	}
}
