package clinic

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// Handler provides HTTP endpoints for the caller's clinic settings.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

// NewHandler creates a new clinic config HTTP handler.
func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Routes returns a chi router with the clinic settings routes. The tenant
// always comes from the session, never from the path.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetConfig)
	r.Put("/", h.UpdateConfig)
	return r
}

// GetConfig returns the clinic configuration of the session tenant.
// GET /clinic/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok || !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cfg, err := h.store.Get(r.Context(), sess.TenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "tenant_id", sess.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateConfigRequest is the request body for updating clinic config. Absent
// fields keep their stored value.
type UpdateConfigRequest struct {
	Name                   string                  `json:"name,omitempty"`
	Timezone               string                  `json:"timezone,omitempty"`
	RestDay                *availability.Weekday   `json:"rest_day,omitempty"`
	DefaultHours           *availability.TimeRange `json:"default_hours,omitempty"`
	SlotGranularityMinutes *int                    `json:"slot_granularity_minutes,omitempty"`
	MinGranularityMinutes  *int                    `json:"min_granularity_minutes,omitempty"`
	HandoffVisibleSeconds  *int                    `json:"handoff_visible_seconds,omitempty"`
	Notifications          *NotificationPrefs      `json:"notifications,omitempty"`
}

func (req UpdateConfigRequest) apply(cfg *Config) {
	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if req.RestDay != nil {
		cfg.RestDay = *req.RestDay
	}
	if req.DefaultHours != nil {
		cfg.DefaultHours = *req.DefaultHours
	}
	if req.SlotGranularityMinutes != nil {
		cfg.SlotGranularityMinutes = *req.SlotGranularityMinutes
	}
	if req.MinGranularityMinutes != nil {
		cfg.MinGranularityMinutes = *req.MinGranularityMinutes
	}
	if req.HandoffVisibleSeconds != nil {
		cfg.HandoffVisibleSeconds = *req.HandoffVisibleSeconds
	}
	if req.Notifications != nil {
		cfg.Notifications = *req.Notifications
	}
}

// UpdateConfig merges the request into the stored settings. Only the CEO may
// change them.
// PUT /clinic/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok || !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if sess.Role != session.RoleCEO {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := h.store.Get(r.Context(), sess.TenantID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "tenant_id", sess.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	req.apply(cfg)
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "tenant_id", sess.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}

	h.logger.Info("clinic config updated", "tenant_id", sess.TenantID, "user_id", sess.UserID)
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
