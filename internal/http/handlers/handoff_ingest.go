package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/handoff"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// HandoffDeliverer publishes a handoff and falls back to email when no one
// is watching.
type HandoffDeliverer interface {
	Deliver(ctx context.Context, tenantID string, payload realtime.HandoffPayload) (handoff.Delivery, error)
}

// HandoffIngestHandler receives HUMAN_HANDOFF signals from the AI agent.
type HandoffIngestHandler struct {
	deliverer HandoffDeliverer
	logger    *logging.Logger
}

func NewHandoffIngestHandler(deliverer HandoffDeliverer, logger *logging.Logger) *HandoffIngestHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffIngestHandler{deliverer: deliverer, logger: logger}
}

// HandoffRequest is the agent's payload.
type HandoffRequest struct {
	TenantID    string    `json:"tenant_id"`
	PhoneNumber string    `json:"phone_number"`
	Reason      string    `json:"reason"`
	EmittedAt   time.Time `json:"emitted_at,omitempty"`
}

type handoffResponse struct {
	EventID   string `json:"event_id"`
	Published bool   `json:"published"`
	Emailed   bool   `json:"emailed"`
}

// Ingest handles POST /internal/events/handoff.
func (h *HandoffIngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.TenantID == "" || req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and phone_number are required")
		return
	}

	d, err := h.deliverer.Deliver(r.Context(), req.TenantID, realtime.HandoffPayload{
		PhoneNumber: req.PhoneNumber,
		Reason:      strings.TrimSpace(req.Reason),
		EmittedAt:   req.EmittedAt,
	})
	if err != nil {
		h.logger.Error("handoff delivery failed", "error", err, "tenant_id", req.TenantID)
		writeError(w, http.StatusBadGateway, "handoff could not be delivered")
		return
	}
	writeJSON(w, http.StatusAccepted, handoffResponse{EventID: d.Event.ID, Published: d.Published, Emailed: d.Emailed})
}
