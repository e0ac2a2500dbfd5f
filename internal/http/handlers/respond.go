package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/records"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeUpstreamError maps errors from the records service onto the
// response. Rejections keep the upstream status and message verbatim.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var rejection *bookings.UpstreamRejection
	switch {
	case errors.As(err, &rejection):
		writeJSON(w, rejection.Status, map[string]string{"error": "upstream_rejected", "detail": rejection.Detail})
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusBadGateway, "records service unavailable")
	}
}
