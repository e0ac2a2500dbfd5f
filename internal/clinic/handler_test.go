package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func request(t *testing.T, h http.Handler, method string, body any, sess *session.Session) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/", &buf)
	if sess != nil {
		req = req.WithContext(session.WithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerGetConfig(t *testing.T) {
	store, _ := newTestStore(t)
	h := NewHandler(store, logging.Discard()).Routes()

	rec := request(t, h, http.MethodGet, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := session.New("s1", "u1", "", session.RoleSecretary, "clinic-a", "tok", time.Time{})
	rec = request(t, h, http.MethodGet, nil, sess)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "clinic-a", cfg.TenantID)
	assert.Equal(t, availability.Sunday, cfg.RestDay)
}

func TestHandlerUpdateConfig(t *testing.T) {
	store, _ := newTestStore(t)
	h := NewHandler(store, logging.Discard()).Routes()
	ceo := session.New("s1", "u1", "", session.RoleCEO, "clinic-a", "tok", time.Time{})

	rec := request(t, h, http.MethodPut, map[string]any{
		"name":     "Sonrisas",
		"rest_day": "saturday",
		"notifications": map[string]any{
			"email_enabled":     true,
			"email_recipients":  []string{"ana@clinic.test"},
			"notify_on_handoff": true,
		},
	}, ceo)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	saved, err := store.Get(context.Background(), "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, "Sonrisas", saved.Name)
	assert.Equal(t, availability.Saturday, saved.RestDay)
	assert.Equal(t, DefaultTimezone, saved.Timezone)
	assert.Equal(t, []string{"ana@clinic.test"}, saved.Notifications.Recipients())
}

func TestHandlerUpdateConfigRejects(t *testing.T) {
	store, _ := newTestStore(t)
	h := NewHandler(store, logging.Discard()).Routes()
	ceo := session.New("s1", "u1", "", session.RoleCEO, "clinic-a", "tok", time.Time{})
	secretary := session.New("s2", "u2", "", session.RoleSecretary, "clinic-a", "tok", time.Time{})

	rec := request(t, h, http.MethodPut, map[string]any{"name": "x"}, secretary)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = request(t, h, http.MethodPut, map[string]any{"timezone": "Mars/Olympus"}, ceo)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/", bytes.NewBufferString("{"))
	req = req.WithContext(session.WithSession(req.Context(), ceo))
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	cfg, err := store.Get(context.Background(), "clinic-a")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
}
