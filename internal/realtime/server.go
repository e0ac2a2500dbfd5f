package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	httpmiddleware "github.com/adriangmrraa/dentalogic-sub000/internal/http/middleware"
	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 4096
	defaultPollWait  = 25 * time.Second
	pollerSeenWindow = 45 * time.Second
)

// Server exposes the hub over /ws and /events/poll. Both endpoints expect a
// session in the request context.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	pollWait time.Duration
	metrics  *metrics.RealtimeMetrics
	logger   *logging.Logger

	mu      sync.Mutex
	pollers map[subKey]time.Time
	now     func() time.Time
}

func NewServer(hub *Hub, allowedOrigins []string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		hub:      hub,
		pollWait: defaultPollWait,
		logger:   logger,
		pollers:  make(map[subKey]time.Time),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

func (s *Server) WithMetrics(m *metrics.RealtimeMetrics) *Server {
	s.metrics = m
	return s
}

// WithPollWait bounds how long a poll request is held open.
func (s *Server) WithPollWait(d time.Duration) *Server {
	if d > 0 {
		s.pollWait = d
	}
	return s
}

// originChecker admits same-origin and non-browser clients, and browsers
// from the allowlist. An empty allowlist admits everyone.
func originChecker(allowed []string) func(*http.Request) bool {
	origins := httpmiddleware.ParseOrigins(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins.Empty() || origins.Allows(origin)
	}
}

// HasViewers reports whether any socket client or recent poller of the
// tenant listens to topic on this instance.
func (s *Server) HasViewers(_ context.Context, tenantID string, topic Topic) bool {
	if s.hub.TopicCount(tenantID, topic) > 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.pollers[subKey{tenantID: tenantID, topic: topic}]
	return ok && s.now().Sub(seen) < pollerSeenWindow
}

// Viewers lists socket subscriptions plus pollers seen recently. Stale
// pollers are forgotten.
func (s *Server) Viewers() []Viewer {
	out := s.hub.Viewers()
	seen := make(map[Viewer]struct{}, len(out))
	for _, v := range out {
		seen[v] = struct{}{}
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.pollers {
		if now.Sub(at) >= pollerSeenWindow {
			delete(s.pollers, k)
			continue
		}
		v := Viewer{TenantID: k.tenantID, Topic: k.topic}
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) touchPollers(tenantID string, topics []Topic) {
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.pollers[subKey{tenantID: tenantID, topic: t}] = now
	}
}

func parseTopics(raw string) []Topic {
	if raw == "" {
		return nil
	}
	var out []Topic
	for _, part := range strings.Split(raw, ",") {
		if t, err := ParseTopic(part); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// HandleWebSocket upgrades the connection and pumps the tenant's events to it.
// Topics may be given up front with ?topics=; more can be requested with
// {"action":"subscribe","topics":[...]} messages.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok || !sess.Authenticated() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(sess.TenantID, defaultSendBuffer)
	s.hub.Register(client, parseTopics(r.URL.Query().Get("topics"))...)
	s.metrics.ConnectionOpened("websocket")
	s.logger.Info("realtime client connected", "client_id", client.ID, "tenant_id", sess.TenantID, "user_id", sess.UserID)

	go s.writePump(conn, client, sess)
	s.readPump(conn, client)

	s.metrics.ConnectionClosed("websocket")
	s.logger.Info("realtime client disconnected", "client_id", client.ID, "tenant_id", sess.TenantID)
}

func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.hub.Unregister(client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.hub.ProcessMessage(client, msg)
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *Client, sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logged out"))
			return
		}
	}
}

// PollResponse is the body of /events/poll.
type PollResponse struct {
	Events []Event `json:"events"`
	Cursor uint64  `json:"cursor"`
	Gap    bool    `json:"gap,omitempty"`
}

// HandlePoll is the long-poll fallback. Without a cursor it returns the
// current cursor immediately; with one it waits for newer events of the
// caller's tenant.
func (s *Server) HandlePoll(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok || !sess.Authenticated() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	topics := parseTopics(q.Get("topics"))
	s.touchPollers(sess.TenantID, topics)

	backlog := s.hub.Backlog()
	rawCursor := q.Get("cursor")
	if rawCursor == "" {
		writeJSON(w, http.StatusOK, PollResponse{Events: []Event{}, Cursor: backlog.Cursor()})
		return
	}
	cursor, err := strconv.ParseUint(rawCursor, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
		return
	}
	wait := s.pollWait
	if raw := q.Get("wait"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 && time.Duration(secs)*time.Second < wait {
			wait = time.Duration(secs) * time.Second
		}
	}

	events, next, gap := backlog.Wait(r.Context(), sess.TenantID, cursor, topics, wait)
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, PollResponse{Events: events, Cursor: next, Gap: gap})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
