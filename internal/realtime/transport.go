package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
)

func authHeaders(sess *session.Session) http.Header {
	h := http.Header{}
	if sess.Token != "" {
		h.Set("Authorization", "Bearer "+sess.Token)
	}
	if sess.TenantID != "" {
		h.Set("X-Tenant-Id", sess.TenantID)
	}
	return h
}

func topicNames(topics []Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}

// WebSocketTransport connects to the hub's /ws endpoint.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewWebSocketTransport derives the socket URL from the API base URL.
func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WebSocketTransport{
		URL:    u + "/ws",
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Open(ctx context.Context, sess *session.Session, topics []Topic) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, authHeaders(sess))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	msg := ClientMessage{Action: "subscribe", Topics: topicNames(topics)}
	if err := conn.WriteJSON(msg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &wsStream{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop func() bool
	once sync.Once
}

func (s *wsStream) Recv(ctx context.Context) (Event, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, &TransportError{Transport: "websocket", Err: err}
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		s.stop()
		err = s.conn.Close()
	})
	return err
}

// PollingTransport long-polls the hub's /events/poll endpoint.
type PollingTransport struct {
	BaseURL    string
	HTTPClient *http.Client
	// Wait is how long the server may hold each poll.
	Wait time.Duration
}

func NewPollingTransport(baseURL string) *PollingTransport {
	return &PollingTransport{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 40 * time.Second},
		Wait:       25 * time.Second,
	}
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) Open(ctx context.Context, sess *session.Session, topics []Topic) (Stream, error) {
	s := &pollStream{transport: t, sess: sess, topics: topics}
	resp, err := s.poll(ctx, "")
	if err != nil {
		return nil, err
	}
	s.cursor = resp.Cursor
	return s, nil
}

type pollStream struct {
	transport *PollingTransport
	sess      *session.Session
	topics    []Topic
	cursor    uint64
	pending   []Event
}

func (s *pollStream) poll(ctx context.Context, cursor string) (PollResponse, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
		q.Set("wait", strconv.Itoa(int(s.transport.Wait/time.Second)))
	}
	if len(s.topics) > 0 {
		q.Set("topics", strings.Join(topicNames(s.topics), ","))
	}
	endpoint := s.transport.BaseURL + "/events/poll"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PollResponse{}, err
	}
	req.Header = authHeaders(s.sess)
	req.Header.Set("Accept", "application/json")

	client := s.transport.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return PollResponse{}, &TransportError{Transport: "polling", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PollResponse{}, &TransportError{
			Transport: "polling",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	var out PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PollResponse{}, &TransportError{Transport: "polling", Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

func (s *pollStream) Recv(ctx context.Context) (Event, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		resp, err := s.poll(ctx, strconv.FormatUint(s.cursor, 10))
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, err
		}
		if resp.Cursor < s.cursor {
			return Event{}, &TransportError{Transport: "polling", Err: errors.New("server cursor went backwards")}
		}
		s.cursor = resp.Cursor
		if resp.Gap {
			s.pending = append(s.pending, Event{Type: string(TopicGap), Topic: TopicGap, TenantID: s.sess.TenantID, Timestamp: time.Now().UTC()})
		}
		s.pending = append(s.pending, resp.Events...)
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *pollStream) Close() error { return nil }
