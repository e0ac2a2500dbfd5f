package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

const defaultSendBuffer = 64

// Publisher accepts events for fanout.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Client is one connected viewer. Send is closed by the hub on Unregister.
type Client struct {
	ID       string
	TenantID string
	Send     chan []byte

	topics map[Topic]struct{}
}

func NewClient(tenantID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Send:     make(chan []byte, buffer),
		topics:   make(map[Topic]struct{}),
	}
}

type subKey struct {
	tenantID string
	topic    Topic
}

// Hub routes events to the clients of the event's tenant that subscribed to
// its topic. A client whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[subKey]map[*Client]struct{}
	all     map[*Client]struct{}
	backlog *Backlog
	metrics *metrics.RealtimeMetrics
	logger  *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		subs:    make(map[subKey]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		backlog: NewBacklog(defaultBacklogSize),
		logger:  logger,
	}
}

func (h *Hub) WithBacklog(b *Backlog) *Hub {
	if b != nil {
		h.backlog = b
	}
	return h
}

func (h *Hub) WithMetrics(m *metrics.RealtimeMetrics) *Hub {
	h.metrics = m
	return h
}

func (h *Hub) Backlog() *Backlog { return h.backlog }

// Register adds a client and subscribes it to topics.
func (h *Hub) Register(c *Client, topics ...Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	h.subscribeLocked(c, topics)
}

// Unregister removes the client from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics ...Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	h.subscribeLocked(c, topics)
}

func (h *Hub) Unsubscribe(c *Client, topics ...Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(c, topic)
	}
}

func (h *Hub) subscribeLocked(c *Client, topics []Topic) {
	for _, topic := range topics {
		key := subKey{tenantID: c.TenantID, topic: topic}
		if h.subs[key] == nil {
			h.subs[key] = make(map[*Client]struct{})
		}
		h.subs[key][c] = struct{}{}
		c.topics[topic] = struct{}{}
	}
}

func (h *Hub) removeLocked(c *Client, topic Topic) {
	key := subKey{tenantID: c.TenantID, topic: topic}
	if set, ok := h.subs[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	delete(c.topics, topic)
}

// ProcessMessage applies a subscribe or unsubscribe request. Unknown topics
// are ignored.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	topics := make([]Topic, 0, len(msg.Topics))
	for _, raw := range msg.Topics {
		t, err := ParseTopic(raw)
		if err != nil {
			h.logger.Debug("ignoring unknown topic", "client_id", c.ID, "topic", raw)
			continue
		}
		topics = append(topics, t)
	}
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, topics...)
	case "unsubscribe":
		h.Unsubscribe(c, topics...)
	default:
		h.logger.Debug("ignoring client message", "client_id", c.ID, "action", msg.Action)
	}
}

// Publish records the event in the backlog and sends it to every subscribed
// client of the same tenant.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	ev = h.backlog.Append(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	h.metrics.ObserveEvent(string(ev.Topic), "out")

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[subKey{tenantID: ev.TenantID, topic: ev.Topic}] {
		select {
		case c.Send <- data:
		default:
			h.metrics.ObserveDropped()
			h.logger.Warn("client buffer full, event dropped", "client_id", c.ID, "topic", ev.Topic)
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of the tenant's clients subscribed to topic.
func (h *Hub) TopicCount(tenantID string, topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[subKey{tenantID: tenantID, topic: topic}])
}

// Viewer is a tenant listening to a topic.
type Viewer struct {
	TenantID string
	Topic    Topic
}

// Viewers lists the tenant/topic pairs with at least one socket client.
func (h *Hub) Viewers() []Viewer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Viewer, 0, len(h.subs))
	for k, clients := range h.subs {
		if len(clients) > 0 {
			out = append(out, Viewer{TenantID: k.tenantID, Topic: k.topic})
		}
	}
	return out
}
