package realtime

import (
	"errors"
	"sync"

	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ErrHandleReleased is returned when a released handle is used.
var ErrHandleReleased = errors.New("realtime: handle released")

// ChannelFactory builds the channel for a session.
type ChannelFactory func(sess *session.Session) *Channel

// Multiplexer shares one Channel per session between any number of views.
// The channel is closed once no view holds it and the session has logged
// out, whichever happens last.
type Multiplexer struct {
	factory ChannelFactory
	logger  *logging.Logger

	mu      sync.Mutex
	entries map[string]*muxEntry
}

type muxEntry struct {
	sess    *session.Session
	channel *Channel
	refs    int
}

func NewMultiplexer(factory ChannelFactory, logger *logging.Logger) *Multiplexer {
	if factory == nil {
		panic("realtime: channel factory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Multiplexer{
		factory: factory,
		logger:  logger.Component("realtime.multiplexer"),
		entries: make(map[string]*muxEntry),
	}
}

// Acquire returns a handle on the session's shared channel, creating and
// starting the channel on first use.
func (m *Multiplexer) Acquire(sess *session.Session) (*Handle, error) {
	if !sess.Authenticated() {
		return nil, ErrSessionClosed
	}
	m.mu.Lock()
	e, ok := m.entries[sess.ID]
	if !ok {
		ch := m.factory(sess)
		if err := ch.Start(); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		e = &muxEntry{sess: sess, channel: ch}
		m.entries[sess.ID] = e
		m.logger.Debug("channel created", "session_id", sess.ID)
	}
	e.refs++
	m.mu.Unlock()

	if !ok {
		sess.OnLogout(func() { m.sessionEnded(sess.ID, e) })
	}
	return &Handle{mux: m, entry: e}, nil
}

// Release drops the handle's reference and its subscriptions. Releasing a
// handle twice has no further effect.
func (m *Multiplexer) Release(h *Handle) {
	if h == nil || !h.release() {
		return
	}
	m.mu.Lock()
	e := h.entry
	e.refs--
	closeNow := e.refs == 0 && !e.sess.Authenticated()
	if closeNow {
		m.removeLocked(e)
	}
	m.mu.Unlock()
	if closeNow {
		e.channel.Close()
	}
}

func (m *Multiplexer) sessionEnded(id string, e *muxEntry) {
	m.mu.Lock()
	closeNow := e.refs == 0
	if closeNow {
		m.removeLocked(e)
	}
	m.mu.Unlock()
	if closeNow {
		e.channel.Close()
	}
	m.logger.Debug("session ended", "session_id", id, "open_handles", !closeNow)
}

func (m *Multiplexer) removeLocked(e *muxEntry) {
	if cur, ok := m.entries[e.sess.ID]; ok && cur == e {
		delete(m.entries, e.sess.ID)
	}
}

// Open reports how many sessions currently hold a channel.
func (m *Multiplexer) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Refs reports the number of live handles on the session's channel.
func (m *Multiplexer) Refs(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[sessionID]; ok {
		return e.refs
	}
	return 0
}

// Handle is one view's claim on a shared channel.
type Handle struct {
	mux   *Multiplexer
	entry *muxEntry

	mu       sync.Mutex
	released bool
	unsubs   []func()
}

// Channel returns the shared channel.
func (h *Handle) Channel() *Channel { return h.entry.channel }

// Subscribe registers fn for topic for as long as the handle is held.
func (h *Handle) Subscribe(topic Topic, fn func(Event)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrHandleReleased
	}
	h.unsubs = append(h.unsubs, h.entry.channel.Subscribe(topic, fn))
	return nil
}

// Release is shorthand for Multiplexer.Release(h).
func (h *Handle) Release() { h.mux.Release(h) }

func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	return true
}
