// Package handoff presents human-handoff requests to console users and,
// server side, makes sure a request nobody is watching still reaches the
// clinic.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

const (
	DefaultVisibility = 5 * time.Second
	chimeTimeout      = 3 * time.Second
)

var ErrNoNotification = errors.New("handoff: no notification displayed")

// Notification is the handoff currently shown to the user.
type Notification struct {
	ID          string
	TenantID    string
	PhoneNumber string
	Reason      string
	EmittedAt   time.Time
	ShownAt     time.Time
}

// Navigator opens the conversation of a phone number in the host.
type Navigator interface {
	OpenConversation(ctx context.Context, phoneNumber string) error
}

// Chime plays the audible alert.
type Chime interface {
	Play(ctx context.Context) error
}

// ChimeFunc adapts a function to Chime.
type ChimeFunc func(ctx context.Context) error

func (f ChimeFunc) Play(ctx context.Context) error { return f(ctx) }

// Subscriber is a source of realtime events, usually a multiplexer handle.
type Subscriber interface {
	Subscribe(topic realtime.Topic, fn func(realtime.Event)) error
}

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// Controller keeps at most one visible notification. A new handoff replaces
// the current one and restarts its visibility timer; a timer only clears the
// notification it was started for.
type Controller struct {
	visibility time.Duration
	navigator  Navigator
	chime      Chime
	active     func() string
	now        func() time.Time
	afterFunc  func(time.Duration, func()) Timer
	metrics    *metrics.RealtimeMetrics
	logger     *logging.Logger

	mu         sync.Mutex
	current    *Notification
	generation uint64
	timer      Timer
	onChange   []func(Notification, bool)
	onSuppress []func(Notification)
}

type Option func(*Controller)

func WithVisibility(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.visibility = d
		}
	}
}

func WithNavigator(n Navigator) Option {
	return func(c *Controller) { c.navigator = n }
}

func WithChime(ch Chime) Option {
	return func(c *Controller) { c.chime = ch }
}

// WithActiveConversation reports the phone number of the conversation the
// host is showing, or "" when none.
func WithActiveConversation(fn func() string) Option {
	return func(c *Controller) { c.active = fn }
}

func WithMetrics(m *metrics.RealtimeMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now and time.AfterFunc.
func WithClock(now func() time.Time, afterFunc func(time.Duration, func()) Timer) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
		if afterFunc != nil {
			c.afterFunc = afterFunc
		}
	}
}

func NewController(logger *logging.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Controller{
		visibility: DefaultVisibility,
		now:        time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to run after every state change with the new
// notification and whether one is visible.
func (c *Controller) OnChange(fn func(Notification, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnSuppressed registers fn for handoffs not shown because the user is
// already in that conversation.
func (c *Controller) OnSuppressed(fn func(Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuppress = append(c.onSuppress, fn)
}

// Attach feeds HUMAN_HANDOFF events from sub into the controller.
func (c *Controller) Attach(sub Subscriber) error {
	return sub.Subscribe(realtime.TopicHumanHandoff, c.HandleEvent)
}

// HandleEvent decodes and shows a handoff event. Malformed events are
// counted and dropped.
func (c *Controller) HandleEvent(ev realtime.Event) {
	p, err := ev.Handoff()
	if err != nil {
		c.metrics.ObserveHandoff("invalid")
		c.logger.Warn("dropping malformed handoff event", "event_id", ev.ID, "error", err)
		return
	}
	c.Show(Notification{
		ID:          ev.ID,
		TenantID:    ev.TenantID,
		PhoneNumber: p.PhoneNumber,
		Reason:      p.Reason,
		EmittedAt:   p.EmittedAt,
	})
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// duplicateLocked matches redeliveries of the visible event only. A repeat
// escalation from the same patient carries a new id and replaces it.
func (c *Controller) duplicateLocked(n Notification) bool {
	return c.current != nil && n.ID != "" && n.ID == c.current.ID
}

// Show displays n, replacing any current notification. It reports whether
// the notification is now visible.
func (c *Controller) Show(n Notification) bool {
	if c.active != nil {
		if open := normalizePhone(c.active()); open != "" && open == normalizePhone(n.PhoneNumber) {
			c.metrics.ObserveHandoff("suppressed")
			c.logger.Debug("handoff suppressed, conversation already open", "event_id", n.ID)
			c.mu.Lock()
			listeners := append([]func(Notification){}, c.onSuppress...)
			c.mu.Unlock()
			for _, fn := range listeners {
				fn(n)
			}
			return false
		}
	}

	c.mu.Lock()
	if c.duplicateLocked(n) {
		c.mu.Unlock()
		c.metrics.ObserveHandoff("duplicate")
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	gen := c.generation
	n.ShownAt = c.now()
	c.current = &n
	c.timer = c.afterFunc(c.visibility, func() { c.expire(gen) })
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.metrics.ObserveHandoff("shown")
	c.logger.Info("handoff notification shown", "event_id", n.ID, "tenant_id", n.TenantID)
	c.playChime()
	notifyAll(listeners, n, true)
	return true
}

func (c *Controller) listenersLocked() []func(Notification, bool) {
	return append([]func(Notification, bool){}, c.onChange...)
}

func notifyAll(listeners []func(Notification, bool), n Notification, visible bool) {
	for _, fn := range listeners {
		fn(n, visible)
	}
}

func (c *Controller) playChime() {
	if c.chime == nil {
		return
	}
	chime := c.chime
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("handoff chime panicked", "panic", fmt.Sprint(r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), chimeTimeout)
		defer cancel()
		if err := chime.Play(ctx); err != nil {
			c.logger.Debug("handoff chime failed", "error", err)
		}
	}()
}

// Current returns the visible notification, if any.
func (c *Controller) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// clearLocked drops the current notification and invalidates its timer.
func (c *Controller) clearLocked() (Notification, bool) {
	if c.current == nil {
		return Notification{}, false
	}
	n := *c.current
	c.current = nil
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return n, true
}

func (c *Controller) clear(outcome string) (Notification, bool) {
	c.mu.Lock()
	n, ok := c.clearLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	if !ok {
		return Notification{}, false
	}
	c.metrics.ObserveHandoff(outcome)
	notifyAll(listeners, n, false)
	return n, true
}

// Dismiss hides the current notification. It reports whether one was shown.
func (c *Controller) Dismiss() bool {
	_, ok := c.clear("dismissed")
	return ok
}

// AcknowledgeAndNavigate hides the current notification and asks the host
// to open its conversation.
func (c *Controller) AcknowledgeAndNavigate(ctx context.Context) error {
	n, ok := c.clear("acknowledged")
	if !ok {
		return ErrNoNotification
	}
	if c.navigator == nil {
		return nil
	}
	if err := c.navigator.OpenConversation(ctx, n.PhoneNumber); err != nil {
		return fmt.Errorf("handoff: open conversation: %w", err)
	}
	return nil
}

func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.current == nil {
		c.mu.Unlock()
		return
	}
	n, _ := c.clearLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.metrics.ObserveHandoff("expired")
	notifyAll(listeners, n, false)
}

// Close stops the pending timer without notifying listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}
