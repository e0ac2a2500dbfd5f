package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ErrSessionClosed is returned when a channel is requested for a session
// that has logged out.
var ErrSessionClosed = errors.New("realtime: session closed")

// ErrChannelClosed is returned by Start after Close.
var ErrChannelClosed = errors.New("realtime: channel closed")

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Stream is one live connection opened by a Transport.
type Stream interface {
	// Recv blocks for the next event. Errors end the stream.
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Transport opens streams for a session.
type Transport interface {
	Name() string
	Open(ctx context.Context, sess *session.Session, topics []Topic) (Stream, error)
}

// Backoff is a capped exponential delay.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := b.Base * time.Duration(1<<attempt)
	if delay <= 0 || delay > b.Max {
		delay = b.Max
	}
	return delay
}

type subscriber struct {
	id    uint64
	topic Topic
	fn    func(Event)
}

// Channel keeps one live connection for a session. Transports are tried in
// order on every (re)connect. Events are handed to subscribers one at a time
// in the order they were received. After any reconnect a TopicGap event is
// delivered since events may have been lost while disconnected.
type Channel struct {
	sess       *session.Session
	transports []Transport
	topics     []Topic
	backoff    Backoff
	metrics    *metrics.RealtimeMetrics
	logger     *logging.Logger

	mu        sync.Mutex
	state     State
	listeners []func(State)
	subs      []subscriber // live, in subscription order
	nextSub   uint64
	connects  int
	transport string
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewChannel(sess *session.Session, topics []Topic, logger *logging.Logger, transports ...Transport) *Channel {
	if logger == nil {
		logger = logging.Default()
	}
	if len(topics) == 0 {
		topics = DefaultTopics()
	}
	return &Channel{
		sess:       sess,
		transports: transports,
		topics:     topics,
		backoff:    DefaultBackoff(),
		logger:     logger.Component("realtime.channel"),
		done:       make(chan struct{}),
	}
}

func (c *Channel) WithBackoff(b Backoff) *Channel {
	if b.Base > 0 && b.Max >= b.Base {
		c.backoff = b
	}
	return c
}

func (c *Channel) WithMetrics(m *metrics.RealtimeMetrics) *Channel {
	c.metrics = m
	return c
}

// Start begins connecting. It fails if the session is not authenticated.
// Calling it again is a no-op.
func (c *Channel) Start() error {
	if !c.sess.Authenticated() {
		return ErrSessionClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.started {
		return nil
	}
	if len(c.transports) == 0 {
		return errors.New("realtime: no transports configured")
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
	return nil
}

// Close tears the connection down and stops reconnecting. It waits for the
// connection loop to exit.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if !started {
		close(c.done)
		return
	}
	cancel()
	<-c.done
}

// Done is closed once the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport names the transport of the current connection, if any.
func (c *Channel) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ""
	}
	return c.transport
}

// OnStateChange registers fn for every state transition. It runs on the
// connection goroutine and must not block.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Subscribe delivers events of topic to fn until the returned func is
// called. fn runs on the connection goroutine.
func (c *Channel) Subscribe(topic Topic, fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, topic: topic, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
			c.mu.Unlock()
		})
	}
}

func (c *Channel) setState(s State, transport string) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.transport = transport
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	var fns []func(Event)
	for _, sub := range c.subs {
		if sub.topic == ev.Topic {
			fns = append(fns, sub.fn)
		}
	}
	c.mu.Unlock()
	c.metrics.ObserveEvent(string(ev.Topic), "in")
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Channel) gap() {
	c.dispatch(Event{Type: string(TopicGap), Topic: TopicGap, TenantID: c.sess.TenantID, Timestamp: time.Now().UTC()})
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected, "")

	attempt := 0
	for ctx.Err() == nil && c.sess.Authenticated() {
		c.setState(StateConnecting, "")
		stream, name, err := c.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setState(StateDisconnected, "")
			c.logger.Warn("realtime connect failed", "error", err, "attempt", attempt)
			if !c.wait(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.connects++
		reconnected := c.connects > 1
		c.mu.Unlock()
		c.setState(StateConnected, name)
		c.metrics.ConnectionOpened(name)
		if reconnected {
			c.metrics.ObserveReconnect()
			c.gap()
		}

		err = c.pump(ctx, stream)
		_ = stream.Close()
		c.metrics.ConnectionClosed(name)
		c.setState(StateDisconnected, "")
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("realtime connection lost", "transport", name, "error", err)
		if !c.wait(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (c *Channel) open(ctx context.Context) (Stream, string, error) {
	var errs []error
	for _, t := range c.transports {
		stream, err := t.Open(ctx, c.sess, c.topics)
		if err == nil {
			return stream, t.Name(), nil
		}
		errs = append(errs, &TransportError{Transport: t.Name(), Err: err})
	}
	return nil, "", errors.Join(errs...)
}

func (c *Channel) pump(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		c.dispatch(ev)
	}
}

// wait sleeps for the backoff delay. It returns false if the channel should
// stop instead of reconnecting.
func (c *Channel) wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(c.backoff.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.sess.Done():
		return false
	case <-timer.C:
		return c.sess.Authenticated()
	}
}
