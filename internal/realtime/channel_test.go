package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

var errStreamClosed = errors.New("stream closed")

type fakeStream struct {
	events chan Event
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errs:
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.closed:
		return Event{}, errStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	name     string
	mu       sync.Mutex
	opens    int
	failures int
	opened   chan *fakeStream
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, opened: make(chan *fakeStream, 16)}
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Open(context.Context, *session.Session, []Topic) (Stream, error) {
	t.mu.Lock()
	t.opens++
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		t.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	t.mu.Unlock()
	s := newFakeStream()
	t.opened <- s
	return s, nil
}

func (t *fakeTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func testSession() *session.Session {
	return session.New("sess-1", "user-1", "sec@clinic.test", session.RoleSecretary, "clinic-a", "tok", time.Time{})
}

func fastChannel(sess *session.Session, transports ...Transport) *Channel {
	return NewChannel(sess, nil, logging.Discard(), transports...).
		WithBackoff(Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond})
}

func nextStream(t *testing.T, tr *fakeTransport) *fakeStream {
	t.Helper()
	select {
	case s := <-tr.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not opened")
		return nil
	}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, time.Second, b.Delay(5))
	assert.Equal(t, time.Second, b.Delay(100))
}

func TestChannelDeliversInOrder(t *testing.T) {
	tr := newFakeTransport("fake")
	ch := fastChannel(testSession(), tr)
	defer ch.Close()

	got := make(chan Event, 8)
	ch.Subscribe(TopicHumanHandoff, func(ev Event) { got <- ev })
	ch.Subscribe(TopicNewAppointment, func(ev Event) { got <- ev })

	require.NoError(t, ch.Start())
	s := nextStream(t, tr)
	require.Eventually(t, func() bool { return ch.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, "fake", ch.Transport())

	s.events <- Event{ID: "1", Topic: TopicHumanHandoff}
	s.events <- Event{ID: "2", Topic: TopicNewAppointment}
	s.events <- Event{ID: "3", Topic: TopicAppointmentDeleted}
	s.events <- Event{ID: "4", Topic: TopicHumanHandoff}

	assert.Equal(t, "1", nextEvent(t, got).ID)
	assert.Equal(t, "2", nextEvent(t, got).ID)
	assert.Equal(t, "4", nextEvent(t, got).ID)
}

func TestChannelReconnectsAndSignalsGap(t *testing.T) {
	tr := newFakeTransport("fake")
	ch := fastChannel(testSession(), tr)
	defer ch.Close()

	var mu sync.Mutex
	var states []State
	ch.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	gaps := make(chan Event, 4)
	ch.Subscribe(TopicGap, func(ev Event) { gaps <- ev })

	require.NoError(t, ch.Start())
	first := nextStream(t, tr)
	select {
	case <-gaps:
		t.Fatal("first connect must not signal a gap")
	case <-time.After(20 * time.Millisecond):
	}

	first.errs <- &TransportError{Transport: "fake", Err: errors.New("reset by peer")}
	nextStream(t, tr)
	gap := nextEvent(t, gaps)
	assert.Equal(t, TopicGap, gap.Topic)
	assert.Equal(t, "clinic-a", gap.TenantID)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting}, states[:4])
}

func TestChannelFallsBackToSecondTransport(t *testing.T) {
	ws := newFakeTransport("websocket")
	ws.failures = -1
	poll := newFakeTransport("polling")
	ch := fastChannel(testSession(), ws, poll)
	defer ch.Close()

	require.NoError(t, ch.Start())
	nextStream(t, poll)
	require.Eventually(t, func() bool { return ch.Transport() == "polling" }, time.Second, time.Millisecond)
	assert.Equal(t, 1, ws.Opens())
}

func TestChannelRetriesWithBackoffUntilConnected(t *testing.T) {
	tr := newFakeTransport("fake")
	tr.failures = 3
	ch := fastChannel(testSession(), tr)
	defer ch.Close()

	require.NoError(t, ch.Start())
	nextStream(t, tr)
	assert.Equal(t, 4, tr.Opens())
}

func TestChannelStopsReconnectingAfterLogout(t *testing.T) {
	sess := testSession()
	tr := newFakeTransport("fake")
	ch := fastChannel(sess, tr)

	require.NoError(t, ch.Start())
	s := nextStream(t, tr)
	sess.Logout()
	s.errs <- errors.New("server closed")

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel kept running after logout")
	}
	assert.Equal(t, 1, tr.Opens())
	assert.Equal(t, StateDisconnected, ch.State())
	ch.Close()
}

func TestChannelStartRequiresAuthenticatedSession(t *testing.T) {
	sess := testSession()
	sess.Logout()
	ch := fastChannel(sess, newFakeTransport("fake"))
	assert.ErrorIs(t, ch.Start(), ErrSessionClosed)
	ch.Close()
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	tr := newFakeTransport("fake")
	ch := fastChannel(testSession(), tr)
	require.NoError(t, ch.Start())
	nextStream(t, tr)
	ch.Close()
	ch.Close()
	assert.Equal(t, StateDisconnected, ch.State())
	assert.ErrorIs(t, ch.Start(), ErrChannelClosed)
}

func TestChannelUnsubscribe(t *testing.T) {
	tr := newFakeTransport("fake")
	ch := fastChannel(testSession(), tr)
	defer ch.Close()

	got := make(chan Event, 4)
	unsubscribe := ch.Subscribe(TopicHumanHandoff, func(ev Event) { got <- ev })
	marker := make(chan Event, 4)
	ch.Subscribe(TopicNewAppointment, func(ev Event) { marker <- ev })

	require.NoError(t, ch.Start())
	s := nextStream(t, tr)
	unsubscribe()
	unsubscribe()
	s.events <- Event{ID: "h", Topic: TopicHumanHandoff}
	s.events <- Event{ID: "m", Topic: TopicNewAppointment}

	assert.Equal(t, "m", nextEvent(t, marker).ID)
	assert.Empty(t, got)
}

func TestChannelDispatchesInSubscriptionOrderAfterChurn(t *testing.T) {
	tr := newFakeTransport("fake")
	ch := fastChannel(testSession(), tr)
	defer ch.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(Event) {
		return func(Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	for i := 0; i < 50; i++ {
		ch.Subscribe(TopicNewAppointment, record("churn"))()
	}
	ch.Subscribe(TopicNewAppointment, record("first"))
	dropped := ch.Subscribe(TopicNewAppointment, record("dropped"))
	ch.Subscribe(TopicNewAppointment, record("second"))
	dropped()

	states := make(chan State, 8)
	ch.OnStateChange(func(s State) { states <- s })

	require.NoError(t, ch.Start())
	s := nextStream(t, tr)
	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateConnected, <-states)

	done := make(chan Event, 1)
	ch.Subscribe(TopicNewAppointment, func(ev Event) { done <- ev })
	s.events <- Event{ID: "1", Topic: TopicNewAppointment}
	nextEvent(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}
