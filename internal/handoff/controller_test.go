package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fire runs timer i even if it was stopped, like a timer that raced Stop.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.fn()
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type recordingNavigator struct {
	opened []string
	err    error
}

func (n *recordingNavigator) OpenConversation(_ context.Context, phone string) error {
	n.opened = append(n.opened, phone)
	return n.err
}

func handoffCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "dentalogic_handoff_notifications_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasOutcome(metric, outcome) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasOutcome(metric *dto.Metric, outcome string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == "outcome" && lp.GetValue() == outcome {
			return true
		}
	}
	return false
}

func newTestController(clock *fakeClock, opts ...Option) *Controller {
	opts = append([]Option{WithClock(clock.Now, clock.AfterFunc)}, opts...)
	return NewController(logging.Discard(), opts...)
}

func handoff(id, phone, reason string) Notification {
	return Notification{ID: id, TenantID: "clinic-a", PhoneNumber: phone, Reason: reason}
}

func TestShowStartsVisibilityTimer(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	require.True(t, c.Show(handoff("a", "+5491111111111", "precio")))
	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "a", n.ID)
	assert.Equal(t, clock.Now(), n.ShownAt)
	require.Equal(t, 1, clock.count())
	assert.Equal(t, DefaultVisibility, clock.timers[0].d)

	clock.fire(0)
	_, ok = c.Current()
	assert.False(t, ok)
}

func TestLatestWinsAndRestartsTimer(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock, WithVisibility(2*time.Second))

	c.Show(handoff("a", "+1", "x"))
	c.Show(handoff("b", "+2", "y"))

	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", n.ID)
	require.Equal(t, 2, clock.count())
	assert.True(t, clock.timers[0].stopped)
	assert.Equal(t, 2*time.Second, clock.timers[1].d)

	// A's timer firing late must not clear B.
	clock.fire(0)
	n, ok = c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", n.ID)

	clock.fire(1)
	_, ok = c.Current()
	assert.False(t, ok)
}

func TestDismissPreventsStaleTimerFromReshowing(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	c.Show(handoff("a", "+1", "x"))
	assert.True(t, c.Dismiss())
	assert.True(t, clock.timers[0].stopped)
	assert.False(t, c.Dismiss())

	clock.fire(0)
	_, ok := c.Current()
	assert.False(t, ok)

	c.Show(handoff("b", "+2", "y"))
	clock.fire(0)
	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", n.ID)
}

func TestAcknowledgeAndNavigate(t *testing.T) {
	clock := newFakeClock()
	nav := &recordingNavigator{}
	c := newTestController(clock, WithNavigator(nav))

	assert.ErrorIs(t, c.AcknowledgeAndNavigate(context.Background()), ErrNoNotification)

	c.Show(handoff("a", "+5491122223333", "turno"))
	require.NoError(t, c.AcknowledgeAndNavigate(context.Background()))
	assert.Equal(t, []string{"+5491122223333"}, nav.opened)
	_, ok := c.Current()
	assert.False(t, ok)

	nav.err = errors.New("inbox closed")
	c.Show(handoff("b", "+2", "y"))
	assert.Error(t, c.AcknowledgeAndNavigate(context.Background()))
	_, ok = c.Current()
	assert.False(t, ok)
}

func TestRedeliveredEventDoesNotRestartTimer(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	require.True(t, c.Show(handoff("a", "+54 9 11 1111-1111", "precio")))
	assert.False(t, c.Show(handoff("a", "+9", "other")))
	assert.Equal(t, 1, clock.count())

	// Once expired the same event id may alert again.
	clock.fire(0)
	assert.True(t, c.Show(handoff("a", "+5491111111111", "precio")))
}

func TestRepeatEscalationReplacesAndRestartsTimer(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	require.True(t, c.Show(handoff("a", "+54 9 11 1111-1111", "precio")))
	require.True(t, c.Show(handoff("b", "+5491111111111", " precio ")))
	require.Equal(t, 2, clock.count())

	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)

	// The first timer belongs to a replaced generation.
	clock.fire(0)
	cur, ok = c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)

	clock.fire(1)
	_, ok = c.Current()
	assert.False(t, ok)
}

func TestSuppressedWhenConversationOpen(t *testing.T) {
	clock := newFakeClock()
	var chimes int
	var suppressed []Notification
	c := newTestController(clock,
		WithActiveConversation(func() string { return "5491122223333" }),
		WithChime(ChimeFunc(func(context.Context) error { chimes++; return nil })),
	)
	c.OnSuppressed(func(n Notification) { suppressed = append(suppressed, n) })

	assert.False(t, c.Show(handoff("a", "+54 9 11 2222-3333", "x")))
	_, ok := c.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, clock.count())
	assert.Equal(t, 0, chimes)
	require.Len(t, suppressed, 1)
	assert.Equal(t, "a", suppressed[0].ID)

	assert.True(t, c.Show(handoff("b", "+1", "x")))
}

func TestChimeFailureDoesNotAffectState(t *testing.T) {
	clock := newFakeClock()
	played := make(chan struct{}, 2)
	c := newTestController(clock, WithChime(ChimeFunc(func(context.Context) error {
		played <- struct{}{}
		panic("no audio device")
	})))

	require.True(t, c.Show(handoff("a", "+1", "x")))
	select {
	case <-played:
	case <-time.After(time.Second):
		t.Fatal("chime not attempted")
	}
	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "a", n.ID)
	assert.True(t, c.Dismiss())
}

func TestOnChangeListeners(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)

	type change struct {
		id      string
		visible bool
	}
	var changes []change
	c.OnChange(func(n Notification, visible bool) { changes = append(changes, change{n.ID, visible}) })

	c.Show(handoff("a", "+1", "x"))
	c.Show(handoff("b", "+2", "x"))
	clock.fire(1)
	c.Show(handoff("c", "+3", "x"))
	c.Dismiss()

	assert.Equal(t, []change{{"a", true}, {"b", true}, {"b", false}, {"c", true}, {"c", false}}, changes)
}

type fakeSubscriber struct {
	topic realtime.Topic
	fn    func(realtime.Event)
}

func (s *fakeSubscriber) Subscribe(topic realtime.Topic, fn func(realtime.Event)) error {
	s.topic = topic
	s.fn = fn
	return nil
}

func TestAttachConsumesHandoffEvents(t *testing.T) {
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	m := metrics.NewRealtimeMetrics(reg)
	c := newTestController(clock, WithMetrics(m))

	sub := &fakeSubscriber{}
	require.NoError(t, c.Attach(sub))
	assert.Equal(t, realtime.TopicHumanHandoff, sub.topic)

	ev, err := realtime.NewEvent("clinic-a", realtime.TopicHumanHandoff, realtime.HandoffPayload{PhoneNumber: "+5491100000000", Reason: "urgencia"})
	require.NoError(t, err)
	sub.fn(ev)
	sub.fn(realtime.Event{ID: "bad", TenantID: "clinic-a", Topic: realtime.TopicHumanHandoff, Data: []byte(`{}`)})

	n, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, ev.ID, n.ID)
	assert.Equal(t, "urgencia", n.Reason)
	assert.Equal(t, ev.Timestamp, n.EmittedAt)

	assert.Equal(t, 1.0, handoffCount(t, reg, "shown"))
	assert.Equal(t, 1.0, handoffCount(t, reg, "invalid"))
}

func TestCloseStopsTimer(t *testing.T) {
	clock := newFakeClock()
	c := newTestController(clock)
	c.Show(handoff("a", "+1", "x"))
	c.Close()
	assert.True(t, clock.timers[0].stopped)
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestRealTimerExpires(t *testing.T) {
	c := NewController(logging.Discard(), WithVisibility(20*time.Millisecond))
	c.Show(handoff("a", "+1", "x"))
	assert.Eventually(t, func() bool {
		_, ok := c.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}
