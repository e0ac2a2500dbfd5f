package realtime

import (
	"context"
	"sync"
	"time"
)

const defaultBacklogSize = 256

// Backlog keeps the most recent events per tenant for polling viewers.
// Sequence numbers are global and strictly increasing, so a cursor from one
// poll can be handed to the next.
type Backlog struct {
	mu      sync.Mutex
	size    int
	seq     uint64
	tenants map[string]*ring
	wake    chan struct{}
}

type ring struct {
	buf   []Event
	start int
	n     int

	// evicted is the Seq of the newest event pushed out of the ring.
	evicted uint64
}

func (r *ring) push(ev Event) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = ev
		r.n++
		return
	}
	r.evicted = r.buf[r.start].Seq
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) each(fn func(Event)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = defaultBacklogSize
	}
	return &Backlog{
		size:    size,
		tenants: make(map[string]*ring),
		wake:    make(chan struct{}),
	}
}

// Append stamps ev with the next sequence number and stores it.
func (b *Backlog) Append(ev Event) Event {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	r, ok := b.tenants[ev.TenantID]
	if !ok {
		r = &ring{buf: make([]Event, b.size)}
		b.tenants[ev.TenantID] = r
	}
	r.push(ev)
	wake := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()

	close(wake)
	return ev
}

// Cursor is the sequence number of the newest stored event.
func (b *Backlog) Cursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Since returns the tenant's stored events with Seq > cursor on the given
// topics (all topics when empty), in order, and the cursor to poll with next.
// If the cursor is older than the oldest retained event, gap is true.
func (b *Backlog) Since(tenantID string, cursor uint64, topics []Topic) (events []Event, next uint64, gap bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(tenantID, cursor, topics)
}

func (b *Backlog) sinceLocked(tenantID string, cursor uint64, topics []Topic) ([]Event, uint64, bool) {
	next := b.seq
	if cursor > next {
		cursor = next
	}
	r, ok := b.tenants[tenantID]
	if !ok {
		return nil, next, false
	}
	gap := cursor > 0 && cursor < r.evicted
	var out []Event
	r.each(func(ev Event) {
		if ev.Seq <= cursor || !topicIn(ev.Topic, topics) {
			return
		}
		out = append(out, ev)
	})
	return out, next, gap
}

// Wait blocks until the tenant has events after cursor, the timeout elapses
// or ctx is done, then behaves like Since.
func (b *Backlog) Wait(ctx context.Context, tenantID string, cursor uint64, topics []Topic, timeout time.Duration) ([]Event, uint64, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		events, next, gap := b.sinceLocked(tenantID, cursor, topics)
		wake := b.wake
		b.mu.Unlock()
		if len(events) > 0 || gap {
			return events, next, gap
		}
		select {
		case <-wake:
		case <-timer.C:
			return nil, next, false
		case <-ctx.Done():
			return nil, next, false
		}
	}
}

func topicIn(t Topic, topics []Topic) bool {
	if len(topics) == 0 {
		return true
	}
	for _, want := range topics {
		if want == t {
			return true
		}
	}
	return false
}
