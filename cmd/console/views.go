package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	"github.com/adriangmrraa/dentalogic-sub000/internal/handoff"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// terminal serializes writes from the connection goroutine and the
// command loop.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) bell(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.out, "\a")
	return err
}

func fetchClinicConfig(ctx context.Context, client *http.Client, baseURL string, sess *session.Session) (*clinic.Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/clinic/config", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("X-Tenant-Id", sess.TenantID)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch clinic config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch clinic config: status %d", resp.StatusCode)
	}
	var cfg clinic.Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode clinic config: %w", err)
	}
	return &cfg, nil
}

var topicLabels = map[realtime.Topic]string{
	realtime.TopicNewAppointment:     "new",
	realtime.TopicAppointmentUpdated: "updated",
	realtime.TopicAppointmentDeleted: "cancelled",
}

type agendaView struct {
	handle *realtime.Handle
	term   *terminal
	loc    *time.Location
	logger *logging.Logger
}

func openAgenda(mux *realtime.Multiplexer, sess *session.Session, term *terminal, loc *time.Location, logger *logging.Logger) (*agendaView, error) {
	h, err := mux.Acquire(sess)
	if err != nil {
		return nil, err
	}
	v := &agendaView{handle: h, term: term, loc: loc, logger: logger}
	for _, topic := range realtime.BookingTopics() {
		if err := h.Subscribe(topic, v.onBooking); err != nil {
			h.Release()
			return nil, err
		}
	}
	if err := h.Subscribe(realtime.TopicGap, func(realtime.Event) {
		term.printf("[agenda] reconnected; changes may have been missed, reload the agenda")
	}); err != nil {
		h.Release()
		return nil, err
	}
	return v, nil
}

func (v *agendaView) onBooking(ev realtime.Event) {
	appt, err := ev.Appointment()
	if err != nil {
		v.logger.Warn("dropping malformed booking event", "event_id", ev.ID, "error", err)
		return
	}
	v.term.printf("[agenda] %s: professional %s, %s (%d min) %s",
		topicLabels[ev.Topic],
		appt.ProfessionalID,
		appt.Start.In(v.loc).Format("Mon 02/01 15:04"),
		appt.DurationMinutes,
		appt.TreatmentCode,
	)
}

func (v *agendaView) Close() {
	v.handle.Release()
}

// inboxView shows handoffs and remembers which conversation is open.
type inboxView struct {
	handle *realtime.Handle
	ctrl   *handoff.Controller
	term   *terminal
	loc    *time.Location

	mu     sync.Mutex
	active string
}

func openInbox(mux *realtime.Multiplexer, sess *session.Session, term *terminal, loc *time.Location, visibility time.Duration, logger *logging.Logger) (*inboxView, error) {
	v := &inboxView{term: term, loc: loc}
	v.ctrl = handoff.NewController(logger,
		handoff.WithVisibility(visibility),
		handoff.WithNavigator(v),
		handoff.WithChime(handoff.ChimeFunc(term.bell)),
		handoff.WithActiveConversation(v.activeConversation),
	)
	v.ctrl.OnChange(func(n handoff.Notification, visible bool) {
		if visible {
			term.printf("[handoff] %s needs a human: %s (%s)", n.PhoneNumber, n.Reason, n.EmittedAt.In(loc).Format("15:04"))
			return
		}
		term.printf("[handoff] %s cleared", n.PhoneNumber)
	})
	v.ctrl.OnSuppressed(func(n handoff.Notification) {
		term.printf("[inbox] %s asked for a human in this conversation", n.PhoneNumber)
	})

	h, err := mux.Acquire(sess)
	if err != nil {
		return nil, err
	}
	if err := v.ctrl.Attach(h); err != nil {
		h.Release()
		return nil, err
	}
	v.handle = h
	return v, nil
}

func (v *inboxView) OpenConversation(_ context.Context, phone string) error {
	v.mu.Lock()
	v.active = phone
	v.mu.Unlock()
	v.term.printf("[inbox] conversation with %s opened", phone)
	return nil
}

func (v *inboxView) closeConversation() {
	v.mu.Lock()
	phone := v.active
	v.active = ""
	v.mu.Unlock()
	if phone != "" {
		v.term.printf("[inbox] conversation with %s closed", phone)
	}
}

func (v *inboxView) activeConversation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *inboxView) Close() {
	v.ctrl.Close()
	v.handle.Release()
}
