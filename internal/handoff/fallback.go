package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/notify"
	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ViewerChecker tells whether any console of the tenant listens to topic.
type ViewerChecker interface {
	HasViewers(ctx context.Context, tenantID string, topic realtime.Topic) bool
}

// AlertNotifier emails the clinic about an unseen handoff.
type AlertNotifier interface {
	NotifyHandoff(ctx context.Context, tenantID string, alert notify.HandoffAlert) (bool, error)
}

// Delivery describes what happened to one handoff.
type Delivery struct {
	Event     realtime.Event
	Published bool
	Emailed   bool
}

// Fallback publishes handoffs to the realtime channel and emails the clinic
// when the push could not reach anyone.
type Fallback struct {
	publisher realtime.Publisher
	viewers   ViewerChecker
	notifier  AlertNotifier
	metrics   *metrics.RealtimeMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewFallback requires a publisher. A nil viewers checker means every
// published handoff is assumed seen; a nil notifier disables email.
func NewFallback(publisher realtime.Publisher, viewers ViewerChecker, notifier AlertNotifier, logger *logging.Logger) *Fallback {
	if publisher == nil {
		panic("handoff: publisher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fallback{
		publisher: publisher,
		viewers:   viewers,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

func (f *Fallback) WithMetrics(m *metrics.RealtimeMetrics) *Fallback {
	f.metrics = m
	return f
}

// Deliver publishes p for tenantID and falls back to email when there is
// no viewer or the publish fails. It errors only when neither path worked.
func (f *Fallback) Deliver(ctx context.Context, tenantID string, p realtime.HandoffPayload) (Delivery, error) {
	if p.EmittedAt.IsZero() {
		p.EmittedAt = f.now().UTC()
	}
	ev, err := realtime.NewEvent(tenantID, realtime.TopicHumanHandoff, p)
	if err != nil {
		return Delivery{}, fmt.Errorf("handoff: build event: %w", err)
	}
	return f.DeliverEvent(ctx, ev)
}

// DeliverEvent is Deliver for an event that already has an id, such as one
// read from a queue.
func (f *Fallback) DeliverEvent(ctx context.Context, ev realtime.Event) (Delivery, error) {
	p, err := ev.Handoff()
	if err != nil {
		f.metrics.ObserveHandoff("invalid")
		return Delivery{}, err
	}
	if ev.TenantID == "" {
		f.metrics.ObserveHandoff("invalid")
		return Delivery{}, fmt.Errorf("handoff: event %s has no tenant", ev.ID)
	}

	d := Delivery{Event: ev}
	pubErr := f.publisher.Publish(ctx, ev)
	if pubErr != nil {
		f.logger.Warn("handoff publish failed", "error", pubErr, "event_id", ev.ID, "tenant_id", ev.TenantID)
	} else {
		d.Published = true
	}

	seen := d.Published && (f.viewers == nil || f.viewers.HasViewers(ctx, ev.TenantID, realtime.TopicHumanHandoff))
	if seen {
		f.metrics.ObserveHandoff("delivered")
		return d, nil
	}
	if f.notifier == nil {
		f.metrics.ObserveHandoff("unseen")
		if pubErr != nil {
			return d, fmt.Errorf("handoff: publish: %w", pubErr)
		}
		f.logger.Warn("handoff has no viewer and email fallback is off", "event_id", ev.ID, "tenant_id", ev.TenantID)
		return d, nil
	}

	emailed, mailErr := f.notifier.NotifyHandoff(ctx, ev.TenantID, notify.HandoffAlert{
		PhoneNumber: p.PhoneNumber,
		Reason:      p.Reason,
		ReceivedAt:  p.EmittedAt,
	})
	d.Emailed = emailed
	if emailed {
		f.metrics.ObserveHandoff("emailed")
		f.logger.Info("handoff sent by email", "event_id", ev.ID, "tenant_id", ev.TenantID, "published", d.Published)
	} else {
		f.metrics.ObserveHandoff("unseen")
	}

	switch {
	case d.Published || d.Emailed:
		if mailErr != nil {
			f.logger.Warn("handoff email partially failed", "error", mailErr, "event_id", ev.ID)
		}
		return d, nil
	case mailErr != nil:
		return d, fmt.Errorf("handoff: publish: %w; email: %w", pubErr, mailErr)
	default:
		return d, fmt.Errorf("handoff: publish: %w", pubErr)
	}
}
