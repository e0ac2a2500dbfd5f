package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/events"
	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// BookingNotifier announces appointments booked through the API. It is used
// when bookings go to the records service; the Postgres store announces
// through the outbox instead.
type BookingNotifier struct {
	publisher Publisher
	logger    *logging.Logger
}

var _ bookings.Notifier = (*BookingNotifier)(nil)

func NewBookingNotifier(publisher Publisher, logger *logging.Logger) *BookingNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{publisher: publisher, logger: logger}
}

func (n *BookingNotifier) AppointmentCreated(ctx context.Context, appt bookings.Appointment) {
	tenantID := appt.TenantID
	if tenantID == "" {
		tenantID, _ = tenancy.TenantIDFromContext(ctx)
	}
	appt.TenantID = tenantID
	ev, err := NewEvent(tenantID, TopicNewAppointment, appt)
	if err != nil {
		n.logger.Error("build appointment event", "error", err)
		return
	}
	if err := n.publisher.Publish(ctx, ev); err != nil {
		n.logger.Warn("appointment event not published", "error", err, "appointment_id", appt.ID)
	}
}

// Appointment decodes the data of a booking-change event.
func (e Event) Appointment() (bookings.Appointment, error) {
	var appt bookings.Appointment
	if err := json.Unmarshal(e.Data, &appt); err != nil {
		return bookings.Appointment{}, fmt.Errorf("realtime: decode appointment: %w", err)
	}
	return appt, nil
}

// OutboxHandler turns outbox rows into realtime events.
type OutboxHandler struct {
	publisher Publisher
}

var _ events.DeliveryHandler = (*OutboxHandler)(nil)

func NewOutboxHandler(publisher Publisher) *OutboxHandler {
	return &OutboxHandler{publisher: publisher}
}

func (h *OutboxHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	topic, err := ParseTopic(entry.Type)
	if err != nil {
		// Not a realtime event; mark it delivered.
		return nil
	}
	ev := Event{
		ID:        entry.ID.String(),
		Type:      entry.Type,
		Topic:     topic,
		TenantID:  entry.TenantID,
		Timestamp: entry.CreatedAt.UTC(),
		Data:      json.RawMessage(entry.Payload),
	}
	if err := h.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("realtime: publish outbox entry: %w", err)
	}
	return nil
}
