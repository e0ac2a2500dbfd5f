// Package realtime carries push events between the API and console viewers.
// The server side fans events out per tenant over WebSockets (with a
// long-poll fallback); the client side keeps one reconnecting channel per
// authenticated session and dispatches events to local subscribers in
// arrival order.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topic names the kind of event.
type Topic string

const (
	TopicHumanHandoff       Topic = "HUMAN_HANDOFF"
	TopicNewAppointment     Topic = "NEW_APPOINTMENT"
	TopicAppointmentUpdated Topic = "APPOINTMENT_UPDATED"
	TopicAppointmentDeleted Topic = "APPOINTMENT_DELETED"

	// TopicGap is never sent by a server. The client channel emits it locally
	// after a reconnect, when events may have been missed.
	TopicGap Topic = "GAP"
)

// BookingTopics are the topics describing calendar changes.
func BookingTopics() []Topic {
	return []Topic{TopicNewAppointment, TopicAppointmentUpdated, TopicAppointmentDeleted}
}

// DefaultTopics is what a console viewer subscribes to.
func DefaultTopics() []Topic {
	return append([]Topic{TopicHumanHandoff}, BookingTopics()...)
}

func (t Topic) Valid() bool {
	switch t {
	case TopicHumanHandoff, TopicNewAppointment, TopicAppointmentUpdated, TopicAppointmentDeleted:
		return true
	}
	return false
}

// ParseTopic accepts topic names case-insensitively.
func ParseTopic(s string) (Topic, error) {
	t := Topic(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("realtime: unknown topic %q", s)
	}
	return t, nil
}

// Event is the wire envelope shared by the hub, the relay and the client.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     Topic           `json:"topic"`
	TenantID  string          `json:"tenant_id"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(tenantID string, topic Topic, data any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      string(topic),
		Topic:     topic,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("realtime: marshal event data: %w", err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Validate checks the fields the hub relies on for routing.
func (e Event) Validate() error {
	if e.TenantID == "" {
		return errors.New("realtime: event has no tenant")
	}
	if !e.Topic.Valid() {
		return fmt.Errorf("realtime: invalid topic %q", e.Topic)
	}
	return nil
}

// HandoffPayload is the data of a HUMAN_HANDOFF event.
type HandoffPayload struct {
	PhoneNumber string    `json:"phone_number"`
	Reason      string    `json:"reason"`
	EmittedAt   time.Time `json:"emitted_at,omitempty"`
}

// Handoff decodes the event's data as a handoff payload.
func (e Event) Handoff() (HandoffPayload, error) {
	if e.Topic != TopicHumanHandoff {
		return HandoffPayload{}, fmt.Errorf("realtime: %s is not a handoff event", e.Topic)
	}
	var p HandoffPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return HandoffPayload{}, fmt.Errorf("realtime: decode handoff: %w", err)
	}
	if p.PhoneNumber == "" {
		return HandoffPayload{}, errors.New("realtime: handoff without phone number")
	}
	if p.EmittedAt.IsZero() {
		p.EmittedAt = e.Timestamp
	}
	return p, nil
}

// ClientMessage is sent by a viewer over the socket.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// TransportError wraps a connection failure. It is recovered by reconnecting
// and only surfaces through the channel state.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime: %s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
