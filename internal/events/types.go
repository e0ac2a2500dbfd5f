package events

import (
	"errors"
	"strings"
	"time"
)

// ProviderHandoffQueue is the ProcessedStore provider for handoffs consumed
// from SQS.
const ProviderHandoffQueue = "handoff-sqs"

// HandoffRequestedV1 is what the AI agent enqueues when a conversation needs
// a human.
type HandoffRequestedV1 struct {
	EventID     string    `json:"event_id"`
	TenantID    string    `json:"tenant_id"`
	PhoneNumber string    `json:"phone_number"`
	Reason      string    `json:"reason"`
	EmittedAt   time.Time `json:"emitted_at,omitempty"`
}

func (e HandoffRequestedV1) Validate() error {
	var errs []error
	if strings.TrimSpace(e.TenantID) == "" {
		errs = append(errs, errors.New("events: handoff without tenant_id"))
	}
	if strings.TrimSpace(e.PhoneNumber) == "" {
		errs = append(errs, errors.New("events: handoff without phone_number"))
	}
	return errors.Join(errs...)
}
