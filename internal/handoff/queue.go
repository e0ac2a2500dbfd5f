package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/adriangmrraa/dentalogic-sub000/internal/events"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ErrMalformedMessage marks queue messages that can never be delivered.
var ErrMalformedMessage = errors.New("handoff: malformed queue message")

// Message is one received queue message.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the consumer's view of the handoff queue.
type Queue interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// SQSAPI is the part of the SQS client SQSQueue calls.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on AWS (or LocalStack) SQS.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("handoff: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("handoff: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: receive SQS messages: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("handoff: delete SQS message: %w", err)
	}
	return nil
}

// EventDeliverer is satisfied by *Fallback.
type EventDeliverer interface {
	DeliverEvent(ctx context.Context, ev realtime.Event) (Delivery, error)
}

// Deduper is satisfied by *events.ProcessedStore.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Consumer moves handoffs from the queue into a deliverer.
type Consumer struct {
	deliverer   EventDeliverer
	queue       Queue
	dedup       Deduper
	maxMessages int
	waitSeconds int
	retryDelay  time.Duration
	logger      *logging.Logger
	now         func() time.Time
}

func NewConsumer(deliverer EventDeliverer, logger *logging.Logger) *Consumer {
	if deliverer == nil {
		panic("handoff: deliverer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		deliverer:   deliverer,
		maxMessages: 10,
		waitSeconds: 20,
		retryDelay:  time.Second,
		logger:      logger,
		now:         time.Now,
	}
}

// WithQueue sets the queue Run polls. SQS caps a receive at 10 messages and
// a 20 second wait.
func (c *Consumer) WithQueue(q Queue, maxMessages, waitSeconds int) *Consumer {
	c.queue = q
	if maxMessages > 0 && maxMessages <= 10 {
		c.maxMessages = maxMessages
	}
	if waitSeconds >= 0 && waitSeconds <= 20 {
		c.waitSeconds = waitSeconds
	}
	return c
}

func (c *Consumer) WithDeduper(d Deduper) *Consumer {
	c.dedup = d
	return c
}

// Run long-polls the queue until ctx is canceled. Messages are deleted once
// delivered or once known to be malformed; anything else is left for the
// queue to redeliver.
func (c *Consumer) Run(ctx context.Context) error {
	if c.queue == nil {
		return errors.New("handoff: consumer has no queue")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := c.queue.Receive(ctx, c.maxMessages, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("handoff queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		for _, msg := range msgs {
			err := c.Handle(ctx, msg.ID, msg.Body)
			if err != nil && !errors.Is(err, ErrMalformedMessage) {
				c.logger.Warn("handoff delivery failed; leaving message for retry", "error", err, "message_id", msg.ID)
				continue
			}
			if err != nil {
				c.logger.Error("dropping malformed handoff message", "error", err, "message_id", msg.ID)
			}
			if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				c.logger.Warn("failed to delete handoff message", "error", err, "message_id", msg.ID)
			}
		}
	}
}

// Handle delivers one queue message body. messageID stands in for the event
// id when the body carries none.
func (c *Consumer) Handle(ctx context.Context, messageID, body string) error {
	ev, err := c.decode(messageID, body)
	if err != nil {
		return err
	}

	if c.dedup != nil {
		seen, err := c.dedup.AlreadyProcessed(ctx, events.ProviderHandoffQueue, ev.ID)
		if err != nil {
			return err
		}
		if seen {
			c.logger.Info("skipping duplicate handoff", "event_id", ev.ID, "tenant_id", ev.TenantID)
			return nil
		}
	}

	d, err := c.deliverer.DeliverEvent(ctx, ev)
	if err != nil {
		return err
	}
	c.logger.Info("handoff relayed", "event_id", ev.ID, "tenant_id", ev.TenantID, "published", d.Published, "emailed", d.Emailed)

	if c.dedup != nil {
		if _, err := c.dedup.MarkProcessed(ctx, events.ProviderHandoffQueue, ev.ID); err != nil {
			c.logger.Warn("failed to record processed handoff", "error", err, "event_id", ev.ID)
		}
	}
	return nil
}

// decode accepts either a full realtime envelope or a HandoffRequestedV1.
func (c *Consumer) decode(messageID, body string) (realtime.Event, error) {
	var envelope struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if envelope.Topic != "" {
		var ev realtime.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if err := ev.Validate(); err != nil {
			return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if _, err := ev.Handoff(); err != nil {
			return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if ev.ID == "" {
			ev.ID = messageID
		}
		return ev, nil
	}

	var req events.HandoffRequestedV1
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := req.Validate(); err != nil {
		return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	emitted := req.EmittedAt
	if emitted.IsZero() {
		emitted = c.now().UTC()
	}
	ev, err := realtime.NewEvent(req.TenantID, realtime.TopicHumanHandoff, realtime.HandoffPayload{
		PhoneNumber: req.PhoneNumber,
		Reason:      req.Reason,
		EmittedAt:   emitted,
	})
	if err != nil {
		return realtime.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch {
	case req.EventID != "":
		ev.ID = req.EventID
	case messageID != "":
		ev.ID = messageID
	}
	return ev, nil
}
