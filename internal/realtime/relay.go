package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by API instances
// and the handoff relay.
const DefaultRelayChannel = "realtime:events"

// Relay fans events out through Redis so every API instance's hub sees
// them. Publish only writes to Redis; Run delivers what arrives to the
// local publisher, including this instance's own events.
type Relay struct {
	redis   *redis.Client
	channel string
	local   Publisher
	metrics *metrics.RealtimeMetrics
	logger  *logging.Logger
}

func NewRelay(client *redis.Client, channel string, local Publisher, logger *logging.Logger) *Relay {
	if client == nil {
		panic("realtime: redis client required")
	}
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Relay{redis: client, channel: channel, local: local, logger: logger}
}

func (r *Relay) WithMetrics(m *metrics.RealtimeMetrics) *Relay {
	r.metrics = m
	return r
}

// Publish sends ev to every subscriber of the relay channel.
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	if err := r.redis.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("realtime: publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel and forwards events to the local
// publisher until ctx is done. ready, if non-nil, is closed once the
// subscription is confirmed.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	if r.local == nil {
		return errors.New("realtime: relay has no local publisher")
	}
	sub := r.redis.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("realtime relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed relay message", "error", err)
				continue
			}
			r.metrics.ObserveEvent(string(ev.Topic), "relay")
			if err := r.local.Publish(ctx, ev); err != nil {
				r.logger.Warn("relay delivery failed", "error", err, "event_id", ev.ID, "topic", ev.Topic)
			}
		}
	}
}
