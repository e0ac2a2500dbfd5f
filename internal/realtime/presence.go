package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

const defaultPresenceTTL = 60 * time.Second

// ViewerSource lists who is listening on one instance.
type ViewerSource interface {
	Viewers() []Viewer
}

// Presence shares viewer information between instances through expiring
// Redis keys, so a process without a hub can tell whether anybody will see
// an event.
type Presence struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewPresence(redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Presence {
	if redisClient == nil {
		panic("realtime: presence requires a redis client")
	}
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Presence{redis: redisClient, ttl: ttl, logger: logger}
}

func (p *Presence) key(tenantID string, topic Topic) string {
	return fmt.Sprintf("realtime:viewers:%s:%s", tenantID, topic)
}

// Report refreshes the keys of viewers.
func (p *Presence) Report(ctx context.Context, viewers []Viewer) error {
	if len(viewers) == 0 {
		return nil
	}
	pipe := p.redis.Pipeline()
	for _, v := range viewers {
		pipe.Set(ctx, p.key(v.TenantID, v.Topic), 1, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("realtime: report presence: %w", err)
	}
	return nil
}

// Run reports src every interval until ctx ends. Interval defaults to a
// third of the TTL.
func (p *Presence) Run(ctx context.Context, src ViewerSource, interval time.Duration) error {
	if interval <= 0 {
		interval = p.ttl / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Report(ctx, src.Viewers()); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("presence report failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// HasViewers reports whether any instance saw a viewer of the tenant's topic
// within the TTL. Redis errors count as no viewers.
func (p *Presence) HasViewers(ctx context.Context, tenantID string, topic Topic) bool {
	n, err := p.redis.Exists(ctx, p.key(tenantID, topic)).Result()
	if err != nil {
		p.logger.Warn("presence lookup failed", "error", err, "tenant_id", tenantID, "topic", topic)
		return false
	}
	return n > 0
}
