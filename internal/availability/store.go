package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// Store caches normalized weekly configurations in Redis. The records
// service stays authoritative; a miss is reported rather than defaulted so
// callers fall through to it.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a cache with the given entry lifetime (0 keeps forever).
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redisClient, ttl: ttl}
}

func (s *Store) key(tenantID, professionalID string) string {
	return fmt.Sprintf("availability:%s:%s", tenantID, professionalID)
}

// Get returns the cached configuration and whether it was present.
func (s *Store) Get(ctx context.Context, tenantID, professionalID string) (WeeklyAvailability, bool, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, professionalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return WeeklyAvailability{}, false, nil
	}
	if err != nil {
		return WeeklyAvailability{}, false, fmt.Errorf("availability: get cached config: %w", err)
	}
	return Normalize(data), true, nil
}

func (s *Store) Set(ctx context.Context, tenantID, professionalID string, w WeeklyAvailability) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("availability: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(tenantID, professionalID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("availability: set cached config: %w", err)
	}
	return nil
}

func (s *Store) Invalidate(ctx context.Context, tenantID, professionalID string) error {
	if err := s.redis.Del(ctx, s.key(tenantID, professionalID)).Err(); err != nil {
		return fmt.Errorf("availability: invalidate cached config: %w", err)
	}
	return nil
}

// Source reads and writes the authoritative working-hours blob.
type Source interface {
	FetchWorkingHours(ctx context.Context, professionalID string) (json.RawMessage, error)
	UpdateWorkingHours(ctx context.Context, professionalID string, w WeeklyAvailability) error
}

// Loader resolves a professional's configuration through the cache, falling
// back to the Source. Cache failures are logged and otherwise ignored.
type Loader struct {
	source   Source
	cache    *Store
	defaults func(ctx context.Context) WeeklyAvailability
	logger   *logging.Logger
}

func NewLoader(source Source, cache *Store, logger *logging.Logger) *Loader {
	if source == nil {
		panic("availability: source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{source: source, cache: cache, logger: logger}
}

// WithDefaults sets the per-request clinic default used to fill missing
// days and fields. Without it Default() is used.
func (l *Loader) WithDefaults(fn func(ctx context.Context) WeeklyAvailability) *Loader {
	l.defaults = fn
	return l
}

// Load returns the normalized configuration for professionalID.
func (l *Loader) Load(ctx context.Context, professionalID string) (WeeklyAvailability, error) {
	tenantID, _ := tenancy.TenantIDFromContext(ctx)
	if l.cache != nil {
		w, ok, err := l.cache.Get(ctx, tenantID, professionalID)
		if err != nil {
			l.logger.Warn("availability cache read failed", "error", err, "professional_id", professionalID)
		} else if ok {
			return w, nil
		}
	}

	raw, err := l.source.FetchWorkingHours(ctx, professionalID)
	if err != nil {
		return WeeklyAvailability{}, fmt.Errorf("availability: fetch working hours: %w", err)
	}
	fallback := Default()
	if l.defaults != nil {
		fallback = l.defaults(ctx)
	}
	w := NormalizeWithDefault(raw, fallback)
	if l.cache != nil {
		if err := l.cache.Set(ctx, tenantID, professionalID, w); err != nil {
			l.logger.Warn("availability cache write failed", "error", err, "professional_id", professionalID)
		}
	}
	return w, nil
}

// Save validates w, persists it upstream and drops the cached copy.
func (l *Loader) Save(ctx context.Context, professionalID string, w WeeklyAvailability) error {
	if err := Check(w); err != nil {
		return err
	}
	w = w.Sorted()
	if err := l.source.UpdateWorkingHours(ctx, professionalID, w); err != nil {
		return fmt.Errorf("availability: update working hours: %w", err)
	}
	if l.cache != nil {
		tenantID, _ := tenancy.TenantIDFromContext(ctx)
		if err := l.cache.Invalidate(ctx, tenantID, professionalID); err != nil {
			l.logger.Warn("availability cache invalidate failed", "error", err, "professional_id", professionalID)
		}
	}
	return nil
}
