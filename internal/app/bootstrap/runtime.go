package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/records"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildClinicStore returns the clinic config store when Redis is available.
func BuildClinicStore(redisClient *redis.Client) *clinic.Store {
	if redisClient == nil {
		return nil
	}
	return clinic.NewStore(redisClient)
}

// BuildPostgresPool connects to DATABASE_URL. An empty URL or a failed
// connection returns nil; callers fall back to the records service.
func BuildPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildBookingStore selects the authoritative booking store.
func BuildBookingStore(cfg *appconfig.Config, recordsClient *records.Client, pool *pgxpool.Pool) (bookings.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.BookingBackend {
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres booking backend needs DATABASE_URL")
		}
		return bookings.NewPostgresStore(pool), nil
	case "records", "":
		if recordsClient == nil {
			return nil, fmt.Errorf("bootstrap: records booking backend needs RECORDS_BASE_URL")
		}
		return recordsClient, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown booking backend %q", cfg.BookingBackend)
	}
}
