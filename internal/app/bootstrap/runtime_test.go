package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/records"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}
	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildClinicStoreNeedsRedis(t *testing.T) {
	if BuildClinicStore(nil) != nil {
		t.Fatalf("expected nil store without redis")
	}
}

func TestBuildPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := BuildPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestBuildBookingStore(t *testing.T) {
	client := records.NewClient("http://records", 0, logging.New("error"))

	store, err := BuildBookingStore(&appconfig.Config{BookingBackend: "records"}, client, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*records.Client); !ok {
		t.Fatalf("expected records client, got %T", store)
	}

	if _, err := BuildBookingStore(&appconfig.Config{BookingBackend: "postgres"}, client, nil); err == nil {
		t.Fatalf("expected error for postgres backend without a pool")
	}
	if _, err := BuildBookingStore(&appconfig.Config{BookingBackend: "mysql"}, client, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := BuildBookingStore(nil, client, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	var _ bookings.Store = client
}
