package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, scheduling, rt := setupMetrics()
	if handler == nil || scheduling == nil || rt == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	scheduling.ObserveBooking("accepted")
	rt.ObserveHandoff("shown")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"dentalogic_scheduling_bookings_total", "dentalogic_handoff_notifications_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s to be exported", want)
		}
	}
}

func TestSetupRealtimeWithoutRedis(t *testing.T) {
	cfg := &appconfig.Config{RealtimeBacklogSize: 16, PollWait: time.Second}
	rt := setupRealtime(cfg, nil, nil, logging.New("error"))
	if rt.relay != nil || rt.presence != nil {
		t.Fatalf("expected in-process realtime without redis")
	}
	if _, ok := rt.publisher.(*realtime.Hub); !ok {
		t.Fatalf("expected hub publisher, got %T", rt.publisher)
	}
	if _, ok := rt.viewers.(*realtime.Server); !ok {
		t.Fatalf("expected server viewers, got %T", rt.viewers)
	}
}

func TestSetupRealtimeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := &appconfig.Config{
		RealtimeChannel:     "realtime:test",
		RealtimeBacklogSize: 16,
		PollWait:            time.Second,
		PresenceTTL:         30 * time.Second,
	}
	rt := setupRealtime(cfg, rdb, nil, logging.New("error"))
	if _, ok := rt.publisher.(*realtime.Relay); !ok {
		t.Fatalf("expected relay publisher, got %T", rt.publisher)
	}
	if _, ok := rt.viewers.(*realtime.Presence); !ok {
		t.Fatalf("expected presence viewers, got %T", rt.viewers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	rt.start(gctx, g)
	cancel()
	if err := g.Wait(); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
