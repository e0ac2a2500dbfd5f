package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/adriangmrraa/dentalogic-sub000/cmd/mainconfig"
	"github.com/adriangmrraa/dentalogic-sub000/internal/api/router"
	"github.com/adriangmrraa/dentalogic-sub000/internal/app/bootstrap"
	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/events"
	"github.com/adriangmrraa/dentalogic-sub000/internal/handoff"
	"github.com/adriangmrraa/dentalogic-sub000/internal/http/handlers"
	"github.com/adriangmrraa/dentalogic-sub000/internal/notify"
	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/internal/records"
	"github.com/adriangmrraa/dentalogic-sub000/internal/scheduling"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		logging.Default().Warn("failed to load .env", "error", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dentalogic scheduling API",
		"env", cfg.Env,
		"port", cfg.Port,
		"booking_backend", cfg.BookingBackend,
	)
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, schedulingMetrics, realtimeMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	clinicStore := bootstrap.BuildClinicStore(redisClient)
	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}

	recordsClient := records.NewClient(cfg.RecordsBaseURL, cfg.RecordsTimeout, logger.Component("records"))
	bookingStore, err := bootstrap.BuildBookingStore(cfg, recordsClient, pool)
	if err != nil {
		logger.Error("failed to build booking store", "error", err)
		os.Exit(1)
	}

	rt := setupRealtime(cfg, redisClient, realtimeMetrics, logger)

	// Postgres bookings publish through the transactional outbox; records
	// bookings are announced directly after the upstream write.
	bookingService := bookings.NewService(bookingStore, logger.Component("bookings")).WithMetrics(schedulingMetrics)
	var deliverer *events.Deliverer
	if cfg.BookingBackend == "postgres" {
		deliverer = events.NewDeliverer(events.NewOutboxStore(pool), realtime.NewOutboxHandler(rt.publisher), logger.Component("outbox")).
			WithInterval(cfg.OutboxPollInterval)
	} else {
		bookingService.WithNotifier(realtime.NewBookingNotifier(rt.publisher, logger))
	}

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("AWS config unavailable; SES disabled", "error", err)
	} else {
		awsCfg = &loaded
	}
	emailSender, provider := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("handoff fallback email configured", "provider", provider)

	var clinicConfigs notify.ClinicConfigStore
	var clinicHandler *clinic.Handler
	var clinicSettings handlers.ClinicSettings
	if clinicStore != nil {
		clinicConfigs = clinicStore
		clinicHandler = clinic.NewHandler(clinicStore, logger)
		clinicSettings = clinicStore
	}
	fallback := handoff.NewFallback(rt.publisher, rt.viewers, notify.NewService(emailSender, clinicConfigs, logger), logger.Component("handoff")).
		WithMetrics(realtimeMetrics)

	var availabilityCache *availability.Store
	if redisClient != nil {
		availabilityCache = availability.NewStore(redisClient, cfg.AvailabilityCacheTTL)
	}
	loader := availability.NewLoader(recordsClient, availabilityCache, logger.Component("availability"))
	if clinicStore != nil {
		loader.WithDefaults(clinicStore.DefaultAvailability)
	}

	r := router.New(&router.Config{
		Logger:             logger,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		JWTSecret:          cfg.JWTSecret,
		IngestSecret:       cfg.HandoffIngestSecret,
		Scheduling: handlers.NewSchedulingHandler(handlers.SchedulingConfig{
			Deps: scheduling.Deps{
				Availability: loader,
				Treatments:   recordsClient,
				Bookings:     bookingStore,
				History:      recordsClient,
			},
			Booker:  bookingService,
			Clinic:  clinicSettings,
			Metrics: schedulingMetrics,
			Logger:  logger.Component("scheduling"),
		}),
		WorkingHours:  handlers.NewWorkingHoursHandler(loader, logger),
		HandoffIngest: handlers.NewHandoffIngestHandler(fallback, logger),
		ClinicHandler: clinicHandler,
		Realtime:      rt.server,
	})

	// Long-poll requests hold the connection up to PollWait.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PollWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	rt.start(gctx, g)
	if deliverer != nil {
		g.Go(func() error {
			return deliverer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupMetrics registers the service metrics on a private registry.
func setupMetrics() (http.Handler, *metrics.SchedulingMetrics, *metrics.RealtimeMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return handler, metrics.NewSchedulingMetrics(reg), metrics.NewRealtimeMetrics(reg)
}

type realtimeStack struct {
	hub       *realtime.Hub
	server    *realtime.Server
	relay     *realtime.Relay
	presence  *realtime.Presence
	publisher realtime.Publisher
	viewers   handoff.ViewerChecker

	presenceInterval time.Duration
	logger           *logging.Logger
}

// setupRealtime builds the hub and, with Redis, the cross-instance relay
// and viewer presence. Without Redis everything stays in-process.
func setupRealtime(cfg *appconfig.Config, rdb *redis.Client, m *metrics.RealtimeMetrics, logger *logging.Logger) *realtimeStack {
	hub := realtime.NewHub(logger.Component("realtime")).
		WithBacklog(realtime.NewBacklog(cfg.RealtimeBacklogSize)).
		WithMetrics(m)
	server := realtime.NewServer(hub, cfg.AllowedOrigins, logger.Component("realtime")).
		WithMetrics(m).
		WithPollWait(cfg.PollWait)

	rt := &realtimeStack{
		hub:       hub,
		server:    server,
		publisher: hub,
		viewers:   server,
		logger:    logger,
	}
	if rdb == nil {
		return rt
	}
	rt.relay = realtime.NewRelay(rdb, cfg.RealtimeChannel, hub, logger.Component("relay")).WithMetrics(m)
	rt.presence = realtime.NewPresence(rdb, cfg.PresenceTTL, logger.Component("presence"))
	rt.publisher = rt.relay
	rt.viewers = rt.presence
	rt.presenceInterval = cfg.PresenceTTL / 3
	return rt
}

func (rt *realtimeStack) start(ctx context.Context, g *errgroup.Group) {
	if rt.relay != nil {
		g.Go(func() error {
			if err := rt.relay.Run(ctx, nil); err != nil {
				rt.logger.Error("realtime relay stopped", "error", err)
			}
			return nil
		})
	}
	if rt.presence != nil {
		g.Go(func() error {
			return rt.presence.Run(ctx, rt.server, rt.presenceInterval)
		})
	}
}
