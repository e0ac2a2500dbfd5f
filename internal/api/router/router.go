package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	"github.com/adriangmrraa/dentalogic-sub000/internal/http/handlers"
	httpmiddleware "github.com/adriangmrraa/dentalogic-sub000/internal/http/middleware"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// JWTSecret verifies console session tokens.
	JWTSecret string
	// IngestSecret guards the service-to-service handoff endpoint.
	IngestSecret string

	Scheduling    *handlers.SchedulingHandler
	WorkingHours  *handlers.WorkingHoursHandler
	HandoffIngest *handlers.HandoffIngestHandler
	ClinicHandler *clinic.Handler
	Realtime      *realtime.Server
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.HandoffIngest != nil {
		r.With(httpmiddleware.RequireInternalSecret(cfg.IngestSecret)).
			Post("/internal/events/handoff", cfg.HandoffIngest.Ingest)
	}

	// Session-scoped routes
	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.RequireSession(cfg.JWTSecret))

		if cfg.Realtime != nil {
			authed.Get("/ws", cfg.Realtime.HandleWebSocket)
			authed.Get("/events/poll", cfg.Realtime.HandlePoll)
		}

		authed.Route("/api", func(api chi.Router) {
			if cfg.RateLimitRPS > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			}
			if cfg.Scheduling != nil {
				api.Get("/professionals/{id}/slots", cfg.Scheduling.ListSlots)
				api.Post("/appointments", cfg.Scheduling.CreateAppointment)
			}
			if cfg.WorkingHours != nil {
				api.Get("/professionals/{id}/working-hours", cfg.WorkingHours.Get)
				api.With(httpmiddleware.RequireProfessionalEditor("id")).
					Put("/professionals/{id}/working-hours", cfg.WorkingHours.Put)
			}
			if cfg.ClinicHandler != nil {
				api.Mount("/clinic/config", cfg.ClinicHandler.Routes())
			}
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
