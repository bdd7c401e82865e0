// Package http exposes the upload pipeline over REST.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/interfaces/http/handlers"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	UploadHandler *handlers.UploadHandler
	HealthHandler *handlers.HealthHandler

	Tenant  middleware.TenantConfig
	Logging middleware.LoggingConfig

	// Recorder receives one observation per request; MetricsHandler is
	// mounted at MetricsPath when set.
	Recorder       middleware.RequestRecorder
	MetricsHandler http.Handler
	MetricsPath    string

	Logger logging.Logger
}

// NewRouter constructs the complete HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(log, cfg.Logging, cfg.Recorder))
	r.Use(chimw.Recoverer)

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.NewTenantMiddleware(cfg.Tenant, log))
		registerUploadRoutes(api, cfg.UploadHandler)
	})

	return r
}

// registerUploadRoutes mounts the upload resource under /uploads.
func registerUploadRoutes(r chi.Router, h *handlers.UploadHandler) {
	if h == nil {
		return
	}
	r.Route("/uploads", func(ur chi.Router) {
		ur.Post("/", h.Create)

		ur.Route("/{uploadID}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Get("/progress", h.Progress)
			item.Get("/errors", h.Errors)
			item.Get("/errors/summary", h.ErrorSummary)
			item.Get("/summary", h.Summary)
			item.Post("/confirm", h.Confirm)
			item.Post("/cancel", h.Cancel)
		})
	})
}
