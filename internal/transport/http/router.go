// Package httptransport wires the HTTP surface: platform middleware, the
// registry and ledger route groups, health, and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bondledger/internal/platform/metrics"
	"bondledger/internal/platform/middleware"
	"bondledger/internal/transport/http/shared"
)

// Registrar is anything that can mount its routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Router struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	handlers []Registrar
	checks   map[string]HealthChecker
}

type Option func(*Router)

// WithHealthCheck adds a named dependency to the readiness probe.
func WithHealthCheck(name string, checker HealthChecker) Option {
	return func(rt *Router) { rt.checks[name] = checker }
}

func NewRouter(logger *slog.Logger, m *metrics.Metrics, handlers []Registrar, opts ...Option) http.Handler {
	rt := &Router{
		logger:   logger,
		metrics:  m,
		handlers: handlers,
		checks:   make(map[string]HealthChecker),
	}
	for _, opt := range opts {
		opt(rt)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))

	r.Get("/healthz", rt.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	for name, checker := range rt.checks {
		if err := checker.Health(r.Context()); err != nil {
			rt.logger.WarnContext(r.Context(), "health check failed",
				"dependency", name,
				"error", err,
			)
			shared.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "degraded",
				"dependency": name,
			})
			return
		}
	}
	shared.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
