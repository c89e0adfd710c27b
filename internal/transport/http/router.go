// Package http assembles the registry's HTTP surface: both registry modules,
// the plumbing middleware, health, and Prometheus metrics.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"namereg/internal/transport/http/shared"
	"namereg/pkg/platform/middleware/metadata"
)

// Registrar mounts a module's routes on the router. Both registry handlers
// implement it.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker func() error

// NewRouter builds the full router. Health checkers run on every /healthz
// call; pass none for the in-memory deployment.
func NewRouter(logger *slog.Logger, handlers []Registrar, checks map[string]HealthChecker) chi.Router {
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.RequestTime)
	r.Use(metadata.Recovery(logger))

	r.Get("/healthz", handleHealth(logger, checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func handleHealth(logger *slog.Logger, checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(); err != nil {
				logger.ErrorContext(r.Context(), "health check failed", "dependency", name, "error", err)
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
			}
		}
		shared.WriteJSON(w, status, body)
	}
}
