// Package httptransport assembles the HTTP surface: middleware chain, consent
// routes, health, and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authconsent/internal/consent/handler"
	"authconsent/internal/platform/metrics"
	"authconsent/internal/platform/middleware"
	"authconsent/internal/transport/http/shared"
)

const requestTimeout = 30 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config carries everything the router mounts.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Consent *handler.Handler

	// HealthChecks maps a component name to its probe. Probes run on every
	// /health call, so they must be cheap.
	HealthChecks map[string]HealthCheck
}

// NewRouter wires all endpoints behind the shared middleware chain.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Latency(cfg.Metrics))
	r.Use(middleware.Timeout(requestTimeout))

	cfg.Consent.Register(r)

	r.Get("/health", handleHealth(cfg.HealthChecks))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if len(checks) > 0 {
			resp.Components = make(map[string]string, len(checks))
		}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				resp.Components[name] = "unhealthy"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
		shared.WriteJSON(w, status, resp)
	}
}
