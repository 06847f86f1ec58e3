// Package httptransport assembles the HTTP surface: middleware stack, public
// and authenticated route groups, health, and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"expensio/internal/platform/middleware"
	"expensio/pkg/platform/httputil"
)

// Registrar mounts a handler's routes on a router group.
type Registrar interface {
	Register(r chi.Router)
}

// PublicRegistrar mounts routes reachable without a bearer token.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// HealthCheck probes one dependency. Nil checks are skipped so optional
// backends (redis, kafka) do not force themselves into the probe.
type HealthCheck func(ctx context.Context) error

// Deps carries everything the router mounts.
type Deps struct {
	Logger   *slog.Logger
	Resolver middleware.CredentialResolver
	Public   []PublicRegistrar
	Secured  []Registrar
	// Health maps a dependency name to its probe.
	Health map[string]HealthCheck
	// RequestTimeout bounds request handling end to end.
	RequestTimeout time.Duration
}

// NewRouter builds the full application router.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	if deps.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(deps.RequestTimeout))
	}

	r.Get("/healthz", healthHandler(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		for _, h := range deps.Public {
			h.RegisterPublic(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Resolver, deps.Logger))
		for _, h := range deps.Secured {
			h.Register(r)
		}
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK

		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		httputil.WriteJSON(w, status, resp)
	}
}
