package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"hivelog/internal/platform/config"
	"hivelog/internal/platform/metrics"
	"hivelog/pkg/platform/audit/query"
	queryhandler "hivelog/pkg/platform/audit/query/handler"
	"hivelog/pkg/platform/httputil"
	"hivelog/pkg/platform/middleware/accesslog"
	"hivelog/pkg/platform/middleware/identity"
	"hivelog/pkg/platform/middleware/metadata"
	"hivelog/pkg/platform/middleware/requestid"
	"hivelog/pkg/platform/middleware/requesttime"
)

type healthCheck func(context.Context) error

type routerDeps struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	emitter accesslog.Emitter
	query   *query.Service
	checks  map[string]healthCheck
}

// newRouter mounts the query API behind the request context middleware.
// Health and metrics routes skip the access log.
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(identity.Middleware)
	r.Use(d.metrics.Middleware)
	r.Use(accesslog.Middleware(d.emitter, d.logger, "/health", "/metrics"))

	r.Get("/health", healthHandler(d.checks, d.logger))
	r.Method(http.MethodGet, "/metrics", d.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(d.cfg.Server.RequestTimeout))
		queryhandler.New(d.query, d.logger).Register(r)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(checks map[string]healthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "dependency", name, "error", err)
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
