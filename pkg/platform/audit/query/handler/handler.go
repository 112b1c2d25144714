// Package handler exposes the query service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/query"
	"hivelog/pkg/platform/httputil"
)

// Service defines the read operations served by the handler.
type Service interface {
	AuditEvents(ctx context.Context, f audit.Filter, p audit.Page) (query.Result[audit.AuditRecord], error)
	ApplicationLogs(ctx context.Context, f audit.Filter, p audit.Page) (query.Result[audit.ApplicationLogRecord], error)
	ErrorLogs(ctx context.Context, f audit.Filter, p audit.Page) (query.Result[audit.ErrorLogRecord], error)
	AccessLogs(ctx context.Context, f audit.Filter, p audit.Page) (query.Result[audit.AccessLogRecord], error)
	PerformanceLogs(ctx context.Context, f audit.Filter, p audit.Page) (query.Result[audit.PerformanceLogRecord], error)
	Count(ctx context.Context, kind audit.Kind, f audit.Filter) (int64, error)

	AuditByCorrelation(ctx context.Context, correlationID string) ([]audit.AuditRecord, error)
	ApplicationLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.ApplicationLogRecord, error)
	ErrorLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.ErrorLogRecord, error)
	AccessLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.AccessLogRecord, error)
	PerformanceLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.PerformanceLogRecord, error)
	AverageDuration(ctx context.Context, operation string, f audit.Filter) (float64, error)
	Trail(ctx context.Context, correlationID string) (*query.Trail, error)

	ResolveError(ctx context.Context, id int64, resolution string) (audit.ErrorLogRecord, error)
}

// Handler serves the /api query routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// New creates a query Handler.
func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// preset narrows a listing before the request parameters are applied.
type preset func(*audit.Filter)

var (
	unresolved = func(f *audit.Filter) {
		no := false
		f.Resolved = &no
	}
	slowOnly       = func(f *audit.Filter) { f.SlowOnly = true }
	errorResponses = func(f *audit.Filter) {
		if f.MinStatusCode < http.StatusBadRequest {
			f.MinStatusCode = http.StatusBadRequest
		}
	}
	securityEvents = func(f *audit.Filter) { f.AuditType = audit.AuditTypeSecurity }
	failedEvents   = func(f *audit.Filter) { f.Status = audit.StatusFailure }
)

// Register mounts the query routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/audit-logs", func(r chi.Router) {
			r.Get("/", list(h, h.svc.AuditEvents))
			r.Get("/security", list(h, h.svc.AuditEvents, securityEvents))
			r.Get("/failures", list(h, h.svc.AuditEvents, failedEvents))
			r.Get("/count", h.count(audit.KindAudit))
			r.Get("/correlation/{correlationId}", byCorrelation(h, h.svc.AuditByCorrelation))
		})
		r.Route("/application-logs", func(r chi.Router) {
			r.Get("/", list(h, h.svc.ApplicationLogs))
			r.Get("/count", h.count(audit.KindApplication))
			r.Get("/correlation/{correlationId}", byCorrelation(h, h.svc.ApplicationLogsByCorrelation))
		})
		r.Route("/error-logs", func(r chi.Router) {
			r.Get("/", list(h, h.svc.ErrorLogs))
			r.Get("/unresolved", list(h, h.svc.ErrorLogs, unresolved))
			r.Get("/count", h.count(audit.KindError))
			r.Get("/correlation/{correlationId}", byCorrelation(h, h.svc.ErrorLogsByCorrelation))
			r.Patch("/{id}/resolve", h.handleResolve)
		})
		r.Route("/access-logs", func(r chi.Router) {
			r.Get("/", list(h, h.svc.AccessLogs))
			r.Get("/slow", list(h, h.svc.AccessLogs, slowOnly))
			r.Get("/errors", list(h, h.svc.AccessLogs, errorResponses))
			r.Get("/count", h.count(audit.KindAccess))
			r.Get("/correlation/{correlationId}", byCorrelation(h, h.svc.AccessLogsByCorrelation))
		})
		r.Route("/performance-logs", func(r chi.Router) {
			r.Get("/", list(h, h.svc.PerformanceLogs))
			r.Get("/slow", list(h, h.svc.PerformanceLogs, slowOnly))
			r.Get("/count", h.count(audit.KindPerformance))
			r.Get("/correlation/{correlationId}", byCorrelation(h, h.svc.PerformanceLogsByCorrelation))
			r.Get("/stats/average/{operation}", h.handleAverage)
		})
		r.Get("/trail/{correlationId}", h.handleTrail)
	})
}

func list[T any](h *Handler, fn func(context.Context, audit.Filter, audit.Page) (query.Result[T], error), presets ...preset) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, p, err := parseFilter(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, apply := range presets {
			apply(&f)
		}
		res, err := fn(r.Context(), f, p)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if res.Items == nil {
			res.Items = []T{}
		}
		httputil.WriteSuccess(w, r, http.StatusOK, res)
	}
}

func byCorrelation[T any](h *Handler, fn func(context.Context, string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := fn(r.Context(), chi.URLParam(r, "correlationId"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		httputil.WriteSuccess(w, r, http.StatusOK, items)
	}
}

func (h *Handler) count(kind audit.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, _, err := parseFilter(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		n, err := h.svc.Count(r.Context(), kind, f)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httputil.WriteSuccess(w, r, http.StatusOK, CountResponse{Kind: kind, Count: n})
	}
}

func (h *Handler) handleAverage(w http.ResponseWriter, r *http.Request) {
	f, _, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	operation := chi.URLParam(r, "operation")
	avg, err := h.svc.AverageDuration(r.Context(), operation, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, AverageResponse{Operation: operation, AverageMs: avg})
}

func (h *Handler) handleTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.svc.Trail(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, trail)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid error log id"))
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	req.Resolution = strings.TrimSpace(req.Resolution)
	if req.Resolution == "" {
		h.fail(w, r, dErrors.New(dErrors.CodeValidation, "resolution is required"))
		return
	}
	rec, err := h.svc.ResolveError(r.Context(), id, req.Resolution)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, r, http.StatusOK, rec)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal {
		h.logger.WarnContext(r.Context(), "query request rejected",
			"path", r.URL.Path,
			"code", de.Code,
			"error", err,
		)
	}
	httputil.WriteError(w, r, err)
}
