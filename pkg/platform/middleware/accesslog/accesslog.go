// Package accesslog publishes one access log per served request.
package accesslog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"hivelog/pkg/platform/audit"
	"hivelog/pkg/requestcontext"
)

// Emitter publishes access logs without reporting failures.
type Emitter interface {
	Service() string
	Access(ctx context.Context, log audit.AccessLog)
}

// Middleware times each request and publishes an access log once the
// handler returns. Requests slower than audit.SlowRequestThreshold are also
// logged at warn level. Paths in skip are served without a log.
func Middleware(emitter Emitter, logger *slog.Logger, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			started := requestcontext.Now(r.Context())
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(started)

			ctx := r.Context()
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log := audit.NewAccessLog(ctx, emitter.Service(), r.Method, endpoint(r), status, started, elapsed)
			log.Path = r.URL.Path
			log.QueryString = r.URL.RawQuery
			log.Referer = r.Referer()
			log.Origin = r.Header.Get("Origin")
			log.ContentType = ww.Header().Get("Content-Type")
			if r.ContentLength >= 0 {
				size := r.ContentLength
				log.RequestSize = &size
			}
			written := int64(ww.BytesWritten())
			log.ResponseSize = &written

			if elapsed > audit.SlowRequestThreshold {
				logger.WarnContext(ctx, "slow request",
					"method", r.Method,
					"endpoint", log.Endpoint,
					"status", status,
					"duration_ms", elapsed.Milliseconds(),
				)
			}
			emitter.Access(ctx, log)
		})
	}
}

// endpoint prefers the matched route pattern so ids do not fan out.
func endpoint(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
