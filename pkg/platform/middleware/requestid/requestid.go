// Package requestid assigns every request the id that becomes the
// correlation id of the events it produces.
package requestid

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"hivelog/pkg/requestcontext"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	maxLength           = 128
)

// Middleware reuses an inbound X-Request-ID or X-Correlation-ID and
// generates one otherwise. The id is echoed on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromHeaders(r.Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromHeaders returns the caller-supplied id, or "" when absent or unusable.
func FromHeaders(h http.Header) string {
	for _, name := range []string{HeaderRequestID, HeaderCorrelationID} {
		id := strings.TrimSpace(h.Get(name))
		if id != "" && len(id) <= maxLength && !strings.ContainsAny(id, "\r\n") {
			return id
		}
	}
	return ""
}
