package testutil

import (
	"context"
	"net/http"
	"time"

	"hivelog/pkg/requestcontext"
)

// WithUser adds an authenticated user to the request context.
// This simulates what the identity middleware does for forwarded headers.
func WithUser(req *http.Request, userID, username string) *http.Request {
	ctx := requestcontext.WithUser(req.Context(), userID, username, requestcontext.ClientIP(req.Context()))
	return req.WithContext(ctx)
}

// WithRequestID sets the request id that events built in the request use
// as their correlation id.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithPOS attaches point-of-sale context to the request.
func WithPOS(req *http.Request, pos requestcontext.POSContext) *http.Request {
	return req.WithContext(requestcontext.WithPOS(req.Context(), pos))
}

// WithTime pins the request start time.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
