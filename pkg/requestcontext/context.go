// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that are
// typically set by middleware but consumed by services and event constructors. Every
// unit of work carries its own context, so values set for one request are never
// visible to another request running concurrently.
//
// Usage in services (read values):
//
//	userID := requestcontext.UserID(ctx)
//	pos := requestcontext.POS(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithUser(ctx, userID, username, ip)
//	ctx = requestcontext.WithPOS(ctx, requestcontext.POSContext{TerminalID: "T-01"})
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithRequestID(ctx, "req-1")
package requestcontext

import (
	"context"
	"time"
)

// SystemUser is the identity recorded when no caller identity is present.
const SystemUser = "system"

// Context key types (unexported for encapsulation).
type (
	userIDKey      struct{}
	usernameKey    struct{}
	sessionIDKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	posKey         struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyUserID      = userIDKey{}
	ContextKeyUsername    = usernameKey{}
	ContextKeySessionID   = sessionIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyPOS         = posKey{}
)

// POSContext holds point-of-sale location data for the current unit of work.
type POSContext struct {
	TerminalID     string
	StoreID        string
	StoreName      string
	ShiftID        string
	PharmacistID   string
	PharmacistName string
	EmployeeID     string
	EmployeeName   string
	DeviceInfo     string
}

// IsZero reports whether no POS field is set.
func (p POSContext) IsZero() bool {
	return p == POSContext{}
}

// -----------------------------------------------------------------------------
// Identity (user, username, session)
// -----------------------------------------------------------------------------

// UserID retrieves the caller's user ID from the context.
func UserID(ctx context.Context) string {
	if userID, ok := ctx.Value(ContextKeyUserID).(string); ok {
		return userID
	}
	return ""
}

// Username retrieves the caller's username from the context.
func Username(ctx context.Context) string {
	if username, ok := ctx.Value(ContextKeyUsername).(string); ok {
		return username
	}
	return ""
}

// WithUser injects the caller identity and IP address into the context.
// An empty username falls back to the user ID.
func WithUser(ctx context.Context, userID, username, ipAddress string) context.Context {
	if username == "" {
		username = userID
	}
	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, ContextKeyUsername, username)
	ctx = context.WithValue(ctx, ContextKeyClientIP, ipAddress)
	return ctx
}

// SessionID retrieves the session ID from the context.
func SessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(ContextKeySessionID).(string); ok {
		return sessionID
	}
	return ""
}

// WithSessionID injects a session ID into the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// -----------------------------------------------------------------------------
// POS context
// -----------------------------------------------------------------------------

// POS retrieves the point-of-sale context. Returns the zero value if not set.
func POS(ctx context.Context) POSContext {
	if pos, ok := ctx.Value(ContextKeyPOS).(POSContext); ok {
		return pos
	}
	return POSContext{}
}

// WithPOS injects point-of-sale context, replacing any previous value.
func WithPOS(ctx context.Context, pos POSContext) context.Context {
	return context.WithValue(ctx, ContextKeyPOS, pos)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like consumers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// -----------------------------------------------------------------------------
// Clearing and snapshots
// -----------------------------------------------------------------------------

// Clear returns a derived context with identity, session, client metadata and POS
// values reset. The request ID and request time are kept so that events built
// afterwards still correlate with the surrounding request.
func Clear(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUserID, "")
	ctx = context.WithValue(ctx, ContextKeyUsername, "")
	ctx = context.WithValue(ctx, ContextKeySessionID, "")
	ctx = context.WithValue(ctx, ContextKeyClientIP, "")
	ctx = context.WithValue(ctx, ContextKeyUserAgent, "")
	ctx = context.WithValue(ctx, ContextKeyPOS, POSContext{})
	return ctx
}

// Snapshot is a copy of every ambient value relevant to event construction.
type Snapshot struct {
	UserID    string
	Username  string
	SessionID string
	IPAddress string
	UserAgent string
	RequestID string
	POS       POSContext
	// Time is the pinned request time, zero when none was set.
	Time time.Time
}

// Capture copies the ambient values out of ctx. A nil context or a context whose
// Value method panics yields whatever was captured before the failure; it never
// propagates the panic to the caller.
func Capture(ctx context.Context) (s Snapshot) {
	if ctx == nil {
		return s
	}
	defer func() {
		_ = recover()
	}()
	s.UserID = UserID(ctx)
	s.Username = Username(ctx)
	s.SessionID = SessionID(ctx)
	s.IPAddress = ClientIP(ctx)
	s.UserAgent = UserAgent(ctx)
	s.RequestID = RequestID(ctx)
	s.POS = POS(ctx)
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		s.Time = t
	}
	return s
}
