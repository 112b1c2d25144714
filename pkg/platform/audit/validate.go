package audit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidEvent is matched by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// ValidationError reports the first required field found empty.
type ValidationError struct {
	Kind  Kind
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s event: %s is required", e.Kind, e.Field)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }

func missing(kind Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Kind: kind, Field: field}
	}
	return nil
}

// Validate requires action, entity type and service name.
func (e *AuditEvent) Validate() error {
	return errors.Join(
		missing(KindAudit, "action", e.Action),
		missing(KindAudit, "entityType", e.EntityType),
		missing(KindAudit, "serviceName", e.ServiceName),
	)
}

// RoutingKey picks the first available of: correlation id, entity type and
// id, transaction id, entity type and the current time in milliseconds.
func (e *AuditEvent) RoutingKey(now time.Time) string {
	switch {
	case e.CorrelationID != "":
		return e.CorrelationID
	case e.EntityID != "":
		return e.EntityType + "-" + e.EntityID.String()
	case e.TransactionID != "":
		return "txn-" + e.TransactionID
	default:
		return e.EntityType + "-" + millis(now)
	}
}

// ErrorAudit is an audit event bound for the error audit channel. Failures
// are recorded even when no entity is known, so only the service name and
// action are required, and the key is the correlation id or "error-<millis>".
type ErrorAudit struct {
	*AuditEvent
}

func (e ErrorAudit) Validate() error {
	return errors.Join(
		missing(KindAudit, "action", e.Action),
		missing(KindAudit, "serviceName", e.ServiceName),
	)
}

func (e ErrorAudit) RoutingKey(now time.Time) string {
	return correlationOr(e.CorrelationID, "error", now)
}

func (l *ApplicationLog) Validate() error {
	return errors.Join(
		missing(KindApplication, "serviceName", l.ServiceName),
		missing(KindApplication, "message", l.Message),
	)
}

func (l *ApplicationLog) RoutingKey(now time.Time) string {
	return correlationOr(l.CorrelationID, "app", now)
}

func (l *ErrorLog) Validate() error {
	return errors.Join(
		missing(KindError, "serviceName", l.ServiceName),
		missing(KindError, "message", l.Message+l.ExceptionType),
	)
}

func (l *ErrorLog) RoutingKey(now time.Time) string {
	return correlationOr(l.CorrelationID, "error", now)
}

func (l *AccessLog) Validate() error {
	return errors.Join(
		missing(KindAccess, "serviceName", l.ServiceName),
		missing(KindAccess, "httpMethod", l.HTTPMethod),
		missing(KindAccess, "endpoint", l.Endpoint),
	)
}

func (l *AccessLog) RoutingKey(now time.Time) string {
	if l.CorrelationID == "" && l.RequestID != "" {
		return l.RequestID
	}
	return correlationOr(l.CorrelationID, "access", now)
}

func (l *PerformanceLog) Validate() error {
	return errors.Join(
		missing(KindPerformance, "serviceName", l.ServiceName),
		missing(KindPerformance, "operation", l.Operation),
	)
}

func (l *PerformanceLog) RoutingKey(now time.Time) string {
	return correlationOr(l.CorrelationID, "perf", now)
}

// CheckIngest applies the checks the ingestion side enforces on an event
// that was published by someone else: the service name is always needed and
// audit events must name their action.
func CheckIngest(ev Event) error {
	if err := missing(ev.Kind(), "serviceName", ev.Header().ServiceName); err != nil {
		return err
	}
	if a, ok := ev.(*AuditEvent); ok {
		return missing(KindAudit, "action", a.Action)
	}
	return nil
}

func correlationOr(correlationID, prefix string, now time.Time) string {
	if correlationID != "" {
		return correlationID
	}
	return prefix + "-" + millis(now)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
