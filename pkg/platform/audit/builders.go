package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hivelog/pkg/requestcontext"
)

// NewEnvelope fills an envelope from the ambient request context. The
// request id becomes the correlation id; a fresh one is generated when the
// context carries none. Missing context values leave fields empty.
func NewEnvelope(ctx context.Context, serviceName string) Envelope {
	return envelopeFrom(requestcontext.Capture(ctx), serviceName)
}

func envelopeFrom(snap requestcontext.Snapshot, serviceName string) Envelope {
	correlationID := snap.RequestID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		CorrelationID: correlationID,
		ServiceName:   serviceName,
		Timestamp:     NewLocalTime(timestamp(snap)),
		SessionID:     snap.SessionID,
		UserID:        OpaqueID(snap.UserID),
		Username:      snap.Username,
		IPAddress:     snap.IPAddress,
		TerminalID:    snap.POS.TerminalID,
		StoreID:       snap.POS.StoreID,
	}
}

// NewAuditEvent builds a successful audit event with identity and POS
// context taken from ctx.
func NewAuditEvent(ctx context.Context, serviceName string, auditType AuditType, action, entityType, entityID string) AuditEvent {
	snap := requestcontext.Capture(ctx)
	return AuditEvent{
		Envelope:   envelopeFrom(snap, serviceName),
		AuditType:  auditType,
		Action:     action,
		EntityType: entityType,
		EntityID:   OpaqueID(entityID),
		UserAgent:  snap.UserAgent,
		Status:     StatusSuccess,
		POSDetails: POSDetails{
			StoreName:      snap.POS.StoreName,
			DeviceInfo:     snap.POS.DeviceInfo,
			ShiftID:        snap.POS.ShiftID,
			PharmacistID:   snap.POS.PharmacistID,
			PharmacistName: snap.POS.PharmacistName,
			EmployeeID:     snap.POS.EmployeeID,
			EmployeeName:   snap.POS.EmployeeName,
		},
	}
}

// MarkFailed records err on the event and flips its status.
func (e *AuditEvent) MarkFailed(err error) {
	e.Status = StatusFailure
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	if e.Severity == "" {
		e.Severity = SeverityHigh
	}
}

// NewApplicationLog builds an application log line.
func NewApplicationLog(ctx context.Context, serviceName string, level LogLevel, message string) ApplicationLog {
	snap := requestcontext.Capture(ctx)
	return ApplicationLog{
		Envelope: envelopeFrom(snap, serviceName),
		Level:    level,
		Message:  message,
		ShiftID:  snap.POS.ShiftID,
	}
}

// NewErrorLog describes err. The exception type is the dynamic type of err
// and the root cause is the innermost wrapped error.
func NewErrorLog(ctx context.Context, serviceName string, err error) ErrorLog {
	snap := requestcontext.Capture(ctx)
	log := ErrorLog{
		Envelope:  envelopeFrom(snap, serviceName),
		Level:     LevelError,
		UserAgent: snap.UserAgent,
	}
	if err == nil {
		return log
	}
	log.ExceptionType = fmt.Sprintf("%T", err)
	log.Message = err.Error()
	if root := rootCause(err); root != err {
		log.RootCause = root.Error()
	}
	return log
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// NewAccessLog describes one served request.
func NewAccessLog(ctx context.Context, serviceName, method, endpoint string, statusCode int, started time.Time, elapsed time.Duration) AccessLog {
	snap := requestcontext.Capture(ctx)
	return AccessLog{
		Envelope:       envelopeFrom(snap, serviceName),
		HTTPMethod:     method,
		Endpoint:       endpoint,
		RequestID:      snap.RequestID,
		UserAgent:      snap.UserAgent,
		StatusCode:     statusCode,
		ResponseTimeMs: elapsed.Milliseconds(),
		RequestTime:    NewLocalTime(started),
		ResponseTime:   NewLocalTime(started.Add(elapsed)),
		Authenticated:  snap.UserID != "" && snap.UserID != requestcontext.SystemUser,
	}
}

// NewPerformanceLog describes one timed operation. A positive threshold is
// recorded and used to set IsSlow.
func NewPerformanceLog(ctx context.Context, serviceName, operation, operationType string, duration, threshold time.Duration) PerformanceLog {
	log := PerformanceLog{
		Envelope:      NewEnvelope(ctx, serviceName),
		Operation:     operation,
		OperationType: operationType,
		DurationMs:    duration.Milliseconds(),
	}
	if threshold > 0 {
		ms := threshold.Milliseconds()
		log.ThresholdMs = &ms
		log.IsSlow = duration > threshold
	}
	return log
}

func timestamp(snap requestcontext.Snapshot) time.Time {
	if snap.Time.IsZero() {
		return time.Now()
	}
	return snap.Time
}
