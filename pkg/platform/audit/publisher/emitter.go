package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"hivelog/pkg/platform/audit"
)

// DefaultDBThreshold is the duration above which a tracked database
// operation is reported as slow.
const DefaultDBThreshold = 100 * time.Millisecond

var logChannels = map[audit.Kind]audit.Channel{
	audit.KindApplication: audit.ChannelLogsApplication,
	audit.KindError:       audit.ChannelLogsError,
	audit.KindAccess:      audit.ChannelLogsAccess,
	audit.KindPerformance: audit.ChannelLogsPerformance,
}

// LogEmitter builds events on behalf of one service and publishes them.
// None of its methods report failures to the caller.
type LogEmitter struct {
	pub     *Publisher
	service string
	logger  *slog.Logger
}

// NewLogEmitter binds a publisher to a service name.
func NewLogEmitter(pub *Publisher, serviceName string) *LogEmitter {
	return &LogEmitter{pub: pub, service: serviceName, logger: pub.logger}
}

// Service returns the service name stamped on every event.
func (e *LogEmitter) Service() string { return e.service }

// Emit publishes any event on the channel matching its kind. Audit events
// go through SafePublish.
func (e *LogEmitter) Emit(ctx context.Context, ev audit.Event) {
	if a, ok := ev.(*audit.AuditEvent); ok {
		e.pub.SafePublish(ctx, *a)
		return
	}
	ch, ok := logChannels[ev.Kind()]
	if !ok {
		e.logger.ErrorContext(ctx, "no channel for event kind", "kind", ev.Kind())
		return
	}
	_ = e.pub.Publish(ctx, ch, ev)
}

// NewAudit starts an audit event for this service from the request context.
func (e *LogEmitter) NewAudit(ctx context.Context, auditType audit.AuditType, action, entityType, entityID string) audit.AuditEvent {
	return audit.NewAuditEvent(ctx, e.service, auditType, action, entityType, entityID)
}

// AuditCRUD records a change to an entity. Snapshots are encoded as JSON;
// a nil snapshot is left empty.
func (e *LogEmitter) AuditCRUD(ctx context.Context, action, entityType, entityID string, oldValue, newValue any) {
	ev := e.NewAudit(ctx, audit.AuditTypeCRUD, action, entityType, entityID)
	ev.OldValue = e.snapshot(ctx, oldValue)
	ev.NewValue = e.snapshot(ctx, newValue)
	e.pub.PublishCRUD(ctx, ev)
}

// AuditFailure records a failed business action on the error audit channel.
func (e *LogEmitter) AuditFailure(ctx context.Context, action, entityType, entityID string, err error) {
	ev := e.NewAudit(ctx, audit.AuditTypeError, action, entityType, entityID)
	ev.MarkFailed(err)
	e.pub.PublishError(ctx, ev)
}

// App publishes an application log line.
func (e *LogEmitter) App(ctx context.Context, level audit.LogLevel, message string) {
	log := audit.NewApplicationLog(ctx, e.service, level, message)
	_ = e.pub.Publish(ctx, audit.ChannelLogsApplication, &log)
}

// Error publishes an error log describing err, with the current stack.
func (e *LogEmitter) Error(ctx context.Context, err error) {
	if err == nil {
		return
	}
	log := audit.NewErrorLog(ctx, e.service, err)
	log.StackTrace = string(debug.Stack())
	_ = e.pub.Publish(ctx, audit.ChannelLogsError, &log)
}

// Access publishes an access log.
func (e *LogEmitter) Access(ctx context.Context, log audit.AccessLog) {
	if log.ServiceName == "" {
		log.ServiceName = e.service
	}
	_ = e.pub.Publish(ctx, audit.ChannelLogsAccess, &log)
}

// Performance publishes a performance log for one operation.
func (e *LogEmitter) Performance(ctx context.Context, operation, operationType string, d, threshold time.Duration) {
	log := audit.NewPerformanceLog(ctx, e.service, operation, operationType, d, threshold)
	_ = e.pub.Publish(ctx, audit.ChannelLogsPerformance, &log)
}

// Track runs fn and reports on it: an error log when it fails, a
// performance log when it takes longer than threshold. fn's error is
// returned unchanged. A zero threshold uses DefaultDBThreshold.
func (e *LogEmitter) Track(ctx context.Context, operation string, threshold time.Duration, fn func(context.Context) error) error {
	if threshold <= 0 {
		threshold = DefaultDBThreshold
	}
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.ErrorContext(ctx, "tracked operation failed",
			"operation", operation,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		log := audit.NewErrorLog(ctx, e.service, err)
		log.Method = operation
		_ = e.pub.Publish(ctx, audit.ChannelLogsError, &log)
		return err
	}
	if elapsed > threshold {
		e.logger.WarnContext(ctx, "slow operation",
			"operation", operation,
			"duration_ms", elapsed.Milliseconds(),
		)
		e.Performance(ctx, operation, audit.OperationDatabase, elapsed, threshold)
	}
	return nil
}

func (e *LogEmitter) snapshot(ctx context.Context, v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.WarnContext(ctx, "audit snapshot not encodable", "error", err)
		return ""
	}
	return string(data)
}
