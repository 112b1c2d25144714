package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/sentinel"
	txcontext "hivelog/pkg/platform/tx"
)

// Store persists events in one table per kind. Each table carries the
// filterable fields as columns and the complete event as a JSONB payload,
// so reads return exactly what was received.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL event store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts ev and sets meta.ID. Redelivered events produce a new row.
func (s *Store) Append(ctx context.Context, meta *audit.RecordMeta, ev audit.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Kind(), err)
	}

	h := ev.Header()
	common := []any{
		meta.Topic,
		meta.ReceivedAt.Time,
		nullString(h.CorrelationID),
		h.ServiceName,
		h.Timestamp.Time,
		nullString(h.UserID.String()),
	}

	var query string
	var args []any
	switch e := ev.(type) {
	case *audit.AuditEvent:
		query = `
			INSERT INTO audit_events (
				topic, received_at, correlation_id, service_name, event_time, user_id,
				audit_type, action, entity_type, entity_id, status, severity, payload
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`
		args = append(common,
			string(e.AuditType),
			e.Action,
			nullString(e.EntityType),
			nullString(e.EntityID.String()),
			string(e.Status),
			nullString(string(e.Severity)),
			payload,
		)
	case *audit.ApplicationLog:
		query = `
			INSERT INTO application_logs (
				topic, received_at, correlation_id, service_name, event_time, user_id,
				level, message, payload
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`
		args = append(common, string(e.Level), e.Message, payload)
	case *audit.ErrorLog:
		query = `
			INSERT INTO error_logs (
				topic, received_at, correlation_id, service_name, event_time, user_id,
				level, exception_type, message, resolved, payload
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`
		args = append(common, string(e.Level), nullString(e.ExceptionType), e.Message, e.Resolved, payload)
	case *audit.AccessLog:
		query = `
			INSERT INTO access_logs (
				topic, received_at, correlation_id, service_name, event_time, user_id,
				http_method, endpoint, status_code, response_time_ms, payload
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`
		args = append(common, e.HTTPMethod, e.Endpoint, e.StatusCode, e.ResponseTimeMs, payload)
	case *audit.PerformanceLog:
		query = `
			INSERT INTO performance_logs (
				topic, received_at, correlation_id, service_name, event_time, user_id,
				operation, operation_type, duration_ms, is_slow, payload
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`
		args = append(common, e.Operation, nullString(e.OperationType), e.DurationMs, e.IsSlow, payload)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}

	if err := s.execer(ctx).QueryRowContext(ctx, query, args...).Scan(&meta.ID); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Kind(), err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AuditRecord, error) {
	return list(ctx, s, "audit_events", auditWhere(f), p, o, func(m audit.RecordMeta, payload []byte) (audit.AuditRecord, error) {
		r := audit.AuditRecord{RecordMeta: m}
		err := json.Unmarshal(payload, &r.AuditEvent)
		return r, err
	})
}

func (s *Store) CountAudit(ctx context.Context, f audit.Filter) (int64, error) {
	return s.count(ctx, "audit_events", auditWhere(f))
}

func (s *Store) ListApplicationLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ApplicationLogRecord, error) {
	return list(ctx, s, "application_logs", applicationWhere(f), p, o, func(m audit.RecordMeta, payload []byte) (audit.ApplicationLogRecord, error) {
		r := audit.ApplicationLogRecord{RecordMeta: m}
		err := json.Unmarshal(payload, &r.ApplicationLog)
		return r, err
	})
}

func (s *Store) CountApplicationLogs(ctx context.Context, f audit.Filter) (int64, error) {
	return s.count(ctx, "application_logs", applicationWhere(f))
}

func (s *Store) ListErrorLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ErrorLogRecord, error) {
	return list(ctx, s, "error_logs", errorWhere(f), p, o, decodeErrorLog)
}

func (s *Store) CountErrorLogs(ctx context.Context, f audit.Filter) (int64, error) {
	return s.count(ctx, "error_logs", errorWhere(f))
}

func (s *Store) ListAccessLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AccessLogRecord, error) {
	return list(ctx, s, "access_logs", accessWhere(f), p, o, func(m audit.RecordMeta, payload []byte) (audit.AccessLogRecord, error) {
		r := audit.AccessLogRecord{RecordMeta: m}
		err := json.Unmarshal(payload, &r.AccessLog)
		return r, err
	})
}

func (s *Store) CountAccessLogs(ctx context.Context, f audit.Filter) (int64, error) {
	return s.count(ctx, "access_logs", accessWhere(f))
}

func (s *Store) ListPerformanceLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.PerformanceLogRecord, error) {
	return list(ctx, s, "performance_logs", performanceWhere(f), p, o, func(m audit.RecordMeta, payload []byte) (audit.PerformanceLogRecord, error) {
		r := audit.PerformanceLogRecord{RecordMeta: m}
		err := json.Unmarshal(payload, &r.PerformanceLog)
		return r, err
	})
}

func (s *Store) CountPerformanceLogs(ctx context.Context, f audit.Filter) (int64, error) {
	return s.count(ctx, "performance_logs", performanceWhere(f))
}

// AveragePerformanceDuration returns the mean duration in milliseconds of the
// performance logs matching f, or 0 when none match.
func (s *Store) AveragePerformanceDuration(ctx context.Context, f audit.Filter) (float64, error) {
	w := performanceWhere(f)
	query := "SELECT COALESCE(AVG(duration_ms), 0)::float8 FROM performance_logs" + w.clause()
	var avg float64
	if err := s.execer(ctx).QueryRowContext(ctx, query, w.args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average performance_logs: %w", err)
	}
	return avg, nil
}

// MarkErrorResolved flags an error log as resolved. The resolved column and
// the payload are updated together.
func (s *Store) MarkErrorResolved(ctx context.Context, id int64, resolution string) (audit.ErrorLogRecord, error) {
	query := `
		UPDATE error_logs
		SET resolved = TRUE,
			payload = payload
				|| jsonb_build_object('resolved', TRUE)
				|| CASE WHEN $2 = '' THEN '{}'::jsonb ELSE jsonb_build_object('resolution', $2::text) END
		WHERE id = $1
		RETURNING id, topic, received_at, payload
	`
	var (
		meta       audit.RecordMeta
		receivedAt time.Time
		payload    []byte
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, id, resolution).Scan(&meta.ID, &meta.Topic, &receivedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.ErrorLogRecord{}, fmt.Errorf("error log %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return audit.ErrorLogRecord{}, fmt.Errorf("resolve error log: %w", err)
	}
	meta.ReceivedAt = wallClock(receivedAt)
	return decodeErrorLog(meta, payload)
}

func decodeErrorLog(m audit.RecordMeta, payload []byte) (audit.ErrorLogRecord, error) {
	r := audit.ErrorLogRecord{RecordMeta: m}
	err := json.Unmarshal(payload, &r.ErrorLog)
	return r, err
}

func list[T any](ctx context.Context, s *Store, table string, w *where, p audit.Page, o audit.Order, decode func(audit.RecordMeta, []byte) (T, error)) ([]T, error) {
	direction := "DESC"
	if o == audit.OldestFirst {
		direction = "ASC"
	}
	query := fmt.Sprintf(
		"SELECT id, topic, received_at, payload FROM %s%s ORDER BY event_time %s, id %s",
		table, w.clause(), direction, direction,
	)
	args := w.args
	if p.Size > 0 {
		args = append(args, p.Size, p.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var (
			meta       audit.RecordMeta
			receivedAt time.Time
			payload    []byte
		)
		if err := rows.Scan(&meta.ID, &meta.Topic, &receivedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		meta.ReceivedAt = wallClock(receivedAt)
		rec, err := decode(meta, payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", table, meta.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, table string, w *where) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, w.clause())
	if err := s.execer(ctx).QueryRowContext(ctx, query, w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// wallClock reinterprets a TIMESTAMP column, read back as UTC, in the
// local zone it was written in.
func wallClock(t time.Time) audit.LocalTime {
	return audit.LocalTime{Time: time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.Local,
	)}
}
