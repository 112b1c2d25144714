package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"hivelog/pkg/platform/audit"
)

// where accumulates AND-ed conditions. Every "?" in a condition refers to
// the single argument added with it.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// keyword matches any of the given expressions, case-insensitively.
func (w *where) keyword(keyword string, exprs ...string) {
	if keyword == "" {
		return
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e + " ILIKE ?"
	}
	w.add("("+strings.Join(parts, " OR ")+")", "%"+escapeLike(keyword)+"%")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func envelopeWhere(f audit.Filter) *where {
	w := &where{}
	w.eq("correlation_id", f.CorrelationID)
	w.eq("service_name", f.ServiceName)
	w.eq("user_id", f.UserID)
	if !f.From.IsZero() {
		w.add("event_time >= ?", f.From.In(time.Local))
	}
	if !f.To.IsZero() {
		w.add("event_time <= ?", f.To.In(time.Local))
	}
	return w
}

func auditWhere(f audit.Filter) *where {
	w := envelopeWhere(f)
	w.eq("audit_type", string(f.AuditType))
	if len(f.AuditTypes) > 0 {
		types := make([]string, len(f.AuditTypes))
		for i, t := range f.AuditTypes {
			types[i] = string(t)
		}
		w.add("audit_type = ANY(?::text[])", pq.Array(types))
	}
	w.eq("action", f.Action)
	w.eq("entity_type", f.EntityType)
	w.eq("entity_id", f.EntityID)
	w.eq("status", string(f.Status))
	w.eq("severity", string(f.Severity))
	w.keyword(f.Keyword, "action", "entity_type", "entity_id",
		"payload->>'username'", "payload->>'errorMessage'",
		"payload->>'oldValue'", "payload->>'newValue'")
	return w
}

func levelWhere(w *where, f audit.Filter) {
	w.eq("level", string(f.Level))
	if f.MinLevel != "" {
		levels := audit.LevelsAtLeast(f.MinLevel)
		names := make([]string, len(levels))
		for i, l := range levels {
			names[i] = string(l)
		}
		w.add("level = ANY(?::text[])", pq.Array(names))
	}
}

func applicationWhere(f audit.Filter) *where {
	w := envelopeWhere(f)
	levelWhere(w, f)
	w.keyword(f.Keyword, "message", "payload->>'logger'", "payload->>'className'")
	return w
}

func errorWhere(f audit.Filter) *where {
	w := envelopeWhere(f)
	levelWhere(w, f)
	w.eq("exception_type", f.ExceptionType)
	if f.Resolved != nil {
		w.add("resolved = ?", *f.Resolved)
	}
	w.keyword(f.Keyword, "message", "exception_type", "payload->>'rootCause'")
	return w
}

func accessWhere(f audit.Filter) *where {
	w := envelopeWhere(f)
	if f.HTTPMethod != "" {
		w.add("UPPER(http_method) = ?", strings.ToUpper(f.HTTPMethod))
	}
	w.eq("endpoint", f.Endpoint)
	if f.StatusCode != 0 {
		w.add("status_code = ?", f.StatusCode)
	}
	if f.MinStatusCode != 0 {
		w.add("status_code >= ?", f.MinStatusCode)
	}
	if f.MinDurationMs > 0 {
		w.add("response_time_ms >= ?", f.MinDurationMs)
	}
	if f.SlowOnly {
		w.add("response_time_ms > ?", audit.SlowRequestThreshold.Milliseconds())
	}
	w.keyword(f.Keyword, "endpoint", "payload->>'path'", "payload->>'userAgent'")
	return w
}

func performanceWhere(f audit.Filter) *where {
	w := envelopeWhere(f)
	w.eq("operation", f.Operation)
	w.eq("operation_type", f.OperationType)
	if f.MinDurationMs > 0 {
		w.add("duration_ms >= ?", f.MinDurationMs)
	}
	if f.SlowOnly {
		w.raw("is_slow")
	}
	w.keyword(f.Keyword, "operation", "payload->>'endpoint'", "payload->>'sqlQuery'")
	return w
}
