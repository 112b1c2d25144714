package memory

import (
	"slices"
	"strings"

	"hivelog/pkg/platform/audit"
)

func matchEnvelope(f audit.Filter, e *audit.Envelope) bool {
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.ServiceName != "" && e.ServiceName != f.ServiceName {
		return false
	}
	if f.UserID != "" && e.UserID.String() != f.UserID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// containsKeyword is a case-insensitive substring match over fields.
func containsKeyword(keyword string, fields ...string) bool {
	if keyword == "" {
		return true
	}
	k := strings.ToLower(keyword)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), k) {
			return true
		}
	}
	return false
}

func matchAudit(f audit.Filter, r *audit.AuditRecord) bool {
	if !matchEnvelope(f, &r.Envelope) {
		return false
	}
	switch {
	case f.AuditType != "" && r.AuditType != f.AuditType,
		len(f.AuditTypes) > 0 && !slices.Contains(f.AuditTypes, r.AuditType),
		f.Action != "" && r.Action != f.Action,
		f.EntityType != "" && r.EntityType != f.EntityType,
		f.EntityID != "" && r.EntityID.String() != f.EntityID,
		f.Status != "" && r.Status != f.Status,
		f.Severity != "" && r.Severity != f.Severity:
		return false
	}
	return containsKeyword(f.Keyword, r.Action, r.EntityType, r.EntityID.String(),
		r.Username, r.ErrorMessage, r.OldValue, r.NewValue)
}

func matchLevel(f audit.Filter, level audit.LogLevel) bool {
	if f.Level != "" && level != f.Level {
		return false
	}
	if f.MinLevel != "" && !level.AtLeast(f.MinLevel) {
		return false
	}
	return true
}

func matchApplication(f audit.Filter, r *audit.ApplicationLogRecord) bool {
	if !matchEnvelope(f, &r.Envelope) || !matchLevel(f, r.Level) {
		return false
	}
	return containsKeyword(f.Keyword, r.Message, r.Logger, r.ClassName)
}

func matchError(f audit.Filter, r *audit.ErrorLogRecord) bool {
	if !matchEnvelope(f, &r.Envelope) || !matchLevel(f, r.Level) {
		return false
	}
	if f.ExceptionType != "" && r.ExceptionType != f.ExceptionType {
		return false
	}
	if f.Resolved != nil && r.Resolved != *f.Resolved {
		return false
	}
	return containsKeyword(f.Keyword, r.Message, r.ExceptionType, r.RootCause)
}

func matchAccess(f audit.Filter, r *audit.AccessLogRecord) bool {
	if !matchEnvelope(f, &r.Envelope) {
		return false
	}
	switch {
	case f.HTTPMethod != "" && !strings.EqualFold(r.HTTPMethod, f.HTTPMethod),
		f.Endpoint != "" && r.Endpoint != f.Endpoint,
		f.StatusCode != 0 && r.StatusCode != f.StatusCode,
		f.MinStatusCode != 0 && r.StatusCode < f.MinStatusCode,
		f.MinDurationMs > 0 && r.ResponseTimeMs < f.MinDurationMs,
		f.SlowOnly && !r.IsSlow():
		return false
	}
	return containsKeyword(f.Keyword, r.Endpoint, r.Path, r.UserAgent)
}

func matchPerformance(f audit.Filter, r *audit.PerformanceLogRecord) bool {
	if !matchEnvelope(f, &r.Envelope) {
		return false
	}
	switch {
	case f.Operation != "" && r.Operation != f.Operation,
		f.OperationType != "" && r.OperationType != f.OperationType,
		f.MinDurationMs > 0 && r.DurationMs < f.MinDurationMs,
		f.SlowOnly && !r.IsSlow:
		return false
	}
	return containsKeyword(f.Keyword, r.Operation, r.Endpoint, r.SQLQuery)
}
