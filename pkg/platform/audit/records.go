package audit

import "time"

// RecordMeta is assigned by the ingestion service when an event is stored.
type RecordMeta struct {
	ID         int64     `json:"id"`
	Topic      string    `json:"topic"`
	ReceivedAt LocalTime `json:"receivedAt,omitzero"`
}

// AuditRecord is a persisted audit event.
type AuditRecord struct {
	RecordMeta
	AuditEvent
}

// ApplicationLogRecord is a persisted application log.
type ApplicationLogRecord struct {
	RecordMeta
	ApplicationLog
}

// ErrorLogRecord is a persisted error log.
type ErrorLogRecord struct {
	RecordMeta
	ErrorLog
}

// AccessLogRecord is a persisted access log.
type AccessLogRecord struct {
	RecordMeta
	AccessLog
}

// PerformanceLogRecord is a persisted performance log.
type PerformanceLogRecord struct {
	RecordMeta
	PerformanceLog
}

// Filter narrows a query over one kind. Empty fields match everything;
// fields that do not apply to a kind are ignored.
type Filter struct {
	CorrelationID string
	ServiceName   string
	UserID        string
	From          time.Time
	To            time.Time
	Keyword       string

	// Audit events.
	AuditType  AuditType
	Action     string
	EntityType string
	EntityID   string
	Status     Status
	Severity   Severity
	// AuditTypes matches any of the listed types when set.
	AuditTypes []AuditType

	// Application and error logs.
	Level    LogLevel
	MinLevel LogLevel

	// Error logs.
	ExceptionType string
	Resolved      *bool

	// Access logs.
	HTTPMethod    string
	Endpoint      string
	StatusCode    int
	MinStatusCode int

	// Access and performance logs.
	MinDurationMs int64
	SlowOnly      bool

	// Performance logs.
	Operation     string
	OperationType string
}

// Page selects a window of results. Page numbers start at zero.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return p.Number * p.Size
}

// Order is the sort order of a query result.
type Order int

const (
	// NewestFirst is the default order for every listing.
	NewestFirst Order = iota
	// OldestFirst reconstructs the causal chain of one correlation id.
	OldestFirst
)

// SlowRequestThreshold marks an access log as slow.
const SlowRequestThreshold = time.Second

// IsSlow reports whether the request took longer than SlowRequestThreshold.
func (l *AccessLog) IsSlow() bool {
	return l.ResponseTimeMs > SlowRequestThreshold.Milliseconds()
}
