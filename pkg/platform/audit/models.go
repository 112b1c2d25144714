package audit

import (
	"encoding/json"
	"time"
)

// Kind identifies one of the five event families. Each kind has its own
// payload type, processing use case and storage table.
type Kind string

const (
	KindAudit       Kind = "audit"
	KindApplication Kind = "application"
	KindError       Kind = "error"
	KindAccess      Kind = "access"
	KindPerformance Kind = "performance"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindAudit, KindApplication, KindError, KindAccess, KindPerformance}

// AuditType classifies an audit event by the business area that produced it.
type AuditType string

const (
	AuditTypeLogin        AuditType = "LOGIN"
	AuditTypeCRUD         AuditType = "CRUD"
	AuditTypeTransaction  AuditType = "TRANSACTION"
	AuditTypeSecurity     AuditType = "SECURITY"
	AuditTypeSystem       AuditType = "SYSTEM"
	AuditTypeError        AuditType = "ERROR"
	AuditTypeAPI          AuditType = "API"
	AuditTypeDataTransfer AuditType = "DATA_TRANSFER"
	AuditTypeAdmin        AuditType = "ADMIN"
)

var auditTypes = map[AuditType]struct{}{
	AuditTypeLogin:        {},
	AuditTypeCRUD:         {},
	AuditTypeTransaction:  {},
	AuditTypeSecurity:     {},
	AuditTypeSystem:       {},
	AuditTypeError:        {},
	AuditTypeAPI:          {},
	AuditTypeDataTransfer: {},
	AuditTypeAdmin:        {},
}

// IsValid reports whether t is a known audit type.
func (t AuditType) IsValid() bool {
	_, ok := auditTypes[t]
	return ok
}

// Status is the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Severity grades how much attention an audit event deserves.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// LogLevel follows the usual logging framework levels.
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	LevelFatal LogLevel = "FATAL"
)

var levelRank = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 1,
	LevelInfo:  2,
	LevelWarn:  3,
	LevelError: 4,
	LevelFatal: 5,
}

// IsValid reports whether l is a known level.
func (l LogLevel) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

// AtLeast reports whether l is as severe as min.
func (l LogLevel) AtLeast(min LogLevel) bool {
	return levelRank[l] >= levelRank[min]
}

// LevelsAtLeast lists the known levels as severe as min, least severe first.
func LevelsAtLeast(min LogLevel) []LogLevel {
	var out []LogLevel
	for _, l := range []LogLevel{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		if l.AtLeast(min) {
			out = append(out, l)
		}
	}
	return out
}

// Event is implemented by every payload type. Header exposes the shared
// envelope so publishers and consumers can fill defaults in place.
type Event interface {
	Kind() Kind
	Header() *Envelope
	// Validate checks the fields required before an event may be published.
	Validate() error
	// RoutingKey derives the partition key. now is only consulted when no
	// stable identifier is present.
	RoutingKey(now time.Time) string
}

// Envelope carries the fields shared by every event kind.
type Envelope struct {
	CorrelationID string    `json:"correlationId,omitempty"`
	ServiceName   string    `json:"serviceName"`
	Timestamp     LocalTime `json:"timestamp,omitzero"`
	SessionID     string    `json:"sessionId,omitempty"`
	UserID        OpaqueID  `json:"userId,omitempty"`
	Username      string    `json:"username,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	TerminalID    string    `json:"terminalId,omitempty"`
	StoreID       string    `json:"storeId,omitempty"`
}

// Header returns the envelope itself; it is promoted to every payload type.
func (e *Envelope) Header() *Envelope { return e }

// POSDetails holds point-of-sale context attached to audit events. All
// fields are optional and only set when the business action involves them.
type POSDetails struct {
	StoreName  string `json:"storeName,omitempty"`
	DeviceInfo string `json:"deviceInfo,omitempty"`

	TransactionID string      `json:"transactionId,omitempty"`
	InvoiceNumber string      `json:"invoiceNumber,omitempty"`
	Amount        json.Number `json:"amount,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`

	BatchNumber     string    `json:"batchNumber,omitempty"`
	LotNumber       string    `json:"lotNumber,omitempty"`
	ExpiryDate      LocalTime `json:"expiryDate,omitzero"`
	QuantityBefore  *int      `json:"quantityBefore,omitempty"`
	QuantityAfter   *int      `json:"quantityAfter,omitempty"`
	QuantityChanged *int      `json:"quantityChanged,omitempty"`

	PriceBefore       json.Number `json:"priceBefore,omitempty"`
	PriceAfter        json.Number `json:"priceAfter,omitempty"`
	PriceChangeReason string      `json:"priceChangeReason,omitempty"`
	ApprovedBy        string      `json:"approvedBy,omitempty"`

	PrescriptionID       string `json:"prescriptionId,omitempty"`
	PrescriptionNumber   string `json:"prescriptionNumber,omitempty"`
	RequiresPrescription *bool  `json:"requiresPrescription,omitempty"`
	PharmacistID         string `json:"pharmacistId,omitempty"`
	PharmacistName       string `json:"pharmacistName,omitempty"`
	RegulatoryNotes      string `json:"regulatoryNotes,omitempty"`

	ShiftID      string `json:"shiftId,omitempty"`
	EmployeeID   string `json:"employeeId,omitempty"`
	EmployeeName string `json:"employeeName,omitempty"`
	Role         string `json:"role,omitempty"`
}

// AuditEvent records a discrete business or security action.
type AuditEvent struct {
	Envelope
	AuditType  AuditType `json:"auditType,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   OpaqueID  `json:"rowId,omitempty"`

	UserAgent  string `json:"userAgent,omitempty"`
	HTTPMethod string `json:"httpMethod,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`

	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
	Metadata string `json:"metadata,omitempty"`

	Status       Status   `json:"status,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	StackTrace   string   `json:"stackTrace,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	DurationMs   *int64   `json:"durationMs,omitempty"`

	POSDetails
}

func (*AuditEvent) Kind() Kind { return KindAudit }

// ApplicationLog is a general-purpose log line emitted by a service.
type ApplicationLog struct {
	Envelope
	Level         LogLevel `json:"level"`
	Logger        string   `json:"logger,omitempty"`
	Message       string   `json:"message"`
	Thread        string   `json:"thread,omitempty"`
	Method        string   `json:"method,omitempty"`
	ClassName     string   `json:"className,omitempty"`
	TransactionID string   `json:"transactionId,omitempty"`
	FileName      string   `json:"fileName,omitempty"`
	LineNumber    *int     `json:"lineNumber,omitempty"`
	Metadata      string   `json:"metadata,omitempty"`
	ShiftID       string   `json:"shiftId,omitempty"`
}

func (*ApplicationLog) Kind() Kind { return KindApplication }

// ErrorLog describes a failure. Resolved and Resolution are the only fields
// that may change after the record is stored.
type ErrorLog struct {
	Envelope
	Level         LogLevel `json:"level"`
	ExceptionType string   `json:"exceptionType,omitempty"`
	Message       string   `json:"message"`
	StackTrace    string   `json:"stackTrace,omitempty"`
	RootCause     string   `json:"rootCause,omitempty"`
	TransactionID string   `json:"transactionId,omitempty"`
	ClassName     string   `json:"className,omitempty"`
	Method        string   `json:"method,omitempty"`
	FileName      string   `json:"fileName,omitempty"`
	LineNumber    *int     `json:"lineNumber,omitempty"`
	HTTPMethod    string   `json:"httpMethod,omitempty"`
	Endpoint      string   `json:"endpoint,omitempty"`
	UserAgent     string   `json:"userAgent,omitempty"`
	Metadata      string   `json:"metadata,omitempty"`
	ErrorCode     string   `json:"errorCode,omitempty"`
	Category      string   `json:"category,omitempty"`
	Resolved      bool     `json:"resolved"`
	Resolution    string   `json:"resolution,omitempty"`
}

func (*ErrorLog) Kind() Kind { return KindError }

// AccessLog describes one HTTP request served by a service.
type AccessLog struct {
	Envelope
	HTTPMethod     string    `json:"httpMethod"`
	Endpoint       string    `json:"endpoint"`
	Path           string    `json:"path,omitempty"`
	QueryString    string    `json:"queryString,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	Referer        string    `json:"referer,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	RequestSize    *int64    `json:"requestSize,omitempty"`
	StatusCode     int       `json:"statusCode"`
	ResponseSize   *int64    `json:"responseSize,omitempty"`
	ContentType    string    `json:"contentType,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	RequestTime    LocalTime `json:"requestTime,omitzero"`
	ResponseTime   LocalTime `json:"responseTime,omitzero"`
	AuthMethod     string    `json:"authMethod,omitempty"`
	Authenticated  bool      `json:"authenticated"`
	Metadata       string    `json:"metadata,omitempty"`
}

func (*AccessLog) Kind() Kind { return KindAccess }

// PerformanceLog records the duration of one operation.
type PerformanceLog struct {
	Envelope
	Operation          string   `json:"operation"`
	OperationType      string   `json:"operationType,omitempty"`
	DurationMs         int64    `json:"durationMs"`
	ThresholdMs        *int64   `json:"thresholdMs,omitempty"`
	IsSlow             bool     `json:"isSlow"`
	MemoryUsedMb       *int64   `json:"memoryUsedMb,omitempty"`
	CPUPercent         *float64 `json:"cpuPercent,omitempty"`
	ThreadCount        *int     `json:"threadCount,omitempty"`
	SQLQuery           string   `json:"sqlQuery,omitempty"`
	QueryTimeMs        *int64   `json:"queryTimeMs,omitempty"`
	RowsAffected       *int     `json:"rowsAffected,omitempty"`
	ConnectionPoolSize *int     `json:"connectionPoolSize,omitempty"`
	HTTPMethod         string   `json:"httpMethod,omitempty"`
	Endpoint           string   `json:"endpoint,omitempty"`
	StatusCode         *int     `json:"statusCode,omitempty"`
	TransactionID      string   `json:"transactionId,omitempty"`
	Metadata           string   `json:"metadata,omitempty"`
}

func (*PerformanceLog) Kind() Kind { return KindPerformance }

// Operation types used by performance logs.
const (
	OperationDatabase      = "DATABASE"
	OperationHTTP          = "HTTP"
	OperationKafka         = "KAFKA"
	OperationBusinessLogic = "BUSINESS_LOGIC"
)
