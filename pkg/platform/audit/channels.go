package audit

// Channel names a topic that business services publish to.
type Channel string

// Outbound channels used by business services.
const (
	ChannelAuditCRUD       Channel = "audit-crud"
	ChannelAuditError      Channel = "audit-error"
	ChannelLogsApplication Channel = "logs-application"
	ChannelLogsError       Channel = "logs-error"
	ChannelLogsAccess      Channel = "logs-access"
	ChannelLogsPerformance Channel = "logs-performance"
)

// Inbound topics consumed by the ingestion service.
const (
	TopicLoginEvents       = "login-events"
	TopicCRUDEvents        = "crud-events"
	TopicTransactionEvents = "transaction-events"
	TopicSecurityEvents    = "security-events"
	TopicSystemEvents      = "system-events"
	TopicErrorEvents       = "error-events"

	TopicApplicationLogs = "application-logs"
	TopicErrorLogs       = "error-logs"
	TopicAccessLogs      = "access-logs"
	TopicPerformanceLogs = "performance-logs"
)

// AuditTopics lists the inbound topics carrying audit events, and the audit
// type assumed for events that arrive on them without one.
var AuditTopics = map[string]AuditType{
	TopicLoginEvents:       AuditTypeLogin,
	TopicCRUDEvents:        AuditTypeCRUD,
	TopicTransactionEvents: AuditTypeTransaction,
	TopicSecurityEvents:    AuditTypeSecurity,
	TopicSystemEvents:      AuditTypeSystem,
	TopicErrorEvents:       AuditTypeError,
}

// LogTopics maps the inbound log topics to their kind.
var LogTopics = map[string]Kind{
	TopicApplicationLogs: KindApplication,
	TopicErrorLogs:       KindError,
	TopicAccessLogs:      KindAccess,
	TopicPerformanceLogs: KindPerformance,
}

// DefaultChannelTopics resolves an outbound channel to the broker topic it is
// written to. Deployments may override entries through configuration.
func DefaultChannelTopics() map[Channel]string {
	return map[Channel]string{
		ChannelAuditCRUD:       TopicCRUDEvents,
		ChannelAuditError:      TopicErrorEvents,
		ChannelLogsApplication: TopicApplicationLogs,
		ChannelLogsError:       TopicErrorLogs,
		ChannelLogsAccess:      TopicAccessLogs,
		ChannelLogsPerformance: TopicPerformanceLogs,
	}
}

// InboundTopics returns every topic the ingestion service subscribes to.
func InboundTopics() []string {
	return []string{
		TopicLoginEvents,
		TopicCRUDEvents,
		TopicTransactionEvents,
		TopicSecurityEvents,
		TopicSystemEvents,
		TopicErrorEvents,
		TopicApplicationLogs,
		TopicErrorLogs,
		TopicAccessLogs,
		TopicPerformanceLogs,
	}
}
