package consumer

import (
	"context"
	"encoding/json"

	"hivelog/pkg/platform/audit"
)

// Processor persists one decoded event.
type Processor interface {
	Process(ctx context.Context, topic string, ev audit.Event) (int64, error)
}

// Route binds a topic to the event type its payloads decode into and the
// processor that stores them.
type Route struct {
	Topic     string
	Kind      audit.Kind
	Decode    func(data []byte) (audit.Event, error)
	Processor Processor
}

// Bind builds a Route whose payloads decode into a fresh *T.
func Bind[T any, PT interface {
	*T
	audit.Event
}](topic string, p Processor) Route {
	var zero PT = new(T)
	return Route{
		Topic: topic,
		Kind:  zero.Kind(),
		Decode: func(data []byte) (audit.Event, error) {
			var ev PT = new(T)
			if err := json.Unmarshal(data, ev); err != nil {
				return nil, err
			}
			return ev, nil
		},
		Processor: p,
	}
}

// UseCases groups one processor per event kind.
type UseCases struct {
	Audit       Processor
	Application Processor
	Error       Processor
	Access      Processor
	Performance Processor
}

// NewUseCases builds every use case over one store and transactor.
func NewUseCases(store Store, tx Transactor, opts ...UseCaseOption) UseCases {
	return UseCases{
		Audit:       NewAuditUseCase(store, tx, opts...),
		Application: NewApplicationLogUseCase(store, tx, opts...),
		Error:       NewErrorLogUseCase(store, tx, opts...),
		Access:      NewAccessLogUseCase(store, tx, opts...),
		Performance: NewPerformanceLogUseCase(store, tx, opts...),
	}
}

// DefaultRoutes is the static subscription table: six audit topics that
// all carry audit events, and one topic per log kind.
func DefaultRoutes(uc UseCases) []Route {
	return []Route{
		Bind[audit.AuditEvent](audit.TopicLoginEvents, uc.Audit),
		Bind[audit.AuditEvent](audit.TopicCRUDEvents, uc.Audit),
		Bind[audit.AuditEvent](audit.TopicTransactionEvents, uc.Audit),
		Bind[audit.AuditEvent](audit.TopicSecurityEvents, uc.Audit),
		Bind[audit.AuditEvent](audit.TopicSystemEvents, uc.Audit),
		Bind[audit.AuditEvent](audit.TopicErrorEvents, uc.Audit),

		Bind[audit.ApplicationLog](audit.TopicApplicationLogs, uc.Application),
		Bind[audit.ErrorLog](audit.TopicErrorLogs, uc.Error),
		Bind[audit.AccessLog](audit.TopicAccessLogs, uc.Access),
		Bind[audit.PerformanceLog](audit.TopicPerformanceLogs, uc.Performance),
	}
}
