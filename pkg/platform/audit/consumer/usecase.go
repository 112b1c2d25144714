package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"hivelog/pkg/platform/audit"
)

// Store appends one event and fills in meta.ID.
type Store interface {
	Append(ctx context.Context, meta *audit.RecordMeta, ev audit.Event) error
}

// Transactor scopes a unit of work to one transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UseCase validates, normalizes and persists events of one kind. Every
// successful call writes exactly one record in its own transaction.
// Redelivered events are stored again: nothing deduplicates on the
// correlation id.
type UseCase struct {
	kind      audit.Kind
	store     Store
	tx        Transactor
	normalize func(topic string, ev audit.Event)
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// UseCaseOption configures a UseCase.
type UseCaseOption func(*UseCase)

func WithUseCaseLogger(logger *slog.Logger) UseCaseOption {
	return func(u *UseCase) {
		u.logger = logger
	}
}

func WithUseCaseMetrics(m *Metrics) UseCaseOption {
	return func(u *UseCase) {
		u.metrics = m
	}
}

// WithUseCaseClock overrides the receive time source.
func WithUseCaseClock(now func() time.Time) UseCaseOption {
	return func(u *UseCase) {
		u.now = now
	}
}

func newUseCase(kind audit.Kind, store Store, tx Transactor, normalize func(string, audit.Event), opts []UseCaseOption) *UseCase {
	u := &UseCase{
		kind:      kind,
		store:     store,
		tx:        tx,
		normalize: normalize,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NewAuditUseCase handles audit events. A missing audit type defaults from
// the topic the event arrived on and a missing status defaults to SUCCESS.
func NewAuditUseCase(store Store, tx Transactor, opts ...UseCaseOption) *UseCase {
	return newUseCase(audit.KindAudit, store, tx, normalizeAudit, opts)
}

// NewApplicationLogUseCase handles application logs; level defaults to INFO.
func NewApplicationLogUseCase(store Store, tx Transactor, opts ...UseCaseOption) *UseCase {
	return newUseCase(audit.KindApplication, store, tx, normalizeApplication, opts)
}

// NewErrorLogUseCase handles error logs; level defaults to ERROR and the
// resolved flag always starts false.
func NewErrorLogUseCase(store Store, tx Transactor, opts ...UseCaseOption) *UseCase {
	return newUseCase(audit.KindError, store, tx, normalizeError, opts)
}

// NewAccessLogUseCase handles access logs.
func NewAccessLogUseCase(store Store, tx Transactor, opts ...UseCaseOption) *UseCase {
	return newUseCase(audit.KindAccess, store, tx, nil, opts)
}

// NewPerformanceLogUseCase handles performance logs and recomputes the slow
// flag when a threshold is present.
func NewPerformanceLogUseCase(store Store, tx Transactor, opts ...UseCaseOption) *UseCase {
	return newUseCase(audit.KindPerformance, store, tx, normalizePerformance, opts)
}

// Kind returns the event kind this use case accepts.
func (u *UseCase) Kind() audit.Kind { return u.kind }

// Process stores ev received on topic and returns the new record id.
// Failures are logged with the full payload and topic so the event can be
// replayed by hand; the error is returned for accounting only.
func (u *UseCase) Process(ctx context.Context, topic string, ev audit.Event) (int64, error) {
	if ev.Kind() != u.kind {
		err := fmt.Errorf("%s use case received %s event", u.kind, ev.Kind())
		u.logger.ErrorContext(ctx, "event rejected",
			"kind", u.kind,
			"topic", topic,
			"payload", u.payload(ev),
			"error", err,
		)
		return 0, err
	}
	if err := audit.CheckIngest(ev); err != nil {
		u.logger.ErrorContext(ctx, "event rejected",
			"kind", u.kind,
			"topic", topic,
			"payload", u.payload(ev),
			"error", err,
		)
		return 0, err
	}

	receivedAt := u.now()
	if hdr := ev.Header(); hdr.Timestamp.IsZero() {
		hdr.Timestamp = audit.NewLocalTime(receivedAt)
	}
	if u.normalize != nil {
		u.normalize(topic, ev)
	}

	meta := audit.RecordMeta{Topic: topic, ReceivedAt: audit.NewLocalTime(receivedAt)}
	start := time.Now()
	err := u.tx.RunInTx(ctx, func(ctx context.Context) error {
		return u.store.Append(ctx, &meta, ev)
	})
	u.metrics.observePersist(string(u.kind), time.Since(start))
	if err != nil {
		u.logger.ErrorContext(ctx, "failed to persist event",
			"kind", u.kind,
			"topic", topic,
			"correlation_id", ev.Header().CorrelationID,
			"payload", u.payload(ev),
			"error", err,
		)
		return 0, fmt.Errorf("persist %s event: %w", u.kind, err)
	}

	u.logger.DebugContext(ctx, "event stored",
		"kind", u.kind,
		"topic", topic,
		"id", meta.ID,
		"correlation_id", ev.Header().CorrelationID,
	)
	return meta.ID, nil
}

func (u *UseCase) payload(ev audit.Event) string {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Sprintf("%+v", ev)
	}
	return string(data)
}

func normalizeAudit(topic string, ev audit.Event) {
	e := ev.(*audit.AuditEvent)
	if e.AuditType == "" {
		if t, ok := audit.AuditTopics[topic]; ok {
			e.AuditType = t
		} else {
			e.AuditType = audit.AuditTypeCRUD
		}
	}
	if e.Status == "" {
		e.Status = audit.StatusSuccess
	}
}

func normalizeApplication(_ string, ev audit.Event) {
	l := ev.(*audit.ApplicationLog)
	if l.Level == "" {
		l.Level = audit.LevelInfo
	}
}

func normalizeError(_ string, ev audit.Event) {
	l := ev.(*audit.ErrorLog)
	if l.Level == "" {
		l.Level = audit.LevelError
	}
	l.Resolved = false
	l.Resolution = ""
}

func normalizePerformance(_ string, ev audit.Event) {
	l := ev.(*audit.PerformanceLog)
	if l.ThresholdMs != nil {
		l.IsSlow = l.DurationMs > *l.ThresholdMs
	}
}
