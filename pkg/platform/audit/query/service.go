// Package query serves read access to stored events. Listings are newest
// first; correlation lookups are oldest first so one request's causal chain
// reads top to bottom.
package query

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/sentinel"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
	// MaxTrailSize caps each kind in a correlation lookup.
	MaxTrailSize = 1000
)

// Store is the read side of the event store.
type Store interface {
	ListAudit(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AuditRecord, error)
	CountAudit(ctx context.Context, f audit.Filter) (int64, error)
	ListApplicationLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ApplicationLogRecord, error)
	CountApplicationLogs(ctx context.Context, f audit.Filter) (int64, error)
	ListErrorLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ErrorLogRecord, error)
	CountErrorLogs(ctx context.Context, f audit.Filter) (int64, error)
	ListAccessLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AccessLogRecord, error)
	CountAccessLogs(ctx context.Context, f audit.Filter) (int64, error)
	ListPerformanceLogs(ctx context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.PerformanceLogRecord, error)
	CountPerformanceLogs(ctx context.Context, f audit.Filter) (int64, error)
	AveragePerformanceDuration(ctx context.Context, f audit.Filter) (float64, error)
	MarkErrorResolved(ctx context.Context, id int64, resolution string) (audit.ErrorLogRecord, error)
}

// Result is one page of records plus the total matching the filter.
type Result[T any] struct {
	Items []T   `json:"items"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

// Trail is every record sharing one correlation id, oldest first per kind.
type Trail struct {
	CorrelationID string                       `json:"correlationId"`
	Audit         []audit.AuditRecord          `json:"audit"`
	Application   []audit.ApplicationLogRecord `json:"application"`
	Errors        []audit.ErrorLogRecord       `json:"errors"`
	Access        []audit.AccessLogRecord      `json:"access"`
	Performance   []audit.PerformanceLogRecord `json:"performance"`
}

// Service validates read requests and caches counts.
type Service struct {
	store  Store
	cache  *CountCache
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCountCache caches count aggregates.
func WithCountCache(c *CountCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// NewService creates a query service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AuditEvents(ctx context.Context, f audit.Filter, p audit.Page) (Result[audit.AuditRecord], error) {
	return listPage(ctx, s, audit.KindAudit, f, p, s.store.ListAudit, s.store.CountAudit)
}

func (s *Service) ApplicationLogs(ctx context.Context, f audit.Filter, p audit.Page) (Result[audit.ApplicationLogRecord], error) {
	return listPage(ctx, s, audit.KindApplication, f, p, s.store.ListApplicationLogs, s.store.CountApplicationLogs)
}

func (s *Service) ErrorLogs(ctx context.Context, f audit.Filter, p audit.Page) (Result[audit.ErrorLogRecord], error) {
	return listPage(ctx, s, audit.KindError, f, p, s.store.ListErrorLogs, s.store.CountErrorLogs)
}

func (s *Service) AccessLogs(ctx context.Context, f audit.Filter, p audit.Page) (Result[audit.AccessLogRecord], error) {
	return listPage(ctx, s, audit.KindAccess, f, p, s.store.ListAccessLogs, s.store.CountAccessLogs)
}

func (s *Service) PerformanceLogs(ctx context.Context, f audit.Filter, p audit.Page) (Result[audit.PerformanceLogRecord], error) {
	return listPage(ctx, s, audit.KindPerformance, f, p, s.store.ListPerformanceLogs, s.store.CountPerformanceLogs)
}

// Count returns how many records of kind match f.
func (s *Service) Count(ctx context.Context, kind audit.Kind, f audit.Filter) (int64, error) {
	if err := validateFilter(f); err != nil {
		return 0, err
	}
	var fn func(context.Context, audit.Filter) (int64, error)
	switch kind {
	case audit.KindAudit:
		fn = s.store.CountAudit
	case audit.KindApplication:
		fn = s.store.CountApplicationLogs
	case audit.KindError:
		fn = s.store.CountErrorLogs
	case audit.KindAccess:
		fn = s.store.CountAccessLogs
	case audit.KindPerformance:
		fn = s.store.CountPerformanceLogs
	default:
		return 0, dErrors.New(dErrors.CodeBadRequest, "unknown event kind")
	}
	return s.count(ctx, kind, f, fn)
}

// AverageDuration returns the mean duration in milliseconds of operation
// across the performance logs matching f. It is 0 when nothing matches.
func (s *Service) AverageDuration(ctx context.Context, operation string, f audit.Filter) (float64, error) {
	if operation == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "operation is required")
	}
	if err := validateFilter(f); err != nil {
		return 0, err
	}
	f.Operation = operation
	avg, err := s.store.AveragePerformanceDuration(ctx, f)
	if err != nil {
		return 0, s.storeError(ctx, "average performance logs", err)
	}
	return avg, nil
}

// Trail collects every record carrying correlationID across all kinds.
func (s *Service) Trail(ctx context.Context, correlationID string) (*Trail, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "correlation id is required")
	}
	f := audit.Filter{CorrelationID: correlationID}
	p := audit.Page{Size: MaxTrailSize}
	t := &Trail{CorrelationID: correlationID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		t.Audit, err = s.store.ListAudit(gctx, f, p, audit.OldestFirst)
		return err
	})
	g.Go(func() (err error) {
		t.Application, err = s.store.ListApplicationLogs(gctx, f, p, audit.OldestFirst)
		return err
	})
	g.Go(func() (err error) {
		t.Errors, err = s.store.ListErrorLogs(gctx, f, p, audit.OldestFirst)
		return err
	})
	g.Go(func() (err error) {
		t.Access, err = s.store.ListAccessLogs(gctx, f, p, audit.OldestFirst)
		return err
	})
	g.Go(func() (err error) {
		t.Performance, err = s.store.ListPerformanceLogs(gctx, f, p, audit.OldestFirst)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.storeError(ctx, "load correlation trail", err)
	}
	return t, nil
}

func (s *Service) AuditByCorrelation(ctx context.Context, correlationID string) ([]audit.AuditRecord, error) {
	return byCorrelation(ctx, s, correlationID, s.store.ListAudit)
}

func (s *Service) ApplicationLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.ApplicationLogRecord, error) {
	return byCorrelation(ctx, s, correlationID, s.store.ListApplicationLogs)
}

func (s *Service) ErrorLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.ErrorLogRecord, error) {
	return byCorrelation(ctx, s, correlationID, s.store.ListErrorLogs)
}

func (s *Service) AccessLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.AccessLogRecord, error) {
	return byCorrelation(ctx, s, correlationID, s.store.ListAccessLogs)
}

func (s *Service) PerformanceLogsByCorrelation(ctx context.Context, correlationID string) ([]audit.PerformanceLogRecord, error) {
	return byCorrelation(ctx, s, correlationID, s.store.ListPerformanceLogs)
}

// ResolveError marks an error log as resolved. Cached error counts are
// dropped so unresolved totals stay accurate.
func (s *Service) ResolveError(ctx context.Context, id int64, resolution string) (audit.ErrorLogRecord, error) {
	if id <= 0 {
		return audit.ErrorLogRecord{}, dErrors.New(dErrors.CodeInvalidInput, "invalid error log id")
	}
	rec, err := s.store.MarkErrorResolved(ctx, id, resolution)
	if errors.Is(err, sentinel.ErrNotFound) {
		return audit.ErrorLogRecord{}, dErrors.Wrap(err, dErrors.CodeNotFound, "error log not found")
	}
	if err != nil {
		return audit.ErrorLogRecord{}, s.storeError(ctx, "resolve error log", err)
	}
	s.cache.Invalidate(ctx, audit.KindError)
	s.logger.InfoContext(ctx, "error log resolved", "id", id)
	return rec, nil
}

type listFunc[T any] func(context.Context, audit.Filter, audit.Page, audit.Order) ([]T, error)

func listPage[T any](ctx context.Context, s *Service, kind audit.Kind, f audit.Filter, p audit.Page, list listFunc[T], count func(context.Context, audit.Filter) (int64, error)) (Result[T], error) {
	p, err := normalizePage(p)
	if err != nil {
		return Result[T]{}, err
	}
	if err := validateFilter(f); err != nil {
		return Result[T]{}, err
	}
	order := audit.NewestFirst
	if f.CorrelationID != "" {
		order = audit.OldestFirst
	}
	items, err := list(ctx, f, p, order)
	if err != nil {
		return Result[T]{}, s.storeError(ctx, "list "+string(kind), err)
	}
	total, err := count(ctx, f)
	if err != nil {
		return Result[T]{}, s.storeError(ctx, "count "+string(kind), err)
	}
	return Result[T]{Items: items, Page: p.Number, Size: p.Size, Total: total}, nil
}

func byCorrelation[T any](ctx context.Context, s *Service, correlationID string, list listFunc[T]) ([]T, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "correlation id is required")
	}
	items, err := list(ctx, audit.Filter{CorrelationID: correlationID}, audit.Page{Size: MaxTrailSize}, audit.OldestFirst)
	if err != nil {
		return nil, s.storeError(ctx, "list by correlation", err)
	}
	return items, nil
}

func (s *Service) count(ctx context.Context, kind audit.Kind, f audit.Filter, fn func(context.Context, audit.Filter) (int64, error)) (int64, error) {
	if n, ok := s.cache.Get(ctx, kind, f); ok {
		return n, nil
	}
	n, err := fn(ctx, f)
	if err != nil {
		return 0, s.storeError(ctx, "count "+string(kind), err)
	}
	s.cache.Set(ctx, kind, f, n)
	return n, nil
}

func (s *Service) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "query timed out")
	}
	s.logger.ErrorContext(ctx, "query failed", "operation", op, "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
}

func normalizePage(p audit.Page) (audit.Page, error) {
	if p.Number < 0 {
		return p, dErrors.New(dErrors.CodeInvalidInput, "page must not be negative")
	}
	if p.Size < 0 {
		return p, dErrors.New(dErrors.CodeInvalidInput, "size must not be negative")
	}
	if p.Size == 0 {
		p.Size = DefaultPageSize
	}
	p.Size = min(p.Size, MaxPageSize)
	if p.Number > math.MaxInt/p.Size {
		return p, dErrors.New(dErrors.CodeInvalidInput, "page is out of range")
	}
	return p, nil
}

func validateFilter(f audit.Filter) error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return dErrors.New(dErrors.CodeInvalidInput, "start date must not be after end date")
	}
	if f.AuditType != "" && !f.AuditType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown audit type")
	}
	for _, t := range f.AuditTypes {
		if !t.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, "unknown audit type")
		}
	}
	if f.Level != "" && !f.Level.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown log level")
	}
	if f.MinLevel != "" && !f.MinLevel.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown log level")
	}
	return nil
}
