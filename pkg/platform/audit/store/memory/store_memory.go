package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/sentinel"
)

// InMemoryStore keeps every record in process. Record ids are shared across
// kinds and strictly increasing.
type InMemoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	audits       []audit.AuditRecord
	applications []audit.ApplicationLogRecord
	errors       []audit.ErrorLogRecord
	accesses     []audit.AccessLogRecord
	performances []audit.PerformanceLogRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = 0
	s.audits = nil
	s.applications = nil
	s.errors = nil
	s.accesses = nil
	s.performances = nil
}

// Append stores a copy of ev and sets meta.ID.
func (s *InMemoryStore) Append(_ context.Context, meta *audit.RecordMeta, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := *meta
	m.ID = s.nextID + 1
	switch e := ev.(type) {
	case *audit.AuditEvent:
		s.audits = append(s.audits, audit.AuditRecord{RecordMeta: m, AuditEvent: *e})
	case *audit.ApplicationLog:
		s.applications = append(s.applications, audit.ApplicationLogRecord{RecordMeta: m, ApplicationLog: *e})
	case *audit.ErrorLog:
		s.errors = append(s.errors, audit.ErrorLogRecord{RecordMeta: m, ErrorLog: *e})
	case *audit.AccessLog:
		s.accesses = append(s.accesses, audit.AccessLogRecord{RecordMeta: m, AccessLog: *e})
	case *audit.PerformanceLog:
		s.performances = append(s.performances, audit.PerformanceLogRecord{RecordMeta: m, PerformanceLog: *e})
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
	s.nextID = m.ID
	meta.ID = m.ID
	return nil
}

func (s *InMemoryStore) ListAudit(_ context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.audits, func(r *audit.AuditRecord) bool { return matchAudit(f, r) }, auditKey, p, o), nil
}

func (s *InMemoryStore) CountAudit(_ context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.audits, func(r *audit.AuditRecord) bool { return matchAudit(f, r) }), nil
}

func (s *InMemoryStore) ListApplicationLogs(_ context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ApplicationLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.applications, func(r *audit.ApplicationLogRecord) bool { return matchApplication(f, r) }, applicationKey, p, o), nil
}

func (s *InMemoryStore) CountApplicationLogs(_ context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.applications, func(r *audit.ApplicationLogRecord) bool { return matchApplication(f, r) }), nil
}

func (s *InMemoryStore) ListErrorLogs(_ context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.ErrorLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.errors, func(r *audit.ErrorLogRecord) bool { return matchError(f, r) }, errorKey, p, o), nil
}

func (s *InMemoryStore) CountErrorLogs(_ context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.errors, func(r *audit.ErrorLogRecord) bool { return matchError(f, r) }), nil
}

func (s *InMemoryStore) ListAccessLogs(_ context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.AccessLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.accesses, func(r *audit.AccessLogRecord) bool { return matchAccess(f, r) }, accessKey, p, o), nil
}

func (s *InMemoryStore) CountAccessLogs(_ context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.accesses, func(r *audit.AccessLogRecord) bool { return matchAccess(f, r) }), nil
}

func (s *InMemoryStore) ListPerformanceLogs(_ context.Context, f audit.Filter, p audit.Page, o audit.Order) ([]audit.PerformanceLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return window(s.performances, func(r *audit.PerformanceLogRecord) bool { return matchPerformance(f, r) }, performanceKey, p, o), nil
}

func (s *InMemoryStore) CountPerformanceLogs(_ context.Context, f audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(s.performances, func(r *audit.PerformanceLogRecord) bool { return matchPerformance(f, r) }), nil
}

func (s *InMemoryStore) AveragePerformanceDuration(_ context.Context, f audit.Filter) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum, n int64
	for i := range s.performances {
		if r := &s.performances[i]; matchPerformance(f, r) {
			sum += r.DurationMs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

// MarkErrorResolved flags an error log as resolved.
func (s *InMemoryStore) MarkErrorResolved(_ context.Context, id int64, resolution string) (audit.ErrorLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.errors {
		if s.errors[i].ID == id {
			s.errors[i].Resolved = true
			s.errors[i].Resolution = resolution
			return s.errors[i], nil
		}
	}
	return audit.ErrorLogRecord{}, fmt.Errorf("error log %d: %w", id, sentinel.ErrNotFound)
}

type sortKey struct {
	at time.Time
	id int64
}

func auditKey(r *audit.AuditRecord) sortKey { return sortKey{r.Timestamp.Time, r.ID} }
func applicationKey(r *audit.ApplicationLogRecord) sortKey {
	return sortKey{r.Timestamp.Time, r.ID}
}
func errorKey(r *audit.ErrorLogRecord) sortKey   { return sortKey{r.Timestamp.Time, r.ID} }
func accessKey(r *audit.AccessLogRecord) sortKey { return sortKey{r.Timestamp.Time, r.ID} }
func performanceKey(r *audit.PerformanceLogRecord) sortKey {
	return sortKey{r.Timestamp.Time, r.ID}
}

// window filters, orders by event timestamp then id, and pages. The result
// never aliases the store's backing arrays.
func window[T any](rows []T, keep func(*T) bool, key func(*T) sortKey, p audit.Page, o audit.Order) []T {
	matched := make([]T, 0)
	for i := range rows {
		if keep(&rows[i]) {
			matched = append(matched, rows[i])
		}
	}
	slices.SortStableFunc(matched, func(a, b T) int {
		ka, kb := key(&a), key(&b)
		c := ka.at.Compare(kb.at)
		if c == 0 {
			c = cmp.Compare(ka.id, kb.id)
		}
		if o == audit.NewestFirst {
			return -c
		}
		return c
	})

	if p.Size <= 0 {
		return matched
	}
	start := min(p.Offset(), len(matched))
	end := min(start+p.Size, len(matched))
	return matched[start:end]
}

func count[T any](rows []T, keep func(*T) bool) int64 {
	var n int64
	for i := range rows {
		if keep(&rows[i]) {
			n++
		}
	}
	return n
}
