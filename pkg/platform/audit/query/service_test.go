package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "hivelog/pkg/domain-errors"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/store/memory"
)

// brokenStore fails every access-log read with err.
type brokenStore struct {
	*memory.InMemoryStore
	err error
}

func (b *brokenStore) ListAccessLogs(context.Context, audit.Filter, audit.Page, audit.Order) ([]audit.AccessLogRecord, error) {
	return nil, b.err
}

func (b *brokenStore) CountAccessLogs(context.Context, audit.Filter) (int64, error) {
	return 0, b.err
}

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.InMemoryStore
	svc   *Service
	base  time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewInMemoryStore()
	s.svc = NewService(s.store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.base = time.Date(2026, 4, 2, 8, 0, 0, 0, time.Local)
}

func (s *ServiceSuite) appLog(correlationID, message string, offset time.Duration) {
	meta := audit.RecordMeta{Topic: audit.TopicApplicationLogs}
	s.Require().NoError(s.store.Append(s.ctx, &meta, &audit.ApplicationLog{
		Envelope: audit.Envelope{
			CorrelationID: correlationID,
			ServiceName:   "inventory",
			Timestamp:     audit.NewLocalTime(s.base.Add(offset)),
		},
		Level:   audit.LevelInfo,
		Message: message,
	}))
}

func (s *ServiceSuite) TestOrdering() {
	s.appLog("c-1", "first", 0)
	s.appLog("c-1", "second", time.Second)
	s.appLog("c-2", "third", 2*time.Second)

	s.Run("listings are newest first", func() {
		res, err := s.svc.ApplicationLogs(s.ctx, audit.Filter{}, audit.Page{})
		s.Require().NoError(err)
		s.Require().Len(res.Items, 3)
		s.Equal("third", res.Items[0].Message)
		s.Equal(DefaultPageSize, res.Size)
		s.EqualValues(3, res.Total)
	})

	s.Run("correlation filter reads oldest first", func() {
		res, err := s.svc.ApplicationLogs(s.ctx, audit.Filter{CorrelationID: "c-1"}, audit.Page{})
		s.Require().NoError(err)
		s.Require().Len(res.Items, 2)
		s.Equal("first", res.Items[0].Message)
		s.Equal("second", res.Items[1].Message)
	})

	s.Run("correlation lookup reads oldest first", func() {
		items, err := s.svc.ApplicationLogsByCorrelation(s.ctx, "c-1")
		s.Require().NoError(err)
		s.Require().Len(items, 2)
		s.Equal("first", items[0].Message)
	})

	s.Run("page size is capped", func() {
		res, err := s.svc.ApplicationLogs(s.ctx, audit.Filter{}, audit.Page{Size: 5000})
		s.Require().NoError(err)
		s.Equal(MaxPageSize, res.Size)
	})
}

func (s *ServiceSuite) TestValidation() {
	tests := []struct {
		name string
		f    audit.Filter
		p    audit.Page
	}{
		{"negative page", audit.Filter{}, audit.Page{Number: -1}},
		{"negative size", audit.Filter{}, audit.Page{Size: -5}},
		{"offset overflows", audit.Filter{}, audit.Page{Number: 1 << 62, Size: 3}},
		{"offset wraps to zero", audit.Filter{}, audit.Page{Number: 1 << 62, Size: 4}},
		{"default size overflows", audit.Filter{}, audit.Page{Number: math.MaxInt / 10}},
		{"reversed range", audit.Filter{From: s.base, To: s.base.Add(-time.Hour)}, audit.Page{}},
		{"unknown audit type", audit.Filter{AuditTypes: []audit.AuditType{"PAYROLL"}}, audit.Page{}},
		{"unknown level", audit.Filter{MinLevel: "LOUD"}, audit.Page{}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.svc.AuditEvents(s.ctx, tt.f, tt.p)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}

	s.Run("empty correlation id", func() {
		_, err := s.svc.Trail(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.svc.ErrorLogsByCorrelation(s.ctx, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("average needs an operation", func() {
		_, err := s.svc.AverageDuration(s.ctx, "", audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown kind", func() {
		_, err := s.svc.Count(s.ctx, audit.Kind("metrics"), audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestStoreFailures() {
	s.Run("store errors become internal errors", func() {
		svc := NewService(&brokenStore{InMemoryStore: s.store, err: errors.New("connection reset")},
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		_, err := svc.AccessLogs(s.ctx, audit.Filter{}, audit.Page{})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("deadlines become timeouts", func() {
		svc := NewService(&brokenStore{InMemoryStore: s.store, err: context.DeadlineExceeded},
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		_, err := svc.Count(s.ctx, audit.KindAccess, audit.Filter{})
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	s.Run("trail fails as a whole", func() {
		svc := NewService(&brokenStore{InMemoryStore: s.store, err: errors.New("connection reset")},
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		trail, err := svc.Trail(s.ctx, "c-1")
		s.Nil(trail)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestResolveError() {
	meta := audit.RecordMeta{Topic: audit.TopicErrorLogs}
	s.Require().NoError(s.store.Append(s.ctx, &meta, &audit.ErrorLog{
		Envelope: audit.Envelope{ServiceName: "billing", Timestamp: audit.NewLocalTime(s.base)},
		Level:    audit.LevelError,
		Message:  "invoice locked",
	}))

	s.Run("resolves an existing record", func() {
		rec, err := s.svc.ResolveError(s.ctx, meta.ID, "restarted job")
		s.Require().NoError(err)
		s.True(rec.Resolved)
		s.Equal("restarted job", rec.Resolution)

		unresolved := false
		n, err := s.svc.Count(s.ctx, audit.KindError, audit.Filter{Resolved: &unresolved})
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("rejects invalid ids", func() {
		_, err := s.svc.ResolveError(s.ctx, 0, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("reports missing records", func() {
		_, err := s.svc.ResolveError(s.ctx, meta.ID+100, "x")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
