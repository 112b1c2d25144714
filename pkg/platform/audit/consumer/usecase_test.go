package consumer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/store/memory"
	"hivelog/pkg/platform/tx"
)

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.Local)

func testClock() time.Time { return fixedNow }

type failingStore struct {
	err   error
	calls int
}

func (s *failingStore) Append(context.Context, *audit.RecordMeta, audit.Event) error {
	s.calls++
	return s.err
}

// countingTx records how many transactions were opened.
type countingTx struct {
	runs int
}

func (c *countingTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	c.runs++
	return fn(ctx)
}

func TestAuditUseCaseNormalizes(t *testing.T) {
	store := memory.NewInMemoryStore()
	uc := NewAuditUseCase(store, tx.Direct{}, WithUseCaseClock(testClock))

	ev := &audit.AuditEvent{
		Envelope:   audit.Envelope{ServiceName: "auth", CorrelationID: "c-1"},
		Action:     "LOGIN",
		EntityType: "User",
	}
	id, err := uc.Process(context.Background(), audit.TopicLoginEvents, ev)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := store.ListAudit(context.Background(), audit.Filter{}, audit.Page{Size: 10}, audit.NewestFirst)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, audit.AuditTypeLogin, got[0].AuditType)
	assert.Equal(t, audit.StatusSuccess, got[0].Status)
	assert.Equal(t, audit.TopicLoginEvents, got[0].Topic)
	assert.True(t, got[0].Timestamp.Equal(fixedNow))
	assert.True(t, got[0].ReceivedAt.Equal(fixedNow))
}

func TestAuditUseCaseKeepsExplicitValues(t *testing.T) {
	store := memory.NewInMemoryStore()
	uc := NewAuditUseCase(store, tx.Direct{}, WithUseCaseClock(testClock))
	sent := fixedNow.Add(-time.Minute)

	ev := &audit.AuditEvent{
		Envelope:   audit.Envelope{ServiceName: "pos", Timestamp: audit.NewLocalTime(sent)},
		AuditType:  audit.AuditTypeTransaction,
		Action:     "REFUND",
		EntityType: "Sale",
		Status:     audit.StatusFailure,
	}
	_, err := uc.Process(context.Background(), audit.TopicCRUDEvents, ev)
	require.NoError(t, err)

	got, err := store.ListAudit(context.Background(), audit.Filter{}, audit.Page{Size: 10}, audit.NewestFirst)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.AuditTypeTransaction, got[0].AuditType)
	assert.Equal(t, audit.StatusFailure, got[0].Status)
	assert.True(t, got[0].Timestamp.Equal(sent))
}

func TestLogUseCaseDefaults(t *testing.T) {
	store := memory.NewInMemoryStore()
	ucs := NewUseCases(store, tx.Direct{}, WithUseCaseClock(testClock))
	ctx := context.Background()
	env := audit.Envelope{ServiceName: "pos"}

	_, err := ucs.Application.Process(ctx, audit.TopicApplicationLogs, &audit.ApplicationLog{Envelope: env, Message: "hello"})
	require.NoError(t, err)
	_, err = ucs.Error.Process(ctx, audit.TopicErrorLogs, &audit.ErrorLog{Envelope: env, Message: "boom", Resolved: true, Resolution: "forged"})
	require.NoError(t, err)
	threshold := int64(100)
	_, err = ucs.Performance.Process(ctx, audit.TopicPerformanceLogs, &audit.PerformanceLog{Envelope: env, Operation: "findAll", DurationMs: 150, ThresholdMs: &threshold})
	require.NoError(t, err)

	apps, err := store.ListApplicationLogs(ctx, audit.Filter{}, audit.Page{Size: 1}, audit.NewestFirst)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, audit.LevelInfo, apps[0].Level)

	errs, err := store.ListErrorLogs(ctx, audit.Filter{}, audit.Page{Size: 1}, audit.NewestFirst)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, audit.LevelError, errs[0].Level)
	assert.False(t, errs[0].Resolved, "resolution is only set through the resolve operation")
	assert.Empty(t, errs[0].Resolution)

	perfs, err := store.ListPerformanceLogs(ctx, audit.Filter{}, audit.Page{Size: 1}, audit.NewestFirst)
	require.NoError(t, err)
	require.Len(t, perfs, 1)
	assert.True(t, perfs[0].IsSlow)
}

func TestUseCaseRejectsWithoutStoring(t *testing.T) {
	store := &failingStore{}
	txr := &countingTx{}
	var logs bytes.Buffer
	uc := NewAuditUseCase(store, txr, WithUseCaseLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	_, err := uc.Process(context.Background(), audit.TopicCRUDEvents, &audit.AuditEvent{
		Action:     "CREATE",
		EntityType: "Product",
	})
	require.ErrorIs(t, err, audit.ErrInvalidEvent)
	assert.Zero(t, txr.runs)
	assert.Zero(t, store.calls)
	assert.Contains(t, logs.String(), "event rejected")
}

func TestUseCaseLogsPersistFailure(t *testing.T) {
	store := &failingStore{err: errors.New("connection refused")}
	txr := &countingTx{}
	var logs bytes.Buffer
	uc := NewAccessLogUseCase(store, txr, WithUseCaseLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	_, err := uc.Process(context.Background(), audit.TopicAccessLogs, &audit.AccessLog{
		Envelope:   audit.Envelope{ServiceName: "gateway", CorrelationID: "c-42"},
		HTTPMethod: "GET",
		Endpoint:   "/api/products",
		StatusCode: 200,
	})
	require.Error(t, err)
	assert.Equal(t, 1, txr.runs)

	out := logs.String()
	assert.Contains(t, out, "failed to persist event")
	assert.Contains(t, out, "access-logs")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, `\"endpoint\":\"/api/products\"`, "full payload is logged for replay")
}

func TestUseCaseRejectsWrongKind(t *testing.T) {
	store := &failingStore{}
	var logs bytes.Buffer
	uc := NewErrorLogUseCase(store, tx.Direct{}, WithUseCaseLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	_, err := uc.Process(context.Background(), audit.TopicErrorLogs, &audit.ApplicationLog{
		Envelope: audit.Envelope{ServiceName: "pos"},
		Message:  "misrouted",
	})
	require.Error(t, err)
	assert.Zero(t, store.calls)

	out := logs.String()
	assert.Contains(t, out, "event rejected")
	assert.Contains(t, out, `"topic":"error-logs"`)
	assert.Contains(t, out, "misrouted")
}

func TestPerformanceSlowFlagFollowsThreshold(t *testing.T) {
	store := memory.NewInMemoryStore()
	uc := NewPerformanceLogUseCase(store, tx.Direct{}, WithUseCaseClock(testClock))
	ctx := context.Background()
	threshold := int64(100)

	tests := []struct {
		name       string
		durationMs int64
		threshold  *int64
		claimed    bool
		want       bool
	}{
		{"claimed slow under threshold", 40, &threshold, true, false},
		{"at threshold", 100, &threshold, false, false},
		{"over threshold", 150, &threshold, false, true},
		{"no threshold keeps the claim", 40, nil, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := uc.Process(ctx, audit.TopicPerformanceLogs, &audit.PerformanceLog{
				Envelope:    audit.Envelope{ServiceName: "pos", CorrelationID: tt.name},
				Operation:   "findAll",
				DurationMs:  tt.durationMs,
				ThresholdMs: tt.threshold,
				IsSlow:      tt.claimed,
			})
			require.NoError(t, err)

			perfs, err := store.ListPerformanceLogs(ctx, audit.Filter{CorrelationID: tt.name}, audit.Page{Size: 1}, audit.NewestFirst)
			require.NoError(t, err)
			require.Len(t, perfs, 1)
			assert.Equal(t, id, perfs[0].ID)
			assert.Equal(t, tt.want, perfs[0].IsSlow)
		})
	}
}
