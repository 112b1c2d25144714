package consumer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"

	"hivelog/internal/platform/kafka/consumer"
	"hivelog/internal/platform/kafka/kafkatest"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/publisher"
	"hivelog/pkg/platform/audit/store/memory"
	"hivelog/pkg/platform/tx"
	"hivelog/pkg/requestcontext"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// pipeline wires publisher, broker, dispatcher and store the way the server does.
type pipeline struct {
	broker  *kafkatest.Broker
	store   *memory.InMemoryStore
	pub     *publisher.Publisher
	metrics *Metrics
	logs    *syncBuffer
}

func startPipeline(t *testing.T, store Store) *pipeline {
	t.Helper()
	p := &pipeline{
		broker:  kafkatest.NewBroker(),
		store:   memory.NewInMemoryStore(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		logs:    &syncBuffer{},
	}
	if store == nil {
		store = p.store
	}
	logger := slog.New(slog.NewJSONHandler(p.logs, nil))
	p.pub = publisher.New(p.broker, publisher.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ucs := NewUseCases(store, tx.Direct{}, WithUseCaseLogger(logger), WithUseCaseMetrics(p.metrics))
	router := NewRouter(DefaultRoutes(ucs),
		WithRouterLogger(logger),
		WithRouterMetrics(p.metrics),
		WithRouterPropagator(propagation.TraceContext{}),
	)
	d := NewDispatcher(p.broker, router, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return p
}

func (p *pipeline) auditCount(f audit.Filter) func() bool {
	return func() bool {
		n, err := p.store.CountAudit(context.Background(), f)
		return err == nil && n > 0
	}
}

func TestCRUDEventIsPersisted(t *testing.T) {
	p := startPipeline(t, nil)

	p.broker.Inject(audit.TopicCRUDEvents, "c-1",
		[]byte(`{"action":"CREATE","entityType":"Product","rowId":42,"correlationId":"c-1","serviceName":"inventory"}`))

	require.Eventually(t, p.auditCount(audit.Filter{CorrelationID: "c-1"}), 2*time.Second, 10*time.Millisecond)

	got, err := p.store.ListAudit(context.Background(), audit.Filter{CorrelationID: "c-1"}, audit.Page{Size: 10}, audit.OldestFirst)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Product", got[0].EntityType)
	assert.Equal(t, "42", got[0].EntityID.String())
	assert.Equal(t, "c-1", got[0].CorrelationID)
	assert.Equal(t, audit.StatusSuccess, got[0].Status)
	assert.Equal(t, audit.AuditTypeCRUD, got[0].AuditType)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPublishedEventRoundTrips(t *testing.T) {
	p := startPipeline(t, nil)
	ctx := requestcontext.WithRequestID(context.Background(), "req-7")
	ctx = requestcontext.WithUser(ctx, "15", "maria", "10.0.0.5")

	ev := audit.NewAuditEvent(ctx, "inventory", audit.AuditTypeCRUD, "UPDATE", "Product", "42")
	ev.OldValue = `{"price":10}`
	ev.NewValue = `{"price":12}`
	qty := 5
	ev.QuantityAfter = &qty
	p.pub.PublishCRUD(ctx, ev)

	require.Eventually(t, p.auditCount(audit.Filter{CorrelationID: "req-7"}), 2*time.Second, 10*time.Millisecond)

	got, err := p.store.ListAudit(context.Background(), audit.Filter{CorrelationID: "req-7"}, audit.Page{Size: 10}, audit.OldestFirst)
	require.NoError(t, err)
	require.Len(t, got, 1)
	stored := got[0].AuditEvent
	assert.Equal(t, ev.Action, stored.Action)
	assert.Equal(t, ev.EntityID, stored.EntityID)
	assert.Equal(t, ev.OldValue, stored.OldValue)
	assert.Equal(t, ev.NewValue, stored.NewValue)
	assert.Equal(t, "15", stored.UserID.String())
	assert.Equal(t, "maria", stored.Username)
	require.NotNil(t, stored.QuantityAfter)
	assert.Equal(t, 5, *stored.QuantityAfter)
	assert.True(t, ev.Timestamp.Equal(stored.Timestamp.Time))
}

func TestMalformedPayloadDoesNotBlockTopic(t *testing.T) {
	p := startPipeline(t, nil)

	p.broker.Inject(audit.TopicCRUDEvents, "bad", []byte(`{"action":`))
	p.broker.Inject(audit.TopicCRUDEvents, "bad", []byte(`{"action":"CREATE","timestamp":"yesterday","serviceName":"x"}`))
	p.broker.Inject(audit.TopicCRUDEvents, "ok",
		[]byte(`{"action":"DELETE","entityType":"Product","rowId":"9","correlationId":"c-ok","serviceName":"inventory"}`))

	require.Eventually(t, p.auditCount(audit.Filter{CorrelationID: "c-ok"}), 2*time.Second, 10*time.Millisecond)

	n, err := p.store.CountAudit(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, p.logs.String(), "malformed payload dropped")
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.Consumed.WithLabelValues(audit.TopicCRUDEvents, outcomeMalformed)))
}

func TestRedeliveredEventIsStoredTwice(t *testing.T) {
	p := startPipeline(t, nil)
	payload := []byte(`{"action":"CREATE","entityType":"Sale","correlationId":"c-dup","serviceName":"pos"}`)

	p.broker.Inject(audit.TopicTransactionEvents, "c-dup", payload)
	p.broker.Inject(audit.TopicTransactionEvents, "c-dup", payload)

	require.Eventually(t, func() bool {
		n, err := p.store.CountAudit(context.Background(), audit.Filter{CorrelationID: "c-dup"})
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	got, err := p.store.ListAudit(context.Background(), audit.Filter{CorrelationID: "c-dup"}, audit.Page{Size: 10}, audit.OldestFirst)
	require.NoError(t, err)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, audit.AuditTypeTransaction, got[0].AuditType)
}

func TestSharedCorrelationAcrossKinds(t *testing.T) {
	p := startPipeline(t, nil)
	ctx := requestcontext.WithRequestID(context.Background(), "c-9")
	emitter := publisher.NewLogEmitter(p.pub, "inventory")

	emitter.AuditCRUD(ctx, "UPDATE", "Product", "42", nil, map[string]int{"stock": 3})
	emitter.Performance(ctx, "ProductRepository.save", audit.OperationDatabase, 250*time.Millisecond, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		a, _ := p.store.CountAudit(context.Background(), audit.Filter{CorrelationID: "c-9"})
		perf, _ := p.store.CountPerformanceLogs(context.Background(), audit.Filter{CorrelationID: "c-9"})
		return a == 1 && perf == 1
	}, 2*time.Second, 10*time.Millisecond)

	perfs, err := p.store.ListPerformanceLogs(context.Background(), audit.Filter{CorrelationID: "c-9"}, audit.Page{Size: 10}, audit.OldestFirst)
	require.NoError(t, err)
	require.Len(t, perfs, 1)
	assert.True(t, perfs[0].IsSlow)
	assert.EqualValues(t, 250, perfs[0].DurationMs)
}

func TestPersistFailureIsCommitted(t *testing.T) {
	failing := &failingStore{err: errors.New("disk full")}
	p := startPipeline(t, failing)

	p.broker.Inject(audit.TopicErrorLogs, "k", []byte(`{"serviceName":"pos","message":"boom"}`))
	p.broker.Inject(audit.TopicErrorLogs, "k", []byte(`{"serviceName":"pos","message":"boom again"}`))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(p.metrics.Consumed.WithLabelValues(audit.TopicErrorLogs, outcomeFailed)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, p.logs.String(), "disk full")
}

func TestRouterSkipsUnknownTopic(t *testing.T) {
	router := NewRouter(nil, WithRouterLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err := router.Handle(context.Background(), &consumer.Message{Topic: "unknown", Value: []byte("{}")})
	require.NoError(t, err)
}

type panicking struct{}

func (panicking) Process(context.Context, string, audit.Event) (int64, error) {
	panic("store exploded")
}

func TestRouterRecoversFromPanic(t *testing.T) {
	logs := &syncBuffer{}
	router := NewRouter(
		[]Route{Bind[audit.ApplicationLog](audit.TopicApplicationLogs, panicking{})},
		WithRouterLogger(slog.New(slog.NewJSONHandler(logs, nil))),
	)

	err := router.Handle(context.Background(), &consumer.Message{
		Topic: audit.TopicApplicationLogs,
		Value: []byte(`{"serviceName":"pos","message":"hi"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "store exploded")
}

func TestDefaultRoutesCoverInboundTopics(t *testing.T) {
	routes := DefaultRoutes(NewUseCases(memory.NewInMemoryStore(), tx.Direct{}))
	topics := make([]string, 0, len(routes))
	for _, r := range routes {
		topics = append(topics, r.Topic)
		if _, ok := audit.AuditTopics[r.Topic]; ok {
			assert.Equal(t, audit.KindAudit, r.Kind, r.Topic)
		} else {
			assert.Equal(t, audit.LogTopics[r.Topic], r.Kind, r.Topic)
		}
	}
	assert.ElementsMatch(t, audit.InboundTopics(), topics)
}
