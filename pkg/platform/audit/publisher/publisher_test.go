package publisher

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks Producer

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/mock/gomock"

	"hivelog/internal/platform/kafka/kafkatest"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/publisher/mocks"
	"hivelog/pkg/platform/circuit"
	"hivelog/pkg/platform/sentinel"
	"hivelog/pkg/requestcontext"
)

// syncBuffer lets a slog handler be read while publishers write to it.
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func crudEvent(correlationID string) audit.AuditEvent {
	return audit.AuditEvent{
		Envelope: audit.Envelope{
			CorrelationID: correlationID,
			ServiceName:   "product-service",
		},
		AuditType:  audit.AuditTypeCRUD,
		Action:     "CREATE",
		EntityType: "Product",
		EntityID:   "42",
		Status:     audit.StatusSuccess,
	}
}

func TestPublishCRUD_SendsExactlyOneKeyedMessage(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()))
	defer pub.Close()

	pub.PublishCRUD(context.Background(), crudEvent("c-1"))

	records := broker.Records(audit.TopicCRUDEvents)
	require.Len(t, records, 1)
	assert.Equal(t, "c-1", string(records[0].Key))

	var got audit.AuditEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, "CREATE", got.Action)
	assert.Equal(t, audit.OpaqueID("42"), got.EntityID)
	assert.False(t, got.Timestamp.IsZero(), "timestamp is defaulted")
}

func TestPublish_ValidationFailureIsNoOp(t *testing.T) {
	cases := map[string]func(*audit.AuditEvent){
		"empty action":       func(e *audit.AuditEvent) { e.Action = "" },
		"empty entity type":  func(e *audit.AuditEvent) { e.EntityType = "" },
		"empty service name": func(e *audit.AuditEvent) { e.ServiceName = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			broker := kafkatest.NewBroker()
			logs := &syncBuffer{}
			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			pub := New(broker,
				WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
				WithMetrics(metrics),
				WithTopics(map[audit.Channel]string{audit.ChannelAuditCRUD: string(audit.ChannelAuditCRUD)}),
			)
			defer pub.Close()

			ev := crudEvent("c-2")
			mutate(&ev)

			err := pub.Publish(context.Background(), audit.ChannelAuditCRUD, &ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, audit.ErrInvalidEvent)

			pub.PublishCRUD(context.Background(), ev)

			assert.Zero(t, broker.Count(string(audit.ChannelAuditCRUD)))
			assert.Contains(t, logs.String(), "validation failed")
			assert.Contains(t, logs.String(), `"level":"ERROR"`)
			assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Dropped.WithLabelValues("audit", "validation")))
		})
	}
}

func TestPublish_RoutingKeyWithoutCorrelationID(t *testing.T) {
	broker := kafkatest.NewBroker()
	fixed := time.UnixMilli(1_700_000_000_123)
	pub := New(broker, WithLogger(discardLogger()), WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	withEntity := crudEvent("")
	pub.PublishCRUD(context.Background(), withEntity)

	sale := crudEvent("")
	sale.EntityType = "Sale"
	sale.EntityID = ""
	sale.TransactionID = "T-9"
	pub.PublishCRUD(context.Background(), sale)

	bare := crudEvent("")
	bare.EntityType = "Category"
	bare.EntityID = ""
	pub.PublishCRUD(context.Background(), bare)

	records := broker.Records(audit.TopicCRUDEvents)
	require.Len(t, records, 3)
	assert.Equal(t, "Product-42", string(records[0].Key))
	assert.Equal(t, "txn-T-9", string(records[1].Key))
	assert.Equal(t, "Category-1700000000123", string(records[2].Key))
}

func TestPublishError_RoutesToErrorChannel(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()))
	defer pub.Close()

	ev := crudEvent("c-3")
	ev.AuditType = audit.AuditTypeError
	ev.MarkFailed(errors.New("stock below zero"))
	pub.SafePublish(context.Background(), ev)

	assert.Zero(t, broker.Count(audit.TopicCRUDEvents))
	records := broker.Records(audit.TopicErrorEvents)
	require.Len(t, records, 1)

	var got audit.AuditEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, audit.StatusFailure, got.Status)
	assert.Equal(t, "stock below zero", got.ErrorMessage)
}

func TestPublishError_KeysByCorrelationOrTime(t *testing.T) {
	broker := kafkatest.NewBroker()
	fixed := time.UnixMilli(1_700_000_000_456)
	pub := New(broker, WithLogger(discardLogger()), WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	withEntity := crudEvent("")
	withEntity.MarkFailed(errors.New("constraint violation"))
	pub.PublishError(context.Background(), withEntity)

	correlated := crudEvent("c-8")
	correlated.MarkFailed(errors.New("constraint violation"))
	pub.PublishError(context.Background(), correlated)

	records := broker.Records(audit.TopicErrorEvents)
	require.Len(t, records, 2)
	assert.Equal(t, "error-1700000000456", string(records[0].Key))
	assert.Equal(t, "c-8", string(records[1].Key))
}

func TestPublishError_DoesNotRequireEntityType(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()))
	defer pub.Close()

	ev := crudEvent("c-4")
	ev.EntityType = ""
	ev.EntityID = ""
	ev.MarkFailed(errors.New("payment gateway down"))
	pub.PublishError(context.Background(), ev)
	assert.Equal(t, 1, broker.Count(audit.TopicErrorEvents))

	ev.Action = ""
	pub.PublishError(context.Background(), ev)
	assert.Equal(t, 1, broker.Count(audit.TopicErrorEvents), "action is still required")

	pub.PublishCRUD(context.Background(), crudEvent("c-5"))
	noEntity := crudEvent("c-6")
	noEntity.EntityType = ""
	pub.PublishCRUD(context.Background(), noEntity)
	assert.Equal(t, 1, broker.Count(audit.TopicCRUDEvents), "the CRUD channel keeps the entity check")
}

func TestPublish_TransportFailureIsLoggedNotPropagated(t *testing.T) {
	broker := kafkatest.NewBroker()
	broker.FailWith(errors.New("broker unreachable"))
	logs := &syncBuffer{}
	pub := New(broker, WithLogger(slog.New(slog.NewJSONHandler(logs, nil))))
	defer pub.Close()

	assert.NotPanics(t, func() {
		pub.PublishCRUD(context.Background(), crudEvent("c-4"))
	})

	err := pub.Publish(context.Background(), audit.ChannelAuditCRUD, ptr(crudEvent("c-5")))
	require.Error(t, err)
	assert.Contains(t, logs.String(), "publish failed")
	assert.Zero(t, broker.Count(audit.TopicCRUDEvents))
}

func TestPublish_TimeoutIsBounded(t *testing.T) {
	broker := kafkatest.NewBroker()
	broker.Delay(5 * time.Second)
	pub := New(broker, WithLogger(discardLogger()), WithTimeout(20*time.Millisecond))
	defer pub.Close()

	start := time.Now()
	err := pub.Publish(context.Background(), audit.ChannelAuditCRUD, ptr(crudEvent("c-6")))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
}

func TestPublish_CallerCancellationDoesNotAbortSend(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()))
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, pub.Publish(ctx, audit.ChannelAuditCRUD, ptr(crudEvent("c-7"))))
	assert.Equal(t, 1, broker.Count(audit.TopicCRUDEvents))
}

func TestPublish_LogEventsGetCorrelationID(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()))
	defer pub.Close()

	log := audit.ApplicationLog{
		Envelope: audit.Envelope{ServiceName: "category-service"},
		Level:    audit.LevelInfo,
		Message:  "category cache warmed",
	}
	require.NoError(t, pub.Publish(context.Background(), audit.ChannelLogsApplication, &log))

	records := broker.Records(audit.TopicApplicationLogs)
	require.Len(t, records, 1)
	assert.NotEmpty(t, log.CorrelationID)
	assert.Equal(t, log.CorrelationID, string(records[0].Key))
	assert.Contains(t, records[0].Headers, kgo.RecordHeader{Key: HeaderKind, Value: []byte("application")})
}

func TestPublish_InjectsTraceContext(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()), WithPropagator(propagation.TraceContext{}))
	defer pub.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	pub.PublishCRUD(ctx, crudEvent("c-8"))

	records := broker.Records(audit.TopicCRUDEvents)
	require.Len(t, records, 1)
	var traceparent string
	for _, h := range records[0].Headers {
		if h.Key == "traceparent" {
			traceparent = string(h.Value)
		}
	}
	assert.Contains(t, traceparent, "4bf92f3577b34da6a3ce929d0e0e4736")
}

func TestPublish_SamplingNeverDropsAudit(t *testing.T) {
	broker := kafkatest.NewBroker()
	sampler := NewSampler(0)
	pub := New(broker, WithLogger(discardLogger()), WithSampler(sampler))
	defer pub.Close()

	pub.PublishCRUD(context.Background(), crudEvent("c-10"))
	access := audit.AccessLog{
		Envelope:   audit.Envelope{ServiceName: "svc"},
		HTTPMethod: "GET",
		Endpoint:   "/api/products",
		StatusCode: 200,
	}
	require.NoError(t, pub.Publish(context.Background(), audit.ChannelLogsAccess, &access))

	assert.Equal(t, 1, broker.Count(audit.TopicCRUDEvents))
	assert.Zero(t, broker.Count(audit.TopicAccessLogs))

	sampler.SetRate(audit.KindAccess, 1)
	require.NoError(t, pub.Publish(context.Background(), audit.ChannelLogsAccess, &access))
	assert.Equal(t, 1, broker.Count(audit.TopicAccessLogs))
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	broker := kafkatest.NewBroker()
	pub := New(broker, WithLogger(discardLogger()), WithAsyncBuffer(100))

	for range 10 {
		pub.PublishCRUD(context.Background(), crudEvent("c-async"))
	}
	require.NoError(t, pub.Close())

	assert.Equal(t, 10, broker.Count(audit.TopicCRUDEvents), "all events should be drained on close")
}

func TestPublisher_AsyncBufferDropsOldest(t *testing.T) {
	buf := newRingBuffer(2)
	assert.False(t, buf.Enqueue(pending{kind: "a"}))
	assert.False(t, buf.Enqueue(pending{kind: "b"}))
	assert.True(t, buf.Enqueue(pending{kind: "c"}))

	batch := buf.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].kind)
	assert.Equal(t, "c", batch[1].kind)
	assert.Equal(t, int64(1), buf.Dropped())
	assert.Zero(t, buf.Len())
}

func TestPublisher_CircuitBreakerStopsSending(t *testing.T) {
	ctrl := gomock.NewController(t)
	producer := mocks.NewMockProducer(ctrl)

	failure := kgo.ProduceResults{{Err: errors.New("leader not available")}}
	producer.EXPECT().ProduceSync(gomock.Any(), gomock.Any()).Return(failure).Times(2)

	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	pub := New(producer, WithLogger(discardLogger()), WithBreaker(breaker))
	defer pub.Close()

	for range 2 {
		require.Error(t, pub.Publish(context.Background(), audit.ChannelAuditCRUD, ptr(crudEvent("c-11"))))
	}
	assert.True(t, breaker.IsOpen())

	err := pub.Publish(context.Background(), audit.ChannelAuditCRUD, ptr(crudEvent("c-12")))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestLogEmitter(t *testing.T) {
	t.Run("track reports slow operations", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		pub := New(broker, WithLogger(discardLogger()))
		emitter := NewLogEmitter(pub, "product-service")

		err := emitter.Track(context.Background(), "DB:INSERT:Product", time.Millisecond, func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)

		records := broker.Records(audit.TopicPerformanceLogs)
		require.Len(t, records, 1)
		var perf audit.PerformanceLog
		require.NoError(t, json.Unmarshal(records[0].Value, &perf))
		assert.True(t, perf.IsSlow)
		assert.Equal(t, "DB:INSERT:Product", perf.Operation)
		assert.Equal(t, "product-service", perf.ServiceName)
	})

	t.Run("track reports failures and returns them", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		pub := New(broker, WithLogger(discardLogger()))
		emitter := NewLogEmitter(pub, "product-service")
		boom := errors.New("duplicate key")

		err := emitter.Track(context.Background(), "DB:INSERT:Product", 0, func(context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, broker.Count(audit.TopicErrorLogs))
		assert.Zero(t, broker.Count(audit.TopicPerformanceLogs))
	})

	t.Run("audit crud encodes snapshots and carries context", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		pub := New(broker, WithLogger(discardLogger()))
		emitter := NewLogEmitter(pub, "category-service")

		ctx := requestcontext.WithRequestID(context.Background(), "req-5")
		ctx = requestcontext.WithUser(ctx, "u-1", "alice", "10.0.0.2")
		emitter.AuditCRUD(ctx, "UPDATE", "Category", "7",
			map[string]string{"name": "Vitamins"},
			map[string]string{"name": "Supplements"},
		)

		records := broker.Records(audit.TopicCRUDEvents)
		require.Len(t, records, 1)
		assert.Equal(t, "req-5", string(records[0].Key))

		var got audit.AuditEvent
		require.NoError(t, json.Unmarshal(records[0].Value, &got))
		assert.Equal(t, `{"name":"Vitamins"}`, got.OldValue)
		assert.Equal(t, `{"name":"Supplements"}`, got.NewValue)
		assert.Equal(t, "alice", got.Username)
	})

	t.Run("shared correlation id across audit and performance", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		pub := New(broker, WithLogger(discardLogger()))
		emitter := NewLogEmitter(pub, "product-service")
		ctx := requestcontext.WithRequestID(context.Background(), "c-9")

		emitter.AuditCRUD(ctx, "CREATE", "Product", "1", nil, map[string]int{"id": 1})
		emitter.Performance(ctx, "createProduct", audit.OperationBusinessLogic, 30*time.Millisecond, 0)

		require.Equal(t, 1, broker.Count(audit.TopicCRUDEvents))
		require.Equal(t, 1, broker.Count(audit.TopicPerformanceLogs))
		assert.Equal(t, "c-9", string(broker.Records(audit.TopicCRUDEvents)[0].Key))
		assert.Equal(t, "c-9", string(broker.Records(audit.TopicPerformanceLogs)[0].Key))
	})
}

func ptr[T any](v T) *T { return &v }
