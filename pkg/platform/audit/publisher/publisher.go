// Package publisher sends audit and log events to the broker.
//
// Publishing is best-effort: every failure is logged and counted, and the
// helpers used from business code never return an error. A send is bounded
// by a short timeout and guarded by a circuit breaker so that a broker
// outage costs business requests at most one timeout per cooldown.
//
// Validation runs before anything is sent. An event missing a required
// field produces no message at all; there is no dead-letter channel.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/circuit"
	"hivelog/pkg/platform/sentinel"
)

// Producer sends records and waits for acknowledgement.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// HeaderKind carries the event kind on every record.
const HeaderKind = "event-kind"

const (
	defaultTimeout    = 3 * time.Second
	asyncBatchSize    = 64
	tracerName        = "hivelog/publisher"
	spanPublish       = "audit.publish"
	attrMessagingDest = "messaging.destination.name"
)

// Publisher turns events into broker records.
type Publisher struct {
	producer   Producer
	logger     *slog.Logger
	metrics    *Metrics
	breaker    *circuit.Breaker
	sampler    *Sampler
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	topics     map[audit.Channel]string
	timeout    time.Duration
	now        func() time.Time

	buffer    *ringBuffer
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithTimeout bounds every send.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

// WithSampler enables sampling of high-volume log kinds.
func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

// WithTopics overrides the topic an outbound channel is written to.
func WithTopics(topics map[audit.Channel]string) Option {
	return func(p *Publisher) {
		for ch, topic := range topics {
			p.topics[ch] = topic
		}
	}
}

// WithTracerProvider sets the provider used for publish spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Publisher) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithPropagator sets how trace context is written into record headers.
func WithPropagator(prop propagation.TextMapPropagator) Option {
	return func(p *Publisher) {
		p.propagator = prop
	}
}

// WithClock overrides the time source used for defaults and routing keys.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithAsyncBuffer makes publishing return immediately after encoding. A
// background goroutine drains a bounded buffer; on overflow the oldest
// pending record is dropped.
func WithAsyncBuffer(capacity int) Option {
	return func(p *Publisher) {
		p.buffer = newRingBuffer(capacity)
	}
}

// New creates a publisher writing through producer.
func New(producer Producer, opts ...Option) *Publisher {
	p := &Publisher{
		producer:   producer,
		logger:     slog.Default(),
		breaker:    circuit.New("kafka-producer", circuit.WithFailureThreshold(5), circuit.WithCooldown(10*time.Second)),
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
		topics:     audit.DefaultChannelTopics(),
		timeout:    defaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wake = make(chan struct{}, 1)
		p.done = make(chan struct{})
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Topic resolves the broker topic of an outbound channel.
func (p *Publisher) Topic(ch audit.Channel) string {
	if topic, ok := p.topics[ch]; ok {
		return topic
	}
	return string(ch)
}

// Publish sends ev to the topic of channel ch. The returned error is for
// callers that want to observe the outcome; it has already been logged.
func (p *Publisher) Publish(ctx context.Context, ch audit.Channel, ev audit.Event) error {
	return p.PublishTo(ctx, p.Topic(ch), ev)
}

// PublishTo sends ev to an explicit topic.
func (p *Publisher) PublishTo(ctx context.Context, topic string, ev audit.Event) error {
	if ev == nil {
		return errors.New("publish: nil event")
	}
	kind := string(ev.Kind())
	now := p.now()
	p.applyDefaults(ev, now)

	if err := ev.Validate(); err != nil {
		p.metrics.incDropped(kind, reasonValidation)
		p.logger.ErrorContext(ctx, "event dropped: validation failed",
			"kind", kind,
			"topic", topic,
			"correlation_id", ev.Header().CorrelationID,
			"error", err,
		)
		return fmt.Errorf("publish %s event: %w", kind, err)
	}

	if !p.sampler.Keep(ev.Kind()) {
		p.metrics.incDropped(kind, reasonSampled)
		return nil
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.metrics.incDropped(kind, reasonEncode)
		p.logger.ErrorContext(ctx, "event dropped: encode failed", "kind", kind, "topic", topic, "error", err)
		return fmt.Errorf("encode %s event: %w", kind, err)
	}

	record := &kgo.Record{
		Topic:     topic,
		Key:       []byte(ev.RoutingKey(now)),
		Value:     value,
		Timestamp: now,
		Headers:   []kgo.RecordHeader{{Key: HeaderKind, Value: []byte(kind)}},
	}

	ctx, span := p.startSpan(ctx, topic, kind)
	defer span.End()
	p.injectTrace(ctx, record)

	if p.buffer != nil {
		if p.buffer.Enqueue(pending{record: record, kind: kind}) {
			p.metrics.incDropped(kind, reasonBufferFull)
			p.logger.WarnContext(ctx, "publish buffer full, dropped oldest event", "topic", topic)
		}
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return nil
	}

	if err := p.send(ctx, record, kind); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}
	return nil
}

// PublishCRUD sends a non-error audit event to the CRUD audit channel.
func (p *Publisher) PublishCRUD(ctx context.Context, ev audit.AuditEvent) {
	if err := p.Publish(ctx, audit.ChannelAuditCRUD, &ev); err == nil {
		p.logger.DebugContext(ctx, "published audit event",
			"correlation_id", ev.CorrelationID,
			"action", ev.Action,
			"entity_type", ev.EntityType,
			"row_id", ev.EntityID,
		)
	}
}

// PublishError sends an audit event to the error audit channel with the
// relaxed checks and keying of audit.ErrorAudit.
func (p *Publisher) PublishError(ctx context.Context, ev audit.AuditEvent) {
	if err := p.Publish(ctx, audit.ChannelAuditError, audit.ErrorAudit{AuditEvent: &ev}); err == nil {
		p.logger.DebugContext(ctx, "published error audit event",
			"correlation_id", ev.CorrelationID,
			"error_message", ev.ErrorMessage,
		)
	}
}

// SafePublish routes ERROR audits to the error channel and everything else
// to the CRUD channel. It never panics into the caller.
func (p *Publisher) SafePublish(ctx context.Context, ev audit.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "audit publish panicked", "panic", r, "action", ev.Action)
		}
	}()
	if ev.AuditType == audit.AuditTypeError {
		p.PublishError(ctx, ev)
		return
	}
	p.PublishCRUD(ctx, ev)
}

// Close stops the async drainer after sending what is buffered. It is a
// no-op for synchronous publishers.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		if p.done != nil {
			close(p.done)
			p.wg.Wait()
		}
	})
	return nil
}

func (p *Publisher) applyDefaults(ev audit.Event, now time.Time) {
	hdr := ev.Header()
	if hdr.Timestamp.IsZero() {
		hdr.Timestamp = audit.NewLocalTime(now)
	}
	if hdr.CorrelationID == "" && ev.Kind() != audit.KindAudit {
		hdr.CorrelationID = uuid.NewString()
	}
}

func (p *Publisher) send(ctx context.Context, record *kgo.Record, kind string) error {
	if !p.breaker.Allow() {
		p.metrics.incDropped(kind, reasonCircuitOpen)
		p.logger.WarnContext(ctx, "event dropped: broker circuit open",
			"kind", kind,
			"topic", record.Topic,
			"key", string(record.Key),
		)
		return fmt.Errorf("publish to %s: %w", record.Topic, sentinel.ErrUnavailable)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	start := time.Now()
	err := p.producer.ProduceSync(sendCtx, record).FirstErr()
	p.metrics.observeSend(time.Since(start))

	if err != nil {
		p.metrics.incFailed(kind, record.Topic)
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.metrics.setCircuitOpen(true)
			p.logger.WarnContext(ctx, "broker circuit opened", "breaker", p.breaker.Name())
		}
		p.logger.ErrorContext(ctx, "publish failed",
			"kind", kind,
			"topic", record.Topic,
			"key", string(record.Key),
			"timeout", p.timeout,
			"error", err,
		)
		return fmt.Errorf("publish to %s: %w", record.Topic, err)
	}

	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.setCircuitOpen(false)
		p.logger.InfoContext(ctx, "broker circuit closed", "breaker", p.breaker.Name())
	}
	p.metrics.incPublished(kind, record.Topic)
	return nil
}

func (p *Publisher) startSpan(ctx context.Context, topic, kind string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(attrMessagingDest, topic),
			attribute.String("event.kind", kind),
		),
	)
}

func (p *Publisher) injectTrace(ctx context.Context, record *kgo.Record) {
	carrier := propagation.MapCarrier{}
	p.propagator.Inject(ctx, carrier)
	for k, v := range carrier {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	for {
		batch := p.buffer.DequeueBatch(asyncBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, item := range batch {
			_ = p.send(context.Background(), item.record, item.kind)
		}
	}
}
