package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"hivelog/internal/platform/kafka/consumer"
	"hivelog/pkg/platform/audit"
)

const defaultHandleTimeout = 10 * time.Second

// Router dispatches messages to the route registered for their topic.
// Handle always returns nil: malformed payloads and failed writes are
// logged and the offset is committed, so one bad message never blocks
// its partition.
type Router struct {
	routes     map[string]Route
	logger     *slog.Logger
	metrics    *Metrics
	timeout    time.Duration
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// RouterOption configures a Router.
type RouterOption func(*Router)

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithHandleTimeout bounds the processing of a single message.
func WithHandleTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithRouterTracerProvider(tp trace.TracerProvider) RouterOption {
	return func(r *Router) {
		r.tracer = tp.Tracer("hivelog/consumer")
	}
}

func WithRouterPropagator(p propagation.TextMapPropagator) RouterOption {
	return func(r *Router) {
		r.propagator = p
	}
}

// NewRouter creates a router over routes. A later route for the same topic
// replaces an earlier one.
func NewRouter(routes []Route, opts ...RouterOption) *Router {
	r := &Router{
		routes:     make(map[string]Route, len(routes)),
		logger:     slog.Default(),
		timeout:    defaultHandleTimeout,
		tracer:     otel.Tracer("hivelog/consumer"),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, route := range routes {
		r.Register(route)
	}
	return r
}

// Register adds or replaces the route for route.Topic.
func (r *Router) Register(route Route) {
	r.routes[route.Topic] = route
}

// Topics returns the subscribed topics.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	return topics
}

// Handle decodes msg and hands it to the route's processor.
func (r *Router) Handle(ctx context.Context, msg *consumer.Message) (err error) {
	route, ok := r.routes[msg.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "no route for topic, skipping message",
			"topic", msg.Topic,
			"key", string(msg.Key),
		)
		r.metrics.incConsumed(msg.Topic, outcomeUnroutable)
		return nil
	}

	ctx = r.propagator.Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := r.tracer.Start(ctx, "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.partition", int(msg.Partition)),
			attribute.Int64("messaging.offset", msg.Offset),
		),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "panic while handling message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			span.SetStatus(codes.Error, "panic")
			r.metrics.incConsumed(msg.Topic, outcomeFailed)
			err = nil
		}
	}()

	ev, decodeErr := route.Decode(msg.Value)
	if decodeErr != nil {
		r.logger.ErrorContext(ctx, "malformed payload dropped",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"payload", string(msg.Value),
			"error", decodeErr,
		)
		span.SetStatus(codes.Error, "malformed payload")
		r.metrics.incConsumed(msg.Topic, outcomeMalformed)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, procErr := route.Processor.Process(ctx, msg.Topic, ev)
	if procErr != nil {
		span.RecordError(procErr)
		span.SetStatus(codes.Error, procErr.Error())
		if errors.Is(procErr, audit.ErrInvalidEvent) {
			r.metrics.incConsumed(msg.Topic, outcomeRejected)
		} else {
			r.metrics.incConsumed(msg.Topic, outcomeFailed)
		}
		return nil
	}
	span.SetAttributes(attribute.Int64("hivelog.record_id", id))
	r.metrics.incConsumed(msg.Topic, outcomeStored)
	return nil
}
