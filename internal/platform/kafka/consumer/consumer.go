// Package consumer runs franz-go poll loops, one consumer group client per
// topic, and hands each record to a Handler.
//
// Offsets are committed after every poll whatever the handler returned:
// handler errors are logged and the record counts as consumed.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"hivelog/internal/platform/kafka"
)

// Message is a transport-neutral view of a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// FromRecord converts a franz-go record.
func FromRecord(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// Handler processes one message.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Group creates one consumer group client per subscribed topic so that a
// slow or rebalancing topic never stalls the others.
type Group struct {
	cfg    kafka.Config
	logger *slog.Logger
	opts   []kgo.Opt
}

// NewGroup prepares subscriptions. Extra options are applied to every client.
func NewGroup(cfg kafka.Config, logger *slog.Logger, opts ...kgo.Opt) *Group {
	return &Group{cfg: cfg, logger: logger, opts: opts}
}

// GroupName returns the consumer group used for topic.
func (g *Group) GroupName(topic string) string {
	return g.cfg.GroupID + "." + topic
}

// Subscribe consumes topic until ctx is cancelled. It returns nil on
// cancellation and an error only if the client cannot be created.
func (g *Group) Subscribe(ctx context.Context, topic string, h Handler) error {
	opts := append(kafka.ClientOptions(g.cfg),
		kgo.ConsumerGroup(g.GroupName(topic)),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	opts = append(opts, g.opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", topic, err)
	}
	defer client.CloseAllowingRebalance()

	g.logger.Info("subscribed", "topic", topic, "group", g.GroupName(topic))
	g.poll(ctx, client, topic, h)
	g.logger.Info("subscription stopped", "topic", topic)
	return nil
}

func (g *Group) poll(ctx context.Context, client *kgo.Client, topic string, h Handler) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			client.AllowRebalance()
			return
		}

		fetches.EachError(func(t string, p int32, err error) {
			g.logger.Error("fetch failed",
				"topic", t,
				"partition", p,
				"error", err,
			)
		})

		fetches.EachRecord(func(r *kgo.Record) {
			msg := FromRecord(r)
			if err := h.Handle(ctx, msg); err != nil {
				g.logger.Error("handler failed",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
			}
		})

		if err := client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			g.logger.Error("commit offsets failed", "topic", topic, "error", err)
		}
		client.AllowRebalance()
	}
}
