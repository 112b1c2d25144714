package consumer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"hivelog/internal/platform/kafka/consumer"
)

// Subscriber delivers the messages of one topic to h until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h consumer.Handler) error
}

// Dispatcher runs one subscription per routed topic.
type Dispatcher struct {
	sub    Subscriber
	router *Router
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sub Subscriber, router *Router, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sub: sub, router: router, logger: logger}
}

// Run blocks until ctx is cancelled or a subscription fails to start. Each
// topic is consumed independently.
func (d *Dispatcher) Run(ctx context.Context) error {
	topics := d.router.Topics()
	d.logger.InfoContext(ctx, "starting event dispatcher", "topics", topics)

	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		g.Go(func() error {
			return d.sub.Subscribe(ctx, topic, d.router)
		})
	}
	err := g.Wait()
	d.logger.Info("event dispatcher stopped")
	return err
}
