package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"hivelog/internal/platform/config"
	"hivelog/internal/platform/httpserver"
	"hivelog/internal/platform/kafka"
	kafkaconsumer "hivelog/internal/platform/kafka/consumer"
	"hivelog/internal/platform/kafka/producer"
	"hivelog/internal/platform/logger"
	"hivelog/internal/platform/metrics"
	"hivelog/internal/platform/postgres"
	redisclient "hivelog/internal/platform/redis"
	"hivelog/internal/platform/tracing"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/consumer"
	"hivelog/pkg/platform/audit/publisher"
	"hivelog/pkg/platform/audit/query"
	auditpg "hivelog/pkg/platform/audit/store/postgres"
	"hivelog/pkg/platform/circuit"
	"hivelog/pkg/platform/tx"
)

// main wires the ingestion pipeline and the query API and keeps the process
// lifecycle small. Business logic lives in pkg/platform/audit.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("trace flush failed", "error", err)
		}
	}()

	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	store := auditpg.New(db)

	kcfg := kafka.Config{
		Brokers:           cfg.Kafka.Brokers,
		ClientID:          cfg.Kafka.ClientID,
		GroupID:           cfg.Kafka.GroupID,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		DialTimeout:       cfg.Kafka.DialTimeout,
	}
	if cfg.Kafka.EnsureTopics {
		if err := kafka.EnsureTopics(ctx, kcfg, audit.InboundTopics()...); err != nil {
			return fmt.Errorf("ensure topics: %w", err)
		}
	}

	prod, err := producer.New(kcfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := prod.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("producer close failed", "error", err)
		}
	}()
	pub := newPublisher(cfg, prod, m, log)
	defer pub.Close()
	emitter := publisher.NewLogEmitter(pub, cfg.ServiceName)

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	opts := []query.Option{query.WithLogger(log)}
	if rc != nil {
		defer rc.Close()
		opts = append(opts, query.WithCountCache(query.NewCountCache(rc, cfg.Redis.CountTTL, log)))
	}
	svc := query.NewService(store, opts...)

	handler := newRouter(routerDeps{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		emitter: emitter,
		query:   svc,
		checks: map[string]healthCheck{
			"postgres": db.PingContext,
			"kafka":    prod.Ping,
			"redis":    rc.Health,
		},
	})
	srv := httpserver.New(cfg.Server, handler)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Consumer.Enabled {
		cm := consumer.NewMetrics(m.Registry)
		ucs := consumer.NewUseCases(store, tx.NewRunner(db, cfg.Postgres.TxTimeout),
			consumer.WithUseCaseLogger(log),
			consumer.WithUseCaseMetrics(cm),
		)
		router := consumer.NewRouter(consumer.DefaultRoutes(ucs),
			consumer.WithRouterLogger(log),
			consumer.WithRouterMetrics(cm),
			consumer.WithHandleTimeout(cfg.Consumer.HandleTimeout),
		)
		d := consumer.NewDispatcher(kafkaconsumer.NewGroup(kcfg, log), router, log)
		g.Go(func() error { return d.Run(gctx) })
	}
	g.Go(func() error { return httpserver.Run(gctx, srv, cfg.Server, log) })
	return g.Wait()
}

func newPublisher(cfg config.Config, prod publisher.Producer, m *metrics.Metrics, log *slog.Logger) *publisher.Publisher {
	sampler := publisher.NewSampler(cfg.Publisher.DefaultSampleRate)
	for kind, rate := range cfg.Publisher.SampleRates {
		sampler.SetRate(audit.Kind(kind), rate)
	}
	topics := audit.DefaultChannelTopics()
	for ch, topic := range cfg.Publisher.Topics {
		topics[audit.Channel(ch)] = topic
	}

	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(m.Registry)),
		publisher.WithTimeout(cfg.Publisher.Timeout),
		publisher.WithBreaker(circuit.New("kafka",
			circuit.WithFailureThreshold(cfg.Publisher.FailureThreshold),
			circuit.WithCooldown(cfg.Publisher.Cooldown),
		)),
		publisher.WithSampler(sampler),
		publisher.WithTopics(topics),
	}
	if cfg.Publisher.AsyncBuffer > 0 {
		opts = append(opts, publisher.WithAsyncBuffer(cfg.Publisher.AsyncBuffer))
	}
	return publisher.New(prod, opts...)
}
