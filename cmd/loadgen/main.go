// Command loadgen plays a business service: it emits a stream of request
// scoped audit events and logs so the ingestion pipeline can be exercised
// end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"hivelog/internal/platform/config"
	"hivelog/internal/platform/kafka"
	"hivelog/internal/platform/kafka/producer"
	"hivelog/internal/platform/logger"
	"hivelog/pkg/platform/audit"
	"hivelog/pkg/platform/audit/publisher"
	"hivelog/pkg/requestcontext"
)

type product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Stock int     `json:"stock"`
	Price float64 `json:"price"`
}

var errOutOfStock = errors.New("insufficient stock")

func main() {
	requests := flag.Int("requests", 100, "number of simulated requests, 0 runs until interrupted")
	interval := flag.Duration("interval", 50*time.Millisecond, "pause between requests")
	service := flag.String("service", "inventory", "service name stamped on events")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prod, err := producer.New(kafka.Config{
		Brokers:     cfg.Kafka.Brokers,
		ClientID:    *service + "-loadgen",
		DialTimeout: cfg.Kafka.DialTimeout,
	})
	if err != nil {
		log.Error("producer unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = prod.Close(context.WithoutCancel(ctx)) }()

	pub := publisher.New(prod, publisher.WithLogger(log), publisher.WithTimeout(cfg.Publisher.Timeout))
	defer pub.Close()
	emitter := publisher.NewLogEmitter(pub, *service)

	sent := 0
	for *requests == 0 || sent < *requests {
		select {
		case <-ctx.Done():
			log.Info("interrupted", "requests", sent)
			return
		case <-time.After(*interval):
		}
		simulateRequest(ctx, emitter, log)
		sent++
	}
	log.Info("done", "requests", sent)
}

// simulateRequest emits what one back-office request would: a CRUD audit,
// an application log, a tracked database call and sometimes a failure.
func simulateRequest(ctx context.Context, emitter *publisher.LogEmitter, log *slog.Logger) {
	userID := strconv.Itoa(1 + rand.Intn(20))
	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
	ctx = requestcontext.WithUser(ctx, userID, "user-"+userID, "10.0.0."+userID)
	ctx = requestcontext.WithPOS(ctx, requestcontext.POSContext{
		TerminalID: "T-" + strconv.Itoa(1+rand.Intn(4)),
		StoreID:    "S-1",
		ShiftID:    time.Now().Format("20060102") + "-AM",
	})

	before := product{ID: 1 + rand.Intn(500), Name: "Paracetamol 500mg", Stock: rand.Intn(40), Price: 3.5}
	after := before
	after.Stock -= 1 + rand.Intn(5)

	emitter.App(ctx, audit.LevelInfo, fmt.Sprintf("adjusting stock of product %d", before.ID))
	err := emitter.Track(ctx, "ProductRepository.save", 0, func(context.Context) error {
		time.Sleep(time.Duration(rand.Intn(150)) * time.Millisecond)
		if after.Stock < 0 {
			return errOutOfStock
		}
		return nil
	})
	if err != nil {
		emitter.AuditFailure(ctx, "UPDATE", "Product", strconv.Itoa(before.ID), err)
		log.Debug("simulated failure", "product", before.ID)
		return
	}
	emitter.AuditCRUD(ctx, "UPDATE", "Product", strconv.Itoa(before.ID), before, after)
}
