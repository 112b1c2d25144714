// Package kafka holds franz-go client construction shared by the producer and
// the per-topic consumers, plus topic bootstrap.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Config describes how to reach the brokers.
type Config struct {
	Brokers  []string
	ClientID string
	// GroupID prefixes the consumer group of every subscription.
	GroupID           string
	Partitions        int32
	ReplicationFactor int16
	DialTimeout       time.Duration
}

// ClientOptions returns the options common to every client.
func ClientOptions(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}
	return opts
}

// EnsureTopics creates any missing topics. Topics that already exist are
// left untouched.
func EnsureTopics(ctx context.Context, cfg Config, topics ...string) error {
	client, err := kgo.NewClient(ClientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer client.Close()

	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	resp, err := kadm.NewClient(client).CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}
