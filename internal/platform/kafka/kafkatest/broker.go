// Package kafkatest provides an in-memory broker that stands in for Kafka in
// unit tests. It keeps every produced record per topic, in order, and
// delivers them to subscribers the way a single-partition topic would.
package kafkatest

import (
	"context"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"hivelog/internal/platform/kafka/consumer"
)

// Broker is safe for concurrent use.
type Broker struct {
	mu      sync.Mutex
	topics  map[string][]*kgo.Record
	signals map[string]chan struct{}
	failErr error
	delay   time.Duration
}

func NewBroker() *Broker {
	return &Broker{
		topics:  make(map[string][]*kgo.Record),
		signals: make(map[string]chan struct{}),
	}
}

// FailWith makes every subsequent produce fail with err. A nil err restores
// normal behaviour.
func (b *Broker) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Delay makes every produce wait d before acknowledging, or until the
// caller's context is done.
func (b *Broker) Delay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// ProduceSync stores the records and returns one result per record.
func (b *Broker) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	b.mu.Lock()
	delay, failErr := b.delay, b.failErr
	b.mu.Unlock()

	results := make(kgo.ProduceResults, 0, len(rs))
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			for _, r := range rs {
				results = append(results, kgo.ProduceResult{Record: r, Err: ctx.Err()})
			}
			return results
		case <-timer.C:
		}
	}
	if failErr != nil {
		for _, r := range rs {
			results = append(results, kgo.ProduceResult{Record: r, Err: failErr})
		}
		return results
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rs {
		stored := *r
		stored.Offset = int64(len(b.topics[r.Topic]))
		if stored.Timestamp.IsZero() {
			stored.Timestamp = time.Now()
		}
		b.topics[r.Topic] = append(b.topics[r.Topic], &stored)
		b.notify(r.Topic)
		results = append(results, kgo.ProduceResult{Record: &stored})
	}
	return results
}

// Inject appends a raw payload, bypassing any producer-side validation.
func (b *Broker) Inject(topic, key string, value []byte) {
	b.ProduceSync(context.Background(), &kgo.Record{Topic: topic, Key: []byte(key), Value: value})
}

// Records returns a copy of everything produced to topic.
func (b *Broker) Records(topic string) []*kgo.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*kgo.Record(nil), b.topics[topic]...)
}

// Count returns how many records topic holds.
func (b *Broker) Count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Subscribe delivers topic's records from the beginning, then waits for new
// ones until ctx is cancelled. Handler errors are ignored, matching the
// commit-regardless policy of the real consumer.
func (b *Broker) Subscribe(ctx context.Context, topic string, h consumer.Handler) error {
	next := 0
	for {
		b.mu.Lock()
		pending := append([]*kgo.Record(nil), b.topics[topic][next:]...)
		signal := b.signal(topic)
		b.mu.Unlock()

		for _, r := range pending {
			if ctx.Err() != nil {
				return nil
			}
			_ = h.Handle(ctx, consumer.FromRecord(r))
			next++
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-signal:
		}
	}
}

// signal must be called with mu held.
func (b *Broker) signal(topic string) chan struct{} {
	ch, ok := b.signals[topic]
	if !ok {
		ch = make(chan struct{})
		b.signals[topic] = ch
	}
	return ch
}

// notify must be called with mu held.
func (b *Broker) notify(topic string) {
	if ch, ok := b.signals[topic]; ok {
		close(ch)
		delete(b.signals, topic)
	}
}
