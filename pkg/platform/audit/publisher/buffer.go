package publisher

import (
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// pending is an encoded record waiting to be sent in async mode.
type pending struct {
	record *kgo.Record
	kind   string
}

// ringBuffer is a bounded, thread-safe queue of pending records.
// When full, the oldest record is dropped to make room for the new one.
type ringBuffer struct {
	mu       sync.Mutex
	items    []pending
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// newRingBuffer creates a ring buffer with the given capacity.
func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &ringBuffer{
		items:    make([]pending, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an item, dropping the oldest if necessary. It reports
// whether something was dropped.
func (b *ringBuffer) Enqueue(item pending) (droppedOldest bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.items[b.tail] = pending{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		droppedOldest = true
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	b.count++
	return droppedOldest
}

// DequeueBatch removes up to n items in FIFO order.
func (b *ringBuffer) DequeueBatch(n int) []pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]pending, n)
	for i := 0; i < n; i++ {
		result[i] = b.items[b.tail]
		b.items[b.tail] = pending{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Len returns the current number of queued items.
func (b *ringBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of items dropped on overflow.
func (b *ringBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
