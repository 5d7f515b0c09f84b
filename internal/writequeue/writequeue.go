// Package writequeue buffers outbound writes while no session is available,
// draining them once the Client Source reconnects. It never blocks a
// producer: once full, the oldest entry is dropped to make room.
package writequeue

import (
	"sync"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// Queue is a fixed-capacity, drop-oldest ring buffer of write entries.
type Queue struct {
	mu       sync.Mutex
	entries  []domain.WriteQueueEntry
	capacity int
	head     int
	size     int
	dropped  uint64
}

// New creates a Queue bounded to capacity entries (spec.md's write_queue_size).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		entries:  make([]domain.WriteQueueEntry, capacity),
		capacity: capacity,
	}
}

// Enqueue appends entry, dropping the oldest buffered entry if the queue is
// already at capacity.
func (q *Queue) Enqueue(entry domain.WriteQueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail := (q.head + q.size) % q.capacity
	if q.size == q.capacity {
		q.head = (q.head + 1) % q.capacity
		q.dropped++
	} else {
		q.size++
	}
	q.entries[tail] = entry
}

// EnqueueBatch enqueues each entry in order, per spec.md's attach_batch-style
// bulk operations.
func (q *Queue) EnqueueBatch(entries []domain.WriteQueueEntry) {
	for _, e := range entries {
		q.Enqueue(e)
	}
}

// DequeueAll removes and returns every buffered entry in FIFO order,
// emptying the queue.
func (q *Queue) DequeueAll() []domain.WriteQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.WriteQueueEntry, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.entries[(q.head+i)%q.capacity])
	}
	q.head = 0
	q.size = 0
	q.dropped = 0
	return out
}

// Len reports the number of entries currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped reports the number of entries dropped due to overflow since the
// last DequeueAll, which resets the count.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
