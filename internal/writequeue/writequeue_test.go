package writequeue

import (
	"testing"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string) domain.WriteQueueEntry {
	return domain.WriteQueueEntry{
		NodeID:     domain.NodeId{Identifier: id},
		Value:      1,
		EnqueuedAt: time.Now(),
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(10)
	q.Enqueue(entry("a"))
	q.Enqueue(entry("b"))
	q.Enqueue(entry("c"))

	got := q.DequeueAll()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].NodeID.Identifier)
	assert.Equal(t, "b", got[1].NodeID.Identifier)
	assert.Equal(t, "c", got[2].NodeID.Identifier)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	// Mirrors spec.md scenario S2: write_queue_size=3, 4 writes enqueued
	// while disconnected, exactly 1 dropped.
	q := New(3)
	q.Enqueue(entry("1"))
	q.Enqueue(entry("2"))
	q.Enqueue(entry("3"))
	q.Enqueue(entry("4"))

	assert.EqualValues(t, 1, q.Dropped())
	got := q.DequeueAll()
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].NodeID.Identifier)
	assert.Equal(t, "3", got[1].NodeID.Identifier)
	assert.Equal(t, "4", got[2].NodeID.Identifier)
}

func TestDequeueAllResetsDroppedCounter(t *testing.T) {
	q := New(3)
	q.Enqueue(entry("1"))
	q.Enqueue(entry("2"))
	q.Enqueue(entry("3"))
	q.Enqueue(entry("4"))
	require.EqualValues(t, 1, q.Dropped())

	_ = q.DequeueAll()
	assert.EqualValues(t, 0, q.Dropped())
}

func TestEnqueueBatch(t *testing.T) {
	q := New(5)
	q.EnqueueBatch([]domain.WriteQueueEntry{entry("x"), entry("y")})
	assert.Equal(t, 2, q.Len())
}

func TestDequeueAllEmptiesQueue(t *testing.T) {
	q := New(2)
	q.Enqueue(entry("a"))
	_ = q.DequeueAll()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.DequeueAll())
}
