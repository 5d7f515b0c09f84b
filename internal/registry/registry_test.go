package registry

import (
	"testing"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestConnectorRegistryAcquireReleaseRefcounts(t *testing.T) {
	r := NewConnectorRegistry()
	nodeID := domain.NodeId{Identifier: "shared"}
	items := []*domain.MonitoredItem{{NodeID: nodeID}}

	assert.True(t, r.Acquire(nodeID, items))
	assert.False(t, r.Acquire(nodeID, items)) // second parent path, same node
	assert.Equal(t, 2, r.RefCount(nodeID))

	assert.False(t, r.Release(nodeID))
	assert.Equal(t, 1, r.RefCount(nodeID))
	assert.True(t, r.Release(nodeID))
	assert.Equal(t, 0, r.RefCount(nodeID))

	_, ok := r.Items(nodeID)
	assert.False(t, ok)
}

func TestRecentlyDeletedSuppressesWithinTTL(t *testing.T) {
	r := NewRecentlyDeleted(50 * time.Millisecond)
	nodeID := domain.NodeId{Identifier: "n"}

	assert.False(t, r.IsSuppressed(nodeID))
	r.MarkDeleted(nodeID)
	assert.True(t, r.IsSuppressed(nodeID))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, r.IsSuppressed(nodeID))
}

func TestRecentlyDeletedForget(t *testing.T) {
	r := NewRecentlyDeleted(time.Minute)
	nodeID := domain.NodeId{Identifier: "n"}
	r.MarkDeleted(nodeID)
	r.Forget(nodeID)
	assert.False(t, r.IsSuppressed(nodeID))
}
