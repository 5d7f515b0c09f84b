// Package registry implements the Subject Connector Registry (a refcounted
// arena mapping a NodeId to every MonitoredItem bound to it, so cyclic or
// shared subjects don't double-subscribe) and the Recently-Deleted
// Registry (a short-lived set suppressing re-add churn for a node that was
// just removed), per spec.md §9.
package registry

import (
	"sync"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// ConnectorRegistry refcounts the monitored items bound to each NodeId, so a
// subject reachable through more than one parent path is only ever
// subscribed once.
type ConnectorRegistry struct {
	mu      sync.Mutex
	entries map[domain.NodeId]*connectorEntry
}

type connectorEntry struct {
	items    []*domain.MonitoredItem
	refCount int
}

// NewConnectorRegistry builds an empty registry.
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{entries: make(map[domain.NodeId]*connectorEntry)}
}

// Acquire increments nodeID's refcount, registering items the first time it
// is seen and returning whether this call caused the first registration
// (i.e. the caller should actually subscribe).
func (r *ConnectorRegistry) Acquire(nodeID domain.NodeId, items []*domain.MonitoredItem) (firstAcquire bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[nodeID]
	if !exists {
		r.entries[nodeID] = &connectorEntry{items: items, refCount: 1}
		return true
	}
	entry.refCount++
	return false
}

// Release decrements nodeID's refcount and reports whether it reached zero
// (i.e. the caller should actually unsubscribe).
func (r *ConnectorRegistry) Release(nodeID domain.NodeId) (lastRelease bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[nodeID]
	if !ok {
		return false
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(r.entries, nodeID)
		return true
	}
	return false
}

// Items returns the monitored items registered for nodeID, if any.
func (r *ConnectorRegistry) Items(nodeID domain.NodeId) ([]*domain.MonitoredItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[nodeID]
	if !ok {
		return nil, false
	}
	return entry.items, true
}

// RefCount reports nodeID's current refcount, for diagnostics/tests.
func (r *ConnectorRegistry) RefCount(nodeID domain.NodeId) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[nodeID]
	if !ok {
		return 0
	}
	return entry.refCount
}

// RecentlyDeleted suppresses re-add churn for a NodeId that was just
// removed: an add reaction for a node still in this set within ttl is
// treated as a no-op rather than re-subscribing immediately.
type RecentlyDeleted struct {
	mu      sync.Mutex
	ttl     time.Duration
	deleted map[domain.NodeId]time.Time
}

// NewRecentlyDeleted builds a set with the given suppression window.
func NewRecentlyDeleted(ttl time.Duration) *RecentlyDeleted {
	return &RecentlyDeleted{ttl: ttl, deleted: make(map[domain.NodeId]time.Time)}
}

// MarkDeleted records nodeID as just removed.
func (r *RecentlyDeleted) MarkDeleted(nodeID domain.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[nodeID] = time.Now()
}

// IsSuppressed reports whether nodeID was deleted within the last ttl,
// pruning expired entries as it goes.
func (r *RecentlyDeleted) IsSuppressed(nodeID domain.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	deletedAt, ok := r.deleted[nodeID]
	if !ok {
		return false
	}
	if time.Since(deletedAt) > r.ttl {
		delete(r.deleted, nodeID)
		return false
	}
	return true
}

// Forget removes nodeID from the suppression set, e.g. once its add
// reaction has actually been processed.
func (r *RecentlyDeleted) Forget(nodeID domain.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deleted, nodeID)
}
