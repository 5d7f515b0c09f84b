// Package domain holds the data model and the narrow interfaces this module
// needs from an externally-owned object-graph / property-tracking substrate.
// The substrate itself (subject/property storage, change notification,
// dependency tracking) is out of scope here; only the shapes the client core
// calls through are defined.
package domain

import (
	"context"
	"sync/atomic"
	"time"
)

// NodeId identifies an OPC UA node by namespace index and identifier.
type NodeId struct {
	NamespaceIndex uint16
	Identifier     string
}

func (n NodeId) String() string {
	return n.Identifier
}

// PropertyKind classifies how a property's value relates to the object graph.
type PropertyKind int

const (
	KindScalar PropertyKind = iota
	KindSubjectReference
	KindCollection
	KindDictionary
)

// MonitoredItem is a single server-side monitored item bound to a property.
// Status is the last-known OPC UA status code (0 == Good) returned for this
// item by either its creation or a subsequent health-retry attempt; it is
// updated concurrently with notification dispatch, so it is always read and
// written through the atomic accessors rather than the field directly.
type MonitoredItem struct {
	NodeID          NodeId
	ClientHandle    uint32
	ServerHandle    uint32
	Property        Property
	SamplingInterval time.Duration
	QueueSize       uint32
	DiscardOldest   bool
	CreatedAt       time.Time
	Status          atomic.Uint32
}

// Subscription groups monitored items under one server-side subscription,
// bounded by MaximumItemsPerSubscription.
type Subscription struct {
	ID                uint32
	PublishingInterval time.Duration
	Items             []*MonitoredItem
}

// PropertyBinding associates a resolved property path with its NodeId and
// the composite browse-name segment used to derive it, when applicable.
type PropertyBinding struct {
	NodeID        NodeId
	PropertyPath  string
	ParentSubject string
	AttributeSegment string
}

// LocalSubject is a locally materialized object mirroring a server-side
// object node; its properties are backed by MonitoredItems.
type LocalSubject struct {
	NodeID   NodeId
	Subject  Subject
	Children map[string]*LocalSubject
}

// WriteQueueEntry is one buffered outbound write.
type WriteQueueEntry struct {
	NodeID    NodeId
	Value     interface{}
	EnqueuedAt time.Time
}

// SessionGeneration is incremented on every successful session creation so
// stale callbacks (keep-alive, data-change) from a prior session can be
// discarded cheaply.
type SessionGeneration uint64

// WriteFailure partitions a batch write outcome per spec.md §7.
type WriteFailure struct {
	Transient int
	Permanent int
	Total     int
}

// Property is the narrow view this module needs of a single property on the
// externally-owned object graph.
type Property interface {
	// Name is the property's local name (the browse-name segment it binds to).
	Name() string
	// Kind reports how the property's value relates to the object graph.
	Kind() PropertyKind
	// TargetType is the Go type the property expects values to be coerced to.
	TargetType() interface{}
	// SetFromSource applies a value that originated from the OPC UA server.
	SetFromSource(ctx context.Context, sourceTimestamp, receivedTimestamp time.Time, value interface{}) error
	// Value returns the property's current value, for write-path reads.
	Value() interface{}
	// Aux returns the opaque auxiliary value stored under key (e.g. the
	// OpcVariableKey slot holding this property's bound NodeId).
	Aux(key string) (interface{}, bool)
	// SetAux stores an opaque auxiliary value under key.
	SetAux(key string, value interface{})
}

// Subject is the narrow view this module needs of a single object node on
// the externally-owned object graph.
type Subject interface {
	// Properties enumerates the subject's own properties.
	Properties() []Property
	// Property looks up a single property by name.
	Property(name string) (Property, bool)
}

// SubjectFactory creates new local subjects when the structural sync or the
// subject loader discovers a server-side object node with no local peer yet.
type SubjectFactory interface {
	CreateSubject(ctx context.Context, nodeID NodeId, browseName string) (Subject, error)
}

// SourcePathProvider maps a composite browse-name path to an existing
// property on the object graph, implementing the
// "{parent_property}__{attribute_segment}" rule from spec.md §4.4.
type SourcePathProvider interface {
	ResolveProperty(ctx context.Context, parent Subject, path string) (Property, bool)
}

// TypeResolver infers the target Go type (and array-ness) for a property
// given its DataType NodeId and ValueRank, per spec.md §4.10.
type TypeResolver interface {
	ResolveType(ctx context.Context, dataType NodeId, valueRank int32) (target interface{}, isArray bool, err error)
}

// SubjectUpdater owns the policy for applying an incoming data-change value
// to a property: either directly, or queued for the graph's own dispatch
// cadence. The Subscription Manager always goes through this collaborator
// rather than calling Property.SetFromSource itself, per spec.md §4.2.
type SubjectUpdater interface {
	EnqueueOrApply(ctx context.Context, property Property, sourceTimestamp, receivedTimestamp time.Time, value interface{}) error
}

// DirectUpdater is the trivial SubjectUpdater that applies every value
// synchronously. It is the default when no queued-dispatch graph is wired in.
type DirectUpdater struct{}

func (DirectUpdater) EnqueueOrApply(ctx context.Context, property Property, sourceTimestamp, receivedTimestamp time.Time, value interface{}) error {
	return property.SetFromSource(ctx, sourceTimestamp, receivedTimestamp, value)
}
