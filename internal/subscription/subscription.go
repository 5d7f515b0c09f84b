// Package subscription implements the Subscription Manager: batching
// monitored items into server-side subscriptions bounded by
// MaximumItemsPerSubscription, and dispatching data-change notifications
// back onto their bound properties, per spec.md §4.2.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/itemhealth"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
)

// OPCSubscription is the narrow slice of *opcua.Subscription this package
// drives, grounded on ioansiran-opcua/monitor's Monitor/Unmonitor/Cancel use.
type OPCSubscription interface {
	Monitor(ts ua.TimestampsToReturn, items ...*ua.MonitoredItemCreateRequest) (*ua.CreateMonitoredItemsResponse, error)
	Unmonitor(ctx context.Context, ids ...uint32) (*ua.DeleteMonitoredItemsResponse, error)
	Cancel(ctx context.Context) error
	ID() uint32
}

// Client is the narrow slice of *opcua.Client this package drives.
type Client interface {
	Subscribe(ctx context.Context, params *opcua.SubscriptionParameters, notifyCh chan<- *opcua.PublishNotificationData) (OPCSubscription, error)
}

// Config mirrors spec.md §6's subscription-related options.
type Config struct {
	MaximumItemsPerSubscription int
	PublishingInterval          time.Duration
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{MaximumItemsPerSubscription: 1000, PublishingInterval: time.Second}
}

// Binding is one property's request to be monitored.
type Binding struct {
	NodeID           domain.NodeId
	Property         domain.Property
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// group is one server-side subscription plus the client-handle -> item map
// used to dispatch incoming notifications.
type group struct {
	id       uint32
	opc      OPCSubscription
	notifyCh chan *opcua.PublishNotificationData

	mu    sync.RWMutex
	items map[uint32]*domain.MonitoredItem
}

// Manager batches monitored items into bounded server-side subscriptions and
// dispatches their data-change notifications onto bound properties.
type Manager struct {
	logger  zerolog.Logger
	client  Client
	cfg     Config
	updater domain.SubjectUpdater

	mu         sync.Mutex
	groups     []*group
	snapshot   atomic.Pointer[[]*domain.Subscription]
	nextHandle atomic.Uint32

	wg                 sync.WaitGroup
	stopCh             chan struct{}
	onError            func(error)
	onPermanentFailure func(domain.NodeId)
}

// SetErrorHandler registers a callback invoked once per publish notification
// that carries a transport-level error (spec.md §4.1: keep-alive loss is
// surfaced to the Session Manager so it can trigger the Reconnect Driver).
// Must be called before AttachBatch starts any dispatch goroutines.
func (m *Manager) SetErrorHandler(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// SetPermanentFailureHandler registers a callback invoked once per monitored
// item dropped at creation time because it failed with a permanent status
// code (spec.md §4.3/§7).
func (m *Manager) SetPermanentFailureHandler(fn func(domain.NodeId)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPermanentFailure = fn
}

// NewManager builds a Manager. updater may be nil, in which case
// domain.DirectUpdater{} applies every value synchronously.
func NewManager(client Client, cfg Config, updater domain.SubjectUpdater, logger zerolog.Logger) *Manager {
	if updater == nil {
		updater = domain.DirectUpdater{}
	}
	if cfg.MaximumItemsPerSubscription <= 0 {
		cfg = DefaultConfig()
	}
	m := &Manager{
		logger:  logging.WithComponent(logger, "subscription-manager"),
		client:  client,
		cfg:     cfg,
		updater: updater,
		stopCh:  make(chan struct{}),
	}
	empty := []*domain.Subscription{}
	m.snapshot.Store(&empty)
	return m
}

// Subscriptions returns an immutable snapshot of the current subscription
// list, safe to range over without holding any lock (spec.md §5).
func (m *Manager) Subscriptions() []*domain.Subscription {
	return *m.snapshot.Load()
}

// AttachBatch creates as many server-side subscriptions as needed to host
// len(bindings) monitored items, each bounded by
// cfg.MaximumItemsPerSubscription, and starts dispatch for each.
func (m *Manager) AttachBatch(ctx context.Context, bindings []Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for start := 0; start < len(bindings); start += m.cfg.MaximumItemsPerSubscription {
		end := start + m.cfg.MaximumItemsPerSubscription
		if end > len(bindings) {
			end = len(bindings)
		}
		if err := m.attachGroup(ctx, bindings[start:end]); err != nil {
			return err
		}
	}
	m.publishSnapshot()
	return nil
}

func (m *Manager) attachGroup(ctx context.Context, bindings []Binding) error {
	notifyCh := make(chan *opcua.PublishNotificationData, 16)
	params := &opcua.SubscriptionParameters{Interval: m.cfg.PublishingInterval}

	opcSub, err := m.client.Subscribe(ctx, params, notifyCh)
	if err != nil {
		return err
	}

	g := &group{id: opcSub.ID(), opc: opcSub, notifyCh: notifyCh, items: make(map[uint32]*domain.MonitoredItem, len(bindings))}

	requests := make([]*ua.MonitoredItemCreateRequest, 0, len(bindings))
	handles := make([]uint32, 0, len(bindings))
	for _, b := range bindings {
		handle := m.nextHandle.Add(1)
		handles = append(handles, handle)
		requests = append(requests, ua.NewMonitoredItemCreateRequestWithDefaults(
			ua.NewStringNodeID(b.NodeID.NamespaceIndex, b.NodeID.Identifier),
			ua.AttributeIDValue,
			handle,
		))
	}

	resp, err := g.opc.Monitor(ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		_ = g.opc.Cancel(ctx)
		return err
	}

	for i, result := range resp.Results {
		if i >= len(bindings) {
			break
		}
		if result.StatusCode != ua.StatusOK && itemhealth.Classify(result.StatusCode) == itemhealth.StatusPermanentlyFailed {
			m.logger.Warn().
				Str("node_id", bindings[i].NodeID.Identifier).
				Str("status", result.StatusCode.Error()).
				Msg("monitored item creation failed permanently, dropped")
			if m.onPermanentFailure != nil {
				m.onPermanentFailure(bindings[i].NodeID)
			}
			continue
		}
		if result.StatusCode != ua.StatusOK {
			m.logger.Warn().
				Str("node_id", bindings[i].NodeID.Identifier).
				Str("status", result.StatusCode.Error()).
				Msg("monitored item creation failed transiently, kept for health monitor retry")
		}
		item := &domain.MonitoredItem{
			NodeID:           bindings[i].NodeID,
			ClientHandle:     handles[i],
			ServerHandle:     uint32(result.MonitoredItemID),
			Property:         bindings[i].Property,
			SamplingInterval: bindings[i].SamplingInterval,
			QueueSize:        bindings[i].QueueSize,
			DiscardOldest:    bindings[i].DiscardOldest,
			CreatedAt:        time.Now(),
		}
		item.Status.Store(uint32(result.StatusCode))
		g.items[handles[i]] = item
	}

	m.groups = append(m.groups, g)
	m.wg.Add(1)
	go m.pump(g)
	return nil
}

// RemoveItemsForSubject unmonitors every item bound to a property of subject.
func (m *Manager) RemoveItemsForSubject(ctx context.Context, subject domain.Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[domain.Property]struct{})
	for _, p := range subject.Properties() {
		owned[p] = struct{}{}
	}

	for _, g := range m.groups {
		g.mu.Lock()
		var toRemove, serverIDs []uint32
		for handle, item := range g.items {
			if _, ok := owned[item.Property]; ok {
				toRemove = append(toRemove, handle)
				serverIDs = append(serverIDs, item.ServerHandle)
			}
		}
		g.mu.Unlock()
		if len(toRemove) == 0 {
			continue
		}
		if _, err := g.opc.Unmonitor(ctx, serverIDs...); err != nil {
			return err
		}
		g.mu.Lock()
		for _, handle := range toRemove {
			delete(g.items, handle)
		}
		g.mu.Unlock()
	}
	m.publishSnapshot()
	return nil
}

// AdoptTransferred records that the given server-side subscription IDs
// survived a reconnect's subscription-transfer step and should continue to
// be tracked under their existing client-side groups.
func (m *Manager) AdoptTransferred(subIDs []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	surviving := make(map[uint32]struct{}, len(subIDs))
	for _, id := range subIDs {
		surviving[id] = struct{}{}
	}
	kept := m.groups[:0]
	for _, g := range m.groups {
		if _, ok := surviving[g.id]; ok {
			kept = append(kept, g)
		}
	}
	m.groups = kept
	m.publishSnapshot()
}

// UnhealthyCounts reports, per server-side subscription id, how many of its
// currently-attached items are not healthy (Classify of their last-known
// status is anything but StatusHealthy). Implements itemhealth.SubscriptionHealth.
func (m *Manager) UnhealthyCounts() map[uint32]int {
	m.mu.Lock()
	groups := append([]*group(nil), m.groups...)
	m.mu.Unlock()

	counts := make(map[uint32]int, len(groups))
	for _, g := range groups {
		counts[g.id] = unhealthyCount(g)
	}
	return counts
}

// RetryUnhealthy re-issues Monitor for every retryable (non-permanently-failed,
// non-healthy) item in subscription subID, updating each item's Status from
// the result, and returns the unhealthy count that remains afterward.
// Implements itemhealth.SubscriptionHealth.
func (m *Manager) RetryUnhealthy(ctx context.Context, subID uint32) (int, error) {
	m.mu.Lock()
	var target *group
	for _, g := range m.groups {
		if g.id == subID {
			target = g
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return 0, nil
	}

	target.mu.RLock()
	var requests []*ua.MonitoredItemCreateRequest
	var handles []uint32
	for handle, item := range target.items {
		status := ua.StatusCode(item.Status.Load())
		if itemhealth.Classify(status) != itemhealth.StatusRetryable {
			continue
		}
		requests = append(requests, ua.NewMonitoredItemCreateRequestWithDefaults(
			ua.NewStringNodeID(item.NodeID.NamespaceIndex, item.NodeID.Identifier),
			ua.AttributeIDValue,
			handle,
		))
		handles = append(handles, handle)
	}
	target.mu.RUnlock()

	if len(requests) == 0 {
		return unhealthyCount(target), nil
	}

	resp, err := target.opc.Monitor(ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		return unhealthyCount(target), err
	}

	target.mu.Lock()
	for i, result := range resp.Results {
		if i >= len(handles) {
			break
		}
		item, ok := target.items[handles[i]]
		if !ok {
			continue
		}
		item.Status.Store(uint32(result.StatusCode))
		if result.StatusCode == ua.StatusOK {
			item.ServerHandle = uint32(result.MonitoredItemID)
		}
	}
	target.mu.Unlock()

	return unhealthyCount(target), nil
}

func unhealthyCount(g *group) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, item := range g.items {
		if itemhealth.Classify(ua.StatusCode(item.Status.Load())) != itemhealth.StatusHealthy {
			n++
		}
	}
	return n
}

// Close cancels every group's subscription and stops dispatch.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.stopCh)
	var firstErr error
	for _, g := range m.groups {
		if err := g.opc.Cancel(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.wg.Wait()
	m.groups = nil
	m.publishSnapshot()
	return firstErr
}

// publishSnapshot must be called with m.mu held. It swaps the immutable
// snapshot slice consumers read without locking.
func (m *Manager) publishSnapshot() {
	out := make([]*domain.Subscription, 0, len(m.groups))
	for _, g := range m.groups {
		g.mu.RLock()
		items := make([]*domain.MonitoredItem, 0, len(g.items))
		for _, item := range g.items {
			items = append(items, item)
		}
		g.mu.RUnlock()
		out = append(out, &domain.Subscription{
			ID:                 g.id,
			PublishingInterval: m.cfg.PublishingInterval,
			Items:              items,
		})
	}
	m.snapshot.Store(&out)
}
