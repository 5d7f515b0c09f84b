// Package clientcore wires the Session Manager, Subscription Manager,
// Subject Loader, Structural Change Processor, Write Queue, and Health
// Monitor together into the Client Source root orchestrator described in
// spec.md §4.7: connect, load, subscribe, serve, reconnect forever.
package clientcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/browse"
	"github.com/nexus-edge/opcua-client-core/internal/codec"
	"github.com/nexus-edge/opcua-client-core/internal/diagnostics"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/eventbus"
	"github.com/nexus-edge/opcua-client-core/internal/itemhealth"
	"github.com/nexus-edge/opcua-client-core/internal/loader"
	"github.com/nexus-edge/opcua-client-core/internal/metrics"
	"github.com/nexus-edge/opcua-client-core/internal/registry"
	"github.com/nexus-edge/opcua-client-core/internal/session"
	"github.com/nexus-edge/opcua-client-core/internal/structural"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
	"github.com/nexus-edge/opcua-client-core/internal/writequeue"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
)

// objectsFolderID is the well-known NodeId for the ObjectsFolder (ns=0;i=85).
const objectsFolderID = 85

// Config mirrors the client-relevant slice of spec.md §6's configuration
// surface that the root orchestrator itself consumes directly.
type Config struct {
	RootName                        string
	MaximumItemsPerSubscription     int
	ReconnectDelay                  time.Duration
	SessionTimeout                  time.Duration
	SessionDisposalTimeout          time.Duration
	SubscriptionHealthCheckInterval time.Duration
	WriteQueueSize                  int
	EnableRemoteNodeManagement      bool
	ShouldAddDynamicProperties      bool
	RecentlyDeletedTTL              time.Duration
}

// Source is the Client Source root orchestrator.
type Source struct {
	logger  zerolog.Logger
	cfg     Config
	metrics *metrics.Registry
	events  *eventbus.Publisher

	rawClient *opcua.Client
	client    *opcClient

	sessionMgr *session.Manager
	subs       *subscription.Manager
	loader     *loader.Loader
	structural *structural.Processor
	health     *itemhealth.Monitor
	registry   *registry.ConnectorRegistry
	suppressed *registry.RecentlyDeleted
	writeQ     *writequeue.Queue

	root domain.Subject

	writeFlushMu sync.Mutex
}

// NewSource builds a Source around a real *opcua.Client and the externally
// provided collaborators (subject factory, source-path provider, type
// resolver, root subject) the subject loader needs.
func NewSource(
	rawClient *opcua.Client,
	cfg Config,
	factory domain.SubjectFactory,
	paths domain.SourcePathProvider,
	types domain.TypeResolver,
	updater domain.SubjectUpdater,
	root domain.Subject,
	metricsRegistry *metrics.Registry,
	events *eventbus.Publisher,
	logger zerolog.Logger,
) *Source {
	client := newOPCClient(rawClient)

	sessionCfg := session.DefaultConfig()
	sessionCfg.SessionTimeout = cfg.SessionTimeout
	sessionCfg.DisposalTimeout = cfg.SessionDisposalTimeout
	sessionMgr := session.NewManager(client, sessionCfg, logger)

	subCfg := subscription.DefaultConfig()
	subCfg.MaximumItemsPerSubscription = cfg.MaximumItemsPerSubscription
	subs := subscription.NewManager(client, subCfg, updater, logger)

	loaderCfg := loader.Config{ShouldAddDynamicProperties: cfg.ShouldAddDynamicProperties}
	l := loader.New(client, client, factory, paths, types, loaderCfg, logger)

	subs.SetErrorHandler(func(err error) { sessionMgr.HandleKeepAliveLost() })
	subs.SetPermanentFailureHandler(func(nodeID domain.NodeId) {
		if metricsRegistry != nil {
			metricsRegistry.IncItemPermanentFailure()
		}
	})

	structProc := structural.New(client, l, subs, cfg.EnableRemoteNodeManagement, logger)

	healthMon := itemhealth.NewMonitor(cfg.SubscriptionHealthCheckInterval, logger)

	writeQSize := cfg.WriteQueueSize
	if writeQSize <= 0 {
		writeQSize = 1
	}

	return &Source{
		logger:     logging.WithComponent(logger, "client-source"),
		cfg:        cfg,
		metrics:    metricsRegistry,
		events:     events,
		rawClient:  rawClient,
		client:     client,
		sessionMgr: sessionMgr,
		subs:       subs,
		loader:     l,
		structural: structProc,
		health:     healthMon,
		registry:   registry.NewConnectorRegistry(),
		suppressed: registry.NewRecentlyDeleted(cfg.RecentlyDeletedTTL),
		writeQ:     writequeue.New(writeQSize),
		root:       root,
	}
}

// Run executes the reconnect-forever outer lifecycle loop until ctx is
// cancelled.
func (s *Source) Run(ctx context.Context) {
	for ctx.Err() == nil {
		sess, err := s.connectOrReconnect(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("create_session failed")
			s.setConnected(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
			continue
		}

		s.setConnected(true)
		if s.metrics != nil {
			s.metrics.SetSessionGeneration(uint64(sess.Generation))
			s.metrics.SetLastConnectedAtUnix(sess.ConnectedAt.Unix())
		}
		if s.events != nil {
			s.events.Publish(eventbus.Event{Kind: eventbus.EventSessionChanged})
		}

		if err := s.serveSession(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("session ended, restarting outer loop")
		}
		s.setConnected(false)
	}
}

// connectOrReconnect calls plain CreateSession while the Reconnect Driver is
// Ready (the first time through the loop, and after any successful session
// creation has reset it), and otherwise defers to the Reconnect Driver's own
// backoff-paced retry loop once a keep-alive loss has moved it out of Ready,
// per spec.md §4.1. Every reconnect, successful or not, ends with a
// reconnection-completed event on the event bus.
func (s *Source) connectOrReconnect(ctx context.Context) (*session.Session, error) {
	if s.sessionMgr.ReconnectState() == session.StateReady {
		return s.sessionMgr.CreateSession(ctx)
	}

	if s.metrics != nil {
		s.metrics.SetReconnecting(true)
		s.metrics.IncReconnectionAttempt()
	}
	sess, err := s.sessionMgr.Reconnect(ctx)
	if s.events != nil {
		s.events.Publish(eventbus.Event{Kind: eventbus.EventReconnectionComplete})
	}
	if s.metrics != nil {
		s.metrics.SetReconnecting(false)
		if err == nil {
			s.metrics.IncReconnectionSucceeded()
		} else {
			s.metrics.IncReconnectionFailed()
		}
	}
	return sess, err
}

// serveSession runs one full session's worth of work: root resolution,
// initial load, initial read, subscribe, health monitor, write-queue flush,
// then blocks until the session is lost or ctx is cancelled.
func (s *Source) serveSession(ctx context.Context) error {
	rootNodeID, err := s.resolveRoot(ctx)
	if err != nil {
		return fmt.Errorf("clientcore: resolve root: %w", err)
	}

	bindings, err := s.loader.Load(ctx, rootNodeID, s.root)
	if err != nil {
		return fmt.Errorf("clientcore: load: %w", err)
	}

	if err := s.readInitialValues(ctx, bindings); err != nil {
		s.logger.Warn().Err(err).Msg("initial read failed, continuing to subscribe")
	}

	if err := s.subs.AttachBatch(ctx, bindings); err != nil {
		return fmt.Errorf("clientcore: attach batch: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetMonitoredItemCount(countItems(s.subs.Subscriptions()))
		s.metrics.SetSubscriptionCount(len(s.subs.Subscriptions()))
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go s.health.Run(healthCtx, s.subs)

	s.flushWriteQueue(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.sessionMgr.Lost():
		return fmt.Errorf("clientcore: %w", domain.ErrKeepAliveLost)
	}
}

// resolveRoot selects the root reference per spec.md §4.7: the named child
// of ObjectsFolder if root_name is set, else ObjectsFolder itself.
func (s *Source) resolveRoot(ctx context.Context) (domain.NodeId, error) {
	objectsFolder := ua.NewNumericNodeID(0, objectsFolderID)
	if s.cfg.RootName == "" {
		return domain.NodeId{NamespaceIndex: objectsFolder.Namespace(), Identifier: objectsFolder.StringID()}, nil
	}

	refs, err := browse.Forward(ctx, s.client, objectsFolder)
	if err != nil {
		return domain.NodeId{}, err
	}
	for _, ref := range refs {
		if ref.BrowseName != nil && ref.BrowseName.Name == s.cfg.RootName {
			nodeID := ref.NodeID.NodeID
			return domain.NodeId{NamespaceIndex: nodeID.Namespace(), Identifier: nodeID.StringID()}, nil
		}
	}
	return domain.NodeId{}, fmt.Errorf("clientcore: root_name %q not found under ObjectsFolder", s.cfg.RootName)
}

// readInitialValues reads every bound node's Value attribute in one Read
// call and applies it via SetFromSource directly, so the local graph is
// populated before subscription publishing begins (spec.md §4.7 /
// §9's retained-Read open question).
func (s *Source) readInitialValues(ctx context.Context, bindings []subscription.Binding) error {
	if len(bindings) == 0 {
		return nil
	}

	nodesToRead := make([]*ua.ReadValueID, len(bindings))
	for i, b := range bindings {
		nodesToRead[i] = &ua.ReadValueID{
			NodeID:      ua.NewStringNodeID(b.NodeID.NamespaceIndex, b.NodeID.Identifier),
			AttributeID: ua.AttributeIDValue,
		}
	}

	resp, err := s.rawClient.Read(ctx, &ua.ReadRequest{
		NodesToRead:        nodesToRead,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return err
	}

	for i, result := range resp.Results {
		if i >= len(bindings) || result.Status != ua.StatusOK {
			continue
		}
		value, err := codec.ToPropertyValue(result)
		if err != nil {
			s.logger.Warn().Str("node_id", bindings[i].NodeID.Identifier).Err(err).Msg("initial value decode failed")
			continue
		}
		sourceTs := result.SourceTimestamp
		if sourceTs.IsZero() {
			sourceTs = time.Now()
		}
		if err := bindings[i].Property.SetFromSource(ctx, sourceTs, time.Now(), value); err != nil {
			s.logger.Warn().Str("node_id", bindings[i].NodeID.Identifier).Err(err).Msg("initial value apply failed")
		}
	}
	return nil
}

// WriteToSource implements spec.md §4.7's write_to_source: queue while
// disconnected, else flush the queue then send changes, partitioning
// failures into transient/permanent.
func (s *Source) WriteToSource(ctx context.Context, changes []domain.WriteQueueEntry) (domain.WriteFailure, error) {
	if _, connected := s.sessionMgr.Current(); !connected {
		before := s.writeQ.Dropped()
		s.writeQ.EnqueueBatch(changes)
		if s.metrics != nil {
			s.metrics.SetPendingWriteCount(s.writeQ.Len())
			s.metrics.AddDroppedWrites(s.writeQ.Dropped() - before)
		}
		return domain.WriteFailure{}, nil
	}

	s.writeFlushMu.Lock()
	defer s.writeFlushMu.Unlock()

	queued := s.writeQ.DequeueAll()
	toSend := append(queued, changes...)

	failure, err := s.sendWrites(ctx, toSend)
	if s.metrics != nil {
		s.metrics.SetPendingWriteCount(s.writeQ.Len())
	}
	return failure, err
}

func (s *Source) sendWrites(ctx context.Context, entries []domain.WriteQueueEntry) (domain.WriteFailure, error) {
	if len(entries) == 0 {
		return domain.WriteFailure{}, nil
	}

	nodesToWrite := make([]*ua.WriteValue, len(entries))
	for i, e := range entries {
		variant, err := codec.ToNodeValue(e.Value)
		if err != nil {
			return domain.WriteFailure{}, fmt.Errorf("clientcore: encode write value: %w", err)
		}
		nodesToWrite[i] = &ua.WriteValue{
			NodeID:      ua.NewStringNodeID(e.NodeID.NamespaceIndex, e.NodeID.Identifier),
			AttributeID: ua.AttributeIDValue,
			Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: variant},
		}
	}

	resp, err := s.rawClient.Write(ctx, &ua.WriteRequest{NodesToWrite: nodesToWrite})
	if err != nil {
		s.writeQ.EnqueueBatch(entries)
		return domain.WriteFailure{Transient: len(entries), Total: len(entries)}, fmt.Errorf("clientcore: write: %w: %v", domain.ErrWriteTransient, err)
	}

	var failure domain.WriteFailure
	var toReenqueue []domain.WriteQueueEntry
	for i, status := range resp.Results {
		if i >= len(entries) || status == ua.StatusOK {
			continue
		}
		failure.Total++
		if isTransientWriteStatus(status) {
			failure.Transient++
			toReenqueue = append(toReenqueue, entries[i])
		} else {
			failure.Permanent++
		}
	}

	if len(toReenqueue) > 0 {
		s.writeQ.EnqueueBatch(toReenqueue)
	}
	if failure.Transient > 0 {
		return failure, fmt.Errorf("clientcore: write: %w: %d transient, %d permanent", domain.ErrWriteTransient, failure.Transient, failure.Permanent)
	}
	if failure.Permanent > 0 {
		return failure, fmt.Errorf("clientcore: write: %w: %d permanent", domain.ErrWritePermanent, failure.Permanent)
	}
	return failure, nil
}

func isTransientWriteStatus(status ua.StatusCode) bool {
	switch status {
	case ua.StatusBadSessionIDInvalid, ua.StatusBadTimeout:
		return true
	default:
		return false
	}
}

// flushWriteQueue drains any writes buffered while disconnected, as part of
// serveSession's post-subscribe startup sequence.
func (s *Source) flushWriteQueue(ctx context.Context) {
	if s.writeQ.Len() == 0 {
		return
	}
	s.writeFlushMu.Lock()
	defer s.writeFlushMu.Unlock()

	queued := s.writeQ.DequeueAll()
	if _, err := s.sendWrites(ctx, queued); err != nil {
		s.logger.Warn().Err(err).Msg("write queue flush encountered failures")
	}
	if s.metrics != nil {
		s.metrics.SetPendingWriteCount(s.writeQ.Len())
	}
}

// OnSubjectAdded reacts to a subject appearing under parentNodeID: a node
// still within the recently-deleted suppression window is ignored outright,
// and the connector registry dedupes a subject reachable through more than
// one parent path so it is only ever attached once.
func (s *Source) OnSubjectAdded(ctx context.Context, parentNodeID domain.NodeId, subject domain.Subject, browseName string) error {
	if s.suppressed.IsSuppressed(parentNodeID) {
		return nil
	}
	if !s.registry.Acquire(parentNodeID, nil) {
		return nil
	}

	if err := s.structural.OnSubjectAdded(ctx, parentNodeID, subject, browseName); err != nil {
		s.registry.Release(parentNodeID)
		return err
	}
	if s.metrics != nil {
		s.metrics.IncStructuralChangeApplied()
	}
	if s.events != nil {
		s.events.Publish(eventbus.Event{Kind: eventbus.EventSubjectAdded, NodeID: parentNodeID.Identifier})
	}
	return nil
}

// OnSubjectRemoved reacts to a subject disappearing from the local graph,
// releasing its connector registry entry and marking it recently-deleted so
// a churned re-add within the suppression window is treated as a no-op.
func (s *Source) OnSubjectRemoved(ctx context.Context, nodeID domain.NodeId, subject domain.Subject) error {
	s.registry.Release(nodeID)
	s.suppressed.MarkDeleted(nodeID)

	if err := s.structural.OnSubjectRemoved(ctx, nodeID, subject); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncStructuralChangeApplied()
	}
	if s.events != nil {
		s.events.Publish(eventbus.Event{Kind: eventbus.EventSubjectRemoved, NodeID: nodeID.Identifier})
	}
	return nil
}

// IsConnected implements health.SessionStatus.
func (s *Source) IsConnected() bool {
	_, ok := s.sessionMgr.Current()
	return ok
}

func (s *Source) setConnected(connected bool) {
	if s.metrics != nil {
		s.metrics.SetConnected(connected)
	}
}

// Snapshot implements diagnostics.Source.
func (s *Source) Snapshot() diagnostics.Snapshot {
	sess, connected := s.sessionMgr.Current()
	subs := s.subs.Subscriptions()

	snap := diagnostics.Snapshot{
		IsConnected:               connected,
		IsReconnecting:            s.sessionMgr.ReconnectState() == session.StateReconnecting,
		SubscriptionCount:         len(subs),
		MonitoredItemCount:        countItems(subs),
		TotalReconnectionAttempts: s.sessionMgr.TotalReconnectionAttempts(),
		SuccessfulReconnections:   s.sessionMgr.SuccessfulReconnections(),
		FailedReconnections:       s.sessionMgr.FailedReconnections(),
		PendingWriteCount:         s.writeQ.Len(),
		DroppedWriteCount:         s.writeQ.Dropped(),
	}
	if sess != nil {
		snap.SessionId = fmt.Sprintf("%d", sess.Generation)
		snap.LastConnectedAt = sess.ConnectedAt
	}
	return snap
}

func countItems(subs []*domain.Subscription) int {
	n := 0
	for _, s := range subs {
		n += len(s.Items)
	}
	return n
}
