package clientcore

import (
	"context"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/itemhealth"
	"github.com/nexus-edge/opcua-client-core/internal/loader"
	"github.com/nexus-edge/opcua-client-core/internal/registry"
	"github.com/nexus-edge/opcua-client-core/internal/session"
	"github.com/nexus-edge/opcua-client-core/internal/structural"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
	"github.com/nexus-edge/opcua-client-core/internal/writequeue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessionClient is a no-op session.Client that always connects
// successfully, letting tests build a real *session.Manager without a live
// server.
type fakeSessionClient struct{ connectErr error }

func (f *fakeSessionClient) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeSessionClient) Close(ctx context.Context) error   { return nil }

type stubSubject struct{}

func (stubSubject) Properties() []domain.Property          { return nil }
func (stubSubject) Property(string) (domain.Property, bool) { return nil, false }

// emptyBrowseClient answers every Browse call with a single child named
// "child" and no node class, so the structural processor can resolve an
// added subject's node while the loader's recursive descent binds nothing
// and terminates immediately without a real server.
type emptyBrowseClient struct{}

func (emptyBrowseClient) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return &ua.BrowseResponse{Results: []*ua.BrowseResult{{
		StatusCode: ua.StatusOK,
		References: []*ua.ReferenceDescription{
			{
				BrowseName: &ua.QualifiedName{Name: "child"},
				NodeID:     &ua.ExpandedNodeID{NodeID: ua.NewStringNodeID(2, "child")},
			},
		},
	}}}, nil
}

// newTestSource builds a Source with real, lightweight collaborators (no
// *opcua.Client / network dependency), for exercising the orchestrator's own
// logic directly.
func newTestSource(t *testing.T) *Source {
	t.Helper()
	logger := zerolog.Nop()

	sessionMgr := session.NewManager(&fakeSessionClient{}, session.DefaultConfig(), logger)
	subs := subscription.NewManager(nil, subscription.DefaultConfig(), domain.DirectUpdater{}, logger)
	l := loader.New(emptyBrowseClient{}, nil, nil, nil, nil, loader.Config{}, logger)
	structProc := structural.New(nil, l, subs, false, logger)

	return &Source{
		logger:     logger,
		cfg:        Config{WriteQueueSize: 4},
		sessionMgr: sessionMgr,
		subs:       subs,
		loader:     l,
		structural: structProc,
		health:     itemhealth.NewMonitor(time.Second, logger),
		registry:   registry.NewConnectorRegistry(),
		suppressed: registry.NewRecentlyDeleted(time.Minute),
		writeQ:     writequeue.New(4),
	}
}

func TestConnectOrReconnectUsesPlainCreateSessionWhenReady(t *testing.T) {
	s := newTestSource(t)

	sess, err := s.connectOrReconnect(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, sess.Generation)
}

func TestConnectOrReconnectUsesReconnectDriverAfterKeepAliveLoss(t *testing.T) {
	s := newTestSource(t)
	_, err := s.sessionMgr.CreateSession(context.Background())
	require.NoError(t, err)

	s.sessionMgr.HandleKeepAliveLost()
	assert.Equal(t, session.StateTriggered, s.sessionMgr.ReconnectState())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.connectOrReconnect(ctx)
	assert.Error(t, err) // backoff schedule starts at 5s, so the bounded ctx expires first
}

func TestIsTransientWriteStatus(t *testing.T) {
	assert.True(t, isTransientWriteStatus(ua.StatusBadSessionIDInvalid))
	assert.True(t, isTransientWriteStatus(ua.StatusBadTimeout))
	assert.False(t, isTransientWriteStatus(ua.StatusBadNodeIDUnknown))
	assert.False(t, isTransientWriteStatus(ua.StatusOK))
}

func TestCountItems(t *testing.T) {
	subs := []*domain.Subscription{
		{Items: []*domain.MonitoredItem{{}, {}}},
		{Items: []*domain.MonitoredItem{{}}},
	}
	assert.Equal(t, 3, countItems(subs))
}

func TestWriteToSourceQueuesWhenDisconnected(t *testing.T) {
	s := newTestSource(t)

	failure, err := s.WriteToSource(context.Background(), []domain.WriteQueueEntry{
		{NodeID: domain.NodeId{Identifier: "n1"}, Value: 1.0},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.WriteFailure{}, failure)
	assert.Equal(t, 1, s.writeQ.Len())
}

func TestIsConnectedReflectsSessionManager(t *testing.T) {
	s := newTestSource(t)
	assert.False(t, s.IsConnected())

	_, err := s.sessionMgr.CreateSession(context.Background())
	require.NoError(t, err)
	assert.True(t, s.IsConnected())
}

func TestSnapshotReportsSessionAndQueueState(t *testing.T) {
	s := newTestSource(t)
	s.writeQ.Enqueue(domain.WriteQueueEntry{NodeID: domain.NodeId{Identifier: "n1"}})

	snap := s.Snapshot()
	assert.False(t, snap.IsConnected)
	assert.Equal(t, 1, snap.PendingWriteCount)

	sess, err := s.sessionMgr.CreateSession(context.Background())
	require.NoError(t, err)

	snap = s.Snapshot()
	assert.True(t, snap.IsConnected)
	assert.Equal(t, "1", snap.SessionId)
	assert.Equal(t, sess.ConnectedAt, snap.LastConnectedAt)
}

func TestOnSubjectAddedSkipsWhenRecentlyDeleted(t *testing.T) {
	s := newTestSource(t)
	nodeID := domain.NodeId{Identifier: "parent"}
	s.suppressed.MarkDeleted(nodeID)

	err := s.OnSubjectAdded(context.Background(), nodeID, stubSubject{}, "child")
	require.NoError(t, err)
	assert.Equal(t, 0, s.registry.RefCount(nodeID))
}

func TestOnSubjectAddedDedupesSecondAcquire(t *testing.T) {
	s := newTestSource(t)
	nodeID := domain.NodeId{Identifier: "parent"}

	require.NoError(t, s.OnSubjectAdded(context.Background(), nodeID, stubSubject{}, "child"))
	require.NoError(t, s.OnSubjectAdded(context.Background(), nodeID, stubSubject{}, "child"))

	assert.Equal(t, 2, s.registry.RefCount(nodeID))
}

func TestOnSubjectRemovedMarksSuppressed(t *testing.T) {
	s := newTestSource(t)
	nodeID := domain.NodeId{Identifier: "n1"}
	require.NoError(t, s.OnSubjectAdded(context.Background(), nodeID, stubSubject{}, "child"))

	require.NoError(t, s.OnSubjectRemoved(context.Background(), nodeID, stubSubject{}))

	assert.True(t, s.suppressed.IsSuppressed(nodeID))
	assert.Equal(t, 0, s.registry.RefCount(nodeID))
}
