package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/domain/fake"
	"github.com/nexus-edge/opcua-client-core/internal/itemhealth"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOPCSubscription struct {
	id          uint32
	monitorResp *ua.CreateMonitoredItemsResponse
	monitorErr  error
	// results, when set, overrides the results returned by the next Monitor
	// call only, then reverts to the default all-StatusOK behavior.
	results     []*ua.MonitoredItemCreateResult
	unmonitored []uint32
	cancelled   bool
}

func (f *fakeOPCSubscription) ID() uint32 { return f.id }

func (f *fakeOPCSubscription) Monitor(_ ua.TimestampsToReturn, items ...*ua.MonitoredItemCreateRequest) (*ua.CreateMonitoredItemsResponse, error) {
	if f.monitorErr != nil {
		return nil, f.monitorErr
	}
	if f.results != nil {
		results := f.results
		f.results = nil
		return &ua.CreateMonitoredItemsResponse{Results: results}, nil
	}
	results := make([]*ua.MonitoredItemCreateResult, len(items))
	for i := range items {
		results[i] = &ua.MonitoredItemCreateResult{StatusCode: ua.StatusOK, MonitoredItemID: uint32(i + 1)}
	}
	return &ua.CreateMonitoredItemsResponse{Results: results}, nil
}

func (f *fakeOPCSubscription) Unmonitor(_ context.Context, ids ...uint32) (*ua.DeleteMonitoredItemsResponse, error) {
	f.unmonitored = append(f.unmonitored, ids...)
	return &ua.DeleteMonitoredItemsResponse{}, nil
}

func (f *fakeOPCSubscription) Cancel(_ context.Context) error {
	f.cancelled = true
	return nil
}

type fakeClient struct {
	sub *fakeOPCSubscription
}

func (f *fakeClient) Subscribe(_ context.Context, _ *opcua.SubscriptionParameters, _ chan<- *opcua.PublishNotificationData) (OPCSubscription, error) {
	return f.sub, nil
}

func TestAttachBatchCreatesMonitoredItems(t *testing.T) {
	client := &fakeClient{sub: &fakeOPCSubscription{}}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	prop := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	err := m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "ns=2;s=Temp"}, Property: prop},
	})
	require.NoError(t, err)

	subs := m.Subscriptions()
	require.Len(t, subs, 1)
	assert.Len(t, subs[0].Items, 1)
}

func TestAttachBatchSplitsAcrossSubscriptions(t *testing.T) {
	client := &fakeClient{sub: &fakeOPCSubscription{}}
	cfg := Config{MaximumItemsPerSubscription: 2, PublishingInterval: time.Second}
	m := NewManager(client, cfg, nil, zerolog.Nop())

	bindings := make([]Binding, 5)
	for i := range bindings {
		bindings[i] = Binding{
			NodeID:   domain.NodeId{Identifier: "n"},
			Property: fake.NewProperty("p", domain.KindScalar, float64(0)),
		}
	}
	require.NoError(t, m.AttachBatch(context.Background(), bindings))

	subs := m.Subscriptions()
	assert.Len(t, subs, 3) // 2 + 2 + 1
}

func TestRemoveItemsForSubject(t *testing.T) {
	client := &fakeClient{sub: &fakeOPCSubscription{}}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	prop := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "ns=2;s=Temp"}, Property: prop},
	}))

	subject := fake.NewSubject()
	subject.Add(prop)

	require.NoError(t, m.RemoveItemsForSubject(context.Background(), subject))
	assert.Empty(t, m.Subscriptions()[0].Items)
	assert.Len(t, client.sub.unmonitored, 1)
}

func TestAttachGroupKeepsTransientFailureForRetry(t *testing.T) {
	sub := &fakeOPCSubscription{
		results: []*ua.MonitoredItemCreateResult{{StatusCode: ua.StatusBadTimeout}},
	}
	client := &fakeClient{sub: sub}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	prop := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "ns=2;s=Temp"}, Property: prop},
	}))

	subs := m.Subscriptions()
	require.Len(t, subs, 1)
	require.Len(t, subs[0].Items, 1)
	assert.Equal(t, itemhealth.StatusRetryable, itemhealth.Classify(ua.StatusCode(subs[0].Items[0].Status.Load())))
}

func TestAttachGroupDropsPermanentFailureAndNotifies(t *testing.T) {
	sub := &fakeOPCSubscription{
		results: []*ua.MonitoredItemCreateResult{{StatusCode: ua.StatusBadNodeIDUnknown}},
	}
	client := &fakeClient{sub: sub}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	var notified domain.NodeId
	m.SetPermanentFailureHandler(func(nodeID domain.NodeId) { notified = nodeID })

	prop := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "ns=2;s=Temp"}, Property: prop},
	}))

	assert.Empty(t, m.Subscriptions()[0].Items)
	assert.Equal(t, domain.NodeId{Identifier: "ns=2;s=Temp"}, notified)
}

func TestUnhealthyCountsAndRetryUnhealthy(t *testing.T) {
	sub := &fakeOPCSubscription{
		results: []*ua.MonitoredItemCreateResult{{StatusCode: ua.StatusBadTimeout}},
	}
	client := &fakeClient{sub: sub}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	prop := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "ns=2;s=Temp"}, Property: prop},
	}))

	subID := m.Subscriptions()[0].ID
	require.Equal(t, 1, m.UnhealthyCounts()[subID])

	remaining, err := m.RetryUnhealthy(context.Background(), subID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, m.UnhealthyCounts()[subID])
}

func TestHandleNotificationAppliesValueInOrder(t *testing.T) {
	client := &fakeClient{sub: &fakeOPCSubscription{}}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	propA := fake.NewProperty("A", domain.KindScalar, float64(0))
	propB := fake.NewProperty("B", domain.KindScalar, float64(0))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "a"}, Property: propA},
		{NodeID: domain.NodeId{Identifier: "b"}, Property: propB},
	}))

	g := m.groups[0]
	v1, _ := ua.NewVariant(float64(1))
	v2, _ := ua.NewVariant(float64(2))
	notif := &opcua.PublishNotificationData{
		Value: &ua.DataChangeNotification{
			MonitoredItems: []*ua.MonitoredItemNotification{
				{ClientHandle: 1, Value: &ua.DataValue{Value: v1}},
				{ClientHandle: 2, Value: &ua.DataValue{Value: v2}},
			},
		},
	}
	m.handleNotification(g, notif)

	assert.Equal(t, float64(1), propA.Value())
	assert.Equal(t, float64(2), propB.Value())
}

// sequentialClient hands out a fresh fakeOPCSubscription with an
// incrementing id per Subscribe call, for tests that need to tell groups
// apart by their server-assigned subscription id.
type sequentialClient struct {
	subs []*fakeOPCSubscription
}

func (c *sequentialClient) Subscribe(_ context.Context, _ *opcua.SubscriptionParameters, _ chan<- *opcua.PublishNotificationData) (OPCSubscription, error) {
	sub := &fakeOPCSubscription{id: uint32(len(c.subs) + 1)}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func TestAdoptTransferredKeepsOnlySurvivingGroups(t *testing.T) {
	client := &sequentialClient{}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())

	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "a"}, Property: fake.NewProperty("a", domain.KindScalar, float64(0))},
	}))
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "b"}, Property: fake.NewProperty("b", domain.KindScalar, float64(0))},
	}))
	require.Len(t, m.groups, 2)

	surviving := m.groups[0].id
	m.AdoptTransferred([]uint32{surviving})

	assert.Len(t, m.groups, 1)
	assert.Equal(t, surviving, m.groups[0].id)
}

func TestCloseCancelsAllGroups(t *testing.T) {
	client := &fakeClient{sub: &fakeOPCSubscription{}}
	m := NewManager(client, DefaultConfig(), nil, zerolog.Nop())
	require.NoError(t, m.AttachBatch(context.Background(), []Binding{
		{NodeID: domain.NodeId{Identifier: "a"}, Property: fake.NewProperty("a", domain.KindScalar, float64(0))},
	}))

	require.NoError(t, m.Close(context.Background()))
	assert.True(t, client.sub.cancelled)
	assert.Empty(t, m.Subscriptions())
}
