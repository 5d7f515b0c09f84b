package structural

import (
	"context"
	"testing"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/browse"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/domain/fake"
	"github.com/nexus-edge/opcua-client-core/internal/loader"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyBrowseClient always reports exactly one child, browse-named "Child",
// so addLocal's constructed-name resolution step has something to find.
type emptyBrowseClient struct{}

func (emptyBrowseClient) Browse(_ context.Context, _ *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return &ua.BrowseResponse{Results: []*ua.BrowseResult{{
		StatusCode: ua.StatusOK,
		References: []*ua.ReferenceDescription{
			{
				BrowseName: &ua.QualifiedName{Name: "Child"},
				NodeID:     &ua.ExpandedNodeID{NodeID: ua.NewStringNodeID(2, "child")},
			},
		},
	}}}, nil
}

type emptyPaths struct{}

func (emptyPaths) ResolveProperty(_ context.Context, subject domain.Subject, path string) (domain.Property, bool) {
	return subject.Property(path)
}

type fakeSubManagerClient struct{}

func (fakeSubManagerClient) Subscribe(_ context.Context, _ *opcua.SubscriptionParameters, _ chan<- *opcua.PublishNotificationData) (subscription.OPCSubscription, error) {
	panic("not expected in this test")
}

type fakeStructuralClient struct {
	addResp    *ua.AddNodesResponse
	addErr     error
	deleteResp *ua.DeleteNodesResponse
	deleteErr  error
}

func (f *fakeStructuralClient) AddNodes(_ context.Context, _ *ua.AddNodesRequest) (*ua.AddNodesResponse, error) {
	return f.addResp, f.addErr
}

func (f *fakeStructuralClient) DeleteNodes(_ context.Context, _ *ua.DeleteNodesRequest) (*ua.DeleteNodesResponse, error) {
	return f.deleteResp, f.deleteErr
}

func newTestLoaderAndSubs(t *testing.T) (*loader.Loader, *subscription.Manager) {
	t.Helper()
	l := loader.New(emptyBrowseClient{}, nil, fake.NewFactory(), emptyPaths{}, nil, loader.DefaultConfig(), zerolog.Nop())
	subs := subscription.NewManager(fakeSubManagerClient{}, subscription.DefaultConfig(), nil, zerolog.Nop())
	return l, subs
}

func TestOnSubjectAddedLocalDraft(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	p := New(nil, l, subs, false, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectAdded(context.Background(), domain.NodeId{Identifier: "parent"}, subject, "Child")
	require.NoError(t, err)
}

func TestOnSubjectRemovedLocalDraft(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	p := New(nil, l, subs, false, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectRemoved(context.Background(), domain.NodeId{Identifier: "n"}, subject)
	require.NoError(t, err)
}

func TestOnSubjectAddedLocalDraftFailsWhenChildNotFound(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	p := New(nil, l, subs, false, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectAdded(context.Background(), domain.NodeId{Identifier: "parent"}, subject, "NoSuchChild")
	assert.ErrorIs(t, err, domain.ErrSubjectNotFound)
}

func TestOnSubjectAddedRemoteDraftDegradesOnRejection(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	client := &fakeStructuralClient{addResp: &ua.AddNodesResponse{
		Results: []*ua.AddNodesResult{{StatusCode: ua.StatusBadNotSupported}},
	}}
	p := New(client, l, subs, true, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectAdded(context.Background(), domain.NodeId{Identifier: "parent"}, subject, "Child")
	assert.NoError(t, err) // fell back to the local draft, which finds "Child"
}

func TestOnSubjectAddedRemoteDraftSucceeds(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	client := &fakeStructuralClient{addResp: &ua.AddNodesResponse{
		Results: []*ua.AddNodesResult{{StatusCode: ua.StatusOK, AddedNodeID: ua.NewStringNodeID(2, "child")}},
	}}
	p := New(client, l, subs, true, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectAdded(context.Background(), domain.NodeId{Identifier: "parent"}, subject, "Child")
	require.NoError(t, err)
}

func TestOnSubjectRemovedRemoteDraftDegradesOnUnsupported(t *testing.T) {
	l, subs := newTestLoaderAndSubs(t)
	client := &fakeStructuralClient{deleteErr: context.DeadlineExceeded}
	p := New(client, l, subs, true, zerolog.Nop())

	subject := fake.NewSubject()
	err := p.OnSubjectRemoved(context.Background(), domain.NodeId{Identifier: "n"}, subject)
	assert.Error(t, err)
}

var _ = browse.Client(emptyBrowseClient{})
