package loader

import (
	"context"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/domain/fake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBrowseClient returns a fixed reference list keyed by the browsed
// node's string identifier.
type fakeBrowseClient struct {
	byNode map[string][]*ua.ReferenceDescription
}

func (f *fakeBrowseClient) Browse(_ context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	nodeID := req.NodesToBrowse[0].NodeID
	refs := f.byNode[nodeID.StringID()]
	return &ua.BrowseResponse{
		Results: []*ua.BrowseResult{{StatusCode: ua.StatusOK, References: refs}},
	}, nil
}

func objRef(id, name string) *ua.ReferenceDescription {
	return &ua.ReferenceDescription{
		NodeID:     &ua.ExpandedNodeID{NodeID: ua.NewStringNodeID(2, id)},
		BrowseName: &ua.QualifiedName{Name: name},
		NodeClass:  ua.NodeClassObject,
	}
}

func varRef(id, name string) *ua.ReferenceDescription {
	return &ua.ReferenceDescription{
		NodeID:     &ua.ExpandedNodeID{NodeID: ua.NewStringNodeID(2, id)},
		BrowseName: &ua.QualifiedName{Name: name},
		NodeClass:  ua.NodeClassVariable,
	}
}

type fakePathProvider struct{}

func (fakePathProvider) ResolveProperty(_ context.Context, subject domain.Subject, path string) (domain.Property, bool) {
	return subject.Property(path)
}

func TestLoadResolvesDirectScalarProperty(t *testing.T) {
	root := fake.NewSubject()
	temp := fake.NewProperty("Temperature", domain.KindScalar, float64(0))
	root.Add(temp)

	client := &fakeBrowseClient{byNode: map[string][]*ua.ReferenceDescription{
		"root": {varRef("temp", "Temperature")},
	}}

	l := New(client, nil, fake.NewFactory(), fakePathProvider{}, nil, DefaultConfig(), zerolog.Nop())
	bindings, err := l.Load(context.Background(), domain.NodeId{NamespaceIndex: 2, Identifier: "root"}, root)

	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, temp, bindings[0].Property)
	aux, ok := temp.Aux(domain.OpcVariableKey)
	require.True(t, ok)
	assert.Equal(t, domain.NodeId{NamespaceIndex: 2, Identifier: "temp"}, aux)
}

func TestLoadRecursesIntoSubjectReference(t *testing.T) {
	root := fake.NewSubject()
	motorRef := fake.NewProperty("Motor", domain.KindSubjectReference, nil)
	root.Add(motorRef)

	speed := fake.NewProperty("Speed", domain.KindScalar, float64(0))

	client := &fakeBrowseClient{byNode: map[string][]*ua.ReferenceDescription{
		"root":  {objRef("motor", "Motor")},
		"motor": {varRef("speed", "Speed")},
	}}

	factory := fake.NewFactory()
	paths := stubPaths{
		"Motor": motorRef,
	}

	l := New(client, nil, factory, paths, nil, DefaultConfig(), zerolog.Nop())
	_, err := l.Load(context.Background(), domain.NodeId{NamespaceIndex: 2, Identifier: "root"}, root)
	require.NoError(t, err)

	created, ok := factory.Created(domain.NodeId{NamespaceIndex: 2, Identifier: "motor"})
	require.True(t, ok)
	_ = speed
	_ = created
}

// stubPaths resolves a fixed set of top-level property names regardless of
// which subject is passed, used to drive the subject-reference recursion
// test without a full composite-path implementation.
type stubPaths map[string]domain.Property

func (s stubPaths) ResolveProperty(_ context.Context, subject domain.Subject, path string) (domain.Property, bool) {
	if p, ok := s[path]; ok {
		return p, true
	}
	return subject.Property(path)
}

func TestLoadDynamicPropertyCreation(t *testing.T) {
	root := fake.NewSubject()
	client := &fakeBrowseClient{byNode: map[string][]*ua.ReferenceDescription{
		"root": {varRef("unbound", "Pressure")},
	}}

	l := New(client, stubAttrs{}, fake.NewFactory(), fakePathProvider{}, nil, DefaultConfig(), zerolog.Nop())
	bindings, err := l.Load(context.Background(), domain.NodeId{NamespaceIndex: 2, Identifier: "root"}, root)

	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "Pressure", bindings[0].Property.Name())
}

type stubAttrs struct{}

func (stubAttrs) ReadDataTypeAndValueRank(_ context.Context, _ *ua.NodeID) (domain.NodeId, int32, error) {
	return domain.NodeId{Identifier: "11"}, -1, nil // Double, scalar
}
