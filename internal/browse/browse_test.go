package browse

import (
	"context"
	"errors"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	resp *ua.BrowseResponse
	err  error
}

func (f *fakeClient) Browse(_ context.Context, _ *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return f.resp, f.err
}

func TestForwardReturnsReferences(t *testing.T) {
	refs := []*ua.ReferenceDescription{{BrowseName: &ua.QualifiedName{Name: "Temperature"}}}
	client := &fakeClient{resp: &ua.BrowseResponse{
		Results: []*ua.BrowseResult{{StatusCode: ua.StatusOK, References: refs}},
	}}

	got, err := Forward(context.Background(), client, ua.NewStringNodeID(2, "root"))
	require.NoError(t, err)
	assert.Equal(t, refs, got)
}

func TestForwardBadStatusIsEmpty(t *testing.T) {
	client := &fakeClient{resp: &ua.BrowseResponse{
		Results: []*ua.BrowseResult{{StatusCode: ua.StatusBadNodeIDUnknown}},
	}}

	got, err := Forward(context.Background(), client, ua.NewStringNodeID(2, "root"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestForwardPropagatesTransportError(t *testing.T) {
	client := &fakeClient{err: errors.New("transport down")}

	_, err := Forward(context.Background(), client, ua.NewStringNodeID(2, "root"))
	assert.Error(t, err)
}

func TestForwardNoResults(t *testing.T) {
	client := &fakeClient{resp: &ua.BrowseResponse{}}

	got, err := Forward(context.Background(), client, ua.NewStringNodeID(2, "root"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
