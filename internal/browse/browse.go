// Package browse implements the one-shot forward browse helper used by the
// subject loader and structural change processor to enumerate child nodes.
package browse

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// Client is the narrow slice of *opcua.Client this package needs, so tests
// can substitute a fake without dialing a real endpoint.
type Client interface {
	Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
}

const defaultMaxReferences = 0 // 0 means "no limit" per the OPC UA spec.

// Forward performs a single forward (HierarchicalReferences) browse from
// nodeID and returns its child references. Per spec.md's edge case, a bad
// status code degrades to an empty result rather than propagating an error,
// since a bad browse on one node should never abort the whole traversal.
func Forward(ctx context.Context, client Client, nodeID *ua.NodeID) ([]*ua.ReferenceDescription, error) {
	req := &ua.BrowseRequest{
		RequestedMaxReferencesPerNode: defaultMaxReferences,
		NodesToBrowse: []*ua.BrowseDescription{
			{
				NodeID:          nodeID,
				BrowseDirection: ua.BrowseDirectionForward,
				ReferenceTypeID: ua.NewNumericNodeID(0, id_HierarchicalReferences),
				IncludeSubtypes: true,
				NodeClassMask:   0,
				ResultMask:      uint32(ua.BrowseResultMaskAll),
			},
		},
	}

	resp, err := client.Browse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("browse: %s: %w", nodeID, err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	result := resp.Results[0]
	if result.StatusCode != ua.StatusOK {
		return nil, nil
	}
	return result.References, nil
}

// id_HierarchicalReferences is the well-known NodeId for the
// HierarchicalReferences reference type (ns=0;i=33), used so a forward
// browse follows Organizes/HasComponent/HasProperty/... uniformly.
const id_HierarchicalReferences = 33
