package structural

import (
	"context"
	"fmt"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// addRemote implements the remote-node-management draft: creates the
// server-side object node via AddNodes before loading and attaching its
// monitored items. A server that rejects or lacks AddNodes degrades per
// spec.md §7 to the local-value-only path (addLocal) rather than aborting
// the whole structural sync.
func (p *Processor) addRemote(ctx context.Context, parentNodeID domain.NodeId, subject domain.Subject, browseName string) error {
	req := &ua.AddNodesRequest{
		NodesToAdd: []*ua.AddNodesItem{
			{
				ParentNodeID:       &ua.ExpandedNodeID{NodeID: toUA(parentNodeID)},
				ReferenceTypeID:    ua.NewNumericNodeID(0, id_HasComponent),
				RequestedNewNodeID: &ua.ExpandedNodeID{},
				BrowseName:         &ua.QualifiedName{Name: browseName},
				NodeClass:          ua.NodeClassObject,
			},
		},
	}

	resp, err := p.client.AddNodes(ctx, req)
	if err != nil {
		p.logger.Warn().Err(err).Str("browse_name", browseName).Msg("AddNodes unsupported, degrading to local-only")
		return p.addLocal(ctx, parentNodeID, subject, browseName)
	}
	if len(resp.Results) == 0 || resp.Results[0].StatusCode != ua.StatusOK {
		p.logger.Warn().Str("browse_name", browseName).Msg("AddNodes rejected, degrading to local-only")
		return p.addLocal(ctx, parentNodeID, subject, browseName)
	}

	newNodeID := fromUA(resp.Results[0].AddedNodeID)
	return p.loadAndAttach(ctx, newNodeID, subject)
}

// removeRemote unmonitors subject's items, then deletes its server-side
// node. If DeleteNodes fails or is rejected, the items stay unmonitored,
// the node is left provisioned server-side, and ErrDeleteNodesNotSupported
// is returned.
func (p *Processor) removeRemote(ctx context.Context, nodeID domain.NodeId, subject domain.Subject) error {
	if err := p.removeLocal(ctx, subject); err != nil {
		return err
	}

	req := &ua.DeleteNodesRequest{
		NodesToDelete: []*ua.DeleteNodesItem{
			{NodeID: toUA(nodeID), DeleteTargetReferences: true},
		},
	}
	resp, err := p.client.DeleteNodes(ctx, req)
	if err != nil {
		p.logger.Warn().Err(err).Msg("DeleteNodes unsupported, node left provisioned server-side")
		return fmt.Errorf("structural: %w: %v", domain.ErrDeleteNodesNotSupported, err)
	}
	if len(resp.Results) == 0 || resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("structural: %w", domain.ErrDeleteNodesNotSupported)
	}
	return nil
}

// id_HasComponent is the well-known NodeId for the HasComponent reference
// type (ns=0;i=47), used when creating a new object node under its parent.
const id_HasComponent = 47
