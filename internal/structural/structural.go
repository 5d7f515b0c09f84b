// Package structural implements the Structural Change Processor: reacting
// to subjects appearing and disappearing from the local object graph, per
// spec.md §4.5. Two drafts are implemented and selected by
// enable_remote_node_management (spec.md §9's Open Question): the local
// draft assumes server-side nodes are provisioned out of band and only
// (un)monitors them; the remote draft additionally creates/deletes the
// corresponding server-side nodes via AddNodes/DeleteNodes.
package structural

import (
	"context"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/loader"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
)

// Client is the narrow slice of *opcua.Client the remote draft drives.
type Client interface {
	AddNodes(ctx context.Context, req *ua.AddNodesRequest) (*ua.AddNodesResponse, error)
	DeleteNodes(ctx context.Context, req *ua.DeleteNodesRequest) (*ua.DeleteNodesResponse, error)
}

// Processor reacts to subjects being added to or removed from the local
// object graph.
type Processor struct {
	logger        zerolog.Logger
	client        Client
	loader        *loader.Loader
	subs          *subscription.Manager
	remoteEnabled bool
}

// New builds a Processor. client may be nil when enableRemoteNodeManagement
// is false, since the local draft never calls AddNodes/DeleteNodes.
func New(client Client, l *loader.Loader, subs *subscription.Manager, enableRemoteNodeManagement bool, logger zerolog.Logger) *Processor {
	return &Processor{
		logger:        logging.WithComponent(logger, "structural-change-processor"),
		client:        client,
		loader:        l,
		subs:          subs,
		remoteEnabled: enableRemoteNodeManagement,
	}
}

// OnSubjectAdded reacts to a new subject appearing under parentNodeID,
// attaching monitored items for its properties once the server-side node is
// resolved (or created, under the remote draft).
func (p *Processor) OnSubjectAdded(ctx context.Context, parentNodeID domain.NodeId, subject domain.Subject, browseName string) error {
	if p.remoteEnabled {
		return p.addRemote(ctx, parentNodeID, subject, browseName)
	}
	return p.addLocal(ctx, parentNodeID, subject, browseName)
}

// OnSubjectRemoved reacts to a subject disappearing from the local graph,
// unmonitoring its items (and, under the remote draft, deleting its
// server-side node).
func (p *Processor) OnSubjectRemoved(ctx context.Context, nodeID domain.NodeId, subject domain.Subject) error {
	if p.remoteEnabled {
		return p.removeRemote(ctx, nodeID, subject)
	}
	return p.removeLocal(ctx, subject)
}

func toUA(id domain.NodeId) *ua.NodeID {
	return ua.NewStringNodeID(id.NamespaceIndex, id.Identifier)
}

func fromUA(id *ua.NodeID) domain.NodeId {
	return domain.NodeId{NamespaceIndex: id.Namespace(), Identifier: id.StringID()}
}
