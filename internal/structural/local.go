package structural

import (
	"context"
	"fmt"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// addLocal implements the local-value-only draft: the server-side node is
// assumed to already exist (provisioned out of band), so the only work is
// resolving subject's concrete child NodeId under parentNodeID (by its
// constructed browse name: a plain property name, "prop[index]" for a
// collection member, or a dictionary key) and then loading and attaching its
// monitored items.
func (p *Processor) addLocal(ctx context.Context, parentNodeID domain.NodeId, subject domain.Subject, browseName string) error {
	childNodeID, ok, err := p.loader.ResolveChild(ctx, parentNodeID, browseName)
	if err != nil {
		return fmt.Errorf("structural: resolve added subject node: %w", err)
	}
	if !ok {
		return fmt.Errorf("structural: %w: %q not found under parent", domain.ErrSubjectNotFound, browseName)
	}
	return p.loadAndAttach(ctx, childNodeID, subject)
}

// loadAndAttach loads subject's monitored-item bindings rooted at nodeID
// (already resolved to the subject's own server-side node) and attaches
// them. Shared by addLocal, once it has resolved the concrete child node,
// and addRemote, which already has it from its own AddNodes call.
func (p *Processor) loadAndAttach(ctx context.Context, nodeID domain.NodeId, subject domain.Subject) error {
	bindings, err := p.loader.Load(ctx, nodeID, subject)
	if err != nil {
		return fmt.Errorf("structural: load added subject: %w", err)
	}
	if len(bindings) == 0 {
		return nil
	}
	if err := p.subs.AttachBatch(ctx, bindings); err != nil {
		return fmt.Errorf("structural: attach added subject: %w", err)
	}
	return nil
}

// removeLocal unmonitors every item bound to subject's properties; the
// server-side node itself is left untouched.
func (p *Processor) removeLocal(ctx context.Context, subject domain.Subject) error {
	if err := p.subs.RemoveItemsForSubject(ctx, subject); err != nil {
		return fmt.Errorf("structural: remove subject items: %w", err)
	}
	return nil
}
