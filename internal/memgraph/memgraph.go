// Package memgraph is the minimal default object-graph substrate the
// standalone binary hosts when no richer property-tracking graph is
// embedded. spec.md §1 puts the substrate itself out of scope; this is the
// simplest thing that satisfies domain.Subject/Property well enough to run
// the client core end to end, with every property materialized dynamically
// from the server's own browse tree rather than declared up front.
package memgraph

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// Property is a thread-safe domain.Property backed by a plain in-memory
// slot, with no validation or change notification beyond storing the value.
type Property struct {
	mu         sync.RWMutex
	name       string
	kind       domain.PropertyKind
	targetType interface{}
	value      interface{}
	aux        map[string]interface{}
}

func newProperty(name string, kind domain.PropertyKind, targetType interface{}) *Property {
	return &Property{name: name, kind: kind, targetType: targetType, aux: make(map[string]interface{})}
}

func (p *Property) Name() string             { return p.name }
func (p *Property) Kind() domain.PropertyKind { return p.kind }
func (p *Property) TargetType() interface{}   { return p.targetType }

func (p *Property) SetFromSource(_ context.Context, _, _ time.Time, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
	return nil
}

func (p *Property) Value() interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

func (p *Property) Aux(key string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.aux[key]
	return v, ok
}

func (p *Property) SetAux(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aux[key] = value
}

// Subject is a thread-safe domain.Subject holding a flat set of dynamically
// created properties, keyed by their composite browse-name path.
type Subject struct {
	mu         sync.RWMutex
	properties map[string]*Property
}

// NewSubject builds an empty Subject, suitable as the loader's traversal
// root: every property under it is discovered and created dynamically.
func NewSubject() *Subject {
	return &Subject{properties: make(map[string]*Property)}
}

func (s *Subject) Properties() []domain.Property {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Property, 0, len(s.properties))
	for _, p := range s.properties {
		out = append(out, p)
	}
	return out
}

func (s *Subject) Property(name string) (domain.Property, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[name]
	return p, ok
}

// AddDynamicProperty implements domain.DynamicPropertyHost, the hook the
// loader's createDynamicProperty path calls through.
func (s *Subject) AddDynamicProperty(_ context.Context, name string, kind domain.PropertyKind, targetType interface{}) (domain.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := newProperty(name, kind, targetType)
	s.properties[name] = p
	return p, nil
}

// Factory creates a fresh Subject for every server-side object node the
// structural change processor or subject loader discovers with no local
// peer yet.
type Factory struct{}

func (Factory) CreateSubject(_ context.Context, _ domain.NodeId, _ string) (domain.Subject, error) {
	return NewSubject(), nil
}

// NoStaticPaths is the trivial domain.SourcePathProvider that never matches
// a pre-declared property, forcing every variable node onto the dynamic
// property path. It is the right default for a standalone host with no
// compiled-in object model.
type NoStaticPaths struct{}

func (NoStaticPaths) ResolveProperty(context.Context, domain.Subject, string) (domain.Property, bool) {
	return nil, false
}
