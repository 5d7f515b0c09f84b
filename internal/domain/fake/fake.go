// Package fake provides a minimal in-memory stand-in for the externally
// owned object-graph substrate, used only by this module's own tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// Property is a minimal mutable implementation of domain.Property.
type Property struct {
	mu         sync.Mutex
	name       string
	kind       domain.PropertyKind
	targetType interface{}
	value      interface{}
	aux        map[string]interface{}
	setCalls   int
}

func NewProperty(name string, kind domain.PropertyKind, targetType interface{}) *Property {
	return &Property{name: name, kind: kind, targetType: targetType, aux: make(map[string]interface{})}
}

func (p *Property) Name() string                  { return p.name }
func (p *Property) Kind() domain.PropertyKind      { return p.kind }
func (p *Property) TargetType() interface{}        { return p.targetType }

func (p *Property) SetFromSource(_ context.Context, _, _ time.Time, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = value
	p.setCalls++
	return nil
}

func (p *Property) Value() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *Property) SetCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCalls
}

func (p *Property) Aux(key string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.aux[key]
	return v, ok
}

func (p *Property) SetAux(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aux[key] = value
}

// Subject is a minimal mutable implementation of domain.Subject.
type Subject struct {
	mu         sync.RWMutex
	properties map[string]*Property
}

func NewSubject() *Subject {
	return &Subject{properties: make(map[string]*Property)}
}

func (s *Subject) Add(p *Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.Name()] = p
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

// AddDynamicProperty implements domain.DynamicPropertyHost.
func (s *Subject) AddDynamicProperty(_ context.Context, name string, kind domain.PropertyKind, targetType interface{}) (domain.Property, error) {
	p := NewProperty(name, kind, targetType)
	s.Add(p)
	return p, nil
}

// Factory creates Subjects, recording every node it was asked to create.
type Factory struct {
	mu      sync.Mutex
	created map[domain.NodeId]*Subject
}

func NewFactory() *Factory {
	return &Factory{created: make(map[domain.NodeId]*Subject)}
}

func (f *Factory) CreateSubject(_ context.Context, nodeID domain.NodeId, _ string) (domain.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := NewSubject()
	f.created[nodeID] = s
	return s, nil
}

func (f *Factory) Created(nodeID domain.NodeId) (*Subject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.created[nodeID]
	return s, ok
}
