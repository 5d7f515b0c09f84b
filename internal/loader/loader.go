package loader

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/browse"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/internal/subscription"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
)

// AttributeReader reads a Variable node's DataType and ValueRank attributes,
// the inputs the Type Resolver needs. The Subject Loader issues one read per
// variable discovered with no pre-existing property binding.
type AttributeReader interface {
	ReadDataTypeAndValueRank(ctx context.Context, nodeID *ua.NodeID) (dataType domain.NodeId, valueRank int32, err error)
}

// Config mirrors the loader-relevant subset of spec.md §6.
type Config struct {
	ShouldAddDynamicProperties bool
}

// DefaultConfig matches spec.md §6 ("always true").
func DefaultConfig() Config {
	return Config{ShouldAddDynamicProperties: true}
}

// Loader recursively browses the server's object hierarchy, resolving each
// discovered node to a property binding or a newly created local subject.
type Loader struct {
	logger       zerolog.Logger
	browseClient browse.Client
	attrs        AttributeReader
	factory      domain.SubjectFactory
	paths        domain.SourcePathProvider
	types        domain.TypeResolver
	cfg          Config
}

// New builds a Loader. types may be nil, defaulting to DefaultTypeResolver{}.
func New(browseClient browse.Client, attrs AttributeReader, factory domain.SubjectFactory, paths domain.SourcePathProvider, types domain.TypeResolver, cfg Config, logger zerolog.Logger) *Loader {
	if types == nil {
		types = DefaultTypeResolver{}
	}
	return &Loader{
		logger:       logging.WithComponent(logger, "subject-loader"),
		browseClient: browseClient,
		attrs:        attrs,
		factory:      factory,
		paths:        paths,
		types:        types,
		cfg:          cfg,
	}
}

// Load recursively browses from rootNodeID, rooted at root, and returns every
// monitored-item binding discovered along the way.
func (l *Loader) Load(ctx context.Context, rootNodeID domain.NodeId, root domain.Subject) ([]subscription.Binding, error) {
	return l.loadSubject(ctx, toUA(rootNodeID), root, "")
}

// ResolveChild browses parentNodeID's children and returns the NodeId of the
// one whose browse name equals browseName (a simple property name, a
// "prop[index]" collection-member name, or a dictionary key), per spec.md
// §4.5's requirement that structural additions resolve the concrete
// server-side node before loading it.
func (l *Loader) ResolveChild(ctx context.Context, parentNodeID domain.NodeId, browseName string) (domain.NodeId, bool, error) {
	refs, err := browse.Forward(ctx, l.browseClient, toUA(parentNodeID))
	if err != nil {
		return domain.NodeId{}, false, fmt.Errorf("loader: resolve child %q: %w", browseName, err)
	}
	for _, ref := range refs {
		if ref.BrowseName != nil && ref.BrowseName.Name == browseName {
			return fromUA(ref.NodeID.NodeID), true, nil
		}
	}
	return domain.NodeId{}, false, nil
}

func (l *Loader) loadSubject(ctx context.Context, nodeID *ua.NodeID, subject domain.Subject, parentPropertyPath string) ([]subscription.Binding, error) {
	refs, err := browse.Forward(ctx, l.browseClient, nodeID)
	if err != nil {
		return nil, fmt.Errorf("loader: browse %s: %w", nodeID, err)
	}

	var bindings []subscription.Binding
	for _, ref := range refs {
		name := ref.BrowseName.Name
		path := compositePath(parentPropertyPath, name)
		childNodeID := ref.NodeID.NodeID

		switch ref.NodeClass {
		case ua.NodeClassVariable:
			binding, ok, err := l.bindVariable(ctx, subject, path, childNodeID)
			if err != nil {
				return nil, err
			}
			if ok {
				bindings = append(bindings, binding)
			}
		case ua.NodeClassObject:
			childBindings, err := l.loadChildSubject(ctx, subject, path, name, childNodeID)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, childBindings...)
		}
	}
	return bindings, nil
}

func (l *Loader) bindVariable(ctx context.Context, subject domain.Subject, path string, nodeID *ua.NodeID) (subscription.Binding, bool, error) {
	prop, ok := l.paths.ResolveProperty(ctx, subject, path)
	if !ok {
		var err error
		prop, ok, err = l.createDynamicProperty(ctx, subject, path, nodeID)
		if err != nil {
			return subscription.Binding{}, false, err
		}
		if !ok {
			return subscription.Binding{}, false, nil
		}
	}

	domainNodeID := fromUA(nodeID)
	prop.SetAux(domain.OpcVariableKey, domainNodeID)
	return subscription.Binding{NodeID: domainNodeID, Property: prop}, true, nil
}

func (l *Loader) createDynamicProperty(ctx context.Context, subject domain.Subject, path string, nodeID *ua.NodeID) (domain.Property, bool, error) {
	if !l.cfg.ShouldAddDynamicProperties {
		return nil, false, nil
	}
	host, ok := subject.(domain.DynamicPropertyHost)
	if !ok {
		return nil, false, nil
	}
	if l.attrs == nil {
		return nil, false, nil
	}

	dataType, valueRank, err := l.attrs.ReadDataTypeAndValueRank(ctx, nodeID)
	if err != nil {
		l.logger.Warn().Err(err).Str("node_id", nodeID.String()).Msg("attribute read failed, skipping dynamic property")
		return nil, false, nil
	}
	target, isArray, err := l.types.ResolveType(ctx, dataType, valueRank)
	if err != nil {
		l.logger.Debug().Err(err).Str("node_id", nodeID.String()).Msg("unresolvable data type, skipping dynamic property")
		return nil, false, nil
	}

	kind := domain.KindScalar
	if isArray {
		kind = domain.KindCollection
	}
	prop, err := host.AddDynamicProperty(ctx, path, kind, target)
	if err != nil {
		return nil, false, err
	}
	return prop, true, nil
}

func (l *Loader) loadChildSubject(ctx context.Context, parent domain.Subject, path, browseName string, nodeID *ua.NodeID) ([]subscription.Binding, error) {
	if prop, ok := l.paths.ResolveProperty(ctx, parent, path); ok {
		switch prop.Kind() {
		case domain.KindCollection, domain.KindDictionary:
			return l.loadCollectionMembers(ctx, nodeID, path)
		case domain.KindSubjectReference:
			return l.loadReferencedSubject(ctx, nodeID, browseName, path)
		}
	}
	// No existing property claims this object: treat it as a nested
	// container and keep descending under a composite path, without
	// materializing a new subject for it.
	return l.loadSubject(ctx, nodeID, parent, path)
}

func (l *Loader) loadReferencedSubject(ctx context.Context, nodeID *ua.NodeID, browseName, path string) ([]subscription.Binding, error) {
	child, err := l.factory.CreateSubject(ctx, fromUA(nodeID), browseName)
	if err != nil {
		return nil, fmt.Errorf("loader: create subject %s: %w", path, err)
	}
	return l.loadSubject(ctx, nodeID, child, "")
}

func (l *Loader) loadCollectionMembers(ctx context.Context, nodeID *ua.NodeID, path string) ([]subscription.Binding, error) {
	refs, err := browse.Forward(ctx, l.browseClient, nodeID)
	if err != nil {
		return nil, fmt.Errorf("loader: browse collection %s: %w", path, err)
	}

	var bindings []subscription.Binding
	for i, ref := range refs {
		if ref.NodeClass != ua.NodeClassObject {
			continue
		}
		key := ref.BrowseName.Name
		if key == "" {
			key = strconv.Itoa(i)
		}
		member, err := l.factory.CreateSubject(ctx, fromUA(ref.NodeID.NodeID), key)
		if err != nil {
			return nil, fmt.Errorf("loader: create collection member %s[%s]: %w", path, key, err)
		}
		memberBindings, err := l.loadSubject(ctx, ref.NodeID.NodeID, member, "")
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, memberBindings...)
	}
	return bindings, nil
}

// compositePath implements spec.md §4.4's "{parent_property}__{attribute_segment}"
// browse-name rule.
func compositePath(parentPath, segment string) string {
	if parentPath == "" {
		return segment
	}
	return parentPath + "__" + segment
}

func toUA(id domain.NodeId) *ua.NodeID {
	return ua.NewStringNodeID(id.NamespaceIndex, id.Identifier)
}

func fromUA(id *ua.NodeID) domain.NodeId {
	return domain.NodeId{NamespaceIndex: id.Namespace(), Identifier: id.StringID()}
}
