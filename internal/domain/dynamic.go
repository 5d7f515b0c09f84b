package domain

import "context"

// DynamicPropertyHost is optionally implemented by a Subject that supports
// adding new properties at runtime for server nodes with no pre-existing
// binding. The Subject Loader type-asserts for this before creating a
// dynamic property, gated by should_add_dynamic_properties (spec.md §6,
// always true).
type DynamicPropertyHost interface {
	AddDynamicProperty(ctx context.Context, name string, kind PropertyKind, targetType interface{}) (Property, error)
}

// OpcVariableKey is the Aux storage key a bound property's NodeId is kept
// under, per spec.md §6.
const OpcVariableKey = "OpcVariableKey"
