// Package loader implements the Subject Loader (recursive browse, property
// resolution, subject creation) and the Type Resolver it uses to infer a
// target Go type from a variable's DataType and ValueRank, per spec.md
// §4.4 and §4.10.
package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// wellKnownScalarTypes maps the built-in OPC UA DataType identifiers (in the
// standard ns=0 namespace) to their Go target type, per spec.md §4.10.
var wellKnownScalarTypes = map[string]interface{}{
	"1":  false,         // Boolean
	"2":  int8(0),       // SByte
	"3":  uint8(0),      // Byte
	"4":  int16(0),      // Int16
	"5":  uint16(0),     // UInt16
	"6":  int32(0),      // Int32
	"7":  uint32(0),     // UInt32
	"8":  int64(0),      // Int64
	"9":  uint64(0),     // UInt64
	"10": float32(0),    // Float
	"11": float64(0),    // Double
	"12": "",            // String
	"13": time.Time{},   // DateTime
	"14": [16]byte{},    // Guid
	"15": []byte(nil),   // ByteString
	"17": domain.NodeId{}, // NodeId
	"20": "",            // QualifiedName (name component)
	"21": "",            // LocalizedText (text component)
}

// DefaultTypeResolver implements domain.TypeResolver for the built-in OPC UA
// scalar type hierarchy. Server-defined complex DataTypes are not resolvable
// without a type dictionary and fall back to an error, matching spec.md
// §4.10's "dynamic subject inference" edge case of deferring unknown types.
type DefaultTypeResolver struct{}

func (DefaultTypeResolver) ResolveType(_ context.Context, dataType domain.NodeId, valueRank int32) (interface{}, bool, error) {
	target, ok := wellKnownScalarTypes[dataType.Identifier]
	if !ok {
		return nil, false, fmt.Errorf("loader: unresolvable data type %q", dataType.Identifier)
	}
	isArray := valueRank > 0 || valueRank == -2 // ValueRank>0: fixed dims; -2: any dims.
	return target, isArray, nil
}
