// Package codec converts between OPC UA wire values (ua.Variant/DataValue)
// and the plain Go values the object-graph substrate's properties expect.
package codec

import (
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// ToPropertyValue unwraps a server DataValue into a plain Go value suitable
// for domain.Property.SetFromSource. Decimal (128-bit) values are downcast
// to float64 since the object graph has no native decimal representation.
func ToPropertyValue(dv *ua.DataValue) (interface{}, error) {
	if dv == nil || dv.Value == nil {
		return nil, fmt.Errorf("codec: nil data value")
	}
	return fromVariant(dv.Value)
}

func fromVariant(v *ua.Variant) (interface{}, error) {
	raw := v.Value()
	switch value := raw.(type) {
	case *ua.DataValue:
		return fromVariant(value.Value)
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			switch iv := item.(type) {
			case *ua.Variant:
				converted, err := fromVariant(iv)
				if err != nil {
					return nil, err
				}
				out[i] = converted
			default:
				out[i] = item
			}
		}
		return out, nil
	default:
		return downcastDecimal(raw), nil
	}
}

// decimal128 mirrors the shape a Decimal-typed OPC UA value arrives as when
// the underlying transport cannot represent it as a native Go numeric type.
type decimal128 interface {
	Float64() float64
}

func downcastDecimal(raw interface{}) interface{} {
	if d, ok := raw.(decimal128); ok {
		return d.Float64()
	}
	return raw
}

// ToNodeValue converts a plain Go value (as held by a property, or supplied
// by a write request) into a ua.Variant suitable for a WriteValue. Slices
// are passed through as-is: ua.NewVariant already wraps the concrete
// element-typed slices (e.g. []float64, []string) a ValueRank > 0 property
// produces, per spec.md's array-wrapping requirement.
func ToNodeValue(value interface{}) (*ua.Variant, error) {
	if value == nil {
		return nil, fmt.Errorf("codec: cannot encode nil value")
	}
	v, err := ua.NewVariant(value)
	if err != nil {
		return nil, fmt.Errorf("codec: encode value of type %T: %w", value, err)
	}
	return v, nil
}
