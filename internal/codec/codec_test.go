package codec

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPropertyValueScalar(t *testing.T) {
	v, err := ua.NewVariant(float64(42.5))
	require.NoError(t, err)
	dv := &ua.DataValue{Value: v}

	got, err := ToPropertyValue(dv)
	require.NoError(t, err)
	assert.Equal(t, float64(42.5), got)
}

func TestToPropertyValueNil(t *testing.T) {
	_, err := ToPropertyValue(nil)
	assert.Error(t, err)

	_, err = ToPropertyValue(&ua.DataValue{})
	assert.Error(t, err)
}

func TestToNodeValueScalar(t *testing.T) {
	v, err := ToNodeValue(int32(7))
	require.NoError(t, err)
	assert.Equal(t, int32(7), v.Value())
}

func TestToNodeValueArray(t *testing.T) {
	v, err := ToNodeValue([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, v.Value())
}

func TestToNodeValueNil(t *testing.T) {
	_, err := ToNodeValue(nil)
	assert.Error(t, err)
}
