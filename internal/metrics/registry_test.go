package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetConnectedGauge(t *testing.T) {
	r := NewRegistry()
	r.SetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.isConnected))

	r.SetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.isConnected))
}

func TestReconnectionCounters(t *testing.T) {
	r := NewRegistry()
	r.IncReconnectionAttempt()
	r.IncReconnectionAttempt()
	r.IncReconnectionSucceeded()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.totalReconnectionAttempts))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.successfulReconnections))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.failedReconnections))
}

func TestDroppedWritesAccumulates(t *testing.T) {
	r := NewRegistry()
	r.AddDroppedWrites(3)
	r.AddDroppedWrites(2)
	assert.Equal(t, float64(5), testutil.ToFloat64(r.droppedWriteCount))
}
