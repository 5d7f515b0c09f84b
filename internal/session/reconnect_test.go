package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDriverBackoffSchedule(t *testing.T) {
	d := NewReconnectDriver()
	d.Trigger()

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		got := d.BeginAttempt()
		assert.Equalf(t, w, got, "attempt %d", i)
		assert.Equal(t, StateReconnecting, d.State())
	}
}

func TestReconnectDriverSucceedResets(t *testing.T) {
	d := NewReconnectDriver()
	d.Trigger()
	d.BeginAttempt()
	d.BeginAttempt()
	d.Succeed()

	assert.Equal(t, StateReady, d.State())
	assert.Equal(t, 0, d.Attempts())
	assert.Equal(t, 5*time.Second, d.BeginAttempt())
}

func TestReconnectDriverTriggerIdempotentWhileReconnecting(t *testing.T) {
	d := NewReconnectDriver()
	d.Trigger()
	d.BeginAttempt()
	d.Trigger() // should not reset attempt count mid-reconnect

	assert.Equal(t, 1, d.Attempts())
}

func TestReconnectDriverDone(t *testing.T) {
	d := NewReconnectDriver()
	d.Done()
	assert.Equal(t, StateDone, d.State())
	d.Trigger()
	assert.Equal(t, StateTriggered, d.State())
}
