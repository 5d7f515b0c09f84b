package session

import (
	"sync"
	"time"
)

// State is one state of the Reconnect Driver state machine (spec.md §4.1,
// §9 — implemented in-repo since gopcua has no built-in equivalent).
type State int

const (
	StateReady State = iota
	StateTriggered
	StateReconnecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateTriggered:
		return "triggered"
	case StateReconnecting:
		return "reconnecting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

var backoffSchedule = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second}

// ReconnectDriver tracks reconnect state and the exponential backoff
// schedule (5s, 10s, 20s, 40s, capped at 60s) spec.md §4.1 requires.
type ReconnectDriver struct {
	mu      sync.Mutex
	state   State
	attempt int
}

// NewReconnectDriver starts in StateReady.
func NewReconnectDriver() *ReconnectDriver {
	return &ReconnectDriver{state: StateReady}
}

// Trigger moves the driver from Ready to Triggered, signalling that the
// outer loop should begin reconnecting. Triggering an already-triggered or
// reconnecting driver is a no-op.
func (d *ReconnectDriver) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateReady || d.state == StateDone {
		d.state = StateTriggered
		d.attempt = 0
	}
}

// BeginAttempt transitions Triggered/Reconnecting to Reconnecting and
// returns the backoff to wait before this attempt.
func (d *ReconnectDriver) BeginAttempt() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateReconnecting
	delay := backoffSchedule[minInt(d.attempt, len(backoffSchedule)-1)]
	d.attempt++
	return delay
}

// Succeed resets the driver to Ready after a successful reconnect.
func (d *ReconnectDriver) Succeed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateReady
	d.attempt = 0
}

// Done marks the driver terminated, e.g. on permanent shutdown.
func (d *ReconnectDriver) Done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateDone
}

// State reports the current state.
func (d *ReconnectDriver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Attempts reports the number of reconnect attempts made since the last
// Trigger/Succeed transition.
func (d *ReconnectDriver) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
