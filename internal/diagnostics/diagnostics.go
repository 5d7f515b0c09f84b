// Package diagnostics exposes the read-only snapshot of counters and flags
// spec.md §6 calls the Diagnostics surface, served as JSON over HTTP the
// same way the ingestion service serves its health envelope.
package diagnostics

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Snapshot is the point-in-time view of client core state.
type Snapshot struct {
	IsConnected               bool      `json:"is_connected"`
	IsReconnecting            bool      `json:"is_reconnecting"`
	SessionId                 string    `json:"session_id"`
	SubscriptionCount         int       `json:"subscription_count"`
	MonitoredItemCount        int       `json:"monitored_item_count"`
	TotalReconnectionAttempts uint64    `json:"total_reconnection_attempts"`
	SuccessfulReconnections   uint64    `json:"successful_reconnections"`
	FailedReconnections       uint64    `json:"failed_reconnections"`
	LastConnectedAt           time.Time `json:"last_connected_at"`
	PendingWriteCount         int       `json:"pending_write_count"`
	DroppedWriteCount         uint64    `json:"dropped_write_count"`
}

// Source supplies the live counters a Reporter renders into a Snapshot. The
// client core's root orchestrator is expected to be the concrete
// implementation, pulling values from the Session Manager, Subscription
// Manager, and Write Queue it owns.
type Source interface {
	Snapshot() Snapshot
}

// Reporter serves the current Snapshot as JSON.
type Reporter struct {
	source Source
}

// NewReporter builds a Reporter backed by source.
func NewReporter(source Source) *Reporter {
	return &Reporter{source: source}
}

// Handler serves GET /diagnostics.
func (r *Reporter) Handler(w http.ResponseWriter, req *http.Request) {
	snap := r.source.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
