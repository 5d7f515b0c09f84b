// Package health exposes liveness and readiness HTTP endpoints for the
// client core, mirroring the ingestion service's health checker shape but
// reporting OPC UA session state instead of broker/database connectivity.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SessionStatus is the narrow view of session state the checker needs.
type SessionStatus interface {
	// IsConnected reports whether the client currently holds an active
	// session.
	IsConnected() bool
}

// Checker serves /health, /health/live, and /health/ready.
type Checker struct {
	session SessionStatus
	logger  zerolog.Logger
}

// NewChecker builds a Checker reporting session reachability.
func NewChecker(session SessionStatus, logger zerolog.Logger) *Checker {
	return &Checker{
		session: session,
		logger:  logger.With().Str("component", "health-checker").Logger(),
	}
}

// HealthResponse is the envelope returned by HealthHandler.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// HealthHandler reports overall health, degraded when disconnected.
func (c *Checker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	sessionStatus := "healthy"
	if !c.session.IsConnected() {
		sessionStatus = "unhealthy"
	}

	overallStatus := "healthy"
	if sessionStatus != "healthy" {
		overallStatus = "degraded"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]string{
			"opcua_session": sessionStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// LiveHandler reports 200 as long as the process can serve requests; it
// never depends on session state, since a client mid-reconnect is still
// alive.
func (c *Checker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyHandler reports 200 only while a session is active.
func (c *Checker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ready := c.session.IsConnected()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "not_ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
