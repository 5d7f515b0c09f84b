// Package metrics exposes the client core's Prometheus surface, mirroring
// spec.md §6's Diagnostics fields as gauges/counters instead of a polled
// snapshot struct.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the client core.
type Registry struct {
	reg                       *prometheus.Registry
	isConnected               prometheus.Gauge
	isReconnecting            prometheus.Gauge
	sessionGeneration         prometheus.Gauge
	subscriptionCount         prometheus.Gauge
	monitoredItemCount        prometheus.Gauge
	totalReconnectionAttempts prometheus.Counter
	successfulReconnections   prometheus.Counter
	failedReconnections       prometheus.Counter
	lastConnectedAtUnix       prometheus.Gauge
	pendingWriteCount         prometheus.Gauge
	droppedWriteCount         prometheus.Counter
	itemPermanentFailures     prometheus.Counter
	structuralChangesApplied  prometheus.Counter
}

// NewRegistry builds a fresh Prometheus registry and registers the client
// core's metrics against it, so repeated construction (as in tests) never
// collides with the global default registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		isConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_connected",
			Help: "1 if the client currently holds an active session, 0 otherwise",
		}),
		isReconnecting: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_reconnecting",
			Help: "1 if the reconnect driver is currently attempting to reconnect",
		}),
		sessionGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_session_generation",
			Help: "Monotonically increasing generation counter of the current session",
		}),
		subscriptionCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_subscription_count",
			Help: "Number of active OPC UA subscriptions",
		}),
		monitoredItemCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_monitored_item_count",
			Help: "Number of monitored items across all subscriptions",
		}),
		totalReconnectionAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_reconnection_attempts_total",
			Help: "Total number of reconnection attempts made",
		}),
		successfulReconnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_reconnections_succeeded_total",
			Help: "Total number of reconnection attempts that succeeded",
		}),
		failedReconnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_reconnections_failed_total",
			Help: "Total number of reconnection attempts that failed",
		}),
		lastConnectedAtUnix: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_last_connected_at_unix",
			Help: "Unix timestamp of the last successful session creation",
		}),
		pendingWriteCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_client_write_queue_pending",
			Help: "Number of writes currently queued",
		}),
		droppedWriteCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_write_queue_dropped_total",
			Help: "Total number of writes dropped due to queue overflow",
		}),
		itemPermanentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_item_permanent_failures_total",
			Help: "Total number of monitored items classified as permanently failed",
		}),
		structuralChangesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "opcua_client_structural_changes_applied_total",
			Help: "Total number of subject-add/remove structural reactions applied",
		}),
	}
}

// Gatherer exposes the registry's backing prometheus.Gatherer for the
// /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) SetConnected(connected bool) {
	r.isConnected.Set(boolToFloat(connected))
}

func (r *Registry) SetReconnecting(reconnecting bool) {
	r.isReconnecting.Set(boolToFloat(reconnecting))
}

func (r *Registry) SetSessionGeneration(gen uint64) {
	r.sessionGeneration.Set(float64(gen))
}

func (r *Registry) SetSubscriptionCount(n int) {
	r.subscriptionCount.Set(float64(n))
}

func (r *Registry) SetMonitoredItemCount(n int) {
	r.monitoredItemCount.Set(float64(n))
}

func (r *Registry) IncReconnectionAttempt() {
	r.totalReconnectionAttempts.Inc()
}

func (r *Registry) IncReconnectionSucceeded() {
	r.successfulReconnections.Inc()
}

func (r *Registry) IncReconnectionFailed() {
	r.failedReconnections.Inc()
}

func (r *Registry) SetLastConnectedAtUnix(unixSeconds int64) {
	r.lastConnectedAtUnix.Set(float64(unixSeconds))
}

func (r *Registry) SetPendingWriteCount(n int) {
	r.pendingWriteCount.Set(float64(n))
}

func (r *Registry) AddDroppedWrites(n uint64) {
	r.droppedWriteCount.Add(float64(n))
}

func (r *Registry) IncItemPermanentFailure() {
	r.itemPermanentFailures.Inc()
}

func (r *Registry) IncStructuralChangeApplied() {
	r.structuralChangesApplied.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
