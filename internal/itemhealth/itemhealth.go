// Package itemhealth implements the Health Monitor: a periodic per-subscription
// scan that counts unhealthy monitored items, retries them, and reports
// whether the subscription healed, per spec.md §4.3.
package itemhealth

import (
	"context"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
)

// Status classifies one monitored item's health.
type Status int

const (
	StatusHealthy Status = iota
	StatusRetryable
	StatusPermanentlyFailed
)

// permanentStatusCodes is the fixed exclusion set spec.md §4.3 requires:
// once a monitored item fails with one of these, it is never retried.
var permanentStatusCodes = map[ua.StatusCode]struct{}{
	ua.StatusBadNodeIDUnknown:      {},
	ua.StatusBadAttributeIDInvalid: {},
	ua.StatusBadIndexRangeInvalid:  {},
}

// Classify maps a monitored-item status code to a health Status.
func Classify(code ua.StatusCode) Status {
	if code == ua.StatusOK {
		return StatusHealthy
	}
	if _, permanent := permanentStatusCodes[code]; permanent {
		return StatusPermanentlyFailed
	}
	return StatusRetryable
}

// SubscriptionHealth is the narrow slice of subscription.Manager the Health
// Monitor drives: counting unhealthy items per server-side subscription id,
// and re-applying the change (re-Monitor) for one subscription's retryable
// items.
type SubscriptionHealth interface {
	UnhealthyCounts() map[uint32]int
	RetryUnhealthy(ctx context.Context, subscriptionID uint32) (remaining int, err error)
}

// Monitor periodically scans every subscription's unhealthy-item count and
// retries the ones that have any.
type Monitor struct {
	logger   zerolog.Logger
	interval time.Duration
}

// NewMonitor builds a Monitor polling every interval (spec.md §6's
// subscription_health_check_interval, default 10s).
func NewMonitor(interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		logger:   logging.WithComponent(logger, "health-monitor"),
		interval: interval,
	}
}

// Scan runs one pass over src's subscriptions: a subscription with zero
// unhealthy items is left alone; one with a positive count is retried, then
// logged as fully healed, partially healed, or unchanged depending on how
// many items are still unhealthy afterward.
func (m *Monitor) Scan(ctx context.Context, src SubscriptionHealth) {
	for subID, before := range src.UnhealthyCounts() {
		if before == 0 {
			continue
		}

		after, err := src.RetryUnhealthy(ctx, subID)
		if err != nil {
			m.logger.Warn().Err(err).Uint32("subscription_id", subID).Msg("retrying unhealthy monitored items failed")
			continue
		}

		switch {
		case after == 0:
			m.logger.Info().Uint32("subscription_id", subID).Int("healed", before).Msg("subscription fully healed")
		case after < before:
			m.logger.Info().Uint32("subscription_id", subID).Int("healed", before-after).Int("remaining", after).Msg("subscription partially healed")
		default:
			m.logger.Warn().Uint32("subscription_id", subID).Int("remaining", after).Msg("subscription did not heal")
		}
	}
}

// Run scans on a ticker until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, src SubscriptionHealth) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx, src)
		}
	}
}
