package itemhealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPermanentSet(t *testing.T) {
	assert.Equal(t, StatusPermanentlyFailed, Classify(ua.StatusBadNodeIDUnknown))
	assert.Equal(t, StatusPermanentlyFailed, Classify(ua.StatusBadAttributeIDInvalid))
	assert.Equal(t, StatusPermanentlyFailed, Classify(ua.StatusBadIndexRangeInvalid))
}

func TestClassifyHealthyAndRetryable(t *testing.T) {
	assert.Equal(t, StatusHealthy, Classify(ua.StatusOK))
	assert.Equal(t, StatusRetryable, Classify(ua.StatusBadTimeout))
}

// fakeSubscriptionHealth implements SubscriptionHealth with a scripted
// before/after unhealthy count per subscription, so Scan's heal
// classification can be exercised without a real subscription.Manager.
type fakeSubscriptionHealth struct {
	counts      map[uint32]int
	after       map[uint32]int
	retryErr    error
	retriedSubs []uint32
}

func (f *fakeSubscriptionHealth) UnhealthyCounts() map[uint32]int { return f.counts }

func (f *fakeSubscriptionHealth) RetryUnhealthy(_ context.Context, subID uint32) (int, error) {
	f.retriedSubs = append(f.retriedSubs, subID)
	if f.retryErr != nil {
		return f.counts[subID], f.retryErr
	}
	return f.after[subID], nil
}

func TestScanSkipsHealthySubscriptions(t *testing.T) {
	src := &fakeSubscriptionHealth{counts: map[uint32]int{1: 0}}
	m := NewMonitor(time.Second, zerolog.Nop())
	m.Scan(context.Background(), src)
	assert.Empty(t, src.retriedSubs)
}

func TestScanRetriesUnhealthySubscription(t *testing.T) {
	src := &fakeSubscriptionHealth{
		counts: map[uint32]int{1: 3},
		after:  map[uint32]int{1: 0},
	}
	m := NewMonitor(time.Second, zerolog.Nop())
	m.Scan(context.Background(), src)
	require.Equal(t, []uint32{1}, src.retriedSubs)
}

func TestScanContinuesPastRetryError(t *testing.T) {
	src := &fakeSubscriptionHealth{
		counts:   map[uint32]int{1: 2, 2: 1},
		after:    map[uint32]int{2: 0},
		retryErr: errors.New("retry failed"),
	}
	m := NewMonitor(time.Second, zerolog.Nop())
	m.Scan(context.Background(), src)
	assert.ElementsMatch(t, []uint32{1, 2}, src.retriedSubs)
}
