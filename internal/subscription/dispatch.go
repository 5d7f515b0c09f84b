package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-client-core/internal/codec"
	"github.com/nexus-edge/opcua-client-core/internal/domain"
)

// changeEvent is one data-change notification resolved to its bound item.
type changeEvent struct {
	item  *domain.MonitoredItem
	value interface{}
	sourceTimestamp time.Time
}

// batchPool reuses []changeEvent slices across notifications to avoid an
// allocation per publish, the same pooling idiom the data ingestion
// pipeline uses for its point batches.
var batchPool = sync.Pool{
	New: func() interface{} {
		s := make([]changeEvent, 0, 64)
		return &s
	},
}

func acquireBatch() *[]changeEvent {
	return batchPool.Get().(*[]changeEvent)
}

func releaseBatch(b *[]changeEvent) {
	*b = (*b)[:0]
	batchPool.Put(b)
}

// pump drains g.notifyCh, dispatching each data-change notification to its
// bound property in the order the notification lists its items
// (spec.md §4.2's ordering guarantee: notifications are applied in the
// order the server reported them, never reordered or parallelized within
// one publish).
func (m *Manager) pump(g *group) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case notif, ok := <-g.notifyCh:
			if !ok {
				return
			}
			m.handleNotification(g, notif)
		}
	}
}

func (m *Manager) handleNotification(g *group, notif *opcua.PublishNotificationData) {
	if notif.Error != nil {
		m.logger.Warn().Err(notif.Error).Msg("publish notification error")
		m.mu.Lock()
		onError := m.onError
		m.mu.Unlock()
		if onError != nil {
			onError(notif.Error)
		}
		return
	}

	dcn, ok := notif.Value.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	batch := acquireBatch()
	defer releaseBatch(batch)

	for _, mi := range dcn.MonitoredItems {
		g.mu.RLock()
		item, found := g.items[mi.ClientHandle]
		g.mu.RUnlock()
		if !found {
			continue
		}

		value, err := codec.ToPropertyValue(mi.Value)
		if err != nil {
			m.logger.Warn().Err(err).Str("node_id", item.NodeID.Identifier).Msg("data-change decode failed, skipped")
			continue
		}

		sourceTs := mi.Value.SourceTimestamp
		if sourceTs.IsZero() {
			sourceTs = time.Now()
		}
		*batch = append(*batch, changeEvent{item: item, value: value, sourceTimestamp: sourceTs})
	}

	m.applyBatch(*batch)
}

// applyBatch applies every event in the order it was appended, preserving
// the publish's reported ordering for items sharing the same property path.
func (m *Manager) applyBatch(events []changeEvent) {
	ctx := context.Background()
	receivedAt := time.Now()
	for _, ev := range events {
		if err := m.updater.EnqueueOrApply(ctx, ev.item.Property, ev.sourceTimestamp, receivedAt, ev.value); err != nil {
			m.logger.Warn().Err(err).Str("node_id", ev.item.NodeID.Identifier).Msg("apply data-change failed, skipped")
		}
	}
}
