package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap Snapshot
}

func (f fakeSource) Snapshot() Snapshot { return f.snap }

func TestHandlerServesSnapshotAsJSON(t *testing.T) {
	want := Snapshot{
		IsConnected:        true,
		SubscriptionCount:  3,
		MonitoredItemCount: 42,
		LastConnectedAt:    time.Unix(1700000000, 0).UTC(),
	}
	r := NewReporter(fakeSource{snap: want})

	rr := httptest.NewRecorder()
	r.Handler(rr, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, want.IsConnected, got.IsConnected)
	assert.Equal(t, want.SubscriptionCount, got.SubscriptionCount)
	assert.Equal(t, want.MonitoredItemCount, got.MonitoredItemCount)
}
