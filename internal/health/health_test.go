package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeSessionStatus struct {
	connected bool
}

func (f fakeSessionStatus) IsConnected() bool { return f.connected }

func TestHealthHandlerHealthyWhenConnected(t *testing.T) {
	c := NewChecker(fakeSessionStatus{connected: true}, zerolog.Nop())
	rr := httptest.NewRecorder()
	c.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)
}

func TestHealthHandlerDegradedWhenDisconnected(t *testing.T) {
	c := NewChecker(fakeSessionStatus{connected: false}, zerolog.Nop())
	rr := httptest.NewRecorder()
	c.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"degraded"`)
}

func TestLiveHandlerAlwaysOK(t *testing.T) {
	c := NewChecker(fakeSessionStatus{connected: false}, zerolog.Nop())
	rr := httptest.NewRecorder()
	c.LiveHandler(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyHandlerReflectsSessionState(t *testing.T) {
	c := NewChecker(fakeSessionStatus{connected: true}, zerolog.Nop())
	rr := httptest.NewRecorder()
	c.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	c = NewChecker(fakeSessionStatus{connected: false}, zerolog.Nop())
	rr = httptest.NewRecorder()
	c.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
