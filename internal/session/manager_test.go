package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	connectErr error
	closeErr   error
	connects   atomic.Int32
}

func (f *fakeClient) Connect(_ context.Context) error {
	f.connects.Add(1)
	return f.connectErr
}

func (f *fakeClient) Close(_ context.Context) error {
	return f.closeErr
}

func TestCreateSessionSuccess(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())

	s, err := m.CreateSession(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Generation)

	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, s, current)
}

func TestCreateSessionFailureSurfacesEndpointError(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("dial refused")}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())

	_, err := m.CreateSession(context.Background())
	require.Error(t, err)
}

func TestHandleKeepAliveLostClearsSessionAndTriggers(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())
	_, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	m.HandleKeepAliveLost()

	_, ok := m.Current()
	assert.False(t, ok)
	assert.Equal(t, StateTriggered, m.ReconnectState())
}

func TestHandleKeepAliveLostSignalsLost(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())
	_, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	m.HandleKeepAliveLost()

	select {
	case <-m.Lost():
	default:
		t.Fatal("expected Lost() to signal after HandleKeepAliveLost")
	}
}

func TestReconnectReturnsErrorWhenCancelledDuringBackoff(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("down")}
	cfg := DefaultConfig()
	m := NewManager(client, cfg, zerolog.Nop())
	m.HandleKeepAliveLost()

	// Would flip to success once a connect attempt has been made; the first
	// attempt waits out the 5s backoff, so cancel always comes first.
	go func() {
		for client.connects.Load() < 1 {
		}
		client.connectErr = nil
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var gotErr error
	go func() {
		_, gotErr = m.Reconnect(ctx)
		close(done)
	}()

	select {
	case <-done:
		// The real backoff schedule starts at 5s, so Reconnect is still
		// waiting here while ctx is live.
	default:
	}
	cancel()
	<-done
	assert.Error(t, gotErr) // context cancelled before the 5s backoff elapses
}

func TestReconnectCancelledBeforeFirstAttemptCountsAsFailed(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())
	m.HandleKeepAliveLost()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Reconnect(ctx)
	require.Error(t, err)

	assert.EqualValues(t, 0, m.TotalReconnectionAttempts())
	assert.EqualValues(t, 0, m.SuccessfulReconnections())
	assert.EqualValues(t, 1, m.FailedReconnections())
}

func TestCloseClearsSessionBestEffort(t *testing.T) {
	client := &fakeClient{closeErr: errors.New("already gone")}
	m := NewManager(client, DefaultConfig(), zerolog.Nop())
	_, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	err = m.Close(context.Background())
	assert.NoError(t, err)
	_, ok := m.Current()
	assert.False(t, ok)
}
