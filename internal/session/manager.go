// Package session owns the OPC UA session lifecycle (create, keep-alive,
// close) and the Reconnect Driver that repairs a lost session with
// exponential backoff, per spec.md §4.1.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/opcua-client-core/internal/domain"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Client is the narrow slice of *opcua.Client the Session Manager drives.
type Client interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// Session is an opaque handle to one successfully established OPC UA
// session, tagged with the generation counter callers use to discard
// callbacks from a superseded session.
type Session struct {
	Generation  domain.SessionGeneration
	ConnectedAt time.Time
}

// Config configures session timeouts and the circuit breaker guarding
// create_session attempts.
type Config struct {
	SessionTimeout  time.Duration
	DisposalTimeout time.Duration
	Breaker         gobreaker.Settings
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:  60 * time.Second,
		DisposalTimeout: 2 * time.Second,
		Breaker: gobreaker.Settings{
			Name:        "opcua-create-session",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
}

// Manager owns the single active Session and the Reconnect Driver.
type Manager struct {
	logger     zerolog.Logger
	client     Client
	breaker    *gobreaker.CircuitBreaker
	current    atomic.Pointer[Session]
	generation atomic.Uint64
	reconnect  *ReconnectDriver
	disposal   time.Duration
	lostCh     chan struct{}

	totalAttempts       atomic.Uint64
	successfulReconnect atomic.Uint64
	failedReconnect     atomic.Uint64
}

// NewManager builds a Manager around client, a thin wrapper over *opcua.Client.
func NewManager(client Client, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultConfig().Breaker
	}
	return &Manager{
		logger:    logging.WithComponent(logger, "session-manager"),
		client:    client,
		breaker:   gobreaker.NewCircuitBreaker(cfg.Breaker),
		reconnect: NewReconnectDriver(),
		disposal:  cfg.DisposalTimeout,
		lostCh:    make(chan struct{}, 1),
	}
}

// CreateSession attempts to connect and activate a new session, behind the
// circuit breaker so a hard-down server stops being hammered with attempts
// on top of the Reconnect Driver's own backoff.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.client.Connect(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("session: create session: %w", domain.ErrCircuitOpen)
		}
		return nil, fmt.Errorf("session: create session: %w: %v", domain.ErrEndpointUnreachable, err)
	}

	s := &Session{
		Generation:  domain.SessionGeneration(m.generation.Add(1)),
		ConnectedAt: time.Now(),
	}
	m.current.Store(s)
	m.reconnect.Succeed()
	m.logger.Info().Uint64("generation", uint64(s.Generation)).Msg("session created")
	return s, nil
}

// Current returns the active session, if any.
func (m *Manager) Current() (*Session, bool) {
	s := m.current.Load()
	if s == nil {
		return nil, false
	}
	return s, true
}

// Close disposes of the active session. Disposal errors are logged and
// swallowed: spec.md §7 treats disposal as best-effort since a session the
// core is giving up on has nothing left to coordinate with.
func (m *Manager) Close(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(ctx, m.disposal)
	defer cancel()

	m.current.Store(nil)
	if err := m.client.Close(closeCtx); err != nil {
		m.logger.Warn().Err(err).Msg("session close failed, disposing best-effort")
	}
	return nil
}

// HandleKeepAliveLost clears the active session and triggers the Reconnect
// Driver, per spec.md §4.1/§7's keep-alive-loss handling.
func (m *Manager) HandleKeepAliveLost() {
	m.current.Store(nil)
	m.reconnect.Trigger()
	m.logger.Warn().Msg("keep-alive lost, reconnect triggered")
	select {
	case m.lostCh <- struct{}{}:
	default:
	}
}

// Lost signals once per keep-alive-loss event, letting the outer lifecycle
// loop interrupt whatever it is doing and begin a backoff-driven reconnect
// via Reconnect instead of waiting for the session's own context to end.
func (m *Manager) Lost() <-chan struct{} {
	return m.lostCh
}

// Reconnect runs the Reconnect Driver's backoff loop until a session is
// re-established or ctx is cancelled.
func (m *Manager) Reconnect(ctx context.Context) (*Session, error) {
	for {
		delay := m.reconnect.BeginAttempt()
		select {
		case <-ctx.Done():
			m.failedReconnect.Add(1)
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		m.totalAttempts.Add(1)
		s, err := m.CreateSession(ctx)
		if err == nil {
			m.successfulReconnect.Add(1)
			return s, nil
		}
		m.logger.Warn().Err(err).Int("attempt", m.reconnect.Attempts()).Msg("reconnect attempt failed")
	}
}

// TotalReconnectionAttempts, SuccessfulReconnections, and FailedReconnections
// report the lifetime counters spec.md §6's Diagnostics surface names.
func (m *Manager) TotalReconnectionAttempts() uint64 { return m.totalAttempts.Load() }
func (m *Manager) SuccessfulReconnections() uint64   { return m.successfulReconnect.Load() }
func (m *Manager) FailedReconnections() uint64       { return m.failedReconnect.Load() }

// ReconnectState reports the Reconnect Driver's current state, surfaced by
// diagnostics as IsReconnecting.
func (m *Manager) ReconnectState() State {
	return m.reconnect.State()
}
