// Package eventbus optionally mirrors client core lifecycle and structural
// events onto an MQTT topic, the same publish-token convention the protocol
// gateway's command handler uses for its write responses. It is best-effort
// and never blocks the caller on broker availability.
package eventbus

import (
	"time"

	"github.com/goccy/go-json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// EventKind names the lifecycle/structural event being mirrored.
type EventKind string

const (
	EventSessionChanged       EventKind = "session_changed"
	EventReconnectionStarted  EventKind = "reconnection_started"
	EventReconnectionComplete EventKind = "reconnection_completed"
	EventSubjectAdded         EventKind = "subject_added"
	EventSubjectRemoved       EventKind = "subject_removed"
	EventItemPermanentFailure EventKind = "item_permanent_failure"
)

// Event is the envelope published for every mirrored occurrence.
type Event struct {
	Kind      EventKind `json:"kind"`
	NodeID    string    `json:"node_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config controls topic naming and publish QoS.
type Config struct {
	TopicPrefix string
	QoS         byte
}

// DefaultConfig matches the protocol gateway's own default topic prefix
// convention, scoped under the client core's own namespace segment.
func DefaultConfig() Config {
	return Config{TopicPrefix: "$nexus/opcua/events", QoS: 0}
}

// MQTTClient is the narrow slice of mqtt.Client the Publisher needs.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher mirrors Events onto an MQTT broker. A nil client disables
// publishing entirely (Publish becomes a no-op), so callers can construct a
// Publisher unconditionally and let config gate behavior.
type Publisher struct {
	client MQTTClient
	cfg    Config
	logger zerolog.Logger
}

// NewPublisher builds a Publisher. client may be nil when the event bus is
// disabled by configuration.
func NewPublisher(client MQTTClient, cfg Config, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "event-bus").Logger(),
	}
}

// Publish mirrors ev to the broker, best-effort. Marshal or transport
// failures are logged and swallowed: the event bus never blocks or fails
// the caller's own operation.
func (p *Publisher) Publish(ev Event) {
	if p.client == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to marshal event")
		return
	}

	topic := p.cfg.TopicPrefix + "/" + string(ev.Kind)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			p.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("failed to publish event")
		}
	}()
}
