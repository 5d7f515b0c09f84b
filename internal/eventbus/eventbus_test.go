package eventbus

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type immediateToken struct{}

func (immediateToken) Wait() bool                     { return true }
func (immediateToken) WaitTimeout(time.Duration) bool { return true }
func (immediateToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (immediateToken) Error() error                   { return nil }

type fakeMQTTClient struct {
	mu      sync.Mutex
	topics  []string
	payload [][]byte
}

func (f *fakeMQTTClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payload = append(f.payload, payload.([]byte))
	return immediateToken{}
}

func TestPublishSendsToPrefixedTopic(t *testing.T) {
	client := &fakeMQTTClient{}
	p := NewPublisher(client, Config{TopicPrefix: "$nexus/opcua/events", QoS: 0}, zerolog.Nop())

	p.Publish(Event{Kind: EventSessionChanged, NodeID: "n1"})

	require.Len(t, client.topics, 1)
	assert.Equal(t, "$nexus/opcua/events/session_changed", client.topics[0])
}

func TestPublishNilClientIsNoOp(t *testing.T) {
	p := NewPublisher(nil, DefaultConfig(), zerolog.Nop())
	assert.NotPanics(t, func() {
		p.Publish(Event{Kind: EventSubjectAdded})
	})
}
