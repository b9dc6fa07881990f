package align

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err error
}

func NewMockToken(err error) *MockToken {
	return &MockToken{err: err}
}

func (t *MockToken) Wait() bool { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Error() error { return t.err }

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// MockClient implements mqtt.Client for testing. It records published
// messages and never touches the network.
type MockClient struct {
	connected         bool
	connectError      error
	connectAttempts   int
	publishError      error
	publishedMessages []MockMessage
	mu                sync.RWMutex
}

type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// NewMockClient creates a new mock MQTT client
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SetConnected sets the connection state
func (c *MockClient) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// SetConnectError sets the error returned on Connect
func (c *MockClient) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectError = err
}

// SetPublishError sets the error returned on Publish
func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishError = err
}

// ConnectAttempts returns how many times Connect was called.
func (c *MockClient) ConnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectAttempts
}

// GetPublishedMessages returns all published messages
func (c *MockClient) GetPublishedMessages() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]MockMessage, len(c.publishedMessages))
	copy(result, c.publishedMessages)
	return result
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *MockClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectAttempts++
	if c.connectError == nil {
		c.connected = true
	}
	return NewMockToken(c.connectError)
}

func (c *MockClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.publishError != nil {
		return NewMockToken(c.publishError)
	}

	var payloadBytes []byte
	switch v := payload.(type) {
	case []byte:
		payloadBytes = v
	case string:
		payloadBytes = []byte(v)
	}

	c.publishedMessages = append(c.publishedMessages, MockMessage{
		Topic:   topic,
		Payload: payloadBytes,
		QoS:     qos,
		Retain:  retained,
	})
	return NewMockToken(nil)
}

// The publisher never subscribes; these satisfy mqtt.Client.
func (c *MockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}

func (c *MockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}

func (c *MockClient) Unsubscribe(...string) mqtt.Token {
	return NewMockToken(nil)
}

func (c *MockClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}
