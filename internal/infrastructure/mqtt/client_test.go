package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns an MQTT configuration pointing at a local broker.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker listens on testBrokerAddr.
func requireBroker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBrokerAddr, err)
	}
	conn.Close()
}

func connectTestClient(t *testing.T, clientID string) *Client {
	t.Helper()
	requireBroker(t)

	client, err := Connect(testConfig(clientID), NewTopics("idotmatrix-test", ""))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	client := connectTestClient(t, "idm-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("connect timeout is slow")
	}
	cfg := testConfig("idm-test-invalid")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, NewTopics("", ""))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() on unconnected client = true")
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context error = nil")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"invalid qos", "t", 3, nil, ErrInvalidQoS},
		{"oversize payload", "t", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"disconnected", "t", 1, []byte("x"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if c.tracked("t") {
		t.Error("a rejected subscription must not be restored on reconnect")
	}
}

// tracked reports whether topic would be restored after a reconnect.
func (c *Client) tracked(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectTestClient(t, "idm-test-roundtrip")
	topics := NewTopics("idotmatrix-test", "")
	topic := topics.Command("roundtrip")

	var (
		mu       sync.Mutex
		received []byte
	)
	done := make(chan struct{})
	err := client.Subscribe(topics.AllCommands(), 1, func(_ string, payload []byte) error {
		mu.Lock()
		received = payload
		mu.Unlock()
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.tracked(topics.AllCommands()) {
		t.Error("subscription not tracked for reconnect")
	}

	if err := client.Publish(topic, []byte(`{"command":"turn_on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != `{"command":"turn_on"}` {
		t.Errorf("received %q, want the published JSON", received)
	}

	if err := client.Unsubscribe(topics.AllCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.tracked(topics.AllCommands()) {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler_RecoversPanicsAndLogsErrors(t *testing.T) {
	c := &Client{}
	log := &mockLogger{}
	c.SetLogger(log)

	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "t"})
	c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })(nil, fakeMessage{topic: "t"})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.errors) != 1 {
		t.Errorf("errors logged = %d, want 1 (panic)", len(log.errors))
	}
	if len(log.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1 (handler error)", len(log.warns))
	}
}
