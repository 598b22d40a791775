package idotmatrix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/simulator"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	unsubscribed  []string
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) Unsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// LastOn returns the last message published to topic.
func (m *MockMQTTClient) LastOn(topic string) (mockPublish, bool) {
	pubs := m.GetPublished()
	for i := len(pubs) - 1; i >= 0; i-- {
		if pubs[i].Topic == topic {
			return pubs[i], true
		}
	}
	return mockPublish{}, false
}

// SimulateMessage delivers a message to the handler subscribed to pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

const (
	testID  = "d1"
	testMAC = "AA:BB:CC:DD:EE:01"
)

var testEpoch = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type testEnv struct {
	mqtt    *MockMQTTClient
	sim     *simulator.Simulator
	mgr     *session.Manager
	bridge  *Bridge
	topics  mqtt.Topics
	session *session.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		mqtt: NewMockMQTTClient(),
		sim:  simulator.New(),
	}
	clock := clockwork.NewFakeClockAt(testEpoch)
	env.mgr = session.NewManager(transport.NewDriver(env.sim), session.WithClock(clock))

	b, err := New(Options{
		Config: config.BridgeConfig{
			ID:              "idotmatrix-test",
			TopicPrefix:     "idotmatrix",
			DiscoveryPrefix: "homeassistant",
			HealthInterval:  30,
		},
		QoS:      1,
		MQTT:     env.mqtt,
		Sessions: env.mgr,
		Version:  "test",
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.bridge = b
	env.topics = b.Topics()
	env.mgr.AddSink(b)

	s, err := env.mgr.Add(context.Background(), display.Display{
		ID:         testID,
		Name:       "Kitchen",
		MACAddress: testMAC,
		Options:    display.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	env.session = s

	t.Cleanup(func() {
		b.Stop()
		if err := env.mgr.Stop(context.Background()); err != nil {
			t.Errorf("manager Stop() error = %v", err)
		}
	})
	return env
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	if err := e.session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

// sendCommand publishes a command and waits for its ack.
func (e *testEnv) sendCommand(t *testing.T, payload string) AckMessage {
	t.Helper()
	ackTopic := e.topics.Ack(testID)
	before := 0
	for _, p := range e.mqtt.GetPublished() {
		if p.Topic == ackTopic {
			before++
		}
	}

	if err := e.mqtt.SimulateMessage(e.topics.AllCommands(), e.topics.Command(testID), []byte(payload)); err != nil {
		t.Fatalf("command handler error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var acks []mockPublish
		for _, p := range e.mqtt.GetPublished() {
			if p.Topic == ackTopic {
				acks = append(acks, p)
			}
		}
		if len(acks) > before {
			var ack AckMessage
			if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
				t.Fatalf("ack is not JSON: %v", err)
			}
			return ack
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no ack for %s", payload)
	return AckMessage{}
}

func frameCount(sim *simulator.Simulator, mac string) int {
	p := sim.Panel(mac)
	if p == nil {
		return 0
	}
	return len(p.Frames())
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{Sessions: session.NewManager(nil)}); err == nil {
		t.Error("New() without MQTT should fail")
	}
	if _, err := New(Options{MQTT: NewMockMQTTClient()}); err == nil {
		t.Error("New() without sessions should fail")
	}
}

func TestStart_SubscribesAndAnnounces(t *testing.T) {
	env := newTestEnv(t)

	if err := env.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	env.mqtt.mu.Lock()
	subs := env.mqtt.subscriptions
	env.mqtt.mu.Unlock()
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}
	if subs[0].Topic != "idotmatrix/command/+" {
		t.Errorf("command subscription = %q", subs[0].Topic)
	}
	if subs[1].Topic != "homeassistant/status" {
		t.Errorf("HA status subscription = %q", subs[1].Topic)
	}

	light, ok := env.mqtt.LastOn("homeassistant/light/idotmatrix_aabbccddee01/screen/config")
	if !ok {
		t.Fatal("light discovery config not published")
	}
	if !light.Retained {
		t.Error("discovery config should be retained")
	}

	state, ok := env.mqtt.LastOn(env.topics.State(testID))
	if !ok {
		t.Fatal("state not published")
	}
	var msg StateMessage
	if err := json.Unmarshal(state.Payload, &msg); err != nil {
		t.Fatalf("state is not JSON: %v", err)
	}
	if msg.Confidence != session.ConfidenceUnconfirmed {
		t.Errorf("confidence = %q, want unconfirmed", msg.Confidence)
	}
	if msg.Connection != session.Disconnected {
		t.Errorf("connection = %q, want disconnected", msg.Connection)
	}

	avail, ok := env.mqtt.LastOn(env.topics.Availability(testID))
	if !ok || string(avail.Payload) != mqtt.PayloadOnline {
		t.Errorf("availability = %q, want online", avail.Payload)
	}

	health, ok := env.mqtt.LastOn(env.topics.Health())
	if !ok {
		t.Fatal("health not published")
	}
	var hm HealthMessage
	if err := json.Unmarshal(health.Payload, &hm); err != nil {
		t.Fatalf("health is not JSON: %v", err)
	}
	if hm.Displays.Managed != 1 {
		t.Errorf("health displays managed = %d, want 1", hm.Displays.Managed)
	}
}

func TestCommand_Accepted(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	ack := env.sendCommand(t, `{"id":"c1","command":"set_brightness","parameters":{"brightness":128}}`)

	if ack.Status != AckAccepted {
		t.Fatalf("ack status = %q, want accepted (error %+v)", ack.Status, ack.Error)
	}
	if ack.CommandID != "c1" || ack.DeviceID != testID {
		t.Errorf("ack = %+v", ack)
	}

	frames := env.sim.Panel(testMAC).Frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if got := frames[0][4]; got != 50 {
		t.Errorf("brightness percent on the wire = %d, want 50", got)
	}

	state, _ := env.mqtt.LastOn(env.topics.State(testID))
	var msg StateMessage
	if err := json.Unmarshal(state.Payload, &msg); err != nil {
		t.Fatalf("state is not JSON: %v", err)
	}
	if msg.State.Brightness != 128 {
		t.Errorf("state brightness = %d, want 128", msg.State.Brightness)
	}

	if _, ok := env.mqtt.LastOn(env.topics.Event(testID, session.EventBrightnessChanged)); !ok {
		t.Error("brightness_changed event not published")
	}
}

func TestCommand_AssignsID(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)

	ack := env.sendCommand(t, `{"command":"turn_on"}`)
	if ack.CommandID == "" {
		t.Error("ack command_id should be generated")
	}
	if ack.Status != AckAccepted {
		t.Errorf("ack status = %q, want accepted", ack.Status)
	}
}

func TestCommand_ErrorCodes(t *testing.T) {
	tests := []struct {
		name    string
		connect bool
		payload string
		want    string
	}{
		{"not connected", false, `{"command":"turn_on"}`, ErrCodeNotConnected},
		{"invalid parameters", true, `{"command":"set_brightness","parameters":{"brightness":300}}`, ErrCodeInvalidParameters},
		{"unknown command", true, `{"command":"launch"}`, ErrCodeInvalidCommand},
		{"malformed", true, `{"command":`, ErrCodeInvalidMessage},
		{"device mismatch", true, `{"device_id":"other","command":"turn_on"}`, ErrCodeInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.connect {
				env.connect(t)
			}

			ack := env.sendCommand(t, tt.payload)
			if ack.Status != AckFailed {
				t.Errorf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.want {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.want)
			}
			if n := frameCount(env.sim, testMAC); n != 0 {
				t.Errorf("frames = %d, want 0", n)
			}
		})
	}
}

func TestCommand_TransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	env.sim.FailWrites(1)

	ack := env.sendCommand(t, `{"command":"turn_on"}`)
	if ack.Error == nil || ack.Error.Code != ErrCodeCommandFailed {
		t.Fatalf("ack error = %+v, want COMMAND_FAILED", ack.Error)
	}
	if env.session.State().IsOn {
		t.Error("state changed after a failed command")
	}
	if st := env.session.Status(); st.Connection != session.Disconnected {
		t.Errorf("connection = %q, want disconnected", st.Connection)
	}
	if got := env.bridge.Statistics().CommandsFailed; got != 1 {
		t.Errorf("CommandsFailed = %d, want 1", got)
	}
}

func TestCommand_UnknownDisplay(t *testing.T) {
	env := newTestEnv(t)
	topic := env.topics.Command("ghost")

	if err := env.mqtt.SimulateMessage(env.topics.AllCommands(), topic, []byte(`{"command":"turn_on"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := env.mqtt.LastOn(env.topics.Ack("ghost")); ok {
			var ack AckMessage
			if err := json.Unmarshal(p.Payload, &ack); err != nil {
				t.Fatalf("ack is not JSON: %v", err)
			}
			if ack.Error == nil || ack.Error.Code != ErrCodeNotConfigured {
				t.Errorf("ack error = %+v, want NOT_CONFIGURED", ack.Error)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no ack published")
}

func TestHandleCommand_InvalidTopic(t *testing.T) {
	env := newTestEnv(t)

	for _, topic := range []string{"idotmatrix/command/", "other/command/d1", "idotmatrix/command/a/b"} {
		if err := env.bridge.handleCommandMessage(topic, []byte(`{}`)); err == nil {
			t.Errorf("handleCommandMessage(%q) should fail", topic)
		}
	}
}

func TestEvents_Availability(t *testing.T) {
	env := newTestEnv(t)
	env.sim.FailDials(100)

	for range display.DefaultRetryAttempts {
		_ = env.session.Refresh(context.Background())
	}

	avail, ok := env.mqtt.LastOn(env.topics.Availability(testID))
	if !ok || string(avail.Payload) != mqtt.PayloadOffline {
		t.Fatalf("availability = %q, want offline", avail.Payload)
	}
	if !avail.Retained {
		t.Error("availability should be retained")
	}

	env.sim.FailDials(0)
	if err := env.session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	avail, _ = env.mqtt.LastOn(env.topics.Availability(testID))
	if string(avail.Payload) != mqtt.PayloadOnline {
		t.Errorf("availability = %q, want online", avail.Payload)
	}
}

func TestEvents_Removal(t *testing.T) {
	env := newTestEnv(t)
	env.mqtt.ClearPublished()

	if err := env.mgr.Remove(context.Background(), testID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	avail, ok := env.mqtt.LastOn(env.topics.Availability(testID))
	if !ok || string(avail.Payload) != mqtt.PayloadOffline {
		t.Errorf("availability = %q, want offline", avail.Payload)
	}
	state, ok := env.mqtt.LastOn(env.topics.State(testID))
	if !ok || len(state.Payload) != 0 || !state.Retained {
		t.Errorf("state should be cleared with an empty retained message, got %+v", state)
	}
	cfg, ok := env.mqtt.LastOn("homeassistant/button/idotmatrix_aabbccddee01/reset/config")
	if !ok || len(cfg.Payload) != 0 {
		t.Errorf("discovery config should be cleared, got %+v", cfg)
	}
	if _, ok := env.mqtt.LastOn(env.topics.Event(testID, session.EventDisplayRemoved)); !ok {
		t.Error("display_removed event not published")
	}
}

func TestEvents_AddAnnounces(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.Add(context.Background(), display.Display{
		ID:         "d2",
		Name:       "Hallway",
		MACAddress: "AA:BB:CC:DD:EE:02",
		Options:    display.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, ok := env.mqtt.LastOn("homeassistant/text/idotmatrix_aabbccddee02/message/config"); !ok {
		t.Error("discovery not published for added display")
	}
	if _, ok := env.mqtt.LastOn(env.topics.State("d2")); !ok {
		t.Error("state not published for added display")
	}
}

func TestHomeAssistantRestart_Republishes(t *testing.T) {
	env := newTestEnv(t)
	if err := env.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.mqtt.ClearPublished()

	topic := env.topics.HomeAssistantStatus()
	if err := env.mqtt.SimulateMessage(topic, topic, []byte("offline")); err != nil {
		t.Fatal(err)
	}
	if n := countPrefix(env.mqtt.GetPublished(), "homeassistant/"); n != 0 {
		t.Errorf("published %d discovery configs on HA offline, want 0", n)
	}

	if err := env.mqtt.SimulateMessage(topic, topic, []byte("online")); err != nil {
		t.Fatal(err)
	}
	if count := countPrefix(env.mqtt.GetPublished(), "homeassistant/"); count != 11 {
		t.Errorf("discovery configs republished = %d, want 11", count)
	}
}

func countPrefix(pubs []mockPublish, prefix string) int {
	n := 0
	for _, p := range pubs {
		if strings.HasPrefix(p.Topic, prefix) {
			n++
		}
	}
	return n
}

func TestStop_Unsubscribes(t *testing.T) {
	env := newTestEnv(t)
	if err := env.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	env.bridge.Stop()

	got := env.mqtt.Unsubscribed()
	want := []string{"idotmatrix/command/+", "homeassistant/status"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("unsubscribed = %v, want %v", got, want)
	}

	env.mqtt.ClearPublished()
	payload := []byte(`{"command":"turn_on"}`)
	if err := env.mqtt.SimulateMessage("idotmatrix/command/+", env.topics.Command(testID), payload); err != nil {
		t.Fatalf("SimulateMessage() error = %v", err)
	}
	if _, ok := env.mqtt.LastOn(env.topics.Ack(testID)); ok {
		t.Error("a stopped bridge must not handle commands")
	}
}

func TestStop_OfflineSkipsUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	if err := env.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	env.mqtt.SetConnected(false)

	env.bridge.Stop()

	if got := env.mqtt.Unsubscribed(); len(got) != 0 {
		t.Errorf("unsubscribed = %v while disconnected, want none", got)
	}
}
