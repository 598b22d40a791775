package idotmatrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// defaultCommandTimeout bounds one command, including a reconnect for "refresh".
const defaultCommandTimeout = 30 * time.Second

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Config is the bridge section of the service config.
	Config config.BridgeConfig

	// QoS is used for every publish and subscription.
	QoS byte

	// MQTT is the broker connection.
	MQTT MQTTClient

	// Sessions owns the display sessions the bridge exposes.
	Sessions *session.Manager

	// Version is reported in health messages.
	Version string

	// CommandTimeout bounds each command. Default: 30 seconds.
	CommandTimeout time.Duration

	// Clock is optional; tests pass a fake clock.
	Clock clockwork.Clock

	// Logger is optional.
	Logger Logger
}

// Bridge translates between MQTT and display sessions. It handles:
//   - Commands from MQTT, executed on the addressed session and acknowledged
//   - Session events, republished as events, retained state and availability
//   - Home Assistant discovery and health reporting
//
// Bridge implements session.EventSink; register it with Manager.AddSink.
type Bridge struct {
	cfg        config.BridgeConfig
	topics     mqtt.Topics
	qos        byte
	mqtt       MQTTClient
	sessions   *session.Manager
	health     *HealthReporter
	clock      clockwork.Clock
	cmdTimeout time.Duration

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	eventsPublished  atomic.Uint64

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe and announce displays.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("idotmatrix: MQTT client is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("idotmatrix: session manager is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := opts.CommandTimeout
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:        opts.Config,
		topics:     mqtt.NewTopics(opts.Config.TopicPrefix, opts.Config.DiscoveryPrefix),
		qos:        opts.QoS,
		mqtt:       opts.MQTT,
		sessions:   opts.Sessions,
		clock:      clock,
		cmdTimeout: timeout,
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.ID,
		Version:   opts.Version,
		Topic:     b.topics.Health(),
		QoS:       opts.QoS,
		Interval:  time.Duration(opts.Config.HealthInterval) * time.Second,
		Publisher: opts.MQTT,
		Displays:  b.statuses,
		Stats:     b.Statistics,
		Clock:     clock,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// SetLogger replaces the logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// Topics returns the topic builders in use.
func (b *Bridge) Topics() mqtt.Topics {
	return b.topics
}

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command topics, announces every display and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	haTopic := b.topics.HomeAssistantStatus()
	if err := b.mqtt.Subscribe(haTopic, b.qos, b.handleHomeAssistantStatus); err != nil {
		return fmt.Errorf("subscribe to home assistant status: %w", err)
	}

	b.AnnounceAll()
	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"displays", b.sessions.Count())
	return nil
}

// Stop drops the command subscriptions, cancels in-flight commands, waits
// for them and stops health reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt.IsConnected() {
			for _, topic := range []string{b.topics.AllCommands(), b.topics.HomeAssistantStatus()} {
				if err := b.mqtt.Unsubscribe(topic); err != nil {
					b.logError("failed to unsubscribe", err)
				}
			}
		}
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// AnnounceAll publishes discovery, state and availability for every display.
func (b *Bridge) AnnounceAll() {
	for _, s := range b.sessions.List() {
		b.announce(s)
	}
}

func (b *Bridge) announce(s *session.Session) {
	for _, e := range DiscoveryEntries(b.topics, b.cfg.ID, s.Display()) {
		b.publishJSON(b.topics.Discovery(e.Component, NodeID(s.Display().MACAddress), e.ObjectID), e.Config, true)
	}
	st := s.Status()
	b.publishState(st)
	b.publishAvailability(st.DisplayID, st.Available)
}

// retract marks a removed display offline and clears its retained messages.
func (b *Bridge) retract(e session.Event) {
	b.publishAvailability(e.DisplayID, false)
	b.publish(b.topics.State(e.DisplayID), []byte{}, true)

	node := NodeID(e.MACAddress)
	for _, entry := range DiscoveryEntries(b.topics, b.cfg.ID, displayStub(e)) {
		b.publish(b.topics.Discovery(entry.Component, node, entry.ObjectID), []byte{}, true)
	}
}

// HandleEvent implements session.EventSink.
func (b *Bridge) HandleEvent(e session.Event) {
	b.publishJSON(b.topics.Event(e.DisplayID, e.Type), e, false)
	b.eventsPublished.Add(1)

	switch e.Type {
	case session.EventDisplayAdded:
		if s, err := b.sessions.Get(e.DisplayID); err == nil {
			b.announce(s)
		}
	case session.EventDisplayRemoved:
		b.retract(e)
	default:
		s, err := b.sessions.Get(e.DisplayID)
		if err != nil {
			return
		}
		st := s.Status()
		b.publishState(st)
		if e.Type == session.EventConnectionChanged {
			b.publishAvailability(st.DisplayID, st.Available)
		}
	}
}

// handleCommandMessage decodes a command and runs it off the MQTT callback
// goroutine. Every decodable command gets exactly one ack.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	displayID := strings.TrimPrefix(topic, b.topics.Command(""))
	if displayID == "" || displayID == topic || strings.Contains(displayID, "/") {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.DeviceID = displayID
		b.publishAck(cmd, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = displayID
	}
	b.commandsReceived.Add(1)

	if cmd.DeviceID != displayID {
		mismatch := fmt.Errorf("%w: %s on %s", ErrDeviceMismatch, cmd.DeviceID, displayID)
		cmd.DeviceID = displayID
		b.commandsFailed.Add(1)
		b.publishAck(cmd, mismatch)
		return nil
	}

	if b.ctx.Err() != nil {
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.execute(cmd)
	}()
	return nil
}

func (b *Bridge) execute(cmd CommandMessage) {
	b.logDebug("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, b.cmdTimeout)
	defer cancel()

	s, err := b.sessions.Get(cmd.DeviceID)
	if err == nil {
		err = s.Execute(ctx, cmd.Command, cmd.Parameters)
	}
	if err != nil {
		b.commandsFailed.Add(1)
		b.logWarn("command failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"command", cmd.Command,
			"code", ErrorCode(err),
			"error", err)
	}
	b.publishAck(cmd, err)
}

func (b *Bridge) handleHomeAssistantStatus(_ string, payload []byte) error {
	if strings.TrimSpace(string(payload)) == mqtt.PayloadOnline {
		b.logInfo("home assistant restarted, republishing discovery")
		b.AnnounceAll()
	}
	return nil
}

func (b *Bridge) publishAck(cmd CommandMessage, err error) {
	b.publishJSON(b.topics.Ack(cmd.DeviceID), NewAckMessage(cmd, err, b.clock.Now()), false)
}

func (b *Bridge) publishState(st session.Status) {
	b.publishJSON(b.topics.State(st.DisplayID), NewStateMessage(st, b.clock.Now()), true)
}

func (b *Bridge) publishAvailability(displayID string, available bool) {
	payload := mqtt.PayloadOffline
	if available {
		payload = mqtt.PayloadOnline
	}
	b.publish(b.topics.Availability(displayID), []byte(payload), true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	b.publish(topic, payload, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logError("failed to publish", err)
	}
}

func (b *Bridge) statuses() []session.Status {
	sessions := b.sessions.List()
	out := make([]session.Status, len(sessions))
	for i, s := range sessions {
		out[i] = s.Status()
	}
	return out
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		EventsPublished:  b.eventsPublished.Load(),
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
