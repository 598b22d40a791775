package idotmatrix

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	topic     string
	qos       byte
	interval  time.Duration
	publisher HealthPublisher
	displays  func() []session.Status
	stats     func() BridgeStatistics
	clock     clockwork.Clock
	startTime time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Topic is where health messages are published.
	Topic string

	// QoS for health messages.
	QoS byte

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Displays returns the current session statuses.
	Displays func() []session.Status

	// Stats returns the bridge counters. Optional.
	Stats func() BridgeStatistics

	// Clock drives the report ticker. Default: the wall clock.
	Clock clockwork.Clock
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		qos:       cfg.QoS,
		interval:  interval,
		publisher: cfg.Publisher,
		displays:  cfg.Displays,
		stats:     cfg.Stats,
		clock:     clock,
		startTime: clock.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Snapshot returns the message PublishNow would send.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.Chan():
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if counts := h.counts(); counts.Unavailable > 0 {
		return HealthDegraded, fmt.Sprintf("%d of %d displays unavailable", counts.Unavailable, counts.Managed)
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) counts() DisplayCounts {
	if h.displays == nil {
		return DisplayCounts{}
	}
	return CountDisplays(h.displays())
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := h.clock.Now()
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     now.UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Displays:      h.counts(),
		Reason:        reason,
	}
	if h.stats != nil {
		stats := h.stats()
		msg.Statistics = &stats
	}
	return msg
}

// publishStatus publishes a health status message (retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, h.qos, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
