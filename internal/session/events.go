package session

import (
	"context"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
)

// Event types.
const (
	EventDisplayOn         = "display_on"
	EventDisplayOff        = "display_off"
	EventBrightnessChanged = "brightness_changed"
	EventScreenFlipped     = "screen_flipped"
	EventTextDisplayed     = "text_displayed"
	EventClockModeSet      = "clock_mode_set"
	EventTimeSynced        = "time_synced"
	EventEffectDisplayed   = "effect_displayed"
	EventScreenFrozen      = "screen_frozen"
	EventDeviceReset       = "device_reset"
	EventImageDisplayed    = "image_displayed"

	// EventChronographPrefix is followed by the action: start, stop or reset.
	EventChronographPrefix = "chronograph_"

	// EventConnectionChanged reports a connection state or availability change.
	EventConnectionChanged = "connection_changed"

	// EventDisplayAdded is the first event a session emits.
	EventDisplayAdded = "display_added"

	// EventDisplayRemoved is the last event a session emits.
	EventDisplayRemoved = "display_removed"
)

// Event is a domain event emitted by a session.
type Event struct {
	Type       string         `json:"event_type"`
	DisplayID  string         `json:"device_id"`
	MACAddress string         `json:"mac_address"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink receives events after the emitting session released its lock.
// Implementations must not block.
type EventSink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleEvent calls f(e).
func (f SinkFunc) HandleEvent(e Event) { f(e) }

// Observer receives per-command and per-connection measurements.
type Observer interface {
	CommandCompleted(displayID, mac, command string, err error, took time.Duration)
	ConnectionChanged(displayID, mac, state string, retries int)
}

// StateStore persists state snapshots across restarts.
type StateStore interface {
	SaveState(ctx context.Context, id string, s display.StoredState) error
	LoadState(ctx context.Context, id string) (*display.StoredState, error)
}

// Logger defines the logging interface used by sessions.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
