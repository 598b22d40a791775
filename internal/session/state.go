package session

import (
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
)

// ConnectionState is the lifecycle state of a session's BLE link.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Confidence qualifies how much DisplayState can be trusted.
type Confidence string

// ConfidenceUnconfirmed marks state derived from commands sent, never read back.
// iDotMatrix panels have no state query, so this is the only value in use.
const ConfidenceUnconfirmed Confidence = "unconfirmed"

// Display modes.
const (
	ModeClock       = "clock"
	ModeText        = "text"
	ModeEffect      = "effect"
	ModeChronograph = "chronograph"
	ModeImage       = "image"
)

// DefaultBrightness is the assumed backlight level before any command.
const DefaultBrightness = 255

// ClockStyles names clock faces by index.
var ClockStyles = []string{"classic", "digital", "analog", "minimal", "colorful"}

// Effects names built-in animations by index.
var Effects = []string{"rainbow", "breathing", "wave", "fire", "snow", "matrix", "stars", "plasma"}

// DisplayState is the bridge's belief about what a panel shows. It changes
// only after a command the transport accepted.
type DisplayState struct {
	IsOn            bool       `json:"is_on"`
	Brightness      int        `json:"brightness"`
	ScreenFlipped   bool       `json:"screen_flipped"`
	CurrentMode     string     `json:"current_mode"`
	ClockStyle      string     `json:"clock_style"`
	EffectMode      string     `json:"effect_mode"`
	LastMessage     string     `json:"last_message"`
	ChronographMode string     `json:"chronograph_mode,omitempty"`
	Confidence      Confidence `json:"confidence"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DefaultState is the state assumed for a panel never commanded.
func DefaultState() DisplayState {
	return DisplayState{
		IsOn:        false,
		Brightness:  DefaultBrightness,
		CurrentMode: ModeClock,
		ClockStyle:  ClockStyles[0],
		EffectMode:  Effects[0],
		Confidence:  ConfidenceUnconfirmed,
	}
}

// BrightnessPercent maps 0-255 to the panel's 5-100 percent scale.
func BrightnessPercent(b int) int {
	pct := b * 100 / 255
	return max(5, min(100, pct))
}

func stateToStored(s DisplayState) display.StoredState {
	return display.StoredState{
		IsOn:            s.IsOn,
		Brightness:      s.Brightness,
		ScreenFlipped:   s.ScreenFlipped,
		CurrentMode:     s.CurrentMode,
		ClockStyle:      s.ClockStyle,
		EffectMode:      s.EffectMode,
		LastMessage:     s.LastMessage,
		ChronographMode: s.ChronographMode,
		UpdatedAt:       s.UpdatedAt,
	}
}

func stateFromStored(s display.StoredState) DisplayState {
	return DisplayState{
		IsOn:            s.IsOn,
		Brightness:      s.Brightness,
		ScreenFlipped:   s.ScreenFlipped,
		CurrentMode:     s.CurrentMode,
		ClockStyle:      s.ClockStyle,
		EffectMode:      s.EffectMode,
		LastMessage:     s.LastMessage,
		ChronographMode: s.ChronographMode,
		Confidence:      ConfidenceUnconfirmed,
		UpdatedAt:       s.UpdatedAt,
	}
}
