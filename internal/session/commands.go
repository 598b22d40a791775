package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// Text defaults and limits.
const (
	DefaultFontSize = 12
	MinFontSize     = 8
	MaxFontSize     = 32
	DefaultSpeed    = 50
	MinSpeed        = 1
	MaxSpeed        = 100
)

// ChronographAction is a stopwatch control.
type ChronographAction string

const (
	ChronographStart ChronographAction = "start"
	ChronographStop  ChronographAction = "stop"
	ChronographReset ChronographAction = "reset"
)

var chronographModes = map[ChronographAction]int{
	ChronographReset: 0,
	ChronographStart: 1,
	ChronographStop:  2,
}

// effectPalette is the colour set every built-in effect is started with.
var effectPalette = []transport.RGB{transport.Red, transport.Green, transport.Blue}

// TextRequest is a scrolling text message. Zero FontSize, Speed and a nil
// Color take the defaults (12, 50, white).
type TextRequest struct {
	Text     string         `json:"text"`
	FontSize int            `json:"font_size,omitempty"`
	Color    *transport.RGB `json:"color,omitempty"`
	Speed    int            `json:"speed,omitempty"`
}

// TurnOn switches the screen on.
func (s *Session) TurnOn(ctx context.Context) error {
	return s.sendCommand(ctx, "turn_on",
		func(ctx context.Context, h transport.Display) error { return h.SetPower(ctx, true) },
		change{
			event:  EventDisplayOn,
			mutate: func(st *DisplayState) { st.IsOn = true },
		})
}

// TurnOff switches the screen off.
func (s *Session) TurnOff(ctx context.Context) error {
	return s.sendCommand(ctx, "turn_off",
		func(ctx context.Context, h transport.Display) error { return h.SetPower(ctx, false) },
		change{
			event:  EventDisplayOff,
			mutate: func(st *DisplayState) { st.IsOn = false },
		})
}

// SetBrightness sets brightness on the 0-255 scale.
func (s *Session) SetBrightness(ctx context.Context, brightness int) error {
	if brightness < 0 || brightness > 255 {
		return fmt.Errorf("%w: brightness %d outside 0-255", ErrInvalidArgument, brightness)
	}
	pct := BrightnessPercent(brightness)
	return s.sendCommand(ctx, "set_brightness",
		func(ctx context.Context, h transport.Display) error { return h.SetBrightness(ctx, pct) },
		change{
			event:  EventBrightnessChanged,
			data:   map[string]any{"brightness": brightness, "brightness_percent": pct},
			mutate: func(st *DisplayState) { st.Brightness = brightness },
		})
}

// FlipScreen rotates the picture by 180 degrees.
func (s *Session) FlipScreen(ctx context.Context, flipped bool) error {
	return s.sendCommand(ctx, "flip_screen",
		func(ctx context.Context, h transport.Display) error { return h.Flip(ctx, flipped) },
		change{
			event:  EventScreenFlipped,
			data:   map[string]any{"flipped": flipped},
			mutate: func(st *DisplayState) { st.ScreenFlipped = flipped },
		})
}

// DisplayText shows a scrolling message.
func (s *Session) DisplayText(ctx context.Context, req TextRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidArgument)
	}
	if req.FontSize == 0 {
		req.FontSize = DefaultFontSize
	}
	if req.Speed == 0 {
		req.Speed = DefaultSpeed
	}
	color := transport.White
	if req.Color != nil {
		color = *req.Color
	}
	if req.FontSize < MinFontSize || req.FontSize > MaxFontSize {
		return fmt.Errorf("%w: font size %d outside %d-%d", ErrInvalidArgument, req.FontSize, MinFontSize, MaxFontSize)
	}
	if req.Speed < MinSpeed || req.Speed > MaxSpeed {
		return fmt.Errorf("%w: speed %d outside %d-%d", ErrInvalidArgument, req.Speed, MinSpeed, MaxSpeed)
	}

	opts := transport.TextOptions{Text: req.Text, FontSize: req.FontSize, Color: color, Speed: req.Speed}
	return s.sendCommand(ctx, "display_text",
		func(ctx context.Context, h transport.Display) error { return h.DrawText(ctx, opts) },
		change{
			event: EventTextDisplayed,
			data: map[string]any{
				"message":   req.Text,
				"font_size": req.FontSize,
				"color":     []int{int(color.R), int(color.G), int(color.B)},
				"speed":     req.Speed,
			},
			mutate: func(st *DisplayState) {
				st.LastMessage = req.Text
				st.CurrentMode = ModeText
			},
		})
}

// SetClockStyle shows a clock face by index (see ClockStyles).
func (s *Session) SetClockStyle(ctx context.Context, style int) error {
	if style < 0 || style >= len(ClockStyles) {
		return fmt.Errorf("%w: clock style %d outside 0-%d", ErrInvalidArgument, style, len(ClockStyles)-1)
	}
	name := ClockStyles[style]
	return s.sendCommand(ctx, "set_clock_style",
		func(ctx context.Context, h transport.Display) error { return h.SetClock(ctx, style, transport.White) },
		change{
			event: EventClockModeSet,
			data:  map[string]any{"style": name},
			mutate: func(st *DisplayState) {
				st.ClockStyle = name
				st.CurrentMode = ModeClock
			},
		})
}

// SyncTime pushes the current wall-clock time to the panel.
func (s *Session) SyncTime(ctx context.Context) error {
	now := s.clock.Now()
	return s.sendCommand(ctx, "sync_time",
		func(ctx context.Context, h transport.Display) error { return h.SetTime(ctx, now) },
		syncedChange(now))
}

// DisplayEffect starts a built-in animation by index (see Effects).
func (s *Session) DisplayEffect(ctx context.Context, effect int) error {
	if effect < 0 || effect >= len(Effects) {
		return fmt.Errorf("%w: effect %d outside 0-%d", ErrInvalidArgument, effect, len(Effects)-1)
	}
	name := Effects[effect]
	return s.sendCommand(ctx, "display_effect",
		func(ctx context.Context, h transport.Display) error { return h.ShowEffect(ctx, effect, effectPalette) },
		change{
			event: EventEffectDisplayed,
			data:  map[string]any{"effect": name},
			mutate: func(st *DisplayState) {
				st.EffectMode = name
				st.CurrentMode = ModeEffect
			},
		})
}

// Chronograph starts, stops or resets the stopwatch. Only start switches
// the display into chronograph mode.
func (s *Session) Chronograph(ctx context.Context, action ChronographAction) error {
	mode, ok := chronographModes[action]
	if !ok {
		return fmt.Errorf("%w: chronograph action %q", ErrInvalidArgument, action)
	}
	return s.sendCommand(ctx, "chronograph",
		func(ctx context.Context, h transport.Display) error { return h.Chronograph(ctx, mode) },
		change{
			event: EventChronographPrefix + string(action),
			mutate: func(st *DisplayState) {
				st.ChronographMode = string(action)
				if action == ChronographStart {
					st.CurrentMode = ModeChronograph
				}
			},
		})
}

// FreezeScreen holds the current picture. State is unchanged.
func (s *Session) FreezeScreen(ctx context.Context) error {
	return s.sendCommand(ctx, "freeze_screen",
		func(ctx context.Context, h transport.Display) error { return h.Freeze(ctx) },
		change{event: EventScreenFrozen})
}

// ResetDevice restores the panel's factory display settings. The panel
// comes back on, so state returns to the defaults with IsOn set.
func (s *Session) ResetDevice(ctx context.Context) error {
	return s.sendCommand(ctx, "reset_device",
		func(ctx context.Context, h transport.Display) error { return h.Reset(ctx) },
		change{
			event: EventDeviceReset,
			mutate: func(st *DisplayState) {
				*st = DefaultState()
				st.IsOn = true
			},
		})
}

// DisplayImage records that an image was requested. No BLE library in use
// supports image upload, so nothing is sent; the session must still be
// connected and the mode changes to image.
func (s *Session) DisplayImage(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: image path is empty", ErrInvalidArgument)
	}
	s.logger.Warn("image upload is not supported; recording mode only", "device_id", s.ID(), "path", path)
	return s.sendCommand(ctx, "display_image", nil, change{
		event:  EventImageDisplayed,
		data:   map[string]any{"path": path},
		mutate: func(st *DisplayState) { st.CurrentMode = ModeImage },
	})
}

// syncAt is used by Manager.SyncAllTimes so every panel gets the same instant.
func (s *Session) syncAt(ctx context.Context, now time.Time) error {
	return s.sendCommand(ctx, "sync_time",
		func(ctx context.Context, h transport.Display) error { return h.SetTime(ctx, now) },
		syncedChange(now))
}
