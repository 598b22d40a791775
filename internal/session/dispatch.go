package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// Command names accepted by Execute. MQTT and the HTTP API share them.
const (
	CommandTurnOn        = "turn_on"
	CommandTurnOff       = "turn_off"
	CommandSetBrightness = "set_brightness"
	CommandFlipScreen    = "flip_screen"
	CommandDisplayText   = "display_text"
	CommandSetClockStyle = "set_clock_style"
	CommandSyncTime      = "sync_time"
	CommandDisplayEffect = "display_effect"
	CommandChronograph   = "chronograph"
	CommandFreezeScreen  = "freeze_screen"
	CommandResetDevice   = "reset_device"
	CommandDisplayImage  = "display_image"
	CommandRefresh       = "refresh"
)

// Commands lists every command name in a stable order.
var Commands = []string{
	CommandTurnOn, CommandTurnOff, CommandSetBrightness, CommandFlipScreen,
	CommandDisplayText, CommandSetClockStyle, CommandSyncTime, CommandDisplayEffect,
	CommandChronograph, CommandFreezeScreen, CommandResetDevice, CommandDisplayImage,
	CommandRefresh,
}

// Params holds decoded JSON command parameters.
type Params map[string]any

// Execute runs a named command with loosely typed parameters, as received
// from MQTT or HTTP. Parameter errors wrap ErrInvalidArgument and unknown
// names wrap ErrUnknownCommand; neither touches the transport.
//
//	err := s.Execute(ctx, "set_brightness", session.Params{"brightness": 128.0})
func (s *Session) Execute(ctx context.Context, command string, params Params) error {
	switch command {
	case CommandTurnOn:
		return s.TurnOn(ctx)
	case CommandTurnOff:
		return s.TurnOff(ctx)
	case CommandSetBrightness:
		b, err := params.Int("brightness")
		if err != nil {
			return err
		}
		return s.SetBrightness(ctx, b)
	case CommandFlipScreen:
		f, err := params.Bool("flipped")
		if err != nil {
			return err
		}
		return s.FlipScreen(ctx, f)
	case CommandDisplayText:
		req, err := params.textRequest()
		if err != nil {
			return err
		}
		return s.DisplayText(ctx, req)
	case CommandSetClockStyle:
		style, err := params.Index("style", ClockStyles)
		if err != nil {
			return err
		}
		return s.SetClockStyle(ctx, style)
	case CommandSyncTime:
		return s.SyncTime(ctx)
	case CommandDisplayEffect:
		effect, err := params.Index("effect", Effects)
		if err != nil {
			return err
		}
		return s.DisplayEffect(ctx, effect)
	case CommandChronograph:
		action, err := params.String("action")
		if err != nil {
			return err
		}
		return s.Chronograph(ctx, ChronographAction(strings.ToLower(action)))
	case CommandFreezeScreen:
		return s.FreezeScreen(ctx)
	case CommandResetDevice:
		return s.ResetDevice(ctx)
	case CommandDisplayImage:
		path, err := params.String("path")
		if err != nil {
			return err
		}
		return s.DisplayImage(ctx, path)
	case CommandRefresh:
		return s.Refresh(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

func (p Params) textRequest() (TextRequest, error) {
	var req TextRequest
	var err error
	if req.Text, err = p.String("text"); err != nil {
		return req, err
	}
	if _, ok := p["font_size"]; ok {
		if req.FontSize, err = p.Int("font_size"); err != nil {
			return req, err
		}
	}
	if _, ok := p["speed"]; ok {
		if req.Speed, err = p.Int("speed"); err != nil {
			return req, err
		}
	}
	if _, ok := p["color"]; ok {
		c, err := p.Color("color")
		if err != nil {
			return req, err
		}
		req.Color = &c
	}
	return req, nil
}

// Int returns an integral parameter. JSON numbers arrive as float64 and
// Home Assistant templates often render numbers as strings; both are accepted.
func (p Params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidArgument, key, v)
	}
	return n, nil
}

// Bool returns a boolean parameter. "on"/"off" strings are accepted.
func (p Params) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %q must be a boolean, got %v", ErrInvalidArgument, key, v)
}

// String returns a string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %v", ErrInvalidArgument, key, v)
	}
	return s, nil
}

// Index resolves a parameter given either as an index or as one of names.
func (p Params) Index(key string, names []string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	if s, isString := v.(string); isString {
		if i := slices.Index(names, strings.ToLower(s)); i >= 0 {
			return i, nil
		}
	}
	n, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be one of %s or an index, got %v",
			ErrInvalidArgument, key, strings.Join(names, ", "), v)
	}
	return n, nil
}

// Color accepts [r, g, b], {"r":..,"g":..,"b":..} or "#rrggbb".
func (p Params) Color(key string) (transport.RGB, error) {
	v, ok := p[key]
	if !ok {
		return transport.RGB{}, fmt.Errorf("%w: missing %q", ErrInvalidArgument, key)
	}
	bad := fmt.Errorf("%w: %q must be [r,g,b], {r,g,b} or #rrggbb, got %v", ErrInvalidArgument, key, v)

	var parts []any
	switch c := v.(type) {
	case []any:
		parts = c
	case []int:
		for _, n := range c {
			parts = append(parts, n)
		}
	case map[string]any:
		parts = []any{c["r"], c["g"], c["b"]}
	case string:
		hex := strings.TrimPrefix(c, "#")
		if len(hex) != 6 {
			return transport.RGB{}, bad
		}
		n, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return transport.RGB{}, bad
		}
		return transport.RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
	default:
		return transport.RGB{}, bad
	}

	if len(parts) != 3 {
		return transport.RGB{}, bad
	}
	var rgb [3]uint8
	for i, part := range parts {
		n, ok := toInt(part)
		if !ok || n < 0 || n > 255 {
			return transport.RGB{}, bad
		}
		rgb[i] = uint8(n)
	}
	return transport.RGB{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
