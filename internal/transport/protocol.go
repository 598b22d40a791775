package transport

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// iDotMatrix command frames.
//
// Every frame starts with its total length as a little-endian uint16,
// followed by a command group and sub-command:
//
//	[2B] length (LE)
//	[1B] group
//	[1B] command
//	[NB] arguments
const (
	groupTime        = 0x01
	groupBrightness  = 0x04
	groupFlip        = 0x06
	groupPower       = 0x07
	groupChronograph = 0x09
	groupClock       = 0x06
	groupControl     = 0x03

	cmdSet    = 0x80
	cmdToggle = 0x01

	// clockShowDate and clockHour24 are OR'd into the clock style byte.
	clockShowDate = 0x80
	clockHour24   = 0x40

	effectMarker = 0x5a

	// MaxFrameChunk is the largest slice of a text frame sent in one write.
	MaxFrameChunk = 4096
)

// Limits accepted by the panel.
const (
	MaxClockStyle   = 7
	MaxEffectIndex  = 7
	MaxPaletteSize  = 7
	MinBrightness   = 5
	MaxBrightness   = 100
	MaxChronoMode   = 3
	maxFrameLength  = 0xffff
	textGlyphMarker = 0x02
)

func frame(args ...byte) []byte {
	b := make([]byte, 2+len(args))
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(b)))
	copy(b[2:], args)
	return b
}

// PowerFrame switches the screen on or off.
func PowerFrame(on bool) []byte {
	return frame(groupPower, cmdToggle, boolByte(on))
}

// BrightnessFrame sets the backlight level in percent (5-100).
func BrightnessFrame(percent int) ([]byte, error) {
	if percent < MinBrightness || percent > MaxBrightness {
		return nil, fmt.Errorf("%w: brightness %d outside %d-%d", ErrInvalidFrame, percent, MinBrightness, MaxBrightness)
	}
	return frame(groupBrightness, cmdSet, byte(percent)), nil
}

// FlipFrame rotates the screen by 180 degrees when flipped.
func FlipFrame(flipped bool) []byte {
	return frame(groupFlip, cmdSet, boolByte(flipped))
}

// FreezeFrame holds the current picture.
func FreezeFrame() []byte {
	return frame(groupControl, 0x00)
}

// ResetFrame restores factory display settings.
func ResetFrame() []byte {
	return frame(groupControl, cmdSet)
}

// TimeFrame sets the panel clock. Weekday runs 1 (Monday) to 7 (Sunday).
func TimeFrame(t time.Time) []byte {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return frame(groupTime, cmdSet,
		byte(t.Year()%100),
		byte(t.Month()),
		byte(t.Day()),
		byte(weekday),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	)
}

// ClockFrame selects a clock face, showing the date in 24-hour format.
func ClockFrame(style int, color RGB) ([]byte, error) {
	if style < 0 || style > MaxClockStyle {
		return nil, fmt.Errorf("%w: clock style %d", ErrInvalidFrame, style)
	}
	return frame(groupClock, cmdToggle,
		byte(style)|clockShowDate|clockHour24,
		color.R, color.G, color.B,
	), nil
}

// ChronographFrame drives the stopwatch: 0 reset, 1 start, 2 pause, 3 continue.
func ChronographFrame(mode int) ([]byte, error) {
	if mode < 0 || mode > MaxChronoMode {
		return nil, fmt.Errorf("%w: chronograph mode %d", ErrInvalidFrame, mode)
	}
	return frame(groupChronograph, cmdSet, byte(mode)), nil
}

// EffectFrame starts a built-in animation over a colour palette.
func EffectFrame(index int, palette []RGB) ([]byte, error) {
	if index < 0 || index > MaxEffectIndex {
		return nil, fmt.Errorf("%w: effect %d", ErrInvalidFrame, index)
	}
	if len(palette) == 0 || len(palette) > MaxPaletteSize {
		return nil, fmt.Errorf("%w: palette needs 1-%d colours, got %d", ErrInvalidFrame, MaxPaletteSize, len(palette))
	}

	args := make([]byte, 0, 5+3*len(palette))
	args = append(args, groupControl, 0x02, byte(index), effectMarker, byte(len(palette)))
	for _, c := range palette {
		args = append(args, c.R, c.G, c.B)
	}
	return frame(args...), nil
}

// Text frame layout:
//
//	header (16B):
//	  [2B]  total length (LE)
//	  [3B]  03 00 00
//	  [4B]  payload length (LE)
//	  [4B]  CRC-32 of payload (LE)
//	  [3B]  00 00 0c
//	payload:
//	  [2B]  glyph count (LE)
//	  [2B]  00 01
//	  [1B]  mode (1 = scroll left)
//	  [1B]  speed
//	  [1B]  colour mode (1 = fixed)
//	  [3B]  text colour
//	  [1B]  background mode (0 = none)
//	  [3B]  background colour
//	  glyphs: 02 ff ff ff + 64-byte 16x32 bitmap, repeated
const (
	textHeaderLen   = 16
	textModeScroll  = 0x01
	textColorFixed  = 0x01
	textBgNone      = 0x00
	textHeaderFlags = 0x0c
)

// TextFrames encodes a scrolling message and splits it into chunks of at
// most MaxFrameChunk bytes.
func TextFrames(opts TextOptions) ([][]byte, error) {
	if opts.Text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidFrame)
	}
	if opts.Speed < 1 || opts.Speed > 100 {
		return nil, fmt.Errorf("%w: speed %d outside 1-100", ErrInvalidFrame, opts.Speed)
	}

	glyphs := RenderGlyphs(opts.Text, opts.FontSize)

	payload := make([]byte, 0, 14+len(glyphs)*(4+glyphBytes))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(glyphs)))
	payload = append(payload,
		0x00, 0x01,
		textModeScroll,
		byte(opts.Speed),
		textColorFixed,
		opts.Color.R, opts.Color.G, opts.Color.B,
		textBgNone,
		0x00, 0x00, 0x00,
	)
	for _, g := range glyphs {
		payload = append(payload, textGlyphMarker, 0xff, 0xff, 0xff)
		payload = append(payload, g...)
	}

	total := textHeaderLen + len(payload)
	if total > maxFrameLength {
		return nil, fmt.Errorf("%w: text too long (%d bytes encoded)", ErrInvalidFrame, total)
	}

	header := make([]byte, textHeaderLen)
	binary.LittleEndian.PutUint16(header[0:2], uint16(total))
	header[2] = 0x03
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[9:13], crc32.ChecksumIEEE(payload))
	header[15] = textHeaderFlags

	return Packets(append(header, payload...), MaxFrameChunk), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
