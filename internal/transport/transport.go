package transport

import (
	"context"
	"strings"
	"time"
)

// iDotMatrix GATT identifiers.
const (
	ServiceUUID     = "000000fa-0000-1000-8000-00805f9b34fb"
	WriteCharUUID   = "0000fa02-0000-1000-8000-00805f9b34fb"
	ServiceUUID16   = 0x00fa
	WriteCharUUID16 = 0xfa02

	// NamePrefix is the advertised local-name prefix of iDotMatrix panels.
	NamePrefix = "IDM-"

	// PacketSize is the largest single GATT write the adapters issue.
	// Longer frames are split; the panel reassembles by the length header.
	PacketSize = 244
)

// RGB is a 24-bit colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Common colours.
var (
	White = RGB{255, 255, 255}
	Red   = RGB{255, 0, 0}
	Green = RGB{0, 255, 0}
	Blue  = RGB{0, 0, 255}
)

// TextOptions describes a scrolling text message.
type TextOptions struct {
	Text     string
	FontSize int // glyph height in pixels, 8-32
	Color    RGB
	Speed    int // 1-100
}

// Discovered is one advertising iDotMatrix panel found by a scan.
type Discovered struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Display is the control surface of one connected panel.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize commands per display.
type Display interface {
	SetPower(ctx context.Context, on bool) error
	SetBrightness(ctx context.Context, percent int) error
	Flip(ctx context.Context, flipped bool) error
	DrawText(ctx context.Context, opts TextOptions) error
	SetClock(ctx context.Context, style int, color RGB) error
	SetTime(ctx context.Context, t time.Time) error
	ShowEffect(ctx context.Context, index int, palette []RGB) error
	Chronograph(ctx context.Context, mode int) error
	Freeze(ctx context.Context) error
	Reset(ctx context.Context) error

	// IsConnected reports the adapter's current link state without any I/O.
	IsConnected() bool

	// Disconnect releases the link. It is safe to call more than once.
	Disconnect(ctx context.Context) error
}

// Driver opens displays by MAC address.
type Driver interface {
	Connect(ctx context.Context, address string) (Display, error)
}

// Scanner finds advertising panels.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]Discovered, error)
}

// Link is a raw write channel to one panel's command characteristic.
// Each BLE library contributes one Link implementation.
type Link interface {
	Write(ctx context.Context, frame []byte) error
	Connected() bool
	Close() error
}

// Dialer opens Links by MAC address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Link, error)
}

// Backend is a BLE library adapter: it can both dial and scan.
type Backend interface {
	Dialer
	Scanner
}

// MatchesName reports whether an advertised local name belongs to an iDotMatrix panel.
func MatchesName(name string) bool {
	return strings.HasPrefix(name, NamePrefix)
}

// Packets splits frame into writes of at most size bytes.
func Packets(frame []byte, size int) [][]byte {
	if size <= 0 || len(frame) <= size {
		return [][]byte{frame}
	}
	packets := make([][]byte, 0, (len(frame)+size-1)/size)
	for len(frame) > 0 {
		n := min(size, len(frame))
		packets = append(packets, frame[:n])
		frame = frame[n:]
	}
	return packets
}
