//go:build linux

package goble

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// Config selects the HCI controller.
type Config struct {
	Adapter string // e.g. "hci0"
}

// Backend implements transport.Backend over go-ble.
type Backend struct {
	cfg Config

	openOnce sync.Once
	dev      ble.Device
	openErr  error
}

// New creates a backend. The HCI device is opened on first use.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) device() (ble.Device, error) {
	b.openOnce.Do(func() {
		dev, err := linux.NewDevice(ble.OptDeviceID(deviceID(b.cfg.Adapter)))
		if err != nil {
			b.openErr = fmt.Errorf("opening HCI device %s: %w", b.cfg.Adapter, err)
			return
		}
		b.dev = dev
	})
	return b.dev, b.openErr
}

// deviceID maps "hci1" to 1. Anything unparsable is controller 0.
func deviceID(adapter string) int {
	id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// Dial connects to address and resolves the write characteristic.
func (b *Backend) Dial(ctx context.Context, address string) (transport.Link, error) {
	dev, err := b.device()
	if err != nil {
		return nil, err
	}

	cln, err := dev.Dial(ctx, ble.NewAddr(strings.ToLower(address)))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}

	profile, err := cln.DiscoverProfile(true)
	if err != nil {
		_ = cln.CancelConnection()
		return nil, fmt.Errorf("discovering profile: %w", err)
	}

	char := profile.FindCharacteristic(ble.NewCharacteristic(ble.UUID16(transport.WriteCharUUID16)))
	if char == nil {
		_ = cln.CancelConnection()
		return nil, transport.ErrCharacteristicNotFound
	}

	return &link{client: cln, char: char}, nil
}

// Scan listens for advertisements for timeout and returns iDotMatrix panels.
func (b *Backend) Scan(ctx context.Context, timeout time.Duration) ([]transport.Discovered, error) {
	dev, err := b.device()
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]transport.Discovered)

	err = dev.Scan(scanCtx, false, func(a ble.Advertisement) {
		if !transport.MatchesName(a.LocalName()) {
			return
		}
		addr := strings.ToUpper(a.Addr().String())
		mu.Lock()
		seen[addr] = transport.Discovered{Address: addr, Name: a.LocalName(), RSSI: int16(a.RSSI())}
		mu.Unlock()
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	found := make([]transport.Discovered, 0, len(seen))
	for _, d := range seen {
		found = append(found, d)
	}
	return found, nil
}

type link struct {
	client ble.Client
	char   *ble.Characteristic

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (l *link) Write(ctx context.Context, frame []byte) error {
	if !l.Connected() {
		return transport.ErrNotConnected
	}
	for _, pkt := range transport.Packets(frame, transport.PacketSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.client.WriteCharacteristic(l.char, pkt, true); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrWriteFailed, err)
		}
	}
	return nil
}

// Connected reads the client's disconnect channel without blocking.
func (l *link) Connected() bool {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}
	select {
	case <-l.client.Disconnected():
		return false
	default:
		return true
	}
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		err = l.client.CancelConnection()
	})
	return err
}
