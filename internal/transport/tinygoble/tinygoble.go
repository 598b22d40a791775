//go:build linux

package tinygoble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// Backend implements transport.Backend over tinygo.org/x/bluetooth.
type Backend struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	links map[string]*link // by upper-case MAC
}

// New creates a backend on the default adapter. The adapter is enabled on first use.
func New() *Backend {
	return &Backend{
		adapter: bluetooth.DefaultAdapter,
		links:   make(map[string]*link),
	}
}

func (b *Backend) enable() error {
	b.enableOnce.Do(func() {
		if err := b.adapter.Enable(); err != nil {
			b.enableErr = fmt.Errorf("enabling bluetooth adapter: %w", err)
			return
		}
		b.adapter.SetConnectHandler(b.onConnectChange)
	})
	return b.enableErr
}

// onConnectChange keeps link state current so Connected needs no I/O.
func (b *Backend) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := strings.ToUpper(device.Address.String())

	b.mu.Lock()
	l, ok := b.links[key]
	b.mu.Unlock()
	if ok {
		l.markDisconnected()
	}
}

// Dial connects to address and locates the write characteristic.
func (b *Backend) Dial(ctx context.Context, address string) (transport.Link, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", address, err)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		d, err := b.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{})
		done <- result{d, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		// The connect keeps running in the background; release it when it lands.
		go func() {
			if r := <-done; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", address, r.err)
		}
		device = r.device
	}

	char, err := writeCharacteristic(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	l := &link{
		device:    device,
		char:      char,
		connected: true,
		release: func() {
			b.mu.Lock()
			delete(b.links, strings.ToUpper(address))
			b.mu.Unlock()
		},
	}
	b.mu.Lock()
	b.links[strings.ToUpper(address)] = l
	b.mu.Unlock()
	return l, nil
}

func writeCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.New16BitUUID(transport.ServiceUUID16)})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{bluetooth.New16BitUUID(transport.WriteCharUUID16)})
		if err != nil {
			continue
		}
		if len(chars) > 0 {
			return chars[0], nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, transport.ErrCharacteristicNotFound
}

// Scan listens for advertisements for timeout and returns iDotMatrix panels.
func (b *Backend) Scan(ctx context.Context, timeout time.Duration) ([]transport.Discovered, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[string]transport.Discovered)

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- b.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			name := r.LocalName()
			if !transport.MatchesName(name) {
				return
			}
			addr := strings.ToUpper(r.Address.String())
			mu.Lock()
			seen[addr] = transport.Discovered{Address: addr, Name: name, RSSI: r.RSSI}
			mu.Unlock()
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
	case <-ctx.Done():
		_ = b.adapter.StopScan()
		<-scanErr
		return nil, ctx.Err()
	case <-timer.C:
		if err := b.adapter.StopScan(); err != nil {
			return nil, fmt.Errorf("stopping scan: %w", err)
		}
		<-scanErr
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
	device  bluetooth.Device
	char    bluetooth.DeviceCharacteristic
	release func()

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

func (l *link) markDisconnected() {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

func (l *link) Write(ctx context.Context, frame []byte) error {
	if !l.Connected() {
		return transport.ErrNotConnected
	}
	for _, pkt := range transport.Packets(frame, transport.PacketSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.char.WriteWithoutResponse(pkt); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrWriteFailed, err)
		}
	}
	return nil
}

func (l *link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.markDisconnected()
		l.release()
		err = l.device.Disconnect()
	})
	return err
}
