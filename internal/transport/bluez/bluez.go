// Package bluez is the BlueZ D-Bus backend.
//
// It drives the system bluetoothd through org.bluez.Device1 and
// org.bluez.GattCharacteristic1, so it needs no HCI privileges beyond
// access to the system bus.
package bluez

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
	dbusProperties    = "org.freedesktop.DBus.Properties"

	servicesResolvedTimeout = 15 * time.Second
	pollInterval            = 200 * time.Millisecond

	defaultAdapter      = "hci0"
	defaultWriteTimeout = 5 * time.Second
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Logger is the optional logging interface.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config selects the host controller and write timeout.
type Config struct {
	Adapter      string
	WriteTimeout time.Duration
}

// Backend implements transport.Backend over BlueZ.
type Backend struct {
	cfg    Config
	logger Logger
}

// New creates a BlueZ backend. The system bus is opened lazily on first use.
func New(cfg Config) *Backend {
	if cfg.Adapter == "" {
		cfg.Adapter = defaultAdapter
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Backend{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (b *Backend) SetLogger(l Logger) {
	b.logger = l
}

// Dial connects to the panel at address and resolves its write characteristic.
func (b *Backend) Dial(ctx context.Context, address string) (transport.Link, error) {
	// The system bus connection is shared and cached by godbus; never close it.
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}

	devicePath := DevicePath(b.cfg.Adapter, address)
	device := conn.Object(bluezBus, devicePath)

	connected, err := getProperty[bool](conn, devicePath, bluezDevice1, "Connected")
	if err != nil || !connected {
		if call := device.CallWithContext(ctx, bluezDevice1+".Connect", 0); call.Err != nil {
			return nil, fmt.Errorf("BlueZ Connect %s: %w", address, call.Err)
		}
	}

	if err := waitServicesResolved(ctx, conn, devicePath); err != nil {
		device.Call(bluezDevice1+".Disconnect", 0)
		return nil, err
	}

	var objects managedObjects
	call := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err == nil {
		call.Err = call.Store(&objects)
	}
	if call.Err != nil {
		device.Call(bluezDevice1+".Disconnect", 0)
		return nil, fmt.Errorf("listing GATT objects: %w", call.Err)
	}

	charPath, ok := findCharacteristic(objects, devicePath, transport.WriteCharUUID)
	if !ok {
		device.Call(bluezDevice1+".Disconnect", 0)
		return nil, transport.ErrCharacteristicNotFound
	}

	l := &link{
		conn:         conn,
		devicePath:   devicePath,
		charPath:     charPath,
		writeTimeout: b.cfg.WriteTimeout,
		signals:      make(chan *dbus.Signal, 16),
		done:         make(chan struct{}),
		connected:    true,
	}
	if err := l.watch(); err != nil {
		b.logger.Warn("cannot watch BlueZ connection state", "address", address, "error", err)
	}

	b.logger.Debug("BlueZ link open", "address", address, "characteristic", charPath)
	return l, nil
}

// Scan runs discovery on the adapter for timeout and returns iDotMatrix panels.
func (b *Backend) Scan(ctx context.Context, timeout time.Duration) ([]transport.Discovered, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}

	adapter := conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+b.cfg.Adapter))
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapter.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return nil, fmt.Errorf("setting discovery filter: %w", call.Err)
	}

	if call := adapter.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		// Discovery may already be running; fall through to cached devices.
		b.logger.Debug("StartDiscovery failed, reading cached devices", "error", call.Err)
	} else {
		scanCtx, cancel := context.WithTimeout(ctx, timeout)
		<-scanCtx.Done()
		cancel()
		adapter.Call(bluezAdapter1+".StopDiscovery", 0)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var objects managedObjects
	call := conn.Object(bluezBus, "/").CallWithContext(ctx, dbusObjectManager+".GetManagedObjects", 0)
	if call.Err == nil {
		call.Err = call.Store(&objects)
	}
	if call.Err != nil {
		return nil, fmt.Errorf("listing devices: %w", call.Err)
	}

	return discoveredDevices(objects, b.cfg.Adapter), nil
}

// EnsurePowered checks that bluetoothd has registered the adapter and powers
// it on when it is off.
func (b *Backend) EnsurePowered(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}

	adapter := conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+b.cfg.Adapter))
	var powered dbus.Variant
	if err := adapter.CallWithContext(ctx, dbusProperties+".Get", 0, bluezAdapter1, "Powered").Store(&powered); err != nil {
		return fmt.Errorf("reading %s power state: %w", b.cfg.Adapter, err)
	}
	if on, _ := powered.Value().(bool); on {
		return nil
	}

	b.logger.Warn("adapter is powered off, powering on", "adapter", b.cfg.Adapter)
	if call := adapter.CallWithContext(ctx, dbusProperties+".Set", 0, bluezAdapter1, "Powered", dbus.MakeVariant(true)); call.Err != nil {
		return fmt.Errorf("powering on %s: %w", b.cfg.Adapter, call.Err)
	}
	return nil
}

// DevicePath converts a MAC address to its BlueZ object path.
// Example: "AA:BB:CC:DD:EE:FF" on hci0 is "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter, address string) dbus.ObjectPath {
	devAddr := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, devAddr))
}

// findCharacteristic returns the path of the characteristic with uuid under devicePath.
func findCharacteristic(objects managedObjects, devicePath dbus.ObjectPath, uuid string) (dbus.ObjectPath, bool) {
	prefix := string(devicePath) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if v, ok := props["UUID"].Value().(string); ok && strings.EqualFold(v, uuid) {
			return path, true
		}
	}
	return "", false
}

// discoveredDevices extracts iDotMatrix devices known to adapter.
func discoveredDevices(objects managedObjects, adapter string) []transport.Discovered {
	prefix := "/org/bluez/" + adapter + "/"

	var found []transport.Discovered
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		name, _ := props["Name"].Value().(string)
		if !transport.MatchesName(name) {
			continue
		}
		address, ok := props["Address"].Value().(string)
		if !ok {
			continue
		}
		rssi, _ := props["RSSI"].Value().(int16)
		found = append(found, transport.Discovered{Address: address, Name: name, RSSI: rssi})
	}
	return found
}

func waitServicesResolved(ctx context.Context, conn *dbus.Conn, devicePath dbus.ObjectPath) error {
	deadline := time.After(servicesResolvedTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("service discovery timed out after %v", servicesResolvedTimeout)
		case <-ticker.C:
			resolved, err := getProperty[bool](conn, devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}

// link writes frames to the panel's command characteristic.
//
// Connection state is tracked from Device1 PropertiesChanged signals, so
// Connected is a plain field read.
type link struct {
	conn         *dbus.Conn
	devicePath   dbus.ObjectPath
	charPath     dbus.ObjectPath
	writeTimeout time.Duration

	signals chan *dbus.Signal
	done    chan struct{}

	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

func (l *link) matchOptions() []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(l.devicePath),
		dbus.WithMatchInterface(dbusProperties),
		dbus.WithMatchMember("PropertiesChanged"),
	}
}

func (l *link) watch() error {
	if err := l.conn.AddMatchSignal(l.matchOptions()...); err != nil {
		return err
	}
	l.conn.Signal(l.signals)

	go func() {
		for {
			select {
			case <-l.done:
				return
			case sig := <-l.signals:
				if sig == nil || sig.Path != l.devicePath || len(sig.Body) < 2 {
					continue
				}
				if iface, _ := sig.Body[0].(string); iface != bluezDevice1 {
					continue
				}
				changed, _ := sig.Body[1].(map[string]dbus.Variant)
				if v, ok := changed["Connected"]; ok {
					if c, ok := v.Value().(bool); ok && !c {
						l.mu.Lock()
						l.connected = false
						l.mu.Unlock()
					}
				}
			}
		}
	}()
	return nil
}

func (l *link) Write(ctx context.Context, frame []byte) error {
	if !l.Connected() {
		return transport.ErrNotConnected
	}

	char := l.conn.Object(bluezBus, l.charPath)
	for _, pkt := range transport.Packets(frame, transport.PacketSize) {
		wctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
		call := char.CallWithContext(wctx, bluezGattChar+".WriteValue", 0, pkt, map[string]dbus.Variant{
			"type": dbus.MakeVariant("command"),
		})
		cancel()
		if call.Err != nil {
			return fmt.Errorf("%w: %w", transport.ErrWriteFailed, call.Err)
		}
	}
	return nil
}

func (l *link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()

		close(l.done)
		l.conn.RemoveSignal(l.signals)
		_ = l.conn.RemoveMatchSignal(l.matchOptions()...)

		if call := l.conn.Object(bluezBus, l.devicePath).Call(bluezDevice1+".Disconnect", 0); call.Err != nil {
			err = fmt.Errorf("BlueZ Disconnect: %w", call.Err)
		}
	})
	return err
}
