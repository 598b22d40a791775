// Package adapters selects the BLE backend named by configuration.
package adapters

import (
	"fmt"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/bluez"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/goble"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/simulator"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/tinygoble"
)

// Driver names accepted in ble.driver.
const (
	DriverBlueZ     = "bluez"
	DriverTinyGo    = "tinygo"
	DriverGoBLE     = "goble"
	DriverSimulator = "simulator"
)

// Logger is the logging interface backends may use.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// New returns the backend for cfg.Driver.
func New(cfg config.BLEConfig, logger Logger) (transport.Backend, error) {
	switch cfg.Driver {
	case DriverBlueZ, "":
		b := bluez.New(bluez.Config{
			Adapter:      cfg.Adapter,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		})
		if logger != nil {
			b.SetLogger(logger)
		}
		return b, nil
	case DriverTinyGo:
		return tinygoble.New(), nil
	case DriverGoBLE:
		return goble.New(goble.Config{Adapter: cfg.Adapter}), nil
	case DriverSimulator:
		return simulator.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownDriver, cfg.Driver)
	}
}
