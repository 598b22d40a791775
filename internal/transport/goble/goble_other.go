//go:build !linux

package goble

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// ErrUnsupported is returned on platforms without the backend.
var ErrUnsupported = errors.New("goble: only supported on linux")

// Config selects the HCI controller.
type Config struct {
	Adapter string
}

// Backend is unavailable on this platform.
type Backend struct{}

// New returns a backend whose methods fail with ErrUnsupported.
func New(Config) *Backend { return &Backend{} }

func (*Backend) Dial(context.Context, string) (transport.Link, error) {
	return nil, ErrUnsupported
}

func (*Backend) Scan(context.Context, time.Duration) ([]transport.Discovered, error) {
	return nil, ErrUnsupported
}
