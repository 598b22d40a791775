package transport

import "errors"

// Sentinel errors for the transport layer.
var (
	// ErrNotConnected indicates the link to the display is closed or was lost.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrCharacteristicNotFound indicates the display exposes no write characteristic.
	ErrCharacteristicNotFound = errors.New("transport: write characteristic not found")

	// ErrWriteFailed indicates a frame could not be written to the display.
	ErrWriteFailed = errors.New("transport: write failed")

	// ErrInvalidFrame indicates a command parameter cannot be encoded.
	ErrInvalidFrame = errors.New("transport: invalid frame parameter")

	// ErrUnknownDriver indicates ble.driver names no known adapter.
	ErrUnknownDriver = errors.New("transport: unknown BLE driver")
)
