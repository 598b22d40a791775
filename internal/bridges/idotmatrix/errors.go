package idotmatrix

import "errors"

// Domain errors for the iDotMatrix bridge package.
var (
	// ErrInvalidTopic is returned when a command arrives on a topic that does
	// not name a display.
	ErrInvalidTopic = errors.New("idotmatrix: invalid topic")

	// ErrInvalidMessage is returned when a command payload cannot be decoded.
	ErrInvalidMessage = errors.New("idotmatrix: invalid message")

	// ErrDeviceMismatch is returned when a command's device_id disagrees with its topic.
	ErrDeviceMismatch = errors.New("idotmatrix: device_id does not match topic")
)
