package display

import "errors"

// Domain errors for the display package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, display.ErrDuplicateMAC) {
//	    // already configured
//	}
var (
	// ErrNotFound is returned when a display ID or MAC does not exist.
	ErrNotFound = errors.New("display: not found")

	// ErrInvalidMAC is returned when a MAC address fails validation.
	ErrInvalidMAC = errors.New("display: invalid MAC address")

	// ErrDuplicateMAC is returned when a display with the same MAC is already configured.
	ErrDuplicateMAC = errors.New("display: MAC address already configured")

	// ErrInvalidOptions is returned when per-display options are out of range.
	ErrInvalidOptions = errors.New("display: invalid options")

	// ErrInvalidName is returned when a display name is empty or too long.
	ErrInvalidName = errors.New("display: invalid name")

	// ErrStateNotFound is returned when no state snapshot has been saved for a display.
	ErrStateNotFound = errors.New("display: no saved state")
)
