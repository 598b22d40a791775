package session

import "errors"

// Sentinel errors for display sessions.
//
//	if errors.Is(err, session.ErrNotConnected) {
//	    // ack NOT_CONNECTED, wait for the next refresh
//	}
var (
	// ErrConnectionFailed indicates the BLE connection attempt failed or timed out.
	ErrConnectionFailed = errors.New("session: connection failed")

	// ErrCommandFailed indicates the transport rejected a command.
	// The session has been disconnected and state is unchanged.
	ErrCommandFailed = errors.New("session: command failed")

	// ErrNotConnected indicates a command was issued while disconnected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrInvalidArgument indicates a command parameter is out of range.
	ErrInvalidArgument = errors.New("session: invalid argument")

	// ErrUnknownCommand indicates a command name outside the command vocabulary.
	ErrUnknownCommand = errors.New("session: unknown command")

	// ErrUpdateFailed indicates the retry ceiling was reached; the display is
	// reported unavailable until a connect succeeds.
	ErrUpdateFailed = errors.New("session: update failed")

	// ErrSessionNotFound indicates no session exists for a display ID.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionExists indicates a session already exists for a display ID or MAC.
	ErrSessionExists = errors.New("session: already exists")
)
