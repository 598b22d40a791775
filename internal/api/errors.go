package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/idotmatrix-bridge/internal/bridges/idotmatrix"
	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// isValidationError reports whether err is a display validation failure.
func isValidationError(err error) bool {
	return errors.Is(err, display.ErrInvalidMAC) ||
		errors.Is(err, display.ErrInvalidName) ||
		errors.Is(err, display.ErrInvalidOptions)
}

// writeSessionError maps a session error to an HTTP status. The code field
// carries the same error code the MQTT acknowledgement would.
func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrUnknownCommand),
		errors.Is(err, session.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrUpdateFailed),
		errors.Is(err, session.ErrConnectionFailed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCommandFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, idotmatrix.ErrorCode(err), err.Error())
}
