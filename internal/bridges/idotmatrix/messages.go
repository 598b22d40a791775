package idotmatrix

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// MQTT message types exchanged with Home Assistant or any other controller.

// CommandMessage asks a display to run a command.
// Topic: {prefix}/command/{display_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. The bridge assigns
	// one when it is empty.
	ID string `json:"id,omitempty"`

	// DeviceID is the display ID. It defaults to the one in the topic.
	DeviceID string `json:"device_id,omitempty"`

	// Command is one of the session command names, e.g. "set_brightness".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"brightness": 128} for set_brightness
	//   {"text": "Hello", "color": [255, 0, 0]} for display_text
	Parameters session.Params `json:"parameters,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the display.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the display did not complete the command in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/{display_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeNotConnected      = "NOT_CONNECTED"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeUnavailable       = "DEVICE_UNAVAILABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps a command error to its acknowledgement code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, session.ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, session.ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrDeviceMismatch):
		return ErrCodeInvalidMessage
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, session.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, session.ErrUpdateFailed):
		return ErrCodeUnavailable
	case errors.Is(err, session.ErrConnectionFailed):
		return ErrCodeConnectionFailed
	case errors.Is(err, session.ErrCommandFailed):
		return ErrCodeCommandFailed
	default:
		return ErrCodeBridgeError
	}
}

// NewAckMessage creates an acknowledgement. A nil err means accepted.
func NewAckMessage(cmd CommandMessage, err error, now time.Time) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Timestamp: now.UTC(),
	}
	if err == nil {
		return ack
	}

	code := ErrorCode(err)
	ack.Status = AckFailed
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// StateMessage is the retained view of one display.
// Topic: {prefix}/state/{display_id}
// QoS: configured, Retained: Yes
type StateMessage struct {
	DeviceID     string                  `json:"device_id"`
	Name         string                  `json:"name"`
	MACAddress   string                  `json:"mac_address"`
	Timestamp    time.Time               `json:"timestamp"`
	Connection   session.ConnectionState `json:"connection"`
	Available    bool                    `json:"available"`
	UpdateFailed bool                    `json:"update_failed"`
	RetryCount   int                     `json:"retry_count"`
	Confidence   session.Confidence      `json:"confidence"`
	State        session.DisplayState    `json:"state"`
}

// NewStateMessage creates a state message from a session status.
func NewStateMessage(st session.Status, now time.Time) StateMessage {
	return StateMessage{
		DeviceID:     st.DisplayID,
		Name:         st.Name,
		MACAddress:   st.MACAddress,
		Timestamp:    now.UTC(),
		Connection:   st.Connection,
		Available:    st.Available,
		UpdateFailed: st.UpdateFailed,
		RetryCount:   st.RetryCount,
		Confidence:   session.ConfidenceUnconfirmed,
		State:        st.State,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge and every display are reachable.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT is down or some display is unavailable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: {prefix}/bridge/health
// QoS: configured, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Displays      DisplayCounts     `json:"displays"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// DisplayCounts summarises session states.
type DisplayCounts struct {
	Managed     int `json:"managed"`
	Connected   int `json:"connected"`
	Unavailable int `json:"unavailable"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	EventsPublished  uint64 `json:"events_published"`
}

// CountDisplays summarises a set of session statuses.
func CountDisplays(statuses []session.Status) DisplayCounts {
	c := DisplayCounts{Managed: len(statuses)}
	for _, st := range statuses {
		if st.Connection == session.Connected {
			c.Connected++
		}
		if !st.Available {
			c.Unavailable++
		}
	}
	return c
}
