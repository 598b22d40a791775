package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCommands   = "display_commands"
	measurementConnection = "display_connection"
)

// CommandCompleted records one display command and how long the BLE write took.
func (c *Client) CommandCompleted(displayID, mac, command string, err error, took time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(displayID, mac, command, err, took, time.Now()))
}

// ConnectionChanged records a session connection-state transition.
func (c *Client) ConnectionChanged(displayID, mac, state string, retries int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(displayID, mac, state, retries, time.Now()))
}

func commandPoint(displayID, mac, command string, err error, took time.Duration, at time.Time) *write.Point {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	return write.NewPoint(
		measurementCommands,
		map[string]string{
			"display_id":  displayID,
			"mac_address": mac,
			"command":     command,
			"result":      result,
		},
		map[string]interface{}{
			"duration_ms": float64(took.Microseconds()) / 1000,
			"count":       1,
		},
		at,
	)
}

func connectionPoint(displayID, mac, state string, retries int, at time.Time) *write.Point {
	connected := 0
	if state == "connected" {
		connected = 1
	}
	return write.NewPoint(
		measurementConnection,
		map[string]string{
			"display_id":  displayID,
			"mac_address": mac,
			"state":       state,
		},
		map[string]interface{}{
			"connected":   connected,
			"retry_count": retries,
		},
		at,
	)
}
