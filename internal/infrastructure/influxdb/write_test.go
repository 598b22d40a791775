package influxdb

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestCommandPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		name       string
		err        error
		wantResult string
	}{
		{"success", nil, "result=ok"},
		{"failure", errors.New("write timeout"), "result=failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := commandPoint("kitchen", "AA:BB:CC:DD:EE:FF", "set_brightness", tt.err, 12500*time.Microsecond, at)
			line := write.PointToLineProtocol(p, time.Second)

			if !strings.HasPrefix(line, measurementCommands+",") {
				t.Errorf("line = %q, want measurement %q", line, measurementCommands)
			}
			for _, want := range []string{"command=set_brightness", "display_id=kitchen", tt.wantResult, "duration_ms=12.5", "count=1i"} {
				if !strings.Contains(line, want) {
					t.Errorf("line = %q, missing %q", line, want)
				}
			}
		})
	}
}

func TestConnectionPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		state         string
		wantConnected string
	}{
		{"connected", "connected=1i"},
		{"disconnected", "connected=0i"},
		{"connecting", "connected=0i"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			line := write.PointToLineProtocol(connectionPoint("kitchen", "AA:BB:CC:DD:EE:FF", tt.state, 3, at), time.Second)

			for _, want := range []string{"state=" + tt.state, tt.wantConnected, "retry_count=3i"} {
				if !strings.Contains(line, want) {
					t.Errorf("line = %q, missing %q", line, want)
				}
			}
		})
	}
}
