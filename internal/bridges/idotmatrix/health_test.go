package idotmatrix

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

func newTestReporter(pub HealthPublisher, statuses []session.Status, clock clockwork.Clock) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "bridge-1",
		Version:   "1.2.3",
		Topic:     "idotmatrix/bridge/health",
		QoS:       1,
		Interval:  10 * time.Second,
		Publisher: pub,
		Displays:  func() []session.Status { return statuses },
		Clock:     clock,
	})
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		statuses  []session.Status
		want      HealthStatus
	}{
		{"healthy", true, []session.Status{{Available: true}}, HealthHealthy},
		{"no displays", true, nil, HealthHealthy},
		{"mqtt down", false, []session.Status{{Available: true}}, HealthDegraded},
		{"display unavailable", true, []session.Status{{Available: true}, {Available: false}}, HealthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.SetConnected(tt.connected)
			h := newTestReporter(pub, tt.statuses, clockwork.NewFakeClockAt(testEpoch))

			msg := h.Snapshot()
			if msg.Status != tt.want {
				t.Errorf("status = %q, want %q (reason %q)", msg.Status, tt.want, msg.Reason)
			}
		})
	}
}

func TestHealthReporter_Loop(t *testing.T) {
	pub := NewMockMQTTClient()
	clock := clockwork.NewFakeClockAt(testEpoch)
	h := newTestReporter(pub, []session.Status{{Available: true}}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("reporter never waited on its ticker: %v", err)
	}
	clock.Advance(10 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for len(pub.GetPublished()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.Stop()
	h.Stop()

	pubs := pub.GetPublished()
	if len(pubs) < 3 {
		t.Fatalf("published %d health messages, want at least 3", len(pubs))
	}
	last := pubs[len(pubs)-1]
	if !last.Retained {
		t.Error("health should be retained")
	}
	var msg HealthMessage
	if err := json.Unmarshal(last.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Status != HealthStopping {
		t.Errorf("final status = %q, want stopping", msg.Status)
	}
	if msg.UptimeSeconds != 10 {
		t.Errorf("uptime = %d, want 10", msg.UptimeSeconds)
	}
}
