package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/bridges/idotmatrix"
	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// discoveredDisplay is one scan result that is not configured yet.
type discoveredDisplay struct {
	transport.Discovered
	SuggestedName string `json:"suggested_name"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]session.Status, 0, s.sessions.Count())
	for _, sess := range s.sessions.List() {
		statuses = append(statuses, sess.Status())
	}

	resp := map[string]any{
		"status":            "ok",
		"version":           s.version,
		"displays":          idotmatrix.CountDisplays(statuses),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.health != nil {
		resp["bridge"] = s.health.Snapshot()
	}
	if s.daemon != nil {
		resp["bluetoothd"] = s.daemon.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDiscovery scans for advertising panels and returns the ones not yet configured.
//
// Query parameters:
//   - timeout: scan duration in seconds (default from ble.scan_timeout, max 60)
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "BLE scanning is not available")
		return
	}

	timeout := s.scanTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			writeBadRequest(w, "timeout must be a positive number of seconds")
			return
		}
		timeout = time.Duration(min(secs, int(maxScanTimeout/time.Second))) * time.Second
	}

	found, err := s.scanner.Scan(r.Context(), timeout)
	if err != nil {
		s.logger.Warn("BLE scan failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "BLE scan failed: "+err.Error())
		return
	}

	out := make([]discoveredDisplay, 0, len(found))
	for _, f := range found {
		mac, err := display.NormalizeMAC(f.Address)
		if err != nil {
			continue
		}
		if s.registry.IsConfigured(r.Context(), mac) {
			continue
		}
		f.Address = mac
		out = append(out, discoveredDisplay{Discovered: f, SuggestedName: display.DefaultName(mac)})
	}
	s.logger.Info("BLE scan finished", "found", len(found), "unconfigured", len(out))

	writeJSON(w, http.StatusOK, map[string]any{"displays": out, "count": len(out)})
}
