package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/idotmatrix-bridge/internal/audit"
)

// handleListEvents returns recorded session events, newest first.
//
// Query parameters:
//   - device_id: only events for this display
//   - event_type: only events of this type
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DisplayID: q.Get("device_id"),
		EventType: q.Get("event_type"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
