package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// displayResponse is a display record together with its live session status.
type displayResponse struct {
	display.Display
	Status *session.Status `json:"status,omitempty"`
}

// createDisplayRequest is the body of POST /displays.
type createDisplayRequest struct {
	Name       string `json:"name"`
	MACAddress string `json:"mac_address"`
	display.Options
}

// updateDisplayRequest is the body of PATCH /displays/{id}. Absent fields keep their value.
type updateDisplayRequest struct {
	Name              *string `json:"name"`
	ScanInterval      *int    `json:"scan_interval"`
	ConnectionTimeout *int    `json:"connection_timeout"`
	RetryAttempts     *int    `json:"retry_attempts"`
}

// commandRequest is the body of POST /displays/{id}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters session.Params `json:"parameters"`
}

func (s *Server) withStatus(d display.Display) displayResponse {
	resp := displayResponse{Display: d}
	if sess, err := s.sessions.Get(d.ID); err == nil {
		st := sess.Status()
		resp.Status = &st
	}
	return resp
}

// handleListDisplays returns all configured displays with their session status.
func (s *Server) handleListDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := s.registry.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list displays")
		return
	}

	out := make([]displayResponse, 0, len(displays))
	for _, d := range displays {
		out = append(out, s.withStatus(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"displays": out, "count": len(out)})
}

// handleGetDisplay returns a single display by ID.
func (s *Server) handleGetDisplay(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDisplay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.withStatus(*d))
}

// handleCreateDisplay registers a display and starts its session.
func (s *Server) handleCreateDisplay(w http.ResponseWriter, r *http.Request) {
	var req createDisplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &display.Display{
		Name:       req.Name,
		MACAddress: req.MACAddress,
		Options:    req.Options,
		Source:     display.SourceAPI,
	}
	if err := s.registry.Create(r.Context(), d); err != nil {
		switch {
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, display.ErrDuplicateMAC):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			writeInternalError(w, "failed to create display")
		}
		return
	}

	if _, err := s.sessions.Add(r.Context(), *d); err != nil {
		// Keep the registry and the session set in step.
		//nolint:errcheck // Best-effort rollback; the add error is what the client needs
		s.registry.Delete(context.WithoutCancel(r.Context()), d.ID)
		if errors.Is(err, session.ErrSessionExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, "failed to start display session")
		return
	}

	writeJSON(w, http.StatusCreated, s.withStatus(*d))
}

// handleUpdateDisplay applies a partial update and restarts the session loop.
func (s *Server) handleUpdateDisplay(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDisplay(w, r)
	if !ok {
		return
	}

	var req updateDisplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.ScanInterval != nil {
		d.ScanInterval = *req.ScanInterval
	}
	if req.ConnectionTimeout != nil {
		d.ConnectionTimeout = *req.ConnectionTimeout
	}
	if req.RetryAttempts != nil {
		d.RetryAttempts = *req.RetryAttempts
	}

	if err := s.registry.Update(r.Context(), d); err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		writeInternalError(w, "failed to update display")
		return
	}
	if err := s.sessions.Update(*d); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		writeInternalError(w, "failed to update display session")
		return
	}

	writeJSON(w, http.StatusOK, s.withStatus(*d))
}

// handleDeleteDisplay stops the session and removes the display.
func (s *Server) handleDeleteDisplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.sessions.Remove(r.Context(), id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		writeInternalError(w, "failed to stop display session")
		return
	}
	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, display.ErrNotFound) {
			writeNotFound(w, "display not found")
			return
		}
		writeInternalError(w, "failed to delete display")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetDisplayState returns the optimistic state of a display.
func (s *Server) handleGetDisplayState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	st := sess.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  st.DisplayID,
		"connection": st.Connection,
		"available":  st.Available,
		"state":      st.State,
	})
}

// handleDisplayCommand runs one command from the shared command vocabulary.
func (s *Server) handleDisplayCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	if err := sess.Execute(ctx, req.Command, req.Parameters); err != nil {
		s.logger.Info("REST command failed", "device_id", sess.ID(), "command", req.Command, "error", err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleRefreshDisplay runs one health check immediately.
func (s *Server) handleRefreshDisplay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) lookupDisplay(w http.ResponseWriter, r *http.Request) (*display.Display, bool) {
	d, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, display.ErrNotFound) {
			writeNotFound(w, "display not found")
			return nil, false
		}
		writeInternalError(w, "failed to get display")
		return nil, false
	}
	return d, true
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "display not found")
		return nil, false
	}
	return sess, true
}
