package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// Session owns the BLE connection to one display.
//
// Connect, Refresh, Disconnect and every command take the same lock, so at
// most one operation touches the transport at a time. Status and State read
// a separate snapshot and never wait behind a slow BLE write.
type Session struct {
	driver   transport.Driver
	clock    clockwork.Clock
	logger   Logger
	observer Observer
	store    StateStore
	emit     func([]Event)

	syncTimeOnConnect bool

	mu     sync.Mutex
	handle transport.Display

	statusMu     sync.RWMutex
	display      display.Display
	conn         ConnectionState
	retries      int
	updateFailed bool
	lastErr      string
	state        DisplayState
}

// Status is a point-in-time view of a session.
type Status struct {
	DisplayID    string          `json:"device_id"`
	Name         string          `json:"name"`
	MACAddress   string          `json:"mac_address"`
	Connection   ConnectionState `json:"connection"`
	Available    bool            `json:"available"`
	UpdateFailed bool            `json:"update_failed"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	State        DisplayState    `json:"state"`
}

func newSession(d display.Display, m *Manager) *Session {
	return &Session{
		driver:            m.driver,
		clock:             m.clock,
		logger:            m.logger,
		observer:          m.observer,
		store:             m.store,
		emit:              m.dispatch,
		syncTimeOnConnect: m.syncTimeOnConnect,
		display:           d,
		conn:              Disconnected,
		state:             DefaultState(),
	}
}

// ID returns the display ID.
func (s *Session) ID() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.display.ID
}

// Display returns the display record the session runs with.
func (s *Session) Display() display.Display {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.display
}

// State returns the current optimistic display state.
func (s *Session) State() DisplayState {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.state
}

// Status returns a snapshot of connection and display state.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return Status{
		DisplayID:    s.display.ID,
		Name:         s.display.Name,
		MACAddress:   s.display.MACAddress,
		Connection:   s.conn,
		Available:    !s.updateFailed,
		UpdateFailed: s.updateFailed,
		RetryCount:   s.retries,
		LastError:    s.lastErr,
		State:        s.state,
	}
}

func (s *Session) setDisplay(d display.Display) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.display = d
}

func (s *Session) restore(st display.StoredState) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.state = stateFromStored(st)
}

// Connect opens the BLE link, bounded by the display's connection timeout.
// A successful connect clears any persistent failure and resets the retry count.
func (s *Session) Connect(ctx context.Context) error {
	var out []Event
	s.mu.Lock()
	err := s.connectLocked(ctx, &out)
	s.mu.Unlock()
	s.emit(out)
	return err
}

// Disconnect releases the BLE link. The session always ends Disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	var out []Event
	s.mu.Lock()
	s.releaseLocked(ctx, &out)
	s.mu.Unlock()
	s.emit(out)
	return nil
}

// Refresh is the periodic health check.
//
// A connected session is probed with the transport's IsConnected, which
// performs no I/O. A disconnected session, or one whose link was lost, gets
// one reconnect attempt. Each failed attempt counts towards the display's
// retry ceiling; reaching it sets the persistent failure and every later
// failed Refresh returns ErrUpdateFailed until a connect succeeds.
func (s *Session) Refresh(ctx context.Context) error {
	var out []Event
	s.mu.Lock()
	err := s.refreshLocked(ctx, &out)
	s.mu.Unlock()
	s.emit(out)
	return err
}

func (s *Session) refreshLocked(ctx context.Context, out *[]Event) error {
	if s.connState() == Connected {
		if s.handle != nil && s.handle.IsConnected() {
			return nil
		}
		s.logger.Warn("display link lost", "device_id", s.ID())
		s.releaseLocked(ctx, out)
	}

	err := s.connectLocked(ctx, out)
	if err == nil {
		return nil
	}

	s.statusMu.Lock()
	limit := s.display.RetryAttempts
	s.retries = min(s.retries+1, limit)
	attempts := s.retries
	justFailed := attempts >= limit && !s.updateFailed
	if attempts >= limit {
		s.updateFailed = true
	}
	failed := s.updateFailed
	s.statusMu.Unlock()

	if justFailed {
		s.logger.Error("display unavailable after retries", "device_id", s.ID(), "attempts", attempts, "error", err)
		*out = append(*out, s.connectionEvent())
	}
	if failed {
		return fmt.Errorf("%w: %d attempts: %w", ErrUpdateFailed, attempts, err)
	}
	return err
}

func (s *Session) connectLocked(ctx context.Context, out *[]Event) error {
	if s.connState() == Connected && s.handle != nil && s.handle.IsConnected() {
		return nil
	}

	if s.handle != nil || s.connState() == Connected {
		s.releaseLocked(ctx, out)
	}

	// Connecting is transient: sinks and the observer only see the outcome,
	// and a failed attempt from Disconnected reports nothing.
	d := s.Display()
	s.setConnSilent(Connecting)

	cctx, cancel := context.WithTimeout(ctx, d.ConnectionTimeoutDuration())
	defer cancel()

	h, err := s.driver.Connect(cctx, d.MACAddress)
	if err != nil {
		s.statusMu.Lock()
		s.lastErr = err.Error()
		s.statusMu.Unlock()
		s.setConnSilent(Disconnected)
		s.logger.Debug("display connect failed", "device_id", d.ID, "mac_address", d.MACAddress, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, d.MACAddress, err)
	}

	s.handle = h
	s.statusMu.Lock()
	s.retries = 0
	s.updateFailed = false
	s.lastErr = ""
	s.statusMu.Unlock()
	s.setConn(Connected, out)
	s.logger.Info("display connected", "device_id", d.ID, "mac_address", d.MACAddress)

	if s.syncTimeOnConnect {
		now := s.clock.Now()
		if err := s.sendLocked(ctx, "sync_time", func(ctx context.Context, h transport.Display) error {
			return h.SetTime(ctx, now)
		}, syncedChange(now), out); err != nil {
			s.logger.Warn("time sync on connect failed", "device_id", d.ID, "error", err)
		}
	}
	return nil
}

func (s *Session) releaseLocked(ctx context.Context, out *[]Event) {
	if s.handle != nil {
		if err := s.handle.Disconnect(ctx); err != nil {
			s.logger.Warn("display disconnect failed", "device_id", s.ID(), "error", err)
		}
		s.handle = nil
	}
	s.setConn(Disconnected, out)
}

// change describes the state mutation and event of a successful command.
type change struct {
	event  string
	data   map[string]any
	mutate func(*DisplayState)
}

type operation func(ctx context.Context, h transport.Display) error

// sendCommand runs op under the session lock and applies c only if op succeeds.
func (s *Session) sendCommand(ctx context.Context, name string, op operation, c change) error {
	var out []Event
	s.mu.Lock()
	err := s.sendLocked(ctx, name, op, c, &out)
	s.mu.Unlock()
	s.emit(out)
	return err
}

func (s *Session) sendLocked(ctx context.Context, name string, op operation, c change, out *[]Event) error {
	d := s.Display()
	if s.connState() != Connected || s.handle == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, d.MACAddress)
	}

	if op != nil {
		start := s.clock.Now()
		err := op(ctx, s.handle)
		if s.observer != nil {
			s.observer.CommandCompleted(d.ID, d.MACAddress, name, err, s.clock.Since(start))
		}
		if errors.Is(err, transport.ErrInvalidFrame) {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		if err != nil {
			s.logger.Warn("display command failed", "device_id", d.ID, "command", name, "error", err)
			s.statusMu.Lock()
			s.lastErr = err.Error()
			s.statusMu.Unlock()
			s.releaseLocked(ctx, out)
			return fmt.Errorf("%w: %s: %w", ErrCommandFailed, name, err)
		}
	}

	now := s.clock.Now()
	s.statusMu.Lock()
	if c.mutate != nil {
		c.mutate(&s.state)
		s.state.Confidence = ConfidenceUnconfirmed
		s.state.UpdatedAt = now
	}
	snapshot := s.state
	s.statusMu.Unlock()

	if c.mutate != nil && s.store != nil {
		if err := s.store.SaveState(ctx, d.ID, stateToStored(snapshot)); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("saving display state failed", "device_id", d.ID, "error", err)
		}
	}

	if c.event != "" {
		*out = append(*out, Event{
			Type:       c.event,
			DisplayID:  d.ID,
			MACAddress: d.MACAddress,
			Data:       c.data,
			Timestamp:  now,
		})
	}
	s.logger.Debug("display command sent", "device_id", d.ID, "command", name)
	return nil
}

func (s *Session) connState() ConnectionState {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.conn
}

func (s *Session) setConn(state ConnectionState, out *[]Event) {
	s.statusMu.Lock()
	if s.conn == state {
		s.statusMu.Unlock()
		return
	}
	s.conn = state
	retries := s.retries
	d := s.display
	s.statusMu.Unlock()

	if s.observer != nil {
		s.observer.ConnectionChanged(d.ID, d.MACAddress, string(state), retries)
	}
	*out = append(*out, s.connectionEvent())
}

func (s *Session) setConnSilent(state ConnectionState) {
	s.statusMu.Lock()
	s.conn = state
	s.statusMu.Unlock()
}

func (s *Session) connectionEvent() Event {
	st := s.Status()
	return Event{
		Type:       EventConnectionChanged,
		DisplayID:  st.DisplayID,
		MACAddress: st.MACAddress,
		Data: map[string]any{
			"state":         string(st.Connection),
			"available":     st.Available,
			"update_failed": st.UpdateFailed,
			"retry_count":   st.RetryCount,
		},
		Timestamp: s.clock.Now(),
	}
}

func syncedChange(now time.Time) change {
	return change{
		event: EventTimeSynced,
		data:  map[string]any{"time": now.Format(time.RFC3339)},
	}
}
