package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// maxParallel bounds RefreshAll and SyncAllTimes fan-out. BLE controllers
// handle only a few concurrent connection attempts well.
const maxParallel = 4

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger shared by the manager and its sessions.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithStateStore persists state snapshots and restores them on Add.
func WithStateStore(s StateStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithObserver receives command and connection measurements.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithTimeSyncOnConnect pushes the current time after every successful connect.
func WithTimeSyncOnConnect(enabled bool) Option {
	return func(m *Manager) { m.syncTimeOnConnect = enabled }
}

// loop is a running refresh goroutine.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the sessions of all configured displays and their refresh
// loops. It is created once by main and shared by the MQTT bridge and the API.
type Manager struct {
	driver            transport.Driver
	clock             clockwork.Clock
	logger            Logger
	observer          Observer
	store             StateStore
	syncTimeOnConnect bool

	mu       sync.RWMutex
	sessions map[string]*Session
	loops    map[string]*loop
	runCtx   context.Context
	cancel   context.CancelFunc

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// NewManager creates a Manager that opens links through driver.
func NewManager(driver transport.Driver, opts ...Option) *Manager {
	m := &Manager{
		driver:   driver,
		clock:    clockwork.NewRealClock(),
		logger:   noopLogger{},
		sessions: make(map[string]*Session),
		loops:    make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSink registers an event sink. Sinks are called in registration order.
func (m *Manager) AddSink(sink EventSink) {
	m.sinksMu.Lock()
	defer m.sinksMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

func (m *Manager) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	m.sinksMu.RLock()
	sinks := make([]EventSink, len(m.sinks))
	copy(sinks, m.sinks)
	m.sinksMu.RUnlock()

	for _, e := range events {
		for _, sink := range sinks {
			sink.HandleEvent(e)
		}
	}
}

// Add creates a session for d, restoring its last saved state if any, and
// emits display_added. When the manager is running, the session's refresh
// loop starts at once.
func (m *Manager) Add(ctx context.Context, d display.Display) (*Session, error) {
	s, err := m.add(ctx, d)
	if err != nil {
		return nil, err
	}
	m.dispatch([]Event{{
		Type:       EventDisplayAdded,
		DisplayID:  d.ID,
		MACAddress: d.MACAddress,
		Timestamp:  m.clock.Now(),
	}})
	m.logger.Info("display session added", "device_id", d.ID, "mac_address", d.MACAddress)
	return s, nil
}

func (m *Manager) add(ctx context.Context, d display.Display) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[d.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, d.ID)
	}
	for _, s := range m.sessions {
		if s.Display().MACAddress == d.MACAddress {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, d.MACAddress)
		}
	}

	s := newSession(d, m)
	if m.store != nil {
		stored, err := m.store.LoadState(ctx, d.ID)
		switch {
		case err == nil:
			s.restore(*stored)
		case errors.Is(err, display.ErrStateNotFound):
		default:
			m.logger.Warn("loading display state failed", "device_id", d.ID, "error", err)
		}
	}
	m.sessions[d.ID] = s

	if m.runCtx != nil {
		m.startLoopLocked(s)
	}
	return s, nil
}

// Remove stops the session's loop, disconnects it and emits display_removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	l := m.loops[id]
	delete(m.loops, id)
	m.mu.Unlock()

	if l != nil {
		l.cancel()
		<-l.done
	}
	if err := s.Disconnect(ctx); err != nil {
		m.logger.Warn("disconnecting removed display failed", "device_id", id, "error", err)
	}

	d := s.Display()
	m.dispatch([]Event{{
		Type:       EventDisplayRemoved,
		DisplayID:  d.ID,
		MACAddress: d.MACAddress,
		Timestamp:  m.clock.Now(),
	}})
	m.logger.Info("display session removed", "device_id", id)
	return nil
}

// Update replaces the display record of a session, e.g. after its options
// changed. A running refresh loop is restarted with the new interval.
func (m *Manager) Update(d display.Display) error {
	m.mu.Lock()
	s, ok := m.sessions[d.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, d.ID)
	}
	s.setDisplay(d)
	l := m.loops[d.ID]
	delete(m.loops, d.ID)
	m.mu.Unlock()

	if l == nil {
		return nil
	}
	l.cancel()
	<-l.done

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil && m.sessions[d.ID] == s {
		m.startLoopLocked(s)
	}
	return nil
}

// Get returns the session for a display ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns all sessions ordered by display name, then ID.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Display(), out[j].Display()
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return out
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches one refresh loop per session. Each loop refreshes
// immediately and then every ScanInterval until Stop or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return errors.New("session: manager already started")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	for _, s := range m.sessions {
		m.startLoopLocked(s)
	}
	m.logger.Info("session manager started", "displays", len(m.sessions))
	return nil
}

// Stop cancels every refresh loop, waits for them to exit and then
// disconnects all sessions concurrently.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	loops := m.loops
	m.loops = make(map[string]*loop)
	m.runCtx, m.cancel = nil, nil
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, l := range loops {
		<-l.done
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			return s.Disconnect(gctx)
		})
	}
	err := g.Wait()
	m.logger.Info("session manager stopped")
	return err
}

// RefreshAll runs Refresh on every session and returns the failures keyed
// by display ID. An empty map means every display is healthy.
func (m *Manager) RefreshAll(ctx context.Context) map[string]error {
	return m.each(ctx, func(ctx context.Context, s *Session) error {
		return s.Refresh(ctx)
	})
}

// SyncAllTimes pushes the same instant to every connected display.
// Disconnected displays are skipped.
func (m *Manager) SyncAllTimes(ctx context.Context) map[string]error {
	now := m.clock.Now()
	return m.each(ctx, func(ctx context.Context, s *Session) error {
		if s.connState() != Connected {
			return nil
		}
		return s.syncAt(ctx, now)
	})
}

func (m *Manager) each(ctx context.Context, fn func(context.Context, *Session) error) map[string]error {
	sessions := m.List()

	var mu sync.Mutex
	failures := make(map[string]error)

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for _, s := range sessions {
		g.Go(func() error {
			if err := fn(ctx, s); err != nil {
				mu.Lock()
				failures[s.ID()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are collected per session
	return failures
}

// startLoopLocked must be called with m.mu held and m.runCtx set.
func (m *Manager) startLoopLocked(s *Session) {
	ctx, cancel := context.WithCancel(m.runCtx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	m.loops[s.ID()] = l
	go m.runLoop(ctx, s, l.done)
}

func (m *Manager) runLoop(ctx context.Context, s *Session, done chan<- struct{}) {
	defer close(done)

	m.refresh(ctx, s)

	ticker := m.clock.NewTicker(s.Display().ScanIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.refresh(ctx, s)
		}
	}
}

func (m *Manager) refresh(ctx context.Context, s *Session) {
	err := s.Refresh(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, ErrUpdateFailed):
		m.logger.Debug("display still unavailable", "device_id", s.ID(), "error", err)
	default:
		m.logger.Info("display refresh failed", "device_id", s.ID(), "error", err)
	}
}
