package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

var errMock = errors.New("mock: injected failure")

// mockDriver hands out mockDisplays and can be told to fail connects.
type mockDriver struct {
	mu          sync.Mutex
	failConnect int
	connects    int
	displays    []*mockDisplay
}

func (d *mockDriver) Connect(ctx context.Context, address string) (transport.Display, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.failConnect != 0 {
		if d.failConnect > 0 {
			d.failConnect--
		}
		return nil, errMock
	}
	h := &mockDisplay{address: address, connected: true}
	d.displays = append(d.displays, h)
	return h, nil
}

// setFailConnect makes the next n connects fail; -1 fails forever.
func (d *mockDriver) setFailConnect(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failConnect = n
}

func (d *mockDriver) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *mockDriver) last() *mockDisplay {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.displays) == 0 {
		return nil
	}
	return d.displays[len(d.displays)-1]
}

// mockDisplay records every transport call.
type mockDisplay struct {
	address string

	mu          sync.Mutex
	connected   bool
	calls       []string
	failNext    error
	probes      int
	disconnects int
	lastPercent int
	lastText    transport.TextOptions
	lastStyle   int
	lastEffect  int
	lastPalette []transport.RGB
	lastChrono  int
	lastTime    time.Time
	lastFlipped bool
	lastPowerOn bool
}

func (m *mockDisplay) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

func (m *mockDisplay) SetPower(_ context.Context, on bool) error {
	m.mu.Lock()
	m.lastPowerOn = on
	m.mu.Unlock()
	return m.record("SetPower")
}

func (m *mockDisplay) SetBrightness(_ context.Context, percent int) error {
	m.mu.Lock()
	m.lastPercent = percent
	m.mu.Unlock()
	return m.record("SetBrightness")
}

func (m *mockDisplay) Flip(_ context.Context, flipped bool) error {
	m.mu.Lock()
	m.lastFlipped = flipped
	m.mu.Unlock()
	return m.record("Flip")
}

func (m *mockDisplay) DrawText(_ context.Context, opts transport.TextOptions) error {
	m.mu.Lock()
	m.lastText = opts
	m.mu.Unlock()
	return m.record("DrawText")
}

func (m *mockDisplay) SetClock(_ context.Context, style int, _ transport.RGB) error {
	m.mu.Lock()
	m.lastStyle = style
	m.mu.Unlock()
	return m.record("SetClock")
}

func (m *mockDisplay) SetTime(_ context.Context, t time.Time) error {
	m.mu.Lock()
	m.lastTime = t
	m.mu.Unlock()
	return m.record("SetTime")
}

func (m *mockDisplay) ShowEffect(_ context.Context, index int, palette []transport.RGB) error {
	m.mu.Lock()
	m.lastEffect = index
	m.lastPalette = palette
	m.mu.Unlock()
	return m.record("ShowEffect")
}

func (m *mockDisplay) Chronograph(_ context.Context, mode int) error {
	m.mu.Lock()
	m.lastChrono = mode
	m.mu.Unlock()
	return m.record("Chronograph")
}

func (m *mockDisplay) Freeze(context.Context) error { return m.record("Freeze") }
func (m *mockDisplay) Reset(context.Context) error  { return m.record("Reset") }

func (m *mockDisplay) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	return m.connected
}

func (m *mockDisplay) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	return nil
}

func (m *mockDisplay) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *mockDisplay) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *mockDisplay) callList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) lastOf(eventType string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu     sync.Mutex
	states map[string]display.StoredState
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]display.StoredState)}
}

func (s *memStore) SaveState(_ context.Context, id string, st display.StoredState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.states[id] = st
	return nil
}

func (s *memStore) LoadState(_ context.Context, id string) (*display.StoredState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, display.ErrStateNotFound
	}
	return &st, nil
}

// countingObserver counts observer callbacks.
type countingObserver struct {
	mu       sync.Mutex
	commands map[string]int
	failures int
	states   []string
}

func (o *countingObserver) CommandCompleted(_, _, command string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.commands == nil {
		o.commands = make(map[string]int)
	}
	o.commands[command]++
	if err != nil {
		o.failures++
	}
}

func (o *countingObserver) ConnectionChanged(_, _, state string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

var testEpoch = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func testDisplay(id, mac string) display.Display {
	return display.Display{
		ID:         id,
		Name:       "Panel " + id,
		MACAddress: mac,
		Options:    display.DefaultOptions(),
		Source:     display.SourceAPI,
	}
}

type fixture struct {
	driver *mockDriver
	clock  *clockwork.FakeClock
	events *recorder
	store  *memStore
	mgr    *Manager
	sess   *Session
}

func newFixture(t testing.TB, opts ...Option) *fixture {
	f := &fixture{
		driver: &mockDriver{},
		clock:  clockwork.NewFakeClockAt(testEpoch),
		events: &recorder{},
		store:  newMemStore(),
	}
	base := []Option{WithClock(f.clock), WithStateStore(f.store)}
	f.mgr = NewManager(f.driver, append(base, opts...)...)
	f.mgr.AddSink(f.events)

	s, err := f.mgr.Add(context.Background(), testDisplay("d1", "AA:BB:CC:DD:EE:01"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	f.sess = s
	return f
}

func (f *fixture) connect(t testing.TB) *mockDisplay {
	if err := f.sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return f.driver.last()
}
