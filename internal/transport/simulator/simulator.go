// Package simulator provides an in-memory iDotMatrix backend.
//
// It accepts any MAC address, records every frame written to each panel,
// tracks how many writes overlap, and can be told to fail dials or writes.
// It is selected with ble.driver: simulator and is used by tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

// ErrInjected is returned for faults requested through FailDials or FailWrites.
var ErrInjected = errors.New("simulator: injected fault")

// Simulator is a transport.Backend with no radio behind it.
type Simulator struct {
	mu         sync.Mutex
	panels     map[string]*Panel
	advertised []transport.Discovered

	dialFailures  int
	writeFailures int
	writeDelay    time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// New creates an empty simulator.
func New() *Simulator {
	return &Simulator{panels: make(map[string]*Panel)}
}

// Advertise adds panels that Scan will report.
func (s *Simulator) Advertise(found ...transport.Discovered) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertised = append(s.advertised, found...)
}

// FailDials makes the next n Dial calls fail.
func (s *Simulator) FailDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialFailures = n
}

// FailWrites makes the next n frame writes fail.
func (s *Simulator) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFailures = n
}

// SetWriteDelay makes every write take at least d.
func (s *Simulator) SetWriteDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDelay = d
}

// MaxInFlight returns the largest number of writes ever observed running at once.
func (s *Simulator) MaxInFlight() int {
	return int(s.maxInFlight.Load())
}

// Panel returns the simulated panel for address, or nil if it was never dialed.
func (s *Simulator) Panel(address string) *Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panels[address]
}

// Dial connects to a simulated panel, creating it on first use.
func (s *Simulator) Dial(ctx context.Context, address string) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialFailures > 0 {
		s.dialFailures--
		return nil, fmt.Errorf("%w: dial %s", ErrInjected, address)
	}

	p, ok := s.panels[address]
	if !ok {
		p = &Panel{address: address}
		s.panels[address] = p
	}
	p.mu.Lock()
	p.dials++
	p.dropped = false
	p.mu.Unlock()

	return &link{sim: s, panel: p, connected: true}, nil
}

// Scan returns the advertised panels whose names match the iDotMatrix prefix.
func (s *Simulator) Scan(ctx context.Context, _ time.Duration) ([]transport.Discovered, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []transport.Discovered
	for _, d := range s.advertised {
		if transport.MatchesName(d.Name) {
			found = append(found, d)
		}
	}
	return found, nil
}

func (s *Simulator) takeWriteFault() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeFailures > 0 {
		s.writeFailures--
		return s.writeDelay, true
	}
	return s.writeDelay, false
}

// Panel is the recorded history of one simulated display.
type Panel struct {
	mu      sync.Mutex
	address string
	frames  [][]byte
	dials   int
	dropped bool
}

// Frames returns a copy of every frame written to the panel.
func (p *Panel) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Dials returns how many times the panel was connected.
func (p *Panel) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

// Drop simulates the panel going out of range: open links report
// disconnected until the next Dial.
func (p *Panel) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = true
}

type link struct {
	sim   *Simulator
	panel *Panel

	mu        sync.Mutex
	connected bool
}

func (l *link) Write(ctx context.Context, frame []byte) error {
	if !l.Connected() {
		return transport.ErrNotConnected
	}

	n := l.sim.inFlight.Add(1)
	defer l.sim.inFlight.Add(-1)
	for {
		cur := l.sim.maxInFlight.Load()
		if n <= cur || l.sim.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	delay, fail := l.sim.takeWriteFault()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		return fmt.Errorf("%w: %w", transport.ErrWriteFailed, ErrInjected)
	}

	l.panel.mu.Lock()
	l.panel.frames = append(l.panel.frames, append([]byte(nil), frame...))
	l.panel.mu.Unlock()
	return nil
}

func (l *link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return false
	}
	l.panel.mu.Lock()
	dropped := l.panel.dropped
	l.panel.mu.Unlock()
	return !dropped
}

func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}
