package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport/simulator"
)

func TestBrightnessPercent(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{255, 100},
		{0, 5},
		{128, 50},
		{1, 5},
		{13, 5},
		{14, 5},
		{26, 10},
		{254, 99},
	}
	for _, tt := range tests {
		if got := BrightnessPercent(tt.in); got != tt.want {
			t.Errorf("BrightnessPercent(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBrightnessPercent_RangeAndMonotone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(0, 255).Draw(t, "a")
		b := rapid.IntRange(a, 255).Draw(t, "b")
		pa, pb := BrightnessPercent(a), BrightnessPercent(b)
		if pa < 5 || pa > 100 {
			t.Fatalf("BrightnessPercent(%d) = %d, outside 5..100", a, pa)
		}
		if pa > pb {
			t.Fatalf("BrightnessPercent(%d) = %d > BrightnessPercent(%d) = %d", a, pa, b, pb)
		}
	})
}

func TestCommands_StateAndEvents(t *testing.T) {
	red := transport.Red

	tests := []struct {
		name  string
		run   func(context.Context, *Session) error
		call  string
		event string
		check func(t *testing.T, st DisplayState, h *mockDisplay, ev Event)
	}{
		{
			name:  "turn on",
			run:   func(ctx context.Context, s *Session) error { return s.TurnOn(ctx) },
			call:  "SetPower",
			event: EventDisplayOn,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, _ Event) {
				assert.True(t, st.IsOn)
				assert.True(t, h.lastPowerOn)
			},
		},
		{
			name:  "turn off",
			run:   func(ctx context.Context, s *Session) error { return s.TurnOff(ctx) },
			call:  "SetPower",
			event: EventDisplayOff,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, _ Event) {
				assert.False(t, st.IsOn)
				assert.False(t, h.lastPowerOn)
			},
		},
		{
			name:  "brightness",
			run:   func(ctx context.Context, s *Session) error { return s.SetBrightness(ctx, 128) },
			call:  "SetBrightness",
			event: EventBrightnessChanged,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, ev Event) {
				assert.Equal(t, 128, st.Brightness)
				assert.Equal(t, 50, h.lastPercent)
				assert.Equal(t, 128, ev.Data["brightness"])
				assert.Equal(t, 50, ev.Data["brightness_percent"])
			},
		},
		{
			name:  "flip",
			run:   func(ctx context.Context, s *Session) error { return s.FlipScreen(ctx, true) },
			call:  "Flip",
			event: EventScreenFlipped,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, ev Event) {
				assert.True(t, st.ScreenFlipped)
				assert.True(t, h.lastFlipped)
				assert.Equal(t, true, ev.Data["flipped"])
			},
		},
		{
			name:  "text with defaults",
			run:   func(ctx context.Context, s *Session) error { return s.DisplayText(ctx, TextRequest{Text: "Hello"}) },
			call:  "DrawText",
			event: EventTextDisplayed,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, ev Event) {
				assert.Equal(t, "Hello", st.LastMessage)
				assert.Equal(t, ModeText, st.CurrentMode)
				assert.Equal(t, transport.TextOptions{Text: "Hello", FontSize: 12, Color: transport.White, Speed: 50}, h.lastText)
				assert.Equal(t, "Hello", ev.Data["message"])
				assert.Equal(t, []int{255, 255, 255}, ev.Data["color"])
			},
		},
		{
			name: "text with options",
			run: func(ctx context.Context, s *Session) error {
				return s.DisplayText(ctx, TextRequest{Text: "Hi", FontSize: 20, Color: &red, Speed: 90})
			},
			call:  "DrawText",
			event: EventTextDisplayed,
			check: func(t *testing.T, _ DisplayState, h *mockDisplay, ev Event) {
				assert.Equal(t, transport.TextOptions{Text: "Hi", FontSize: 20, Color: red, Speed: 90}, h.lastText)
				assert.Equal(t, 20, ev.Data["font_size"])
				assert.Equal(t, 90, ev.Data["speed"])
			},
		},
		{
			name:  "clock style",
			run:   func(ctx context.Context, s *Session) error { return s.SetClockStyle(ctx, 2) },
			call:  "SetClock",
			event: EventClockModeSet,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, ev Event) {
				assert.Equal(t, "analog", st.ClockStyle)
				assert.Equal(t, ModeClock, st.CurrentMode)
				assert.Equal(t, 2, h.lastStyle)
				assert.Equal(t, "analog", ev.Data["style"])
			},
		},
		{
			name:  "effect",
			run:   func(ctx context.Context, s *Session) error { return s.DisplayEffect(ctx, 3) },
			call:  "ShowEffect",
			event: EventEffectDisplayed,
			check: func(t *testing.T, st DisplayState, h *mockDisplay, ev Event) {
				assert.Equal(t, "fire", st.EffectMode)
				assert.Equal(t, ModeEffect, st.CurrentMode)
				assert.Equal(t, 3, h.lastEffect)
				assert.Equal(t, []transport.RGB{transport.Red, transport.Green, transport.Blue}, h.lastPalette)
				assert.Equal(t, "fire", ev.Data["effect"])
			},
		},
		{
			name:  "chronograph start",
			run:   func(ctx context.Context, s *Session) error { return s.Chronograph(ctx, ChronographStart) },
			call:  "Chronograph",
			event: "chronograph_start",
			check: func(t *testing.T, st DisplayState, h *mockDisplay, _ Event) {
				assert.Equal(t, ModeChronograph, st.CurrentMode)
				assert.Equal(t, "start", st.ChronographMode)
				assert.Equal(t, 1, h.lastChrono)
			},
		},
		{
			name:  "chronograph stop keeps mode",
			run:   func(ctx context.Context, s *Session) error { return s.Chronograph(ctx, ChronographStop) },
			call:  "Chronograph",
			event: "chronograph_stop",
			check: func(t *testing.T, st DisplayState, h *mockDisplay, _ Event) {
				assert.Equal(t, ModeClock, st.CurrentMode)
				assert.Equal(t, "stop", st.ChronographMode)
				assert.Equal(t, 2, h.lastChrono)
			},
		},
		{
			name:  "freeze",
			run:   func(ctx context.Context, s *Session) error { return s.FreezeScreen(ctx) },
			call:  "Freeze",
			event: EventScreenFrozen,
			check: func(t *testing.T, st DisplayState, _ *mockDisplay, _ Event) {
				assert.True(t, st.UpdatedAt.IsZero())
			},
		},
		{
			name:  "sync time",
			run:   func(ctx context.Context, s *Session) error { return s.SyncTime(ctx) },
			call:  "SetTime",
			event: EventTimeSynced,
			check: func(t *testing.T, _ DisplayState, h *mockDisplay, _ Event) {
				assert.True(t, h.lastTime.Equal(testEpoch))
			},
		},
		{
			name:  "reset",
			run:   func(ctx context.Context, s *Session) error { return s.ResetDevice(ctx) },
			call:  "Reset",
			event: EventDeviceReset,
			check: func(t *testing.T, st DisplayState, _ *mockDisplay, _ Event) {
				want := DefaultState()
				want.IsOn = true
				want.UpdatedAt = testEpoch
				assert.Equal(t, want, st)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := f.connect(t)

			require.NoError(t, tt.run(context.Background(), f.sess))

			assert.Equal(t, []string{tt.call}, h.callList())
			ev, ok := f.events.lastOf(tt.event)
			require.True(t, ok, "event %s not emitted", tt.event)

			st := f.sess.State()
			assert.Equal(t, ConfidenceUnconfirmed, st.Confidence)
			tt.check(t, st, h, ev)
		})
	}
}

func TestCommands_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		run  func(context.Context, *Session) error
	}{
		{"brightness negative", func(ctx context.Context, s *Session) error { return s.SetBrightness(ctx, -1) }},
		{"brightness too high", func(ctx context.Context, s *Session) error { return s.SetBrightness(ctx, 256) }},
		{"empty text", func(ctx context.Context, s *Session) error { return s.DisplayText(ctx, TextRequest{Text: "  "}) }},
		{"font too small", func(ctx context.Context, s *Session) error {
			return s.DisplayText(ctx, TextRequest{Text: "x", FontSize: 7})
		}},
		{"font too large", func(ctx context.Context, s *Session) error {
			return s.DisplayText(ctx, TextRequest{Text: "x", FontSize: 33})
		}},
		{"speed too high", func(ctx context.Context, s *Session) error {
			return s.DisplayText(ctx, TextRequest{Text: "x", Speed: 101})
		}},
		{"clock style", func(ctx context.Context, s *Session) error { return s.SetClockStyle(ctx, 5) }},
		{"effect", func(ctx context.Context, s *Session) error { return s.DisplayEffect(ctx, 8) }},
		{"effect negative", func(ctx context.Context, s *Session) error { return s.DisplayEffect(ctx, -1) }},
		{"chronograph", func(ctx context.Context, s *Session) error { return s.Chronograph(ctx, "lap") }},
		{"image path", func(ctx context.Context, s *Session) error { return s.DisplayImage(ctx, "") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := f.connect(t)
			before := f.sess.State()

			require.ErrorIs(t, tt.run(context.Background(), f.sess), ErrInvalidArgument)
			assert.Empty(t, h.callList())
			assert.Equal(t, before, f.sess.State())
			assert.Equal(t, Connected, f.sess.Status().Connection)
		})
	}
}

func TestDisplayImage_RecordsModeOnly(t *testing.T) {
	f := newFixture(t)
	h := f.connect(t)

	require.NoError(t, f.sess.DisplayImage(context.Background(), "/tmp/cat.png"))
	assert.Empty(t, h.callList())
	assert.Equal(t, ModeImage, f.sess.State().CurrentMode)

	require.NoError(t, f.sess.Disconnect(context.Background()))
	require.ErrorIs(t, f.sess.DisplayImage(context.Background(), "/tmp/cat.png"), ErrNotConnected)
}

func TestCommands_PersistState(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.sess.SetBrightness(context.Background(), 64))
	require.NoError(t, f.sess.FreezeScreen(context.Background()))

	stored, err := f.store.LoadState(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 64, stored.Brightness)
	assert.Equal(t, 1, f.store.saves)
}

func TestCommands_NeverOverlapOnSimulator(t *testing.T) {
	sim := simulator.New()
	sim.SetWriteDelay(2 * time.Millisecond)
	mgr := NewManager(transport.NewDriver(sim), WithClock(clockwork.NewFakeClockAt(testEpoch)))

	s, err := mgr.Add(context.Background(), testDisplay("d1", "AA:BB:CC:DD:EE:01"))
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.SetBrightness(context.Background(), i*10)
		}()
		go func() {
			defer wg.Done()
			errs <- s.DisplayText(context.Background(), TextRequest{Text: "AB"})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, sim.MaxInFlight())
	assert.Len(t, sim.Panel("AA:BB:CC:DD:EE:01").Frames(), 40)
	require.NoError(t, mgr.Stop(context.Background()))
}
