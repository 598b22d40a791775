package transport

import (
	"context"
	"fmt"
	"time"
)

// FramedDisplay implements Display by encoding iDotMatrix frames onto a Link.
type FramedDisplay struct {
	link Link
}

// NewFramedDisplay wraps an open link.
func NewFramedDisplay(link Link) *FramedDisplay {
	return &FramedDisplay{link: link}
}

func (d *FramedDisplay) write(ctx context.Context, frames ...[]byte) error {
	if !d.link.Connected() {
		return ErrNotConnected
	}
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.link.Write(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// SetPower switches the screen on or off.
func (d *FramedDisplay) SetPower(ctx context.Context, on bool) error {
	return d.write(ctx, PowerFrame(on))
}

// SetBrightness sets the backlight in percent.
func (d *FramedDisplay) SetBrightness(ctx context.Context, percent int) error {
	f, err := BrightnessFrame(percent)
	if err != nil {
		return err
	}
	return d.write(ctx, f)
}

// Flip rotates the screen by 180 degrees.
func (d *FramedDisplay) Flip(ctx context.Context, flipped bool) error {
	return d.write(ctx, FlipFrame(flipped))
}

// DrawText shows a scrolling message.
func (d *FramedDisplay) DrawText(ctx context.Context, opts TextOptions) error {
	frames, err := TextFrames(opts)
	if err != nil {
		return err
	}
	return d.write(ctx, frames...)
}

// SetClock selects a clock face.
func (d *FramedDisplay) SetClock(ctx context.Context, style int, color RGB) error {
	f, err := ClockFrame(style, color)
	if err != nil {
		return err
	}
	return d.write(ctx, f)
}

// SetTime sets the panel clock.
func (d *FramedDisplay) SetTime(ctx context.Context, t time.Time) error {
	return d.write(ctx, TimeFrame(t))
}

// ShowEffect starts a built-in animation.
func (d *FramedDisplay) ShowEffect(ctx context.Context, index int, palette []RGB) error {
	f, err := EffectFrame(index, palette)
	if err != nil {
		return err
	}
	return d.write(ctx, f)
}

// Chronograph drives the stopwatch.
func (d *FramedDisplay) Chronograph(ctx context.Context, mode int) error {
	f, err := ChronographFrame(mode)
	if err != nil {
		return err
	}
	return d.write(ctx, f)
}

// Freeze holds the current picture.
func (d *FramedDisplay) Freeze(ctx context.Context) error {
	return d.write(ctx, FreezeFrame())
}

// Reset restores factory display settings.
func (d *FramedDisplay) Reset(ctx context.Context) error {
	return d.write(ctx, ResetFrame())
}

// IsConnected reports the link state. It performs no I/O.
func (d *FramedDisplay) IsConnected() bool {
	return d.link.Connected()
}

// Disconnect closes the link.
func (d *FramedDisplay) Disconnect(_ context.Context) error {
	return d.link.Close()
}

// FramedDriver implements Driver on top of a Dialer.
type FramedDriver struct {
	dialer Dialer
}

// NewDriver returns a Driver that dials links with d and speaks the
// iDotMatrix frame protocol over them.
func NewDriver(d Dialer) *FramedDriver {
	return &FramedDriver{dialer: d}
}

// Connect dials address and wraps the link.
func (fd *FramedDriver) Connect(ctx context.Context, address string) (Display, error) {
	link, err := fd.dialer.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return NewFramedDisplay(link), nil
}
