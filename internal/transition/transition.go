// Package transition interpolates values over time. The caller always supplies
// the current time, so every result is a pure function of (from, to, duration, elapsed).
package transition

import (
	"time"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/math8"
)

// Value ramps an 8-bit quantity such as a brightness envelope.
type Value struct {
	from     uint8
	to       uint8
	start    time.Duration
	duration time.Duration
}

// NewValue returns a settled transition at v.
func NewValue(v uint8) Value {
	return Value{from: v, to: v}
}

// Set starts a ramp from the value displayed at now towards to.
// A zero duration jumps straight to the target.
func (t *Value) Set(to uint8, duration, now time.Duration) {
	t.from = t.Current(now)
	t.to = to
	t.start = now
	t.duration = duration
}

// Current returns the interpolated value at now.
func (t *Value) Current(now time.Duration) uint8 {
	elapsed := now - t.start
	if t.duration <= 0 || elapsed >= t.duration {
		return t.to
	}
	return math8.Blend8(t.from, t.to, math8.Progress8(elapsed, t.duration))
}

// Done reports whether the displayed value has reached the target.
func (t *Value) Done(now time.Duration) bool {
	return t.Current(now) == t.to
}

// Target returns the value the ramp ends at.
func (t *Value) Target() uint8 {
	return t.to
}

// Color ramps an RGB value channel by channel.
type Color struct {
	from     color.RGB
	to       color.RGB
	start    time.Duration
	duration time.Duration
}

// NewColor returns a settled transition at c.
func NewColor(c color.RGB) Color {
	return Color{from: c, to: c}
}

// Set starts a blend from the color displayed at now towards to.
func (t *Color) Set(to color.RGB, duration, now time.Duration) {
	t.from = t.Current(now)
	t.to = to
	t.start = now
	t.duration = duration
}

// Current returns the blended color at now. Once elapsed reaches the duration
// the target is returned bit for bit.
func (t *Color) Current(now time.Duration) color.RGB {
	elapsed := now - t.start
	if t.duration <= 0 || elapsed >= t.duration {
		return t.to
	}
	return color.Blend(t.from, t.to, math8.Progress8(elapsed, t.duration))
}

// Done reports whether the displayed color has reached the target.
func (t *Color) Done(now time.Duration) bool {
	return t.Current(now) == t.to
}

// Target returns the color the blend ends at.
func (t *Color) Target() color.RGB {
	return t.to
}
