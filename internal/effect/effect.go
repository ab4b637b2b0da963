// Package effect implements the closed set of strip renderers.
//
// Slot is a tagged union rather than an interface so the render path is a
// single exhaustive switch over value types with no per-frame allocation.
package effect

import (
	"fmt"
	"time"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/transition"
)

// Kind identifies an effect variant. Addressable kinds double as wire mode ids.
type Kind uint8

const (
	Static      Kind = 0
	Rainbow     Kind = 1
	RainbowFlow Kind = 2

	// Off renders black. It is internal and cannot be selected by id.
	Off Kind = 0xFF
)

// DefaultCycle is the time one full hue rotation takes.
const DefaultCycle = 12 * time.Second

var names = map[Kind]string{
	Static:      "static",
	Rainbow:     "rainbow",
	RainbowFlow: "rainbow_flow",
	Off:         "off",
}

// Names lists the selectable effects in id order.
func Names() []string {
	return []string{names[Static], names[Rainbow], names[RainbowFlow]}
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("effect(%d)", uint8(k))
}

// FromID validates a raw mode id coming from an intent or a stored record.
func FromID(id uint8) (Kind, bool) {
	switch Kind(id) {
	case Static, Rainbow, RainbowFlow:
		return Kind(id), true
	default:
		return Off, false
	}
}

// ParseName resolves a selectable effect name.
func ParseName(name string) (Kind, bool) {
	for k, n := range names {
		if n == name && k != Off {
			return k, true
		}
	}
	return Off, false
}

// Slot holds the active effect and only the state that variant needs.
type Slot struct {
	kind    Kind
	static  staticColor
	rainbow rainbowCycle
}

type staticColor struct {
	tr transition.Color
}

type rainbowCycle struct {
	cycle time.Duration
	start time.Duration
}

// New builds a fresh slot for kind. c seeds the static color, cycle the rainbow period.
func New(kind Kind, c color.RGB, cycle, now time.Duration) Slot {
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	s := Slot{kind: kind}
	switch kind {
	case Static:
		s.static.tr = transition.NewColor(c)
	case Rainbow, RainbowFlow:
		s.rainbow.cycle = cycle
	}
	s.Reset(now)
	return s
}

// NewOff returns a slot that renders black.
func NewOff() Slot {
	return Slot{kind: Off}
}

// Kind returns the active variant.
func (s *Slot) Kind() Kind {
	return s.kind
}

// Reset re-zeros the animation phase.
func (s *Slot) Reset(now time.Duration) {
	switch s.kind {
	case Rainbow, RainbowFlow:
		s.rainbow.start = now
	case Static, Off:
	}
}

// SetColor animates the static color. Other variants ignore it and return false.
func (s *Slot) SetColor(c color.RGB, duration, now time.Duration) bool {
	if s.kind != Static {
		return false
	}
	s.static.tr.Set(c, duration, now)
	return true
}

// Settled reports whether any color change in flight has finished.
func (s *Slot) Settled(now time.Duration) bool {
	if s.kind != Static {
		return true
	}
	return s.static.tr.Done(now)
}

// Render writes one frame for now into frame.
func (s *Slot) Render(frame []color.RGB, now time.Duration) {
	switch s.kind {
	case Static:
		color.Fill(frame, s.static.tr.Current(now))
	case Rainbow:
		s.rainbow.renderCycle(frame, now)
	case RainbowFlow:
		s.rainbow.renderFlow(frame, now)
	case Off:
		color.Fill(frame, color.Black)
	}
}

// hue returns the base hue for now, advancing linearly through 0..255 once per cycle.
func (r *rainbowCycle) hue(now time.Duration) uint8 {
	elapsed := now - r.start
	if elapsed < 0 {
		elapsed = 0
	}
	pos := int64(elapsed % r.cycle)
	return uint8(pos * 256 / int64(r.cycle))
}

func (r *rainbowCycle) renderCycle(frame []color.RGB, now time.Duration) {
	n := len(frame)
	if n == 0 {
		return
	}
	base := r.hue(now)
	for i := range frame {
		frame[i] = color.Hue(base + uint8(i*256/n))
	}
}

func (r *rainbowCycle) renderFlow(frame []color.RGB, now time.Duration) {
	n := len(frame)
	if n == 0 {
		return
	}
	base := r.hue(now)
	half := n / 2
	if n%2 != 0 {
		half++
	}
	color.FillGradient3(frame[:half], color.Hue(base), color.Hue(base+85), color.Hue(base+170))
	color.MirrorHalf(frame)
}
