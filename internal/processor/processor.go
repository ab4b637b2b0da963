// Package processor applies the brightness envelope and color correction to a rendered frame.
package processor

import (
	"time"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/math8"
	"github.com/dokzlo13/stripd/internal/transition"
)

// Processor is owned by the render loop and is not safe for concurrent use.
type Processor struct {
	envelope   transition.Value
	min        uint8
	max        uint8
	correction color.RGB
}

// New creates a processor with a dark envelope.
func New(minBrightness, maxBrightness uint8, correction color.RGB) *Processor {
	p := &Processor{envelope: transition.NewValue(0)}
	p.SetBounds(minBrightness, maxBrightness)
	p.SetCorrection(correction)
	return p
}

// SetBounds maps the envelope onto [min, max]. Inverted bounds are swapped.
func (p *Processor) SetBounds(minBrightness, maxBrightness uint8) {
	if maxBrightness < minBrightness {
		minBrightness, maxBrightness = maxBrightness, minBrightness
	}
	p.min = minBrightness
	p.max = maxBrightness
}

// SetCorrection replaces the per-channel correction factors.
func (p *Processor) SetCorrection(c color.RGB) {
	p.correction = c
}

// Correction returns the active correction factors.
func (p *Processor) Correction() color.RGB {
	return p.correction
}

// SetBrightness ramps the envelope to level.
func (p *Processor) SetBrightness(level uint8, duration, now time.Duration) {
	p.envelope.Set(level, duration, now)
}

// Envelope exposes the brightness ramp so callers can check completion.
func (p *Processor) Envelope() *transition.Value {
	return &p.envelope
}

// Level returns the effective output level at now after applying bounds.
// A zero envelope is always black regardless of the lower bound.
func (p *Processor) Level(now time.Duration) uint8 {
	level := p.envelope.Current(now)
	if level == 0 {
		return 0
	}
	if p.min == 0 && p.max == 255 {
		return level
	}
	span := uint16(p.max - p.min)
	return p.min + uint8(uint16(level)*span/255)
}

// Apply scales every pixel by the brightness level and then by the correction factors.
// The order matters: correcting first would change rounding on every channel.
func (p *Processor) Apply(frame []color.RGB, now time.Duration) {
	level := p.Level(now)
	corr := p.correction
	for i, px := range frame {
		px = color.Scale(px, level)
		frame[i] = correct(px, corr)
	}
}

func correct(px, corr color.RGB) color.RGB {
	if corr.R != 255 {
		px.R = math8.Scale8(px.R, corr.R)
	}
	if corr.G != 255 {
		px.G = math8.Scale8(px.G, corr.G)
	}
	if corr.B != 255 {
		px.B = math8.Scale8(px.B, corr.B)
	}
	return px
}
