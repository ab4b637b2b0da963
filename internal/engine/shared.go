package engine

import (
	"sync/atomic"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/light"
)

// Shared publishes the committed light state for readers on other goroutines.
//
// Each field is its own atomic and only the engine writes them. A reader may
// see a mix of old and new fields while a commit is being published; callers
// must treat the result as eventually consistent.
type Shared struct {
	power       atomic.Bool
	brightness  atomic.Uint32
	rgb         atomic.Uint32
	temperature atomic.Uint32
	colorMode   atomic.Uint32
	mode        atomic.Uint32
}

func newShared(s light.State) *Shared {
	sh := &Shared{}
	sh.store(s)
	return sh
}

func (sh *Shared) store(s light.State) {
	sh.power.Store(s.Power)
	sh.brightness.Store(uint32(s.Brightness))
	sh.rgb.Store(s.Color.Uint32())
	sh.temperature.Store(uint32(s.ColorTemperature))
	sh.colorMode.Store(uint32(s.ColorMode))
	sh.mode.Store(uint32(s.ModeID))
}

// IsOn reports the committed power state.
func (sh *Shared) IsOn() bool { return sh.power.Load() }

// Brightness returns the target brightness, not the displayed envelope.
func (sh *Shared) Brightness() uint8 { return uint8(sh.brightness.Load()) }

// RGB returns the stored RGB color.
func (sh *Shared) RGB() color.RGB { return color.FromUint32(sh.rgb.Load()) }

// ColorTemperature returns the stored white temperature in Kelvin.
func (sh *Shared) ColorTemperature() uint16 { return uint16(sh.temperature.Load()) }

// ColorMode returns which color field is authoritative.
func (sh *Shared) ColorMode() light.ColorMode { return light.ColorMode(sh.colorMode.Load()) }

// EffectID returns the active mode id.
func (sh *Shared) EffectID() uint8 { return uint8(sh.mode.Load()) }

// State assembles a State from the individual fields. It is not an atomic snapshot.
func (sh *Shared) State() light.State {
	return light.State{
		Power:            sh.IsOn(),
		Brightness:       sh.Brightness(),
		Color:            sh.RGB(),
		ColorTemperature: sh.ColorTemperature(),
		ColorMode:        sh.ColorMode(),
		ModeID:           sh.EffectID(),
	}
}
