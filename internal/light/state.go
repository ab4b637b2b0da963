// Package light defines the light's state, the intents that change it and the
// device configuration shared by the engine, storage and adapters.
package light

import (
	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
)

// ColorMode selects which of Color or ColorTemperature is authoritative.
type ColorMode uint8

const (
	ColorModeRGB ColorMode = iota
	ColorModeTemperature
)

func (m ColorMode) String() string {
	switch m {
	case ColorModeRGB:
		return "rgb"
	case ColorModeTemperature:
		return "color_temp"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a known color mode.
func (m ColorMode) Valid() bool {
	return m == ColorModeRGB || m == ColorModeTemperature
}

// State is the authoritative light state. Brightness is the target level and
// survives power cycles; the displayed level lives in the output envelope.
type State struct {
	Power            bool
	Brightness       uint8
	Color            color.RGB
	ColorTemperature uint16
	ColorMode        ColorMode
	ModeID           uint8
}

// DefaultState is used on first boot or when the stored record is unusable.
func DefaultState() State {
	return State{
		Power:            true,
		Brightness:       255,
		Color:            color.White,
		ColorTemperature: 4000,
		ColorMode:        ColorModeRGB,
		ModeID:           uint8(effect.Rainbow),
	}
}

// EffectiveColor resolves the color an effect should show for the active color mode.
func (s State) EffectiveColor() color.RGB {
	if s.ColorMode == ColorModeTemperature {
		return color.FromTemperature(s.ColorTemperature)
	}
	return s.Color
}
