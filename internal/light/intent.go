package light

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/dokzlo13/stripd/internal/color"
)

// Intent is a sparse change request. Nil fields are left alone.
type Intent struct {
	Power            *bool
	Brightness       *uint8
	Color            *color.RGB
	ColorTemperature *uint16
	ModeID           *uint8
}

// IsEmpty reports whether the intent requests nothing.
func (i Intent) IsEmpty() bool {
	return i.Power == nil && i.Brightness == nil && i.Color == nil &&
		i.ColorTemperature == nil && i.ModeID == nil
}

// WithPower returns a copy requesting power on or off.
func (i Intent) WithPower(on bool) Intent {
	i.Power = &on
	return i
}

// WithBrightness returns a copy requesting a target brightness.
func (i Intent) WithBrightness(b uint8) Intent {
	i.Brightness = &b
	return i
}

// WithColor returns a copy requesting an RGB color.
func (i Intent) WithColor(c color.RGB) Intent {
	i.Color = &c
	return i
}

// WithColorTemperature returns a copy requesting a white temperature in Kelvin.
func (i Intent) WithColorTemperature(k uint16) Intent {
	i.ColorTemperature = &k
	return i
}

// WithMode returns a copy requesting an effect by id.
func (i Intent) WithMode(id uint8) Intent {
	i.ModeID = &id
	return i
}

// MarshalZerologObject lets intents be logged with .Object().
func (i Intent) MarshalZerologObject(e *zerolog.Event) {
	var fields []string
	if i.Power != nil {
		e.Bool("power", *i.Power)
		fields = append(fields, "power")
	}
	if i.Brightness != nil {
		e.Uint8("brightness", *i.Brightness)
		fields = append(fields, "brightness")
	}
	if i.Color != nil {
		e.Str("color", i.Color.String())
		fields = append(fields, "color")
	}
	if i.ColorTemperature != nil {
		e.Uint16("color_temp", *i.ColorTemperature)
		fields = append(fields, "color_temp")
	}
	if i.ModeID != nil {
		e.Uint8("mode", *i.ModeID)
		fields = append(fields, "mode")
	}
	e.Str("fields", strings.Join(fields, ","))
}
