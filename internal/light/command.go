package light

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
)

const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// Command is the Home Assistant JSON-schema light command. The REST API accepts the same body.
type Command struct {
	State      string     `json:"state,omitempty"`
	Brightness *uint8     `json:"brightness,omitempty"`
	ColorTemp  *uint16    `json:"color_temp,omitempty"`
	Color      *color.RGB `json:"color,omitempty"`
	Effect     string     `json:"effect,omitempty"`
}

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	return cmd, nil
}

// Intent converts the command. Color temperature arrives in mireds and is stored in Kelvin.
// Unknown effect names and states are dropped, not rejected.
func (c Command) Intent() Intent {
	var in Intent
	switch strings.ToUpper(c.State) {
	case StateOn:
		in = in.WithPower(true)
	case StateOff:
		in = in.WithPower(false)
	}
	if c.Brightness != nil {
		in = in.WithBrightness(*c.Brightness)
	}
	if c.Color != nil {
		in = in.WithColor(*c.Color)
	} else if c.ColorTemp != nil {
		in = in.WithColorTemperature(color.MiredsToKelvin(*c.ColorTemp))
	}
	if c.Effect != "" {
		if k, ok := effect.ParseName(c.Effect); ok {
			in = in.WithMode(uint8(k))
		}
	}
	return in
}

// StateMessage is the published state document.
type StateMessage struct {
	State      string    `json:"state"`
	Brightness uint8     `json:"brightness"`
	ColorMode  string    `json:"color_mode"`
	Color      color.RGB `json:"color"`
	ColorTemp  uint16    `json:"color_temp"`
	Effect     string    `json:"effect"`
}

// NewStateMessage renders a state for publishing.
func NewStateMessage(s State) StateMessage {
	msg := StateMessage{
		State:      StateOff,
		Brightness: s.Brightness,
		ColorMode:  s.ColorMode.String(),
		Color:      s.Color,
		ColorTemp:  color.KelvinToMireds(s.ColorTemperature),
		Effect:     effect.Kind(s.ModeID).String(),
	}
	if s.Power {
		msg.State = StateOn
	}
	return msg
}
