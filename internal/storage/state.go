package storage

import (
	"encoding/binary"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
)

// StatePayloadSize is the encoded size of a light.State.
//
//	0 power, 1 brightness, 2 mode, 3-4 temperature LE, 5 color mode, 6 r, 7 g, 8 b, 9 reserved
const StatePayloadSize = 10

// EncodeState returns the full record for s.
func EncodeState(s light.State) []byte {
	var p [StatePayloadSize]byte
	if s.Power {
		p[0] = 1
	}
	p[1] = s.Brightness
	p[2] = s.ModeID
	binary.LittleEndian.PutUint16(p[3:5], s.ColorTemperature)
	p[5] = uint8(s.ColorMode)
	p[6], p[7], p[8] = s.Color.R, s.Color.G, s.Color.B
	return frame(p[:])
}

// DecodeState parses a full record. Unknown modes and color modes are rejected.
func DecodeState(buf []byte) (light.State, error) {
	p, err := unframe(buf)
	if err != nil {
		return light.State{}, err
	}
	return decodeState(p)
}

func decodeState(p []byte) (light.State, error) {
	if len(p) < StatePayloadSize || p[0] > 1 {
		return light.State{}, ErrInvalidData
	}
	if _, ok := effect.FromID(p[2]); !ok {
		return light.State{}, ErrInvalidData
	}
	mode := light.ColorMode(p[5])
	if !mode.Valid() {
		return light.State{}, ErrInvalidData
	}
	return light.State{
		Power:            p[0] == 1,
		Brightness:       p[1],
		ModeID:           p[2],
		ColorTemperature: binary.LittleEndian.Uint16(p[3:5]),
		ColorMode:        mode,
		Color:            color.RGB{R: p[6], G: p[7], B: p[8]},
	}, nil
}

// LoadState reads the state record. Any error means there is no usable state.
func LoadState(d Driver) (light.State, error) {
	p, err := load(d, StatePayloadSize)
	if err != nil {
		return light.State{}, err
	}
	return decodeState(p)
}

// SaveState writes the state record.
func SaveState(d Driver, s light.State) error {
	return save(d, EncodeState(s)[HeaderSize:])
}
