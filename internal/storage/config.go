package storage

import (
	"encoding/binary"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/light"
)

const (
	maxHost     = 63
	maxUsername = 31
	maxPassword = 63

	lightConfigSize = 10
	mqttConfigSize  = 1 + maxHost + 2 + 1 + maxUsername + 1 + maxPassword

	// ConfigPayloadSize is the encoded size of a light.DeviceConfig.
	ConfigPayloadSize = lightConfigSize + mqttConfigSize
)

// EncodeConfig returns the full record for c. Strings longer than their slot are rejected.
func EncodeConfig(c light.DeviceConfig) ([]byte, error) {
	p := make([]byte, ConfigPayloadSize)
	l := c.Light
	p[0] = l.BrightnessMin
	p[1] = l.BrightnessMax
	binary.LittleEndian.PutUint16(p[2:4], l.LedCount)
	binary.LittleEndian.PutUint16(p[4:6], l.SkipLeds)
	binary.LittleEndian.PutUint32(p[6:10], color.PackCorrection(l.ColorOrder, l.Correction))

	w := p[lightConfigSize:]
	var err error
	if w, err = putString(w, c.MQTT.Host, maxHost); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint16(w, c.MQTT.Port)
	w = w[2:]
	if w, err = putString(w, c.MQTT.Username, maxUsername); err != nil {
		return nil, err
	}
	if _, err = putString(w, c.MQTT.Password, maxPassword); err != nil {
		return nil, err
	}
	return frame(p), nil
}

// DecodeConfig parses a full config record.
func DecodeConfig(buf []byte) (light.DeviceConfig, error) {
	p, err := unframe(buf)
	if err != nil {
		return light.DeviceConfig{}, err
	}
	return decodeConfig(p)
}

func decodeConfig(p []byte) (light.DeviceConfig, error) {
	if len(p) < ConfigPayloadSize {
		return light.DeviceConfig{}, ErrInvalidData
	}
	var (
		c   light.DeviceConfig
		err error
	)
	c.Light.BrightnessMin = p[0]
	c.Light.BrightnessMax = p[1]
	c.Light.LedCount = binary.LittleEndian.Uint16(p[2:4])
	c.Light.SkipLeds = binary.LittleEndian.Uint16(p[4:6])
	c.Light.ColorOrder, c.Light.Correction = color.UnpackCorrection(binary.LittleEndian.Uint32(p[6:10]))
	if c.Light.LedCount == 0 || c.Light.BrightnessMin > c.Light.BrightnessMax {
		return light.DeviceConfig{}, ErrInvalidData
	}

	r := p[lightConfigSize:]
	if c.MQTT.Host, r, err = getString(r, maxHost); err != nil {
		return light.DeviceConfig{}, err
	}
	c.MQTT.Port = binary.LittleEndian.Uint16(r)
	r = r[2:]
	if c.MQTT.Username, r, err = getString(r, maxUsername); err != nil {
		return light.DeviceConfig{}, err
	}
	if c.MQTT.Password, _, err = getString(r, maxPassword); err != nil {
		return light.DeviceConfig{}, err
	}
	return c, nil
}

// LoadConfig reads the config record. Any error means there is no usable config.
func LoadConfig(d Driver) (light.DeviceConfig, error) {
	p, err := load(d, ConfigPayloadSize)
	if err != nil {
		return light.DeviceConfig{}, err
	}
	return decodeConfig(p)
}

// SaveConfig writes the config record.
func SaveConfig(d Driver, c light.DeviceConfig) error {
	rec, err := EncodeConfig(c)
	if err != nil {
		return err
	}
	return save(d, rec[HeaderSize:])
}

// putString writes a length-prefixed string into a fixed slot and returns the rest.
func putString(w []byte, s string, size int) ([]byte, error) {
	if len(s) > size {
		return nil, ErrInvalidData
	}
	w[0] = uint8(len(s))
	copy(w[1:1+size], s)
	return w[1+size:], nil
}

func getString(r []byte, size int) (string, []byte, error) {
	n := int(r[0])
	if n > size {
		return "", nil, ErrInvalidData
	}
	return string(r[1 : 1+n]), r[1+size:], nil
}
