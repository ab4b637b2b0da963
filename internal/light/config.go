package light

import "github.com/dokzlo13/stripd/internal/color"

// LightConfig describes the strip hardware and output shaping.
type LightConfig struct {
	BrightnessMin uint8            `json:"brightness_min"`
	BrightnessMax uint8            `json:"brightness_max"`
	LedCount      uint16           `json:"led_count"`
	SkipLeds      uint16           `json:"skip_leds"`
	ColorOrder    color.ColorOrder `json:"color_order"`
	Correction    color.RGB        `json:"color_correction"`
}

// DefaultLightConfig matches a typical GRB WS2812 strip with no correction.
func DefaultLightConfig() LightConfig {
	return LightConfig{
		BrightnessMin: 0,
		BrightnessMax: 255,
		LedCount:      60,
		ColorOrder:    color.OrderGRB,
		Correction:    color.White,
	}
}

// ActiveLeds returns the number of pixels the effects render into.
func (c LightConfig) ActiveLeds() int {
	if c.SkipLeds >= c.LedCount {
		return 0
	}
	return int(c.LedCount - c.SkipLeds)
}

// MQTTConfig holds broker credentials that can be changed at runtime.
type MQTTConfig struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// DeviceConfig is the persisted device configuration.
type DeviceConfig struct {
	Light LightConfig `json:"light"`
	MQTT  MQTTConfig  `json:"mqtt"`
}
