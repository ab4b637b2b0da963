package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/driver"
	"github.com/dokzlo13/stripd/internal/engine"
	"github.com/dokzlo13/stripd/internal/light"
)

// LightService wires the engine to the LED output.
type LightService struct {
	cfg *config.Config

	Output driver.Output
	Strip  *driver.Strip
	Engine *engine.Engine
}

// NewLightService opens the configured output and seeds the engine with initial.
func NewLightService(cfg *config.Config, initial light.State, dev light.DeviceConfig, listener engine.StateListener) (*LightService, error) {
	out, err := driver.New(driver.Config{
		Name:     cfg.Strip.Driver,
		LedCount: int(dev.Light.LedCount),
		GPIOPin:  cfg.Strip.GPIOPin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open LED output: %w", err)
	}
	strip := driver.NewStrip(out, dev.Light.ColorOrder)

	eng := engine.New(initial, strip, engine.Options{
		Light:          dev.Light,
		FrameRate:      cfg.Strip.FPS,
		IntentQueue:    cfg.Strip.IntentQueue,
		OperationQueue: cfg.Strip.OperationQueue,
		Timings: engine.Timings{
			FadeIn:      cfg.Transitions.FadeIn.Duration(),
			FadeOut:     cfg.Transitions.FadeOut.Duration(),
			ColorChange: cfg.Transitions.ColorChange.Duration(),
			Brightness:  cfg.Transitions.Brightness.Duration(),
		},
		RainbowCycle: cfg.Effects.RainbowCycle.Duration(),
		Listener:     listener,
	})

	log.Info().
		Str("driver", cfg.Strip.Driver).
		Uint16("leds", dev.Light.LedCount).
		Str("order", dev.Light.ColorOrder.String()).
		Bool("power", initial.Power).
		Msg("Light engine ready")

	return &LightService{cfg: cfg, Output: out, Strip: strip, Engine: eng}, nil
}

// Run renders until ctx is cancelled. The engine blanks the strip on exit.
func (s *LightService) Run(ctx context.Context) {
	if err := s.Engine.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Light engine error")
	}
}

// Reconfigure applies the parts of a new device config the output owns.
func (s *LightService) Reconfigure(dev light.DeviceConfig) {
	s.Strip.SetOrder(dev.Light.ColorOrder)
}

// Close releases the output.
func (s *LightService) Close() {
	if err := s.Strip.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close LED output")
	}
}

// defaultDeviceConfig builds the first-boot device config from the config file.
func defaultDeviceConfig(cfg *config.Config) (light.DeviceConfig, error) {
	order, err := color.ParseColorOrder(cfg.Strip.ColorOrder)
	if err != nil {
		return light.DeviceConfig{}, err
	}
	correction, err := color.ParseHex(cfg.Strip.ColorCorrection)
	if err != nil {
		return light.DeviceConfig{}, err
	}

	switch {
	case cfg.Strip.LedCount <= 0 || cfg.Strip.LedCount > 0xFFFF:
		return light.DeviceConfig{}, fmt.Errorf("led_count %d out of range", cfg.Strip.LedCount)
	case cfg.Strip.SkipLeds < 0 || cfg.Strip.SkipLeds >= cfg.Strip.LedCount:
		return light.DeviceConfig{}, fmt.Errorf("skip_leds %d must be below led_count", cfg.Strip.SkipLeds)
	case cfg.Strip.BrightnessMin < 0 || cfg.Strip.BrightnessMax > 255 || cfg.Strip.BrightnessMin > cfg.Strip.BrightnessMax:
		return light.DeviceConfig{}, fmt.Errorf("invalid brightness range %d..%d", cfg.Strip.BrightnessMin, cfg.Strip.BrightnessMax)
	case cfg.MQTT.Port < 0 || cfg.MQTT.Port > 0xFFFF:
		return light.DeviceConfig{}, fmt.Errorf("mqtt port %d out of range", cfg.MQTT.Port)
	}

	return light.DeviceConfig{
		Light: light.LightConfig{
			BrightnessMin: uint8(cfg.Strip.BrightnessMin),
			BrightnessMax: uint8(cfg.Strip.BrightnessMax),
			LedCount:      uint16(cfg.Strip.LedCount),
			SkipLeds:      uint16(cfg.Strip.SkipLeds),
			ColorOrder:    order,
			Correction:    correction,
		},
		MQTT: light.MQTTConfig{
			Host:     cfg.MQTT.Host,
			Port:     uint16(cfg.MQTT.Port),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		},
	}, nil
}
