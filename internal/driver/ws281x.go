//go:build ws281x

package driver

import (
	"fmt"

	ws2811 "github.com/rpi-ws281x/rpi-ws281x-go"
)

// WS281x drives a strip through the Raspberry Pi PWM/DMA peripheral.
type WS281x struct {
	dev      *ws2811.WS2811
	ledCount int
}

func NewWS281x(cfg Config) (Output, error) {
	opt := ws2811.DefaultOptions
	opt.Channels[0].LedCount = cfg.LedCount
	opt.Channels[0].GpioPin = cfg.GPIOPin
	opt.Channels[0].Brightness = 255
	// Bytes arrive already reordered, so the peripheral must not swap them again.
	opt.Channels[0].StripeType = ws2811.WS2811StripRGB

	dev, err := ws2811.MakeWS2811(&opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create ws281x device: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to init ws281x device: %w", err)
	}
	return &WS281x{dev: dev, ledCount: cfg.LedCount}, nil
}

func (w *WS281x) LedCount() int {
	return w.ledCount
}

func (w *WS281x) Write(buf []byte) error {
	n := len(buf) / 3
	if n > w.ledCount {
		return fmt.Errorf("%w: %d > %d", ErrFrameSize, n, w.ledCount)
	}
	leds := w.dev.Leds(0)
	for i := 0; i < n; i++ {
		leds[i] = uint32(buf[3*i])<<16 | uint32(buf[3*i+1])<<8 | uint32(buf[3*i+2])
	}
	return w.dev.Render()
}

func (w *WS281x) Close() error {
	w.dev.Fini()
	return nil
}
