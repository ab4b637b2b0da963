package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/ledger"
	"github.com/dokzlo13/stripd/internal/light"
	"github.com/dokzlo13/stripd/internal/nor"
)

const testYAML = `
device:
  id: test-strip
strip:
  driver: null
  led_count: 16
  fps: 200
  color_order: RGB
transitions:
  fade_in: 10ms
  fade_out: 10ms
  color_change: 10ms
  brightness: 10ms
flash:
  image: %s
  sector_size: 4096
  nvs_size: 16384
  otadata_size: 8192
  slot_size: 65536
  debounce: 20ms
  verify_after: 20ms
database:
  path: %s
shutdown_timeout: 2s
`

var testLayout = nor.Layout{SectorSize: 4096, NVSSize: 16384, OTADataSize: 8192, SlotSize: 65536}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(testYAML,
		filepath.Join(dir, "flash.bin"), filepath.Join(dir, "ledger.sqlite"))))
	require.NoError(t, err)
	return cfg
}

func startServices(t *testing.T, cfg *config.Config) (*Services, func()) {
	t.Helper()
	s, err := NewServices(cfg, func() {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	return s, func() {
		cancel()
		require.NoError(t, s.Stop())
	}
}

// persisted waits until n light states have been written.
func persisted(t *testing.T, s *Services, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		entries, err := s.Ledger.GetByType(ledger.EventStatePersisted, 10)
		return err == nil && len(entries) >= n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	s, stop := startServices(t, cfg)
	assert.True(t, s.ready.Load())

	require.NoError(t, s.Light.Engine.ApplyIntent(light.Intent{}.WithBrightness(100)))
	persisted(t, s, 1)
	require.NoError(t, s.Light.Engine.ApplyIntent(light.Intent{}.WithColor(color.RGB{R: 1, G: 2, B: 3})))
	persisted(t, s, 2)

	entries, err := s.Ledger.GetByType(ledger.EventStatePersisted, 10)
	require.NoError(t, err)
	assert.Equal(t, float64(100), entries[0].Payload["brightness"])
	stop()

	s2, err := NewServices(cfg, func() {})
	require.NoError(t, err)
	defer s2.Close()

	st := s2.Flash.LoadState()
	assert.Equal(t, uint8(100), st.Brightness)
	assert.Equal(t, color.RGB{R: 1, G: 2, B: 3}, st.Color)
}

func TestClearStateRestoresDefaults(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	s, stop := startServices(t, cfg)
	require.NoError(t, s.Light.Engine.ApplyIntent(light.Intent{}.WithBrightness(7)))
	persisted(t, s, 1)
	stop()

	s2, err := NewServices(cfg, func() {})
	require.NoError(t, err)
	require.NoError(t, s2.ClearState())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s2.Start(ctx))
	assert.Equal(t, light.DefaultState(), s2.Light.Engine.State())
	cancel()
	require.NoError(t, s2.Stop())
}

func TestConfigChangeReachesStrip(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	s, stop := startServices(t, cfg)
	defer stop()

	dev := s.defaults
	assert.Equal(t, color.OrderRGB, s.Light.Strip.Order())

	dev.Light.ColorOrder = color.OrderBGR
	s.publishConfig(dev)
	assert.Eventually(t, func() bool {
		return s.Light.Strip.Order() == color.OrderBGR
	}, time.Second, 5*time.Millisecond)
}

func TestPendingSlotIsVerified(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	dev, err := nor.Open(cfg.Flash.Image, testLayout.Size(), testLayout.SectorSize)
	require.NoError(t, err)
	parts, err := testLayout.Mount(dev)
	require.NoError(t, err)
	boot, err := nor.Boot(parts.OTAData, parts.Slots)
	require.NoError(t, err)
	require.NoError(t, boot.Activate(parts.Slots[1]))
	require.NoError(t, dev.Close())

	s, stop := startServices(t, cfg)
	defer stop()

	assert.Equal(t, "ota_1", s.Flash.BootSlot())
	require.Eventually(t, func() bool {
		return !s.Flash.Boot.Pending()
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, nor.BootValid, s.Flash.Boot.State())

	require.Eventually(t, func() bool {
		entries, err := s.Ledger.GetByType(ledger.EventBootValidated, 10)
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDefaultDeviceConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Strip.ColorCorrection = "#ffe0c0"
	cfg.Strip.SkipLeds = 2
	cfg.MQTT.Host = "broker.local"

	dev, err := defaultDeviceConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint16(16), dev.Light.LedCount)
	assert.Equal(t, uint16(2), dev.Light.SkipLeds)
	assert.Equal(t, color.OrderRGB, dev.Light.ColorOrder)
	assert.Equal(t, color.RGB{R: 0xff, G: 0xe0, B: 0xc0}, dev.Light.Correction)
	assert.Equal(t, uint8(255), dev.Light.BrightnessMax)
	assert.Equal(t, "broker.local", dev.MQTT.Host)
	assert.Equal(t, uint16(1883), dev.MQTT.Port)
}

func TestDefaultDeviceConfigRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"color order", func(c *config.Config) { c.Strip.ColorOrder = "XYZ" }},
		{"correction", func(c *config.Config) { c.Strip.ColorCorrection = "white" }},
		{"led count", func(c *config.Config) { c.Strip.LedCount = 70000 }},
		{"skip leds", func(c *config.Config) { c.Strip.SkipLeds = 16 }},
		{"brightness range", func(c *config.Config) { c.Strip.BrightnessMin = 200; c.Strip.BrightnessMax = 100 }},
		{"mqtt port", func(c *config.Config) { c.MQTT.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, t.TempDir())
			tt.mutate(cfg)
			_, err := defaultDeviceConfig(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewServicesRejectsBadLayout(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Flash.SlotSize = 1000

	_, err := NewServices(cfg, func() {})
	assert.Error(t, err)
}
