package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/goleak"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLight struct {
	mu      sync.Mutex
	intents []light.Intent
	state   light.State
	err     error
}

func (f *fakeLight) ApplyIntent(in light.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.intents = append(f.intents, in)
	return nil
}

func (f *fakeLight) State() light.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLight) applied() []light.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]light.Intent(nil), f.intents...)
}

// start runs the runtime until the test ends.
func start(t *testing.T, r *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		r.Close()
	})
}

func TestApplyBuildsIntent(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	require.NoError(t, r.LoadString(`
		ok = light.apply{power = true, brightness = 128, color = {r = 255, g = 16, b = 0}, mode = "rainbow_flow"}
	`))
	defer r.Close()

	got := ctl.applied()
	require.Len(t, got, 1)
	in := got[0]
	require.NotNil(t, in.Power)
	assert.True(t, *in.Power)
	require.NotNil(t, in.Brightness)
	assert.Equal(t, uint8(128), *in.Brightness)
	require.NotNil(t, in.Color)
	assert.Equal(t, color.RGB{R: 255, G: 16, B: 0}, *in.Color)
	require.NotNil(t, in.ModeID)
	assert.Equal(t, uint8(effect.RainbowFlow), *in.ModeID)
	assert.Nil(t, in.ColorTemperature)

	assert.Equal(t, lua.LTrue, r.L.GetGlobal("ok"))
}

func TestApplyColorForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want color.RGB
	}{
		{"fields", `light.apply{color = {r = 1, g = 2, b = 3}}`, color.RGB{R: 1, G: 2, B: 3}},
		{"array", `light.apply{color = {10, 20, 30}}`, color.RGB{R: 10, G: 20, B: 30}},
		{"hex", `light.apply{color = "#ff8000"}`, color.RGB{R: 255, G: 128, B: 0}},
		{"hex without hash", `light.apply{color = "0000ff"}`, color.RGB{B: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeLight{}
			r := New(ctl, 0)
			defer r.Close()
			require.NoError(t, r.LoadString(tt.src))
			got := ctl.applied()
			require.Len(t, got, 1)
			require.NotNil(t, got[0].Color)
			assert.Equal(t, tt.want, *got[0].Color)
		})
	}
}

func TestApplyRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"power type", `light.apply{power = "on"}`},
		{"brightness range", `light.apply{brightness = 300}`},
		{"negative brightness", `light.apply{brightness = -1}`},
		{"short hex", `light.apply{color = "#fff"}`},
		{"channel range", `light.apply{color = {r = 256, g = 0, b = 0}}`},
		{"unknown mode", `light.apply{mode = "strobe"}`},
		{"internal mode id", `light.apply{mode = 255}`},
		{"not a table", `light.apply(5)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeLight{}
			r := New(ctl, 0)
			defer r.Close()
			assert.Error(t, r.LoadString(tt.src))
			assert.Empty(t, ctl.applied())
		})
	}
}

func TestApplyColorTemperatureClamped(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	defer r.Close()
	require.NoError(t, r.LoadString(`light.apply{color_temp = 9000}`))

	got := ctl.applied()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ColorTemperature)
	assert.Equal(t, color.MaxKelvin, *got[0].ColorTemperature)
}

func TestApplyReportsEngineError(t *testing.T) {
	ctl := &fakeLight{err: errors.New("intent queue full")}
	r := New(ctl, 0)
	defer r.Close()
	require.NoError(t, r.LoadString(`ok, msg = light.apply{power = false}`))

	assert.Equal(t, lua.LFalse, r.L.GetGlobal("ok"))
	assert.Equal(t, "intent queue full", r.L.GetGlobal("msg").String())
}

func TestStateAndKelvin(t *testing.T) {
	ctl := &fakeLight{state: light.State{
		Power:            true,
		Brightness:       42,
		Color:            color.RGB{R: 9, G: 8, B: 7},
		ColorTemperature: 2700,
		ColorMode:        light.ColorModeTemperature,
		ModeID:           uint8(effect.Static),
	}}
	r := New(ctl, 0)
	defer r.Close()
	require.NoError(t, r.LoadString(`
		local s = light.state()
		power, brightness, red = s.power, s.brightness, s.color.r
		temp, cmode, mode = s.color_temp, s.color_mode, s.mode
		warm, cool = light.kelvin(0), light.kelvin(255)
	`))

	assert.Equal(t, lua.LTrue, r.L.GetGlobal("power"))
	assert.Equal(t, lua.LNumber(42), r.L.GetGlobal("brightness"))
	assert.Equal(t, lua.LNumber(9), r.L.GetGlobal("red"))
	assert.Equal(t, lua.LNumber(2700), r.L.GetGlobal("temp"))
	assert.Equal(t, "color_temp", r.L.GetGlobal("cmode").String())
	assert.Equal(t, "static", r.L.GetGlobal("mode").String())
	assert.Equal(t, lua.LNumber(color.MinKelvin), r.L.GetGlobal("warm"))
	assert.Equal(t, lua.LNumber(color.MaxKelvin), r.L.GetGlobal("cool"))
}

func TestLogModule(t *testing.T) {
	r := New(&fakeLight{}, 0)
	defer r.Close()
	assert.NoError(t, r.LoadString(`
		log.debug("d")
		log.info("hello", {count = 3, nested = {a = true}})
		log.warn("w", nil)
		local l = require("log")
		l.error("e")
	`))
	assert.Error(t, r.LoadString(`log.info()`))
}

func TestEveryRunsOnWorker(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	require.NoError(t, r.LoadString(`
		ticks = 0
		every(10, function()
			ticks = ticks + 1
			light.apply{brightness = ticks}
		end)
	`))
	start(t, r)

	assert.Eventually(t, func() bool {
		return len(ctl.applied()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	got := ctl.applied()
	for i, in := range got[:3] {
		require.NotNil(t, in.Brightness)
		assert.Equal(t, uint8(i+1), *in.Brightness)
	}
}

func TestEveryRegisteredWhileRunning(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	start(t, r)

	require.NoError(t, r.Eval(context.Background(), `
		every(10, function() light.apply{power = true} end)
	`))
	assert.Eventually(t, func() bool {
		return len(ctl.applied()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEveryRejectsShortInterval(t *testing.T) {
	r := New(&fakeLight{}, 0)
	defer r.Close()
	assert.Error(t, r.LoadString(`every(1, function() end)`))
	assert.Error(t, r.LoadString(`every(100, "nope")`))
}

func TestCallbackErrorKeepsWorker(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	require.NoError(t, r.LoadString(`
		every(10, function() error("boom") end)
	`))
	start(t, r)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Eval(context.Background(), `light.apply{power = false}`))
	assert.Len(t, ctl.applied(), 1)
}

func TestPanickingWorkKeepsWorker(t *testing.T) {
	r := New(&fakeLight{}, 0)
	start(t, r)

	assert.True(t, r.Do(context.Background(), func(context.Context, *lua.LState) {
		panic("boom")
	}))
	assert.NoError(t, r.Eval(context.Background(), `x = 1`))
}

func TestDoAfterClose(t *testing.T) {
	r := New(&fakeLight{}, 0)
	r.Close()

	assert.False(t, r.Do(context.Background(), func(context.Context, *lua.LState) {}))
	assert.ErrorIs(t, r.Eval(context.Background(), `x = 1`), ErrRuntimeClosed)
}

func TestDoDropsWhenFull(t *testing.T) {
	r := New(&fakeLight{}, 1)
	defer r.Close()

	noop := func(context.Context, *lua.LState) {}
	assert.True(t, r.Do(context.Background(), noop))
	assert.False(t, r.Do(context.Background(), noop))
}

func TestLoadFile(t *testing.T) {
	ctl := &fakeLight{}
	r := New(ctl, 0)
	defer r.Close()

	path := filepath.Join(t.TempDir(), "auto.lua")
	require.NoError(t, os.WriteFile(path, []byte(`light.apply{mode = 0}`), 0o644))
	require.NoError(t, r.LoadFile(path))
	require.Len(t, ctl.applied(), 1)
	assert.Equal(t, uint8(effect.Static), *ctl.applied()[0].ModeID)

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.lua")))
}
