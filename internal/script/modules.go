package script

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/effect"
	"github.com/dokzlo13/stripd/internal/light"
)

// logModule provides logging functions to Lua
type logModule struct{}

func newLogModule() *logModule {
	return &logModule{}
}

// Loader is the module loader for Lua
func (m *logModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.at(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.at(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.at(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.at(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *logModule) at(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), luaToGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}

// lightModule exposes intents and the committed state
type lightModule struct {
	ctl Controller
}

func newLightModule(ctl Controller) *lightModule {
	return &lightModule{ctl: ctl}
}

// Loader is the module loader for Lua
func (m *lightModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "apply", L.NewFunction(m.apply))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "kelvin", L.NewFunction(m.kelvin))

	L.Push(mod)
	return 1
}

// apply{power=, brightness=, color=, color_temp=, mode=} queues an intent.
// Returns true, or false and a message when the engine rejected it.
func (m *lightModule) apply(L *lua.LState) int {
	tbl := L.CheckTable(1)

	var in light.Intent
	if v := tbl.RawGetString("power"); v != lua.LNil {
		b, ok := v.(lua.LBool)
		if !ok {
			L.ArgError(1, "power must be a boolean")
			return 0
		}
		in = in.WithPower(bool(b))
	}
	if v := tbl.RawGetString("brightness"); v != lua.LNil {
		in = in.WithBrightness(checkByte(L, v, "brightness"))
	}
	if v := tbl.RawGetString("color"); v != lua.LNil {
		c, ok := parseColor(v)
		if !ok {
			L.ArgError(1, "color must be {r, g, b} or \"#rrggbb\"")
			return 0
		}
		in = in.WithColor(c)
	}
	if v := tbl.RawGetString("color_temp"); v != lua.LNil {
		n, ok := v.(lua.LNumber)
		if !ok || n < 0 || n > 65535 {
			L.ArgError(1, "color_temp must be a temperature in Kelvin")
			return 0
		}
		in = in.WithColorTemperature(color.ClampKelvin(uint16(n)))
	}
	if v := tbl.RawGetString("mode"); v != lua.LNil {
		k, ok := parseMode(v)
		if !ok {
			L.ArgError(1, "unknown mode "+v.String())
			return 0
		}
		in = in.WithMode(uint8(k))
	}

	if err := m.ctl.ApplyIntent(in); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// state() returns the last committed state as a table.
func (m *lightModule) state(L *lua.LState) int {
	s := m.ctl.State()

	tbl := L.NewTable()
	tbl.RawSetString("power", lua.LBool(s.Power))
	tbl.RawSetString("brightness", lua.LNumber(s.Brightness))
	tbl.RawSetString("color", colorTable(L, s.Color))
	tbl.RawSetString("color_temp", lua.LNumber(s.ColorTemperature))
	tbl.RawSetString("color_mode", lua.LString(s.ColorMode.String()))
	tbl.RawSetString("mode", lua.LString(effect.Kind(s.ModeID).String()))

	L.Push(tbl)
	return 1
}

// kelvin(amount) maps 0..255 onto the supported white range.
func (m *lightModule) kelvin(L *lua.LState) int {
	amount := checkByte(L, L.CheckAny(1), "amount")
	L.Push(lua.LNumber(color.KelvinAt(amount)))
	return 1
}

func checkByte(L *lua.LState, v lua.LValue, name string) uint8 {
	n, ok := v.(lua.LNumber)
	if !ok || n < 0 || n > 255 {
		L.ArgError(1, name+" must be a number in 0..255")
		return 0
	}
	return uint8(n)
}

func parseColor(v lua.LValue) (color.RGB, bool) {
	switch val := v.(type) {
	case lua.LString:
		c, err := color.ParseHex(string(val))
		return c, err == nil
	case *lua.LTable:
		r, g, b := val.RawGetString("r"), val.RawGetString("g"), val.RawGetString("b")
		if r == lua.LNil && g == lua.LNil && b == lua.LNil {
			r, g, b = val.RawGetInt(1), val.RawGetInt(2), val.RawGetInt(3)
		}
		var out [3]uint8
		for i, c := range []lua.LValue{r, g, b} {
			n, ok := c.(lua.LNumber)
			if !ok || n < 0 || n > 255 {
				return color.RGB{}, false
			}
			out[i] = uint8(n)
		}
		return color.RGB{R: out[0], G: out[1], B: out[2]}, true
	default:
		return color.RGB{}, false
	}
}

func parseMode(v lua.LValue) (effect.Kind, bool) {
	switch val := v.(type) {
	case lua.LString:
		return effect.ParseName(string(val))
	case lua.LNumber:
		if val < 0 || val > 255 {
			return effect.Off, false
		}
		return effect.FromID(uint8(val))
	default:
		return effect.Off, false
	}
}

func colorTable(L *lua.LState, c color.RGB) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("r", lua.LNumber(c.R))
	tbl.RawSetString("g", lua.LNumber(c.G))
	tbl.RawSetString("b", lua.LNumber(c.B))
	return tbl
}

// luaToGo converts a Lua value for structured log fields
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}
