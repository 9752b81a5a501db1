package luaexec

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule exposes zerolog to scripts as require("log").
type LogModule struct {
	script string
}

func NewLogModule(script string) *LogModule {
	return &LogModule{script: script}
}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.logAt(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.logAt(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.logAt(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.logAt(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *LogModule) logAt(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua").Str("script", m.script)
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), LuaToGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}
