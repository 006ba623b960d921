package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM strips the Lua VM down to what a declarative config
// needs. Removed: os (execute/exit/getenv), io (open/popen), module
// loading (require/dofile/loadfile/load/loadstring), and debug.
// string, table, math, and the basic utilities stay available.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates a Lua state with the sandbox applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
