package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// safeModules are the built-in modules require may load.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
	"bit32":  true,
	"utf8":   true,
}

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	unsafe bool
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire replaces require with a whitelist of built-in modules.
// package.path and package.cpath are cleared so nothing loads from disk.
func (s *Sandbox) installSafeRequire() {
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")
	if originalRequire == lua.LNil {
		// package library not opened; provide a require that only rejects.
		s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("module %q is not available", L.CheckString(1))
			return 0
		}))
		return
	}

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if !safeModules[modName] && !s.unsafe {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// AllowUnsafe opens the io, os and debug libraries. It is meant for
// development builds only.
func (s *Sandbox) AllowUnsafe() {
	s.unsafe = true
	lua.OpenIo(s.L)
	lua.OpenOs(s.L)
	lua.OpenDebug(s.L)
}

// Unsafe reports whether AllowUnsafe was called.
func (s *Sandbox) Unsafe() bool {
	return s.unsafe
}
