// Package lua provides the gopher-lua backend for engine.Runtime.
//
// This package wraps the gopher-lua library to provide:
//   - Sandboxed Lua state management
//   - Go-Lua type conversion bridge
//   - Per-call execution timeouts
//   - Worklet naming (Lua functions carry no name property)
//
// # State
//
// The State type manages a Lua runtime with sandboxing:
//
//	state, err := lua.NewState(
//	    lua.WithCallTimeout(50 * time.Millisecond),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer state.Close()
//
//	fn, err := state.Compile("onScroll", "function(e) return e.y * 2 end", nil)
//
// # Naming
//
// Functions compiled with a non-empty name, or registered from Lua with the
// worklet(name, fn) global, report that name through StringProperty(fn, "name").
// Any other function reports no name.
//
// # Sandbox
//
// The Sandbox restricts Lua code execution by:
//   - Removing dangerous functions (dofile, loadfile, load)
//   - Restricting require to the built-in safe modules
package lua
