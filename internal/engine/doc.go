// Package engine defines the scripting runtime abstraction consumed by the
// worklet core.
//
// A Runtime owns function values (Function) and can compile worklet source,
// read string properties off functions, and invoke them with Go values. Two
// backends are provided:
//
//   - engine/js wraps github.com/dop251/goja
//   - engine/lua wraps github.com/yuin/gopher-lua
//
// # Threading
//
// Runtimes are not safe for concurrent invocation. Callers must serialize all
// calls on a runtime, normally by running them on the scheduler's UI thread.
//
//	rt, err := js.New()
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	fn, err := rt.Compile("onScroll", "function onScroll(e) { return e.y }", nil)
//	if err != nil {
//	    return err
//	}
//	out, err := rt.Call(fn, map[string]any{"y": 5})
//
// After Close every operation returns ErrRuntimeClosed.
package engine
