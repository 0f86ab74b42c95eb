package lua

import (
	"errors"
	"testing"
	"time"

	"github.com/dshills/worklets/internal/engine"
)

func newTestState(t *testing.T, opts ...StateOption) *State {
	t.Helper()
	state, err := NewState(opts...)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	t.Cleanup(func() { _ = state.Close() })
	return state
}

func TestNewState(t *testing.T) {
	state := newTestState(t)

	if state.Closed() {
		t.Error("NewState() returned closed state")
	}
	if state.ID() == "" {
		t.Error("NewState() has empty ID")
	}
	if state.Kind() != engine.KindLua {
		t.Errorf("Kind() = %q, want %q", state.Kind(), engine.KindLua)
	}
}

func TestStateWithID(t *testing.T) {
	state := newTestState(t, WithID("ui"))
	if state.ID() != "ui" {
		t.Errorf("ID() = %q, want ui", state.ID())
	}
}

func TestStateCompileAndCall(t *testing.T) {
	state := newTestState(t)

	fn, err := state.Compile("double", "function(e) return e.y * 2 end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	got, err := state.Call(fn, map[string]any{"y": 5})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != int64(10) {
		t.Errorf("Call() = %v (%T), want 10", got, got)
	}
}

func TestStateCompileClosure(t *testing.T) {
	state := newTestState(t)

	fn, err := state.Compile("scale", "function(v) return v * __closure.factor end", map[string]any{"factor": 3})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	got, err := state.Call(fn, 4)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != int64(12) {
		t.Errorf("Call() = %v, want 12", got)
	}
}

func TestStateCompileNotFunction(t *testing.T) {
	state := newTestState(t)

	_, err := state.Compile("value", "42", nil)
	if !errors.Is(err, ErrNotAFunction) {
		t.Errorf("Compile() error = %v, want ErrNotAFunction", err)
	}
}

func TestStateCompileSyntaxError(t *testing.T) {
	state := newTestState(t)

	_, err := state.Compile("broken", "function( return end", nil)
	var exc *engine.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("Compile() error = %v, want *engine.Exception", err)
	}
}

func TestStateStringPropertyName(t *testing.T) {
	state := newTestState(t)

	named, err := state.Compile("onScroll", "function(e) end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if name, ok := state.StringProperty(named, "name"); !ok || name != "onScroll" {
		t.Errorf("StringProperty(name) = %q, %v; want onScroll, true", name, ok)
	}

	anon, err := state.Compile("", "function(e) end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if name, ok := state.StringProperty(anon, "name"); ok || name != "" {
		t.Errorf("StringProperty(name) on anonymous = %q, %v; want \"\", false", name, ok)
	}

	if _, ok := state.StringProperty(named, "length"); ok {
		t.Error("StringProperty(length) should not be supported")
	}
}

func TestStateWorkletGlobalNamesFunction(t *testing.T) {
	state := newTestState(t)

	if err := state.Eval("setup", `handler = worklet("pan", function(e) return e end)`); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	fn, ok := state.Global("handler")
	if !ok {
		t.Fatal("Global(handler) not found")
	}
	if name, ok := state.StringProperty(fn, "name"); !ok || name != "pan" {
		t.Errorf("StringProperty(name) = %q, %v; want pan, true", name, ok)
	}
}

func TestStateCallError(t *testing.T) {
	state := newTestState(t)

	fn, err := state.Compile("fail", `function() error("boom") end`, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	_, err = state.Call(fn)
	var exc *engine.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("Call() error = %v, want *engine.Exception", err)
	}
	if exc.Message == "" {
		t.Error("exception message is empty")
	}

	// The state stays usable after a failed call.
	ok, err := state.Compile("ok", "function() return true end", nil)
	if err != nil {
		t.Fatalf("Compile() after failure error = %v", err)
	}
	if got, err := state.Call(ok); err != nil || got != true {
		t.Errorf("Call() after failure = %v, %v", got, err)
	}
}

func TestStateCallTimeout(t *testing.T) {
	state := newTestState(t, WithCallTimeout(20*time.Millisecond))

	fn, err := state.Compile("spin", "function() while true do end end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	_, err = state.Call(fn)
	if !errors.Is(err, engine.ErrCallTimeout) {
		t.Errorf("Call() error = %v, want ErrCallTimeout", err)
	}
}

func TestStateForeignFunction(t *testing.T) {
	a := newTestState(t)
	b := newTestState(t)

	fn, err := a.Compile("f", "function() end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	_, err = b.Call(fn)
	if !errors.Is(err, engine.ErrForeignFunction) {
		t.Errorf("Call() on foreign runtime error = %v, want ErrForeignFunction", err)
	}
}

func TestStateRegisterFunc(t *testing.T) {
	state := newTestState(t)

	var seen []any
	err := state.RegisterFunc("record", func(args []any) (any, error) {
		seen = append(seen, args...)
		return len(seen), nil
	})
	if err != nil {
		t.Fatalf("RegisterFunc() error = %v", err)
	}

	if err := state.Eval("main", `count = record("a", 2)`); err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != int64(2) {
		t.Errorf("record args = %v, want [a 2]", seen)
	}
}

func TestStateRegisterFuncError(t *testing.T) {
	state := newTestState(t)

	_ = state.RegisterFunc("fail", func(args []any) (any, error) {
		return nil, errors.New("host failure")
	})

	err := state.Eval("main", `fail()`)
	if err == nil {
		t.Fatal("Eval() should surface host function errors")
	}
}

func TestStateClosed(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}

	fn, err := state.Compile("f", "function() end", nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !state.Closed() {
		t.Error("Closed() = false after Close")
	}

	if _, err := state.Call(fn); !errors.Is(err, engine.ErrRuntimeClosed) {
		t.Errorf("Call() after Close error = %v, want ErrRuntimeClosed", err)
	}
	if err := state.Eval("x", "x = 1"); !errors.Is(err, engine.ErrRuntimeClosed) {
		t.Errorf("Eval() after Close error = %v, want ErrRuntimeClosed", err)
	}
	if _, ok := state.StringProperty(fn, "name"); ok {
		t.Error("StringProperty() after Close should report false")
	}
}

func TestSandboxBlocksUnsafeModules(t *testing.T) {
	state := newTestState(t)

	if err := state.Eval("req", `local m = require("io")`); err == nil {
		t.Error("require(io) should fail in the sandbox")
	}
	if err := state.Eval("load", `load("return 1")`); err == nil {
		t.Error("load should be removed by the sandbox")
	}
	if err := state.Eval("str", `local s = require("string"); x = s.upper("a")`); err != nil {
		t.Errorf("require(string) error = %v", err)
	}
}
