package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/worklets/internal/engine"
)

// DefaultCallTimeout bounds a single Call. Zero disables the limit.
const DefaultCallTimeout time.Duration = 0

// Function is a Lua function owned by a State.
type Function struct {
	owner string
	fn    *lua.LFunction
}

// Owner returns the ID of the state that created the function.
func (f *Function) Owner() string {
	return f.owner
}

// LFunction returns the underlying gopher-lua function.
func (f *Function) LFunction() *lua.LFunction {
	return f.fn
}

// State wraps gopher-lua as an engine.Runtime.
//
// gopher-lua's LState is not goroutine-safe. The mutex guards Go-side access
// but the caller is still expected to serialize invocations (the scheduler's
// UI thread does this). Host functions must not call back into the State.
type State struct {
	L *lua.LState

	mu sync.Mutex

	id          string
	callTimeout time.Duration
	sandbox     *Sandbox
	bridge      *Bridge

	// names maps functions to their declared worklet names.
	names map[*lua.LFunction]string

	closed bool
}

var _ engine.Runtime = (*State)(nil)

// StateOption configures a State.
type StateOption func(*State)

// WithCallTimeout sets the time budget for each Call.
func WithCallTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.callTimeout = d
	}
}

// WithID overrides the generated runtime ID.
func WithID(id string) StateOption {
	return func(s *State) {
		if id != "" {
			s.id = id
		}
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		id:          uuid.NewString(),
		callTimeout: DefaultCallTimeout,
		names:       make(map[*lua.LFunction]string),
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	state.L = L
	openSafeLibraries(L)

	state.bridge = NewBridge(L, state.id)
	state.sandbox = NewSandbox(L)
	state.sandbox.Install()

	L.SetGlobal("worklet", L.NewFunction(state.luaWorklet))

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// luaWorklet implements worklet(name, fn) -> fn.
func (s *State) luaWorklet(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	s.names[fn] = name
	L.Push(fn)
	return 1
}

// ID returns the runtime ID.
func (s *State) ID() string {
	return s.id
}

// Kind returns engine.KindLua.
func (s *State) Kind() engine.Kind {
	return engine.KindLua
}

// Eval executes a Lua chunk.
func (s *State) Eval(name, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.ErrRuntimeClosed
	}

	return s.doWithRecovery(func() error {
		fn, err := s.L.Load(strings.NewReader(source), name)
		if err != nil {
			return toException(err)
		}
		s.L.Push(fn)
		return toException(s.L.PCall(0, 0, nil))
	})
}

// Compile evaluates source as a function expression. The closure is bound to
// the local __closure visible to the function body.
func (s *State) Compile(name, source string, closure map[string]any) (engine.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, engine.ErrRuntimeClosed
	}

	chunkName := name
	if chunkName == "" {
		chunkName = "worklet"
	}
	chunk := "local __closure = ...\nreturn " + source

	var compiled *lua.LFunction
	err := s.doWithRecovery(func() error {
		factory, err := s.L.Load(strings.NewReader(chunk), chunkName)
		if err != nil {
			return toException(err)
		}
		if closure == nil {
			closure = map[string]any{}
		}
		s.L.Push(factory)
		s.L.Push(s.bridge.ToLuaValue(closure))
		if err := s.L.PCall(1, 1, nil); err != nil {
			return toException(err)
		}
		ret := s.L.Get(-1)
		s.L.Pop(1)
		fn, ok := ret.(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s (got %s)", ErrNotAFunction, chunkName, ret.Type())
		}
		compiled = fn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if name != "" {
		s.names[compiled] = name
	}
	return &Function{owner: s.id, fn: compiled}, nil
}

// Global returns a global Lua function.
func (s *State) Global(name string) (engine.Function, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, false
	}
	return &Function{owner: s.id, fn: fn}, true
}

// StringProperty reads a property of a Lua function. Only "name" is
// supported, backed by the state's naming table.
func (s *State) StringProperty(fn engine.Function, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || name != "name" {
		return "", false
	}
	lf, ok := fn.(*Function)
	if !ok || lf.owner != s.id {
		return "", false
	}
	n, ok := s.names[lf.fn]
	return n, ok
}

// Call invokes fn with the given arguments and returns its first result.
func (s *State) Call(fn engine.Function, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, engine.ErrRuntimeClosed
	}
	if err := engine.CheckOwner(s, fn); err != nil {
		return nil, err
	}
	lf, ok := fn.(*Function)
	if !ok {
		return nil, engine.ErrNotCallable
	}

	if s.callTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}

	stackTop := s.L.GetTop()
	s.L.Push(lf.fn)
	for _, arg := range args {
		s.L.Push(s.bridge.ToLuaValue(arg))
	}

	var result any
	err := s.doWithRecovery(func() error {
		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}
		nRet := s.L.GetTop() - stackTop
		if nRet > 0 {
			result = s.bridge.ToGoValue(s.L.Get(stackTop + 1))
			s.L.Pop(nRet)
		}
		return nil
	})
	if err != nil {
		s.L.SetTop(stackTop)
		if ctx := s.L.Context(); ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutError(s.names[lf.fn], err)
		}
		var exc *engine.Exception
		if errors.As(err, &exc) {
			return nil, err
		}
		return nil, toException(err)
	}
	return result, nil
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.ErrRuntimeClosed
	}
	s.L.SetGlobal(name, s.bridge.ToLuaValue(value))
	return nil
}

// RegisterFunc registers a Go function as a global Lua function.
func (s *State) RegisterFunc(name string, fn engine.HostFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.ErrRuntimeClosed
	}
	s.L.SetGlobal(name, s.L.NewFunction(s.bridge.WrapGoFunc(fn)))
	return nil
}

// Sandbox returns the sandbox for this state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Closed returns true if the state has been closed.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
// After Close is called, all other methods return engine.ErrRuntimeClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.names = nil
	s.closed = true
	return nil
}

// doWithRecovery executes a function with panic recovery.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
