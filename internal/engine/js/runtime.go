// Package js provides the goja backend for engine.Runtime.
//
// Worklets are plain JavaScript function expressions. Captured closure values
// are visible inside the function as __closure:
//
//	fn, err := rt.Compile("onScroll", "function onScroll(e) { return e.y * __closure.k }",
//	    map[string]any{"k": 2})
//
// The runtime implements engine.Capturer: the source of any user-defined
// function can be recovered and shipped to another runtime.
package js

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/dshills/worklets/internal/engine"
)

// Function is a JavaScript function owned by a Runtime.
type Function struct {
	owner string
	value goja.Value
	call  goja.Callable
}

// Owner returns the ID of the runtime that created the function.
func (f *Function) Owner() string {
	return f.owner
}

// Value returns the goja value of the function.
func (f *Function) Value() goja.Value {
	return f.value
}

// Runtime wraps a goja.Runtime as an engine.Runtime.
//
// goja runtimes are not goroutine-safe. The mutex guards Go-side access; host
// functions must not call back into the Runtime.
type Runtime struct {
	vm *goja.Runtime

	mu sync.Mutex

	id          string
	callTimeout time.Duration
	closed      bool
}

var (
	_ engine.Runtime  = (*Runtime)(nil)
	_ engine.Capturer = (*Runtime)(nil)
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithCallTimeout sets the time budget for each Call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.callTimeout = d
	}
}

// WithID overrides the generated runtime ID.
func WithID(id string) Option {
	return func(r *Runtime) {
		if id != "" {
			r.id = id
		}
	}
}

// New creates a new JavaScript runtime.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		vm: goja.New(),
		id: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	return r, nil
}

// ID returns the runtime ID.
func (r *Runtime) ID() string {
	return r.id
}

// Kind returns engine.KindJS.
func (r *Runtime) Kind() engine.Kind {
	return engine.KindJS
}

// Eval runs a script for its side effects.
func (r *Runtime) Eval(name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return engine.ErrRuntimeClosed
	}
	_, err := r.vm.RunScript(name, source)
	return toException(err)
}

// Compile evaluates source as a function expression.
func (r *Runtime) Compile(name, source string, closure map[string]any) (engine.Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, engine.ErrRuntimeClosed
	}
	if name == "" {
		name = "worklet"
	}

	wrapped := "(function(__closure) {\n\"use strict\";\nreturn (" + source + ");\n})"
	factoryVal, err := r.vm.RunScript(name, wrapped)
	if err != nil {
		return nil, toException(err)
	}
	factory, ok := goja.AssertFunction(factoryVal)
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotCallable, name)
	}
	if closure == nil {
		closure = map[string]any{}
	}
	val, err := factory(goja.Undefined(), r.vm.ToValue(closure))
	if err != nil {
		return nil, toException(err)
	}
	call, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("%w: %s evaluated to %s", engine.ErrNotCallable, name, val.String())
	}
	return &Function{owner: r.id, value: val, call: call}, nil
}

// Global returns a callable global by name.
func (r *Runtime) Global(name string) (engine.Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	val := r.vm.Get(name)
	if val == nil {
		return nil, false
	}
	call, ok := goja.AssertFunction(val)
	if !ok {
		return nil, false
	}
	return &Function{owner: r.id, value: val, call: call}, true
}

// StringProperty reads a string-valued property of a function object.
func (r *Runtime) StringProperty(fn engine.Function, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", false
	}
	jf, ok := fn.(*Function)
	if !ok || jf.owner != r.id {
		return "", false
	}
	obj, ok := jf.value.(*goja.Object)
	if !ok {
		return "", false
	}
	prop := obj.Get(name)
	if prop == nil || goja.IsUndefined(prop) || goja.IsNull(prop) {
		return "", false
	}
	s, ok := prop.Export().(string)
	return s, ok
}

// Call invokes fn with the given arguments and returns its exported result.
func (r *Runtime) Call(fn engine.Function, args ...any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, engine.ErrRuntimeClosed
	}
	if err := engine.CheckOwner(r, fn); err != nil {
		return nil, err
	}
	jf, ok := fn.(*Function)
	if !ok {
		return nil, engine.ErrNotCallable
	}

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = r.toValue(arg)
	}

	if r.callTimeout > 0 {
		timer := time.AfterFunc(r.callTimeout, func() {
			r.vm.Interrupt(engine.ErrCallTimeout)
		})
		defer func() {
			timer.Stop()
			r.vm.ClearInterrupt()
		}()
	}

	ret, err := jf.call(goja.Undefined(), values...)
	if err != nil {
		return nil, toException(err)
	}
	return r.export(ret), nil
}

// SetGlobal sets a global variable.
func (r *Runtime) SetGlobal(name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return engine.ErrRuntimeClosed
	}
	return r.vm.Set(name, r.toValue(value))
}

// RegisterFunc exposes a Go function as a global.
func (r *Runtime) RegisterFunc(name string, fn engine.HostFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return engine.ErrRuntimeClosed
	}
	return r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = r.export(arg)
		}
		result, err := fn(args)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		if result == nil {
			return goja.Undefined()
		}
		return r.toValue(result)
	})
}

// Capture returns the source text of a user-defined function.
func (r *Runtime) Capture(fn engine.Function) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", engine.ErrRuntimeClosed
	}
	if err := engine.CheckOwner(r, fn); err != nil {
		return "", err
	}
	jf, ok := fn.(*Function)
	if !ok {
		return "", engine.ErrNotCallable
	}
	src := jf.value.String()
	if strings.Contains(src, "[native code]") {
		return "", engine.ErrCaptureUnsupported
	}
	return src, nil
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the runtime. It waits for an in-flight call to return.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.vm = nil
	return nil
}

// toValue converts a Go value, unwrapping *Function arguments.
func (r *Runtime) toValue(v any) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case *Function:
		return val.value
	case goja.Value:
		return val
	default:
		return r.vm.ToValue(v)
	}
}

// export converts a goja value to a plain Go value. Functions are wrapped as
// *Function so they keep their owner.
func (r *Runtime) export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if call, ok := goja.AssertFunction(v); ok {
		return &Function{owner: r.id, value: v, call: call}
	}
	return v.Export()
}

// toException converts goja errors to engine errors.
func toException(err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ierr, ok := interrupted.Value().(error); ok && errors.Is(ierr, engine.ErrCallTimeout) {
			return fmt.Errorf("%w: %s", engine.ErrCallTimeout, interrupted.String())
		}
		return engine.NewException(interrupted.String(), "", err)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		msg := exc.Error()
		if val := exc.Value(); val != nil {
			msg = val.String()
		}
		return engine.NewException(msg, exc.String(), err)
	}
	return engine.NewException(err.Error(), "", err)
}
