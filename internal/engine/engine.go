package engine

// Kind identifies a runtime backend.
type Kind string

// Supported backends.
const (
	KindJS  Kind = "js"
	KindLua Kind = "lua"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Function is an opaque reference to a callable value held by a Runtime.
type Function interface {
	// Owner returns the ID of the runtime that created the function.
	Owner() string
}

// HostFunc is a Go function exposed to scripts. Arguments and the result are
// plain Go values converted by the runtime bridge.
type HostFunc func(args []any) (any, error)

// Runtime is an embedded scripting runtime.
//
// Implementations are not goroutine-safe for invocation; the caller must hold
// the runtime (see package doc).
type Runtime interface {
	// ID returns a unique identifier for this runtime instance.
	ID() string

	// Kind returns the backend kind.
	Kind() Kind

	// Eval runs a script for its side effects.
	Eval(name, source string) error

	// Compile evaluates source as a function expression. closure values are
	// visible to the function body as __closure.
	Compile(name, source string, closure map[string]any) (Function, error)

	// Global returns a callable global by name.
	Global(name string) (Function, bool)

	// StringProperty reads a string-valued property of a function. It
	// reports false when the property is missing or not a string.
	StringProperty(fn Function, name string) (string, bool)

	// Call invokes fn with the given arguments and returns its result.
	Call(fn Function, args ...any) (any, error)

	// SetGlobal sets a global variable.
	SetGlobal(name string, value any) error

	// RegisterFunc exposes a Go function as a global.
	RegisterFunc(name string, fn HostFunc) error

	// Close releases the runtime. It is safe to call more than once.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool
}

// Capturer is implemented by runtimes that can recover function source text
// so the function can be recompiled on another runtime.
type Capturer interface {
	Capture(fn Function) (string, error)
}

// CheckOwner returns ErrForeignFunction when fn was not created by rt.
func CheckOwner(rt Runtime, fn Function) error {
	if fn == nil {
		return ErrNotCallable
	}
	if fn.Owner() != rt.ID() {
		return ForeignFunctionError(fn.Owner(), rt.ID())
	}
	return nil
}
