package native

import (
	"errors"
	"fmt"
)

// Errors returned by the module.
var (
	// ErrModuleClosed is returned after Close.
	ErrModuleClosed = errors.New("worklet module is closed")

	// ErrUnknownEngine is returned for an unsupported runtime kind.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrBadArgument is returned by host functions called with arguments of
	// the wrong type.
	ErrBadArgument = errors.New("bad argument")
)

// CallbackError is a failure of a worklet run outside the registries: a
// frame callback or a worklet scheduled with runOnUI or runOnJS.
type CallbackError struct {
	Worklet string
	Err     error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("worklet %s: %v", e.Worklet, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// WorkletName returns the failing worklet's name.
func (e *CallbackError) WorkletName() string {
	return e.Worklet
}

func badArgument(fn string, index int, want string, got any) error {
	return fmt.Errorf("%s: argument %d: %w: want %s, got %T", fn, index+1, ErrBadArgument, want, got)
}
