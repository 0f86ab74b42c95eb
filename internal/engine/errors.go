package engine

import (
	"errors"
	"fmt"
)

// Errors for runtime operations.
var (
	// ErrRuntimeClosed is returned when operating on a closed runtime.
	ErrRuntimeClosed = errors.New("engine runtime is closed")

	// ErrForeignFunction is returned when a function created by another
	// runtime is passed to Call or StringProperty.
	ErrForeignFunction = errors.New("function belongs to a different runtime")

	// ErrNotCallable is returned when a value is not a function.
	ErrNotCallable = errors.New("value is not callable")

	// ErrCallTimeout is returned when a call exceeds its time budget.
	ErrCallTimeout = errors.New("engine call timeout")

	// ErrCaptureUnsupported is returned by runtimes that cannot recover the
	// source text of a function.
	ErrCaptureUnsupported = errors.New("runtime cannot capture function source")
)

// Exception is a script-level failure raised while running engine code.
type Exception struct {
	// Message is the error message thrown by the script.
	Message string

	// Stack is the engine stack trace, if available.
	Stack string

	// Err is the underlying engine error.
	Err error
}

// Error implements the error interface.
func (e *Exception) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying engine error.
func (e *Exception) Unwrap() error {
	return e.Err
}

// NewException creates an Exception from a message and stack.
func NewException(message, stack string, err error) *Exception {
	return &Exception{Message: message, Stack: stack, Err: err}
}

// ForeignFunctionError builds an error describing a runtime mismatch.
func ForeignFunctionError(owner, runtime string) error {
	return fmt.Errorf("%w: owner %s, runtime %s", ErrForeignFunction, owner, runtime)
}
