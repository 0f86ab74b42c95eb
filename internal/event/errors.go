package event

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors for the handler registry.
var (
	// ErrNilHandler is returned when a nil handler or handle is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrDuplicateID is returned by Add when the id is already registered.
	ErrDuplicateID = errors.New("handler id already registered")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps an error from a handler with additional context.
type HandlerError struct {
	// HandlerID is the id of the handler that failed.
	HandlerID uint64

	// EventName is the event being dispatched.
	EventName string

	// Worklet is the declared name of the handler's worklet.
	Worklet string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return "handler " + strconv.FormatUint(e.HandlerID, 10) + " (" + e.Worklet + ") for event " + e.EventName + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// WorkletName returns the failing worklet's name.
func (e *HandlerError) WorkletName() string {
	return e.Worklet
}

// PanicError wraps a panic value as an error.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
