package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for threads and the frame loop.
var (
	// ErrThreadClosed is returned when using a closed thread.
	ErrThreadClosed = errors.New("scheduler thread is closed")

	// ErrQueueFull is returned by Schedule when the task queue is full.
	ErrQueueFull = errors.New("scheduler queue full")

	// ErrInvalidFPS is returned for a non-positive frame rate.
	ErrInvalidFPS = errors.New("fps must be positive")

	// ErrTaskPanic matches PanicError with errors.Is.
	ErrTaskPanic = errors.New("scheduler task panicked")
)

// PanicError wraps a panic raised by a task.
type PanicError struct {
	// Thread is the name of the thread the task ran on.
	Thread string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic on %s thread: %v", e.Thread, e.Value)
}

// Is allows errors.Is to match PanicError with ErrTaskPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrTaskPanic
}

// StackTrace returns the goroutine stack captured at the panic.
func (e *PanicError) StackTrace() string {
	return e.Stack
}
