package mapper

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors for the mapper registry.
var (
	// ErrMapperNotFound is returned for operations on an unknown mapper id.
	ErrMapperNotFound = errors.New("mapper not found")

	// ErrNilBody is returned when a mapper is started without a body.
	ErrNilBody = errors.New("mapper body cannot be nil")

	// ErrDependencyCycle is reported when mapper dependencies form a cycle.
	// Mappers in the cycle still run, in registration order.
	ErrDependencyCycle = errors.New("mapper dependency cycle")

	// ErrInvalidOutput is returned when a worklet body returns something
	// other than an object.
	ErrInvalidOutput = errors.New("mapper output must be an object")
)

// MapperError wraps a failure from a mapper body.
type MapperError struct {
	// MapperID is the id of the mapper that failed.
	MapperID uint64

	// Worklet is the mapper's display name.
	Worklet string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *MapperError) Error() string {
	return "mapper " + strconv.FormatUint(e.MapperID, 10) + " (" + e.Worklet + "): " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *MapperError) Unwrap() error {
	return e.Err
}

// WorkletName returns the failing worklet's name.
func (e *MapperError) WorkletName() string {
	return e.Worklet
}

// CycleError lists the mappers caught in a dependency cycle.
type CycleError struct {
	// IDs are the mapper ids in the cycle, in registration order.
	IDs []uint64
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	s := "mapper dependency cycle involving"
	for i, id := range e.IDs {
		if i > 0 {
			s += ","
		}
		s += " " + strconv.FormatUint(id, 10)
	}
	return s
}

// Is allows errors.Is to match CycleError with ErrDependencyCycle.
func (e *CycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}

// panicError wraps a panic recovered from a mapper body.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("mapper panic: %v", e.value)
}

// StackTrace returns the goroutine stack captured at the panic.
func (e *panicError) StackTrace() string {
	return e.stack
}
