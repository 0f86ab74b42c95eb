// Package worklet holds captured engine functions that can be invoked on the
// runtime they were captured from.
package worklet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/worklets/internal/engine"
)

var (
	// ErrRuntimeMismatch is returned when a handle is called on a runtime other
	// than the one it was captured from.
	ErrRuntimeMismatch = errors.New("worklet called on a foreign runtime")

	// ErrHandleInvalidated is returned when a handle is called after its
	// runtime was torn down.
	ErrHandleInvalidated = errors.New("worklet handle invalidated")
)

// Handle wraps a captured engine function with its declared name and a
// non-owning back-reference to its runtime.
type Handle struct {
	fn   engine.Function
	name string

	mu sync.RWMutex
	rt engine.Runtime
}

// NewHandle captures fn from rt. The function's name property is read once;
// a missing or non-string name yields "".
func NewHandle(rt engine.Runtime, fn engine.Function) *Handle {
	h := &Handle{fn: fn, rt: rt}
	if rt != nil && fn != nil {
		if name, ok := rt.StringProperty(fn, "name"); ok {
			h.name = name
		}
	}
	return h
}

// Function returns the held function.
func (h *Handle) Function() engine.Function {
	return h.fn
}

// Name returns the declared name, or "" for anonymous functions.
func (h *Handle) Name() string {
	return h.name
}

// String returns a debug label for the handle.
func (h *Handle) String() string {
	if h.name == "" {
		return "<anonymous>"
	}
	return h.name
}

// Runtime returns the runtime the handle was captured from.
func (h *Handle) Runtime() (engine.Runtime, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rt == nil {
		return nil, ErrHandleInvalidated
	}
	return h.rt, nil
}

// Call invokes the function on rt. The caller must hold rt's thread: Call is
// synchronous and runs on the calling goroutine.
func (h *Handle) Call(rt engine.Runtime, args ...any) (any, error) {
	owner, err := h.Runtime()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h, err)
	}
	if rt == nil || rt.ID() != owner.ID() {
		return nil, fmt.Errorf("%s: %w", h, ErrRuntimeMismatch)
	}
	if owner.Closed() {
		return nil, fmt.Errorf("%s: %w", h, engine.ErrRuntimeClosed)
	}
	return owner.Call(h.fn, args...)
}

// Invalidate drops the runtime back-reference. Later calls fail with
// ErrHandleInvalidated.
func (h *Handle) Invalidate() {
	h.mu.Lock()
	h.rt = nil
	h.mu.Unlock()
}

// Valid reports whether the handle still references its runtime.
func (h *Handle) Valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rt != nil
}
