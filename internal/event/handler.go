package event

import (
	"runtime/debug"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/worklet"
)

// Handler binds an event name to a worklet.
type Handler struct {
	id        uint64
	eventName string
	handle    *worklet.Handle
}

// NewHandler creates a handler. The handler takes ownership of handle.
func NewHandler(id uint64, eventName string, handle *worklet.Handle) *Handler {
	return &Handler{
		id:        id,
		eventName: eventName,
		handle:    handle,
	}
}

// ID returns the handler id.
func (h *Handler) ID() uint64 {
	return h.id
}

// EventName returns the event name the handler listens to.
func (h *Handler) EventName() string {
	return h.eventName
}

// Handle returns the handler's worklet.
func (h *Handler) Handle() *worklet.Handle {
	return h.handle
}

// Process invokes the worklet with value as its only argument. It must be
// called on the goroutine holding rt. The worklet's return value is ignored.
func (h *Handler) Process(rt engine.Runtime, value any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	_, err = h.handle.Call(rt, value)
	return err
}
