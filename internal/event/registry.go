package event

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/worklet"
)

// TimestampGlobal is the global set to the event timestamp before
// ProcessEvent dispatches.
const TimestampGlobal = "_eventTimestamp"

// ErrorReporter receives handler failures.
type ErrorReporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(err error)

// Report calls f(err).
func (f ReporterFunc) Report(err error) {
	f(err)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReporter sets the reporter for handler failures.
func WithReporter(r ErrorReporter) RegistryOption {
	return func(reg *Registry) {
		reg.reporter = r
	}
}

// Registry manages event handlers keyed by id and by event name.
// It is safe for concurrent use.
//
// Removing a handler takes effect for dispatches that start afterwards. A
// dispatch already running still invokes every handler it started with, so
// removed handles are invalidated once no dispatch is in flight.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint64]*Handler
	byName map[string][]*Handler

	inFlight int
	retired  []*Handler

	lastID   atomic.Uint64
	reporter ErrorReporter
}

// NewRegistry creates an empty handler registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:   make(map[uint64]*Handler),
		byName: make(map[string][]*Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextID allocates a handler id without registering anything. Ids start at 1
// and increase monotonically.
func (r *Registry) NextID() uint64 {
	return r.lastID.Add(1)
}

// Register creates a handler for eventName with a fresh id and inserts it.
// A nil handle is rejected without allocating an id.
func (r *Registry) Register(eventName string, handle *worklet.Handle) (uint64, error) {
	if handle == nil {
		return 0, ErrNilHandler
	}
	id := r.NextID()
	if err := r.Add(NewHandler(id, eventName, handle)); err != nil {
		return 0, err
	}
	return id, nil
}

// Add inserts a handler whose id was allocated with NextID. Handlers for the
// same event are kept in id order, which is registration order.
func (r *Registry) Add(h *Handler) error {
	if h == nil || h.handle == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[h.id]; exists {
		return ErrDuplicateID
	}
	r.byID[h.id] = h

	handlers := r.byName[h.eventName]
	i := sort.Search(len(handlers), func(i int) bool {
		return handlers[i].id > h.id
	})
	handlers = append(handlers, nil)
	copy(handlers[i+1:], handlers[i:])
	handlers[i] = h
	r.byName[h.eventName] = handlers
	return nil
}

// Unregister removes a handler by id. Unknown ids are ignored; the return
// value reports whether a handler was removed.
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	h := r.remove(id)
	if h == nil {
		r.mu.Unlock()
		return false
	}
	release := r.retire(h)
	r.mu.Unlock()

	invalidate(release)
	return true
}

// remove deletes a handler from both indexes. Caller must hold the write
// lock.
func (r *Registry) remove(id uint64) *Handler {
	h, exists := r.byID[id]
	if !exists {
		return nil
	}
	delete(r.byID, id)

	handlers := r.byName[h.eventName]
	for i, other := range handlers {
		if other.id == id {
			handlers = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	if len(handlers) == 0 {
		delete(r.byName, h.eventName)
	} else {
		r.byName[h.eventName] = handlers
	}
	return h
}

// retire returns the handlers that can be invalidated now. While a dispatch
// is in flight they are parked until it finishes. Caller must hold the write
// lock.
func (r *Registry) retire(hs ...*Handler) []*Handler {
	if r.inFlight > 0 {
		r.retired = append(r.retired, hs...)
		return nil
	}
	return hs
}

func invalidate(hs []*Handler) {
	for _, h := range hs {
		h.handle.Invalidate()
	}
}

// Get returns a handler by id.
func (r *Registry) Get(id uint64) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byID[id]
	return h, ok
}

// Handlers returns the handlers for an event name in dispatch order.
// Returns a copy to prevent modification during iteration.
func (r *Registry) Handlers(eventName string) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.byName[eventName]
	if len(handlers) == 0 {
		return nil
	}
	result := make([]*Handler, len(handlers))
	copy(result, handlers)
	return result
}

// Dispatch invokes every handler registered for eventName, in registration
// order, with value as the sole argument. It must be called on the goroutine
// holding rt. Failures are reported and joined; they never stop the remaining
// handlers. Handlers removed while the dispatch runs are still invoked.
func (r *Registry) Dispatch(rt engine.Runtime, eventName string, value any) error {
	r.mu.Lock()
	handlers := append([]*Handler(nil), r.byName[eventName]...)
	r.inFlight++
	r.mu.Unlock()
	defer r.endDispatch()

	var errs []error
	for _, h := range handlers {
		if err := h.Process(rt, value); err != nil {
			herr := &HandlerError{
				HandlerID: h.id,
				EventName: eventName,
				Worklet:   h.handle.String(),
				Err:       err,
			}
			r.report(herr)
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) endDispatch() {
	r.mu.Lock()
	r.inFlight--
	var release []*Handler
	if r.inFlight == 0 {
		release = r.retired
		r.retired = nil
	}
	r.mu.Unlock()

	invalidate(release)
}

// ProcessEvent sets the event timestamp global on rt and dispatches the
// event. Events nobody listens to are skipped.
func (r *Registry) ProcessEvent(rt engine.Runtime, timestamp float64, eventName string, payload any) error {
	if !r.IsAnyHandlerWaitingForEvent(eventName) {
		return nil
	}
	if err := rt.SetGlobal(TimestampGlobal, timestamp); err != nil {
		r.report(err)
		return err
	}
	return r.Dispatch(rt, eventName, payload)
}

// IsAnyHandlerWaitingForEvent reports whether a handler is registered for
// eventName.
func (r *Registry) IsAnyHandlerWaitingForEvent(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byName[eventName]) > 0
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// Clear removes every handler and invalidates their worklets. It returns
// the number of handlers removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	removed := make([]*Handler, 0, len(r.byID))
	for _, h := range r.byID {
		removed = append(removed, h)
	}
	r.byID = make(map[uint64]*Handler)
	r.byName = make(map[string][]*Handler)
	release := r.retire(removed...)
	r.mu.Unlock()

	invalidate(release)
	return len(removed)
}

func (r *Registry) report(err error) {
	if r.reporter != nil {
		r.reporter.Report(err)
	}
}
