// Package event routes named native events to the worklets registered for
// them.
//
// A Registry maps handler ids to Handlers. Each Handler binds one event name
// to one worklet.Handle. Dispatch looks up every handler for an event name and
// invokes them in registration order:
//
//	reg := event.NewRegistry(event.WithReporter(errs))
//	id, err := reg.Register("onScroll", handle)
//	_ = reg.Dispatch(rt, "onScroll", map[string]any{"y": 5})
//	reg.Unregister(id)
//
// # Threading
//
// Registration may happen from any goroutine. Dispatch must run on the
// goroutine that currently holds rt (the UI thread); the registry takes a
// snapshot of the matching handlers and invokes them without holding its
// lock. An Unregister during a dispatch only affects later dispatches: the
// running one still calls every handler in its snapshot, and the removed
// handles are invalidated when the last in-flight dispatch returns.
//
// # Errors
//
// A handler that fails does not stop the remaining handlers. Each failure is
// wrapped in a HandlerError, passed to the registry's ErrorReporter and
// returned joined from Dispatch. Unregistering an unknown id is a no-op.
package event
