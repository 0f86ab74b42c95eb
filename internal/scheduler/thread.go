// Package scheduler provides the UI and JS threads that own the runtimes and
// the frame loop that drives the UI thread.
//
// A Thread serializes all work through a single goroutine. Engine runtimes
// are not goroutine-safe, so every call into a runtime is made from a task
// running on the thread that owns it:
//
//	ui := scheduler.NewThread("ui", 256)
//	go ui.Run(ctx)
//	defer ui.Close()
//
//	err := ui.Execute(ctx, func() error {
//	    return registry.Dispatch(uiRuntime, "onScroll", payload)
//	})
//
// Tasks must not call Execute on their own thread; use Schedule instead.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is used when NewThread is given a non-positive size.
const DefaultQueueSize = 100

// Task is a unit of work run on a Thread.
type Task func() error

// call is a queued task. result is nil for tasks queued with Schedule.
type call struct {
	fn     Task
	result chan error
}

// ThreadOption configures a Thread.
type ThreadOption func(*Thread)

// WithErrorHandler sets the function that receives errors returned (or
// panics raised) by tasks queued with Schedule.
func WithErrorHandler(fn func(error)) ThreadOption {
	return func(t *Thread) {
		t.onError = fn
	}
}

// Thread runs queued tasks one at a time, in FIFO order, on one goroutine.
type Thread struct {
	name    string
	queue   chan *call
	closed  atomic.Bool
	done    chan struct{}
	onError func(error)

	executed atomic.Uint64

	closeOnce sync.Once
}

// NewThread creates a thread. Run must be called to start processing.
func NewThread(name string, queueSize int, opts ...ThreadOption) *Thread {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	t := &Thread{
		name:  name,
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// Run processes tasks until ctx is cancelled or Close is called. Pending
// tasks are then failed with the cancellation reason. It always returns nil
// so it can run under an errgroup.
func (t *Thread) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.drainQueue(ctx.Err())
			return nil
		case <-t.done:
			t.drainQueue(ErrThreadClosed)
			return nil
		case c := <-t.queue:
			t.finish(c, t.runTask(c))
		}
	}
}

// finish delivers a task result to its waiter or to the error handler.
func (t *Thread) finish(c *call, err error) {
	if c.result != nil {
		c.result <- err
		close(c.result)
		return
	}
	if err == nil || t.onError == nil {
		return
	}
	if errors.Is(err, ErrThreadClosed) || errors.Is(err, context.Canceled) {
		return
	}
	t.onError(err)
}

// runTask runs a single task with panic recovery.
func (t *Thread) runTask(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Thread: t.name, Value: r, Stack: string(debug.Stack())}
		}
		t.executed.Add(1)
	}()
	return c.fn()
}

// drainQueue fails every queued task with err.
func (t *Thread) drainQueue(err error) {
	for {
		select {
		case c := <-t.queue:
			t.finish(c, err)
		default:
			return
		}
	}
}

// Execute runs fn on the thread and waits for its result.
func (t *Thread) Execute(ctx context.Context, fn Task) error {
	if t.closed.Load() {
		return ErrThreadClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrThreadClosed
	case t.queue <- c:
	}

	select {
	case <-ctx.Done():
		// Already queued; it will still run.
		return ctx.Err()
	case err := <-c.result:
		return err
	case <-t.done:
		select {
		case err := <-c.result:
			return err
		default:
			return ErrThreadClosed
		}
	}
}

// Schedule queues fn without waiting. Errors from fn go to the thread's
// error handler.
func (t *Thread) Schedule(fn Task) error {
	if t.closed.Load() {
		return ErrThreadClosed
	}

	c := &call{fn: fn}

	select {
	case <-t.done:
		return ErrThreadClosed
	case t.queue <- c:
		return nil
	default:
		return fmt.Errorf("%s: %w", t.name, ErrQueueFull)
	}
}

// Pending returns the number of queued tasks.
func (t *Thread) Pending() int {
	return len(t.queue)
}

// Executed returns the number of tasks run so far.
func (t *Thread) Executed() uint64 {
	return t.executed.Load()
}

// Close stops the thread. Queued tasks fail with ErrThreadClosed.
func (t *Thread) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
	})
}

// IsClosed returns true if the thread has been closed.
func (t *Thread) IsClosed() bool {
	return t.closed.Load()
}
