package native

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/scheduler"
	"github.com/dshills/worklets/internal/shareable"
	"github.com/dshills/worklets/internal/worklet"
)

// OnRender runs one frame on the UI thread and waits for it: the frame
// callbacks requested before the frame, then the mappers when any need to
// run. Failures are reported to the error handler and also returned.
func (m *Module) OnRender(ctx context.Context, timestamp float64) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.sched.RunOnUI(ctx, func() error {
		return m.render(timestamp)
	})
}

// FrameFunc returns the frame body for a scheduler.FrameLoop driving the UI
// thread.
func (m *Module) FrameFunc() scheduler.FrameFunc {
	return func(ts float64) error {
		if m.closed.Load() {
			return nil
		}
		// Failures were reported as they happened.
		_ = m.render(ts)
		return nil
	}
}

// NeedsFrame reports whether the next frame has work to do.
func (m *Module) NeedsFrame() bool {
	m.frameMu.Lock()
	pending := len(m.frameCallbacks) > 0
	m.frameMu.Unlock()
	return pending || m.mappers.NeedRunOnRender()
}

// render must run on the UI thread.
func (m *Module) render(ts float64) error {
	if !m.NeedsFrame() {
		return nil
	}
	start := time.Now()

	m.frameMu.Lock()
	callbacks := m.frameCallbacks
	m.frameCallbacks = nil
	m.frameMu.Unlock()

	var errs []error
	for _, fn := range callbacks {
		if err := m.callGuarded(fn, ts); err != nil {
			errs = append(errs, err)
		}
	}

	if m.mappers.NeedRunOnRender() {
		if err := m.mappers.Execute(m.ui); err != nil {
			errs = append(errs, err)
		}
	}

	m.recorder.RecordFrame(time.Since(start))
	return errors.Join(errs...)
}

// callGuarded invokes fn on the UI runtime and reports a failure.
func (m *Module) callGuarded(fn engine.Function, args ...any) error {
	handle := worklet.NewHandle(m.ui, fn)
	if _, err := handle.Call(m.ui, args...); err != nil {
		err = &CallbackError{Worklet: handle.String(), Err: err}
		m.errors.Report(err)
		return err
	}
	return nil
}

// RunOnUI queues w to run on the UI runtime with args. A failure is
// reported to the error handler.
func (m *Module) RunOnUI(w *shareable.Worklet, args ...any) error {
	return m.runOn(m.sched.UI, m.ui, w, args)
}

// RunOnJS queues w to run on the JS runtime with args. A failure is
// reported to the error handler.
func (m *Module) RunOnJS(w *shareable.Worklet, args ...any) error {
	return m.runOn(m.sched.JS, m.js, w, args)
}

func (m *Module) runOn(thread *scheduler.Thread, rt engine.Runtime, w *shareable.Worklet, args []any) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	data, err := w.Encode()
	if err != nil {
		return err
	}
	return thread.Schedule(func() error {
		decoded, err := shareable.Decode(data)
		if err != nil {
			return err
		}
		handle, err := decoded.Materialize(rt)
		if err != nil {
			return err
		}
		defer handle.Invalidate()
		if _, err := handle.Call(rt, args...); err != nil {
			return &CallbackError{Worklet: handle.String(), Err: err}
		}
		return nil
	})
}
