// Package native wires the worklet runtime together.
//
// A Module owns two script runtimes of the same kind: the JS runtime, where
// application scripts run and worklets are captured, and the UI runtime,
// where event handlers, mappers and frame callbacks execute. Each runtime is
// driven by its own scheduler thread and is only ever touched from that
// thread. Worklets cross between the two as encoded shareable.Worklet bytes.
//
// Scripts on the JS runtime see these host functions:
//
//	registerEventHandler(eventName, worklet[, closure]) -> id
//	unregisterEventHandler(id)
//	startMapper(worklet, inputs, outputs[, closure]) -> id
//	stopMapper(id)
//	runOnUI(worklet, ...args)
//	getShared(key), setShared(key, value), _log(...), _now()
//
// Worklets on the UI runtime additionally see requestAnimationFrame(fn) and
// runOnJS(worklet, ...args).
//
// A worklet argument is a function (JS runtimes only), a function source
// string, or an object {name, source, closure}.
package native

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/engine/js"
	"github.com/dshills/worklets/internal/engine/lua"
	"github.com/dshills/worklets/internal/errorhandler"
	"github.com/dshills/worklets/internal/event"
	"github.com/dshills/worklets/internal/mapper"
	"github.com/dshills/worklets/internal/scheduler"
	"github.com/dshills/worklets/internal/shared"
)

// Config configures a Module.
type Config struct {
	// Engine selects the backend of both runtimes.
	Engine engine.Kind

	// CallTimeout bounds each worklet invocation. Zero disables it.
	CallTimeout time.Duration

	// QueueSize is the task queue capacity of each thread.
	QueueSize int

	// ErrorMode selects how worklet failures are surfaced.
	ErrorMode errorhandler.Mode
}

// Logger is the logging surface the module needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder receives runtime measurements.
type Recorder interface {
	errorhandler.Recorder
	RecordFrame(elapsed time.Duration)
	RecordEvent(eventName string, handlers int)
	RecordMapperRun(ran int, elapsed time.Duration)
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger used for _log output and error reports.
func WithLogger(l Logger) Option {
	return func(m *Module) {
		m.logger = l
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Module) {
		m.recorder = r
	}
}

// WithFatalHandler sets the callback raised for worklet errors in dev mode.
func WithFatalHandler(fn func(*errorhandler.WorkletError)) Option {
	return func(m *Module) {
		m.onFatal = fn
	}
}

// WithStore uses store for shared values instead of a new one.
func WithStore(store *shared.Store) Option {
	return func(m *Module) {
		m.store = store
	}
}

// Module is the runtime integration layer.
type Module struct {
	cfg      Config
	logger   Logger
	recorder Recorder
	onFatal  func(*errorhandler.WorkletError)

	js    engine.Runtime
	ui    engine.Runtime
	sched *scheduler.Scheduler

	store   *shared.Store
	events  *event.Registry
	mappers *mapper.Registry
	errors  *errorhandler.Handler

	frameMu        sync.Mutex
	frameCallbacks []engine.Function

	start  time.Time
	closed atomic.Bool
}

// New creates a module with both runtimes and their host functions
// installed. The scheduler threads must be started with Scheduler().Run.
func New(cfg Config, opts ...Option) (*Module, error) {
	if cfg.Engine == "" {
		cfg.Engine = engine.KindJS
	}
	m := &Module{
		cfg:      cfg,
		logger:   nopLogger{},
		recorder: nopRecorder{},
		start:    time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = shared.NewStore()
	}

	handlerOpts := []errorhandler.Option{
		errorhandler.WithLogger(m.logger),
		errorhandler.WithRecorder(m.recorder),
	}
	if m.onFatal != nil {
		handlerOpts = append(handlerOpts, errorhandler.WithFatalHandler(m.onFatal))
	}
	m.errors = errorhandler.New(cfg.ErrorMode, handlerOpts...)

	m.sched = scheduler.New(cfg.QueueSize, scheduler.WithErrorHandler(m.errors.Report))
	m.events = event.NewRegistry(event.WithReporter(m.errors))
	m.mappers = mapper.NewRegistry(m.store,
		mapper.WithReporter(m.errors),
		mapper.WithRunHook(m.recorder.RecordMapperRun),
	)

	var err error
	if m.js, err = NewRuntime(cfg.Engine, cfg.CallTimeout); err != nil {
		return nil, fmt.Errorf("js runtime: %w", err)
	}
	if m.ui, err = NewRuntime(cfg.Engine, cfg.CallTimeout); err != nil {
		_ = m.js.Close()
		return nil, fmt.Errorf("ui runtime: %w", err)
	}

	if err := m.installJSHost(); err != nil {
		m.closeRuntimes()
		return nil, err
	}
	if err := m.installUIHost(); err != nil {
		m.closeRuntimes()
		return nil, err
	}

	m.logger.Debug("worklet module started: engine=%s js=%s ui=%s", cfg.Engine, m.js.ID(), m.ui.ID())
	return m, nil
}

// NewRuntime creates a runtime of the given kind.
func NewRuntime(kind engine.Kind, callTimeout time.Duration) (engine.Runtime, error) {
	switch kind {
	case engine.KindJS:
		return js.New(js.WithCallTimeout(callTimeout))
	case engine.KindLua:
		return lua.NewState(lua.WithCallTimeout(callTimeout))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}

// Kind returns the backend of the module's runtimes.
func (m *Module) Kind() engine.Kind {
	return m.cfg.Engine
}

// Scheduler returns the UI and JS threads.
func (m *Module) Scheduler() *scheduler.Scheduler {
	return m.sched
}

// Store returns the shared value store.
func (m *Module) Store() *shared.Store {
	return m.store
}

// Events returns the event handler registry.
func (m *Module) Events() *event.Registry {
	return m.events
}

// Mappers returns the mapper registry.
func (m *Module) Mappers() *mapper.Registry {
	return m.mappers
}

// ErrorHandler returns the error handler.
func (m *Module) ErrorHandler() *errorhandler.Handler {
	return m.errors
}

// JSRuntime returns the JS runtime. It must only be used on the JS thread.
func (m *Module) JSRuntime() engine.Runtime {
	return m.js
}

// UIRuntime returns the UI runtime. It must only be used on the UI thread.
func (m *Module) UIRuntime() engine.Runtime {
	return m.ui
}

// Now returns milliseconds since the module was created.
func (m *Module) Now() float64 {
	return float64(time.Since(m.start).Microseconds()) / 1000
}

// Eval runs a script on the JS runtime and waits for it to finish.
func (m *Module) Eval(ctx context.Context, name, source string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.sched.RunOnJS(ctx, func() error {
		return m.js.Eval(name, source)
	})
}

// Flush waits until the tasks queued on the JS thread, and then those queued
// on the UI thread, have run. Work that hops back from the UI thread to the
// JS thread needs a second Flush.
func (m *Module) Flush(ctx context.Context) error {
	noop := func() error { return nil }
	if err := m.sched.RunOnJS(ctx, noop); err != nil {
		return err
	}
	return m.sched.RunOnUI(ctx, noop)
}

// Stats is a point-in-time view of the module's registries and queues.
type Stats struct {
	Handlers       int
	Mappers        int
	FrameCallbacks int
	SharedValues   int
	UIPending      int
	JSPending      int
	Errors         uint64
}

// Stats returns current counts.
func (m *Module) Stats() Stats {
	m.frameMu.Lock()
	frames := len(m.frameCallbacks)
	m.frameMu.Unlock()

	return Stats{
		Handlers:       m.events.Count(),
		Mappers:        m.mappers.Count(),
		FrameCallbacks: frames,
		SharedValues:   m.store.Len(),
		UIPending:      m.sched.UI.Pending(),
		JSPending:      m.sched.JS.Pending(),
		Errors:         m.errors.Count(),
	}
}

// SetErrorMode changes how later worklet failures are surfaced.
func (m *Module) SetErrorMode(mode errorhandler.Mode) {
	m.errors.SetMode(mode)
}

// Closed reports whether Close has been called.
func (m *Module) Closed() bool {
	return m.closed.Load()
}

// Close releases registered worklets and frame callbacks, stops the threads
// and then closes both runtimes.
func (m *Module) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.frameMu.Lock()
	m.frameCallbacks = nil
	m.frameMu.Unlock()

	handlers := m.events.Clear()
	mappers := m.mappers.Count()
	m.mappers.Close()
	m.sched.Close()

	m.logger.Debug("worklet module closed: released %d handlers, %d mappers", handlers, mappers)
	return m.closeRuntimes()
}

func (m *Module) closeRuntimes() error {
	var errs []error
	if m.ui != nil {
		errs = append(errs, m.ui.Close())
	}
	if m.js != nil {
		errs = append(errs, m.js.Close())
	}
	return errors.Join(errs...)
}

func (m *Module) checkOpen() error {
	if m.closed.Load() {
		return ErrModuleClosed
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopRecorder struct{}

func (nopRecorder) RecordWorkletError(string)          {}
func (nopRecorder) RecordFrame(time.Duration)          {}
func (nopRecorder) RecordEvent(string, int)            {}
func (nopRecorder) RecordMapperRun(int, time.Duration) {}
