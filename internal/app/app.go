// Package app runs a worklet module as a long-lived process. It wires the
// configuration, logging and metrics around a native.Module and drives its
// scheduler threads and frame loop until shutdown.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/worklets/internal/config"
	"github.com/dshills/worklets/internal/errorhandler"
	"github.com/dshills/worklets/internal/native"
	"github.com/dshills/worklets/internal/scheduler"
)

// Application owns a worklet module and everything that runs around it.
type Application struct {
	mu sync.RWMutex

	cfg     *config.Config
	opts    Options
	logger  *Logger
	metrics *Collector

	module  *native.Module
	frames  *scheduler.FrameLoop
	watcher *config.Watcher
	server  *Server

	script     string
	scriptName string

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	fatals  atomic.Int64
}

// Options configures the application.
type Options struct {
	// Source is where cfg was loaded from. It is required for Watch.
	Source *config.Source

	// Watch reloads the configuration when its file changes.
	Watch bool

	// Script overrides cfg.Runtime.Script.
	Script string

	// LogOutput overrides the log destination. Defaults to stderr.
	LogOutput io.Writer

	// Logger replaces the logger built from cfg.Logging.
	Logger *Logger
}

// New creates an application from cfg. A nil cfg uses config.Default.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{
		cfg:  cfg.Clone(),
		opts: opts,
		done: make(chan struct{}),
	}

	app.logger = opts.Logger
	if app.logger == nil {
		app.logger = NewLogger(LoggerConfig{
			Level:  ParseLogLevel(cfg.Logging.Level),
			Format: LogFormat(cfg.Logging.Format),
			Output: opts.LogOutput,
			Prefix: "workletd",
		})
	}
	app.metrics = NewCollector(cfg.Metrics.Namespace)

	if err := app.loadScript(); err != nil {
		return nil, &InitError{Component: "script", Err: err}
	}

	module, err := native.New(native.Config{
		Engine:      cfg.EngineKind(),
		CallTimeout: cfg.Runtime.CallTimeout.Duration,
		QueueSize:   cfg.Runtime.QueueSize,
		ErrorMode:   cfg.ErrorMode(),
	},
		native.WithLogger(app.logger.WithComponent("native")),
		native.WithRecorder(app.metrics),
		native.WithFatalHandler(app.onFatal),
	)
	if err != nil {
		return nil, &InitError{Component: "module", Err: err}
	}
	app.module = module
	app.metrics.WatchStats(module.Stats)

	app.frames, err = scheduler.NewFrameLoop(module.Scheduler().UI, cfg.Frame.FPS, module.FrameFunc())
	if err != nil {
		_ = module.Close()
		return nil, &InitError{Component: "frames", Err: err}
	}

	if opts.Watch {
		if opts.Source == nil {
			_ = module.Close()
			return nil, &InitError{Component: "watcher", Err: errors.New("watch requires a config source")}
		}
		app.watcher, err = config.NewWatcher(opts.Source, cfg, app.applyConfig,
			config.WithReloadErrorHandler(app.onReloadError))
		if err != nil {
			_ = module.Close()
			return nil, &InitError{Component: "watcher", Err: err}
		}
	}

	if cfg.Metrics.Enabled {
		app.server = NewServer(cfg.Metrics.Addr, module, app.metrics, app.logger.WithComponent("http"))
	}
	return app, nil
}

func (app *Application) loadScript() error {
	path := app.opts.Script
	if path == "" {
		path = app.cfg.Runtime.Script
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	app.script = string(data)
	app.scriptName = filepath.Base(path)
	return nil
}

// Run starts the module and blocks until ctx is cancelled, Shutdown is
// called or a component fails. The module is closed when Run returns.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if app.module.Closed() {
		app.running.Store(false)
		return native.ErrModuleClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	app.mu.Lock()
	app.cancel = cancel
	app.mu.Unlock()
	defer func() {
		cancel()
		app.running.Store(false)
		close(app.done)
	}()

	app.logger.Info("starting worklet module: engine=%s fps=%d mode=%s",
		app.module.Kind(), app.cfg.Frame.FPS, app.cfg.ErrorMode())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return componentErr("scheduler", app.module.Scheduler().Run(gctx))
	})
	g.Go(func() error {
		return componentErr("frames", app.frames.Run(gctx))
	})
	if app.watcher != nil {
		g.Go(func() error {
			return componentErr("watcher", app.watcher.Run(gctx))
		})
	}
	if app.server != nil {
		g.Go(func() error {
			return componentErr("server", app.server.Run(gctx))
		})
	}
	if app.script != "" {
		g.Go(func() error {
			if err := app.module.Eval(gctx, app.scriptName, app.script); err != nil {
				return &InitError{Component: "script", Err: err}
			}
			app.logger.Info("script %s loaded", app.scriptName)
			return nil
		})
	}

	err := g.Wait()
	if closeErr := app.close(); closeErr != nil {
		app.logger.Warn("close: %v", closeErr)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		app.logger.Error("stopped: %v", err)
		return err
	}
	app.logger.Info("stopped")
	return nil
}

func (app *Application) close() error {
	var errs []error
	if app.watcher != nil {
		errs = append(errs, app.watcher.Close())
	}
	errs = append(errs, app.module.Close())
	return errors.Join(errs...)
}

// Shutdown stops a running application and waits for Run to return.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.running.Load() {
		return ErrNotRunning
	}
	app.mu.RLock()
	cancel := app.cancel
	app.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-app.done:
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// Done is closed when Run returns.
func (app *Application) Done() <-chan struct{} {
	return app.done
}

// IsRunning reports whether Run is active.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Module returns the worklet module.
func (app *Application) Module() *native.Module {
	return app.module
}

// Metrics returns the metrics collector.
func (app *Application) Metrics() *Collector {
	return app.metrics
}

// Logger returns the application logger.
func (app *Application) Logger() *Logger {
	return app.logger
}

// Frames returns the frame loop.
func (app *Application) Frames() *scheduler.FrameLoop {
	return app.frames
}

// Server returns the HTTP server, or nil when metrics are disabled.
func (app *Application) Server() *Server {
	return app.server
}

// Config returns the configuration in effect.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cfg
}

// Fatals returns how many failures were fatal under the error mode.
func (app *Application) Fatals() int64 {
	return app.fatals.Load()
}

// ApplyConfig switches to next at runtime. Settings that need a restart are
// logged and otherwise ignored.
func (app *Application) ApplyConfig(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	app.applyConfig(app.Config(), next)
	return nil
}

func (app *Application) applyConfig(prev, next *config.Config) {
	app.logger.SetLevel(ParseLogLevel(next.Logging.Level))
	app.module.SetErrorMode(next.ErrorMode())
	if err := app.frames.SetFPS(next.Frame.FPS); err != nil {
		app.logger.Warn("config: fps %d: %v", next.Frame.FPS, err)
	}
	for _, setting := range prev.RestartRequired(next) {
		app.logger.Warn("config: %s changed; restart to apply", setting)
	}

	app.mu.Lock()
	app.cfg = next.Clone()
	app.mu.Unlock()

	app.metrics.RecordReload(nil)
	app.logger.Info("config applied: level=%s mode=%s fps=%d",
		next.Logging.Level, next.ErrorMode(), next.Frame.FPS)
}

func (app *Application) onReloadError(err error) {
	app.metrics.RecordReload(err)
	app.logger.Warn("config reload failed, keeping current settings: %v", err)
}

func (app *Application) onFatal(we *errorhandler.WorkletError) {
	app.fatals.Add(1)
	log := app.logger.WithComponent("worklet")
	if we.Worklet != "" {
		log = log.WithField("worklet", we.Worklet)
	}
	if we.Stack != "" {
		log = log.WithField("stack", we.Stack)
	}
	log.Error("fatal: %s", we.Message)
}

