package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload.
const DefaultDebounce = 100 * time.Millisecond

// ChangeHandler receives the previous and reloaded configuration.
type ChangeHandler func(prev, next *Config)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadErrorHandler sets the callback for failed reloads and watcher
// errors. The current configuration is kept when a reload fails.
func WithReloadErrorHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// Watcher reloads a config file when it changes on disk.
//
// The file's directory is watched rather than the file so that editors that
// save by renaming a temporary file are seen.
type Watcher struct {
	mu      sync.Mutex
	source  *Source
	watcher *fsnotify.Watcher
	target  string
	current *Config
	closed  bool

	onChange ChangeHandler
	onError  func(error)
	debounce time.Duration

	reloads  atomic.Int64
	failures atomic.Int64
}

// NewWatcher starts watching the source's file. current is the configuration
// already in effect.
func NewWatcher(source *Source, current *Config, onChange ChangeHandler, opts ...WatcherOption) (*Watcher, error) {
	if source.Path() == "" {
		return nil, fmt.Errorf("config watcher: no config file")
	}
	target, err := filepath.Abs(source.Path())
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	w := &Watcher{
		source:   source,
		watcher:  fsw,
		target:   target,
		current:  current,
		onChange: onChange,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrWatcherClosed
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError(err)
		}
	}
}

// relevant reports whether ev changed the watched file's content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.target {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

// Reload loads the source now and installs the result. On failure the
// current configuration is kept.
func (w *Watcher) Reload() error {
	next, err := w.source.Load()
	if err != nil {
		w.failures.Add(1)
		w.reportError(fmt.Errorf("reloading %s: %w", w.target, err))
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	w.reloads.Add(1)
	if w.onChange != nil {
		w.onChange(prev, next)
	}
	return nil
}

func (w *Watcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Failures returns the number of failed reloads.
func (w *Watcher) Failures() int64 {
	return w.failures.Load()
}

// Close stops the watcher. Run returns once its event channels close.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.watcher.Close()
}
