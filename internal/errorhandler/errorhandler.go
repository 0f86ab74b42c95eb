// Package errorhandler surfaces worklet failures to the host.
//
// Every invocation failure from the event and mapper registries is reported
// here. In dev mode the host's fatal callback is raised (the "red box"); in
// production mode the failure is logged. Either way it is recorded so the
// host can inspect the last error.
package errorhandler

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/worklets/internal/engine"
)

// Mode selects how reported errors are surfaced.
type Mode string

// Supported modes.
const (
	ModeDev        Mode = "dev"
	ModeProduction Mode = "production"
)

// ErrInvalidMode is returned by ParseMode for unknown modes.
var ErrInvalidMode = errors.New("invalid error mode")

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Logger is the logging surface the handler needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Recorder counts reported errors.
type Recorder interface {
	RecordWorkletError(source string)
}

// WorkletError is a failure captured for the host.
type WorkletError struct {
	// Worklet is the failing worklet's name, if known.
	Worklet string

	// Message is the script or Go error message.
	Message string

	// Stack is the engine or Go stack trace, if available.
	Stack string

	// Err is the reported error.
	Err error
}

// Error implements the error interface.
func (e *WorkletError) Error() string {
	if e.Worklet == "" {
		return e.Message
	}
	return e.Worklet + ": " + e.Message
}

// Unwrap returns the reported error.
func (e *WorkletError) Unwrap() error {
	return e.Err
}

// FromError extracts the worklet name, message and stack from err.
func FromError(err error) *WorkletError {
	var we *WorkletError
	if errors.As(err, &we) {
		return we
	}

	we = &WorkletError{Message: err.Error(), Err: err}

	var named interface{ WorkletName() string }
	if errors.As(err, &named) {
		we.Worklet = named.WorkletName()
	}

	var exc *engine.Exception
	if errors.As(err, &exc) {
		we.Message = exc.Error()
		we.Stack = exc.Stack
	}

	if we.Stack == "" {
		var traced interface{ StackTrace() string }
		if errors.As(err, &traced) {
			we.Stack = traced.StackTrace()
		}
	}
	return we
}

// source classifies an error for metrics.
func source(err error) string {
	var named interface{ WorkletName() string }
	var exc *engine.Exception
	switch {
	case errors.Is(err, engine.ErrCallTimeout):
		return "timeout"
	case errors.As(err, &exc):
		return "exception"
	case errors.As(err, &named):
		return "worklet"
	default:
		return "host"
	}
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithFatalHandler sets the callback raised in dev mode.
func WithFatalHandler(fn func(*WorkletError)) Option {
	return func(h *Handler) {
		h.onFatal = fn
	}
}

// Handler records reported errors and surfaces them according to its mode.
// It is safe for concurrent use.
type Handler struct {
	mu       sync.Mutex
	mode     Mode
	last     *WorkletError
	handled  bool
	count    uint64
	logger   Logger
	recorder Recorder
	onFatal  func(*WorkletError)
}

// New creates a handler in the given mode.
func New(mode Mode, opts ...Option) *Handler {
	if mode == "" {
		mode = ModeDev
	}
	h := &Handler{mode: mode, handled: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Report records err and surfaces it. Nil errors are ignored.
func (h *Handler) Report(err error) {
	if err == nil {
		return
	}
	we := FromError(err)

	h.mu.Lock()
	h.last = we
	h.handled = false
	h.count++
	mode := h.mode
	onFatal := h.onFatal
	h.mu.Unlock()

	if h.recorder != nil {
		h.recorder.RecordWorkletError(source(err))
	}

	if h.logger != nil {
		if we.Stack != "" && mode == ModeDev {
			h.logger.Error("worklet error: %s\n%s", we.Error(), we.Stack)
		} else {
			h.logger.Error("worklet error: %s", we.Error())
		}
	}

	if mode == ModeDev {
		if onFatal != nil {
			onFatal(we)
		} else if h.logger != nil {
			h.logger.Warn("no fatal handler installed; error left unhandled")
		}
	}
}

// SetMode changes the mode for later reports.
func (h *Handler) SetMode(mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = mode
}

// Mode returns the current mode.
func (h *Handler) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// LastError returns the most recently reported error, or nil.
func (h *Handler) LastError() *WorkletError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// IsHandled reports whether the last error was acknowledged by the host.
func (h *Handler) IsHandled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled
}

// MarkHandled acknowledges the last error.
func (h *Handler) MarkHandled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = true
}

// Count returns the number of errors reported.
func (h *Handler) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
