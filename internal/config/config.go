package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/errorhandler"
)

// Limits enforced by Validate.
const (
	MinFPS       = 1
	MaxFPS       = 240
	MaxQueueSize = 1 << 16
)

// Config is the complete runtime configuration.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Frame   FrameConfig   `toml:"frame"`
	Errors  ErrorsConfig  `toml:"errors"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// RuntimeConfig configures the script runtimes and their threads.
type RuntimeConfig struct {
	// Engine selects the scripting backend ("js" or "lua").
	Engine string `toml:"engine"`
	// CallTimeout bounds a single worklet invocation. Zero disables it.
	CallTimeout Duration `toml:"callTimeout"`
	// QueueSize is the task queue capacity of each thread.
	QueueSize int `toml:"queueSize"`
	// Script is loaded into the JS runtime at startup.
	Script string `toml:"script"`
}

// FrameConfig configures the frame loop.
type FrameConfig struct {
	FPS int `toml:"fps"`
}

// ErrorsConfig configures the error handler.
type ErrorsConfig struct {
	// Mode is "dev" or "production".
	Mode string `toml:"mode"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}

// Duration is a time.Duration written as a string such as "50ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Engine:      string(engine.KindJS),
			CallTimeout: Duration{250 * time.Millisecond},
			QueueSize:   256,
		},
		Frame: FrameConfig{
			FPS: 60,
		},
		Errors: ErrorsConfig{
			Mode: string(errorhandler.ModeDev),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9090",
			Namespace: "worklets",
		},
	}
}

// EngineKind returns the configured backend.
func (c *Config) EngineKind() engine.Kind {
	return engine.Kind(strings.ToLower(c.Runtime.Engine))
}

// ErrorMode returns the configured error mode. Validate guarantees it
// parses.
func (c *Config) ErrorMode() errorhandler.Mode {
	mode, err := errorhandler.ParseMode(c.Errors.Mode)
	if err != nil {
		return errorhandler.ModeDev
	}
	return mode
}

// FrameInterval returns the time between frames.
func (c *Config) FrameInterval() time.Duration {
	if c.Frame.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Frame.FPS)
}

// Validate checks every setting and returns the joined failures.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, value any, code ValidationErrorCode) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value, Code: code})
	}

	switch c.EngineKind() {
	case engine.KindJS, engine.KindLua:
	default:
		invalid("runtime.engine", "must be js or lua", c.Runtime.Engine, ErrCodeInvalidEnum)
	}
	if c.Runtime.CallTimeout.Duration < 0 {
		invalid("runtime.callTimeout", "must not be negative", c.Runtime.CallTimeout, ErrCodeOutOfRange)
	}
	if c.Runtime.QueueSize < 1 || c.Runtime.QueueSize > MaxQueueSize {
		invalid("runtime.queueSize", fmt.Sprintf("must be between 1 and %d", MaxQueueSize), c.Runtime.QueueSize, ErrCodeOutOfRange)
	}
	if c.Frame.FPS < MinFPS || c.Frame.FPS > MaxFPS {
		invalid("frame.fps", fmt.Sprintf("must be between %d and %d", MinFPS, MaxFPS), c.Frame.FPS, ErrCodeOutOfRange)
	}
	if _, err := errorhandler.ParseMode(c.Errors.Mode); err != nil {
		invalid("errors.mode", "must be dev or production", c.Errors.Mode, ErrCodeInvalidEnum)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid("logging.level", "must be debug, info, warn or error", c.Logging.Level, ErrCodeInvalidEnum)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		invalid("logging.format", "must be text or json", c.Logging.Format, ErrCodeInvalidEnum)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		invalid("metrics.addr", "required when metrics are enabled", nil, ErrCodeRequiredMissing)
	}

	return errors.Join(errs...)
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// RestartRequired lists the settings that differ between c and next and
// cannot be applied to a running application.
func (c *Config) RestartRequired(next *Config) []string {
	var paths []string
	if c.Runtime.Engine != next.Runtime.Engine {
		paths = append(paths, "runtime.engine")
	}
	if c.Runtime.CallTimeout != next.Runtime.CallTimeout {
		paths = append(paths, "runtime.callTimeout")
	}
	if c.Runtime.QueueSize != next.Runtime.QueueSize {
		paths = append(paths, "runtime.queueSize")
	}
	if c.Runtime.Script != next.Runtime.Script {
		paths = append(paths, "runtime.script")
	}
	if c.Logging.Format != next.Logging.Format {
		paths = append(paths, "logging.format")
	}
	if c.Metrics != next.Metrics {
		paths = append(paths, "metrics")
	}
	return paths
}
