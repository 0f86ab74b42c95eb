package config

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/worklets/internal/config/loader"
)

// DefaultMaxIncludeDepth bounds nested @include directives.
const DefaultMaxIncludeDepth = 8

// LoadOption configures a Source.
type LoadOption func(*Source)

// WithFileSystem reads the config and .env files through fsys.
func WithFileSystem(fsys loader.FileSystem) LoadOption {
	return func(s *Source) {
		s.fs = fsys
	}
}

// WithEnvFile sets the .env file path. By default ".env" next to the config
// file is read when it exists.
func WithEnvFile(path string) LoadOption {
	return func(s *Source) {
		s.envFile = path
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoadOption {
	return func(s *Source) {
		s.prefix = prefix
	}
}

// WithEnviron reads variables from environ instead of the process
// environment.
func WithEnviron(environ func() []string) LoadOption {
	return func(s *Source) {
		s.environ = environ
	}
}

// WithoutEnv disables the .env and environment layers.
func WithoutEnv() LoadOption {
	return func(s *Source) {
		s.noEnv = true
	}
}

// Source loads a Config from its layers. A Source can be loaded repeatedly;
// the Watcher reloads through it.
type Source struct {
	path     string
	fs       loader.FileSystem
	envFile  string
	prefix   string
	environ  func() []string
	noEnv    bool
	maxDepth int
}

// NewSource creates a source for the config file at path. An empty path
// skips the file layer.
func NewSource(path string, opts ...LoadOption) *Source {
	s := &Source{
		path:     path,
		prefix:   loader.DefaultEnvPrefix,
		maxDepth: DefaultMaxIncludeDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fs == nil {
		s.fs = loader.DefaultFS()
	}
	if s.envFile == "" && path != "" {
		s.envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	return s
}

// Path returns the config file path.
func (s *Source) Path() string {
	return s.path
}

// Load reads every layer, decodes the merged result over the defaults and
// validates it.
func (s *Source) Load() (*Config, error) {
	merged := make(map[string]any)

	if s.path != "" {
		file, err := loader.NewTOMLLoaderWithFS(s.fs, s.path).LoadWithIncludes(s.path, s.maxDepth)
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if !s.noEnv {
		env := loader.NewEnvLoaderWithEnviron(s.prefix, s.environ)
		if s.envFile != "" {
			dotenv, err := loader.NewDotEnvLoader(s.fs, s.envFile, env).Load()
			if err != nil {
				return nil, err
			}
			merged = loader.DeepMerge(merged, dotenv)
		}
		vars, err := env.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, vars)
	}

	return Decode(merged)
}

// Load reads the configuration at path with the given options.
func Load(path string, opts ...LoadOption) (*Config, error) {
	return NewSource(path, opts...).Load()
}

// Decode applies a settings map over the defaults and validates the result.
// Unknown settings are rejected.
func Decode(settings map[string]any) (*Config, error) {
	cfg := Default()
	if len(settings) > 0 {
		data, err := toml.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("encoding settings: %w", err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, decodeError(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeError(err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		errs := make([]error, 0, len(strict.Errors))
		for i := range strict.Errors {
			errs = append(errs, &ValidationError{
				Path:    strings.Join(strict.Errors[i].Key(), "."),
				Message: "unknown setting",
				Code:    ErrCodeUnknownSetting,
			})
		}
		return errors.Join(errs...)
	}
	return &ValidationError{
		Path:    settingPath(err),
		Message: err.Error(),
		Code:    ErrCodeTypeMismatch,
	}
}

// settingPath extracts the key from a go-toml decode error when present.
func settingPath(err error) string {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		return strings.Join(derr.Key(), ".")
	}
	return "config"
}
