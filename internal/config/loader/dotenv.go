package loader

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// DotEnvLoader reads KEY=VALUE pairs from a .env file. Values already set in
// the process environment take precedence over the file.
type DotEnvLoader struct {
	fs   FileSystem
	path string
	env  *EnvLoader
}

// NewDotEnvLoader creates a loader for the .env file at path that maps
// variables through env.
func NewDotEnvLoader(fsys FileSystem, path string, env *EnvLoader) *DotEnvLoader {
	if fsys == nil {
		fsys = DefaultFS()
	}
	return &DotEnvLoader{fs: fsys, path: path, env: env}
}

// Vars returns the variables defined by the file. A missing file yields an
// empty map.
func (l *DotEnvLoader) Vars() (map[string]string, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", l.path, err)
	}

	vars, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return nil, &ParseError{Path: l.path, Message: err.Error(), Err: err}
	}
	return vars, nil
}

// Load returns the configuration map for the file's variables, skipping
// those present in the process environment.
func (l *DotEnvLoader) Load() (map[string]any, error) {
	vars, err := l.Vars()
	if err != nil {
		return nil, err
	}
	for name := range Environ(l.env.environ()) {
		delete(vars, name)
	}
	return l.env.LoadVars(vars), nil
}
