package loader

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "WORKLETS_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string            // Environment variable prefix (e.g., "WORKLETS_")
	mapping map[string]string // Env var -> config path
	environ func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "WORKLETS_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(prefix),
		environ: os.Environ,
	}
}

// NewEnvLoaderWithEnviron creates a loader that reads variables from
// environ instead of the process environment.
func NewEnvLoaderWithEnviron(prefix string, environ func() []string) *EnvLoader {
	l := NewEnvLoader(prefix)
	if environ != nil {
		l.environ = environ
	}
	return l
}

// defaultEnvMapping returns the shorthand variables that do not follow the
// SECTION_SETTING naming scheme.
func defaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "LOG_LEVEL":  "logging.level",
		prefix + "LOG_FORMAT": "logging.format",
		prefix + "ERROR_MODE": "errors.mode",
		prefix + "FPS":        "frame.fps",
		prefix + "ENGINE":     "runtime.engine",
		prefix + "SCRIPT":     "runtime.script",
	}
}

// Prefix returns the variable prefix.
func (l *EnvLoader) Prefix() string {
	return l.prefix
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// Load reads the process environment and returns a configuration map.
// Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Load() (map[string]any, error) {
	return l.LoadVars(Environ(l.environ())), nil
}

// LoadVars converts a set of variables into a configuration map. Variables
// without the prefix are ignored.
func (l *EnvLoader) LoadVars(vars map[string]string) map[string]any {
	config := make(map[string]any)

	names := make([]string, 0, len(vars))
	for name := range vars {
		if strings.HasPrefix(name, l.prefix) {
			names = append(names, name)
		}
	}
	// Explicit mappings are applied last so they win over scanned names.
	sort.Strings(names)
	for _, name := range names {
		if _, ok := l.mapping[name]; ok {
			continue
		}
		setByPath(config, l.envToPath(name), ParseValue(vars[name]))
	}
	for _, name := range names {
		if path, ok := l.mapping[name]; ok {
			setByPath(config, path, ParseValue(vars[name]))
		}
	}
	return config
}

// Environ splits KEY=VALUE pairs into a map.
func Environ(pairs []string) map[string]string {
	vars := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		if ok {
			vars[name] = value
		}
	}
	return vars
}

// envToPath converts WORKLETS_RUNTIME_CALL_TIMEOUT to runtime.callTimeout.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")

	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if part != "" {
			setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return section + "." + setting
}

// ParseValue converts an environment string into a bool, integer, float,
// JSON array/object or string. Durations stay strings and are parsed by the
// typed config.
func ParseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
