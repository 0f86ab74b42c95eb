package loader

import (
	"errors"
	"io/fs"
	"testing"
	"time"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/worklets.toml", `
[runtime]
engine = "lua"
callTimeout = "20ms"

[frame]
fps = 120
`)

	loader := NewTOMLLoaderWithFS(memfs, "/worklets.toml")
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	runtime, ok := config["runtime"].(map[string]any)
	if !ok {
		t.Fatal("expected runtime to be a map")
	}
	if runtime["engine"] != "lua" {
		t.Errorf("engine = %v, want 'lua'", runtime["engine"])
	}
	if runtime["callTimeout"] != "20ms" {
		t.Errorf("callTimeout = %v, want '20ms'", runtime["callTimeout"])
	}

	frame, ok := config["frame"].(map[string]any)
	if !ok {
		t.Fatal("expected frame to be a map")
	}
	if frame["fps"] != int64(120) {
		t.Errorf("fps = %v (%T), want 120", frame["fps"], frame["fps"])
	}
}

func TestTOMLLoader_LoadNonExistent(t *testing.T) {
	loader := NewTOMLLoaderWithFS(NewMemFS(), "/nonexistent.toml")

	config, err := loader.Load()
	if err != nil {
		t.Fatalf("expected no error for non-existent file, got: %v", err)
	}
	if config != nil {
		t.Error("expected nil config for non-existent file")
	}
}

func TestTOMLLoader_LoadInvalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/invalid.toml", "[frame\nfps = 4\n")

	loader := NewTOMLLoaderWithFS(memfs, "/invalid.toml")
	_, err := loader.Load()
	if err == nil {
		t.Fatal("expected parse error")
	}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if parseErr.Path != "/invalid.toml" {
		t.Errorf("Path = %q, want '/invalid.toml'", parseErr.Path)
	}
	if parseErr.Line == 0 {
		t.Error("expected a line number")
	}
}

func TestTOMLLoader_LoadWithIncludes(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/etc/worklets.toml", `
"@include" = ["base.toml"]

[frame]
fps = 30
`)
	memfs.AddFile("/etc/base.toml", `
[frame]
fps = 60

[errors]
mode = "production"
`)

	loader := NewTOMLLoaderWithFS(memfs, "/etc/worklets.toml")
	config, err := loader.LoadWithIncludes("/etc/worklets.toml", 5)
	if err != nil {
		t.Fatalf("LoadWithIncludes failed: %v", err)
	}

	if _, ok := config[IncludeKey]; ok {
		t.Error("include key should be removed")
	}

	frame := config["frame"].(map[string]any)
	if frame["fps"] != int64(30) {
		t.Errorf("fps = %v, want 30 (should override included)", frame["fps"])
	}

	errs, ok := config["errors"].(map[string]any)
	if !ok || errs["mode"] != "production" {
		t.Errorf("errors = %v, want mode from included file", config["errors"])
	}
}

func TestTOMLLoader_LoadWithIncludes_DepthExceeded(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = "b.toml"`)
	memfs.AddFile("/b.toml", `"@include" = "a.toml"`)

	loader := NewTOMLLoaderWithFS(memfs, "/a.toml")
	_, err := loader.LoadWithIncludes("/a.toml", 4)
	if !errors.Is(err, ErrIncludeDepth) {
		t.Errorf("error = %v, want ErrIncludeDepth", err)
	}
}

func TestTOMLLoader_LoadWithIncludes_BadDirective(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = 3`)

	loader := NewTOMLLoaderWithFS(memfs, "/a.toml")
	if _, err := loader.LoadWithIncludes("/a.toml", 4); err == nil {
		t.Error("expected error for non-string include")
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"frame":   map[string]any{"fps": int64(60)},
		"logging": map[string]any{"level": "info", "format": "text"},
	}
	src := map[string]any{
		"logging": map[string]any{"level": "debug"},
		"metrics": map[string]any{"enabled": false},
	}

	got := DeepMerge(dst, src)

	logging := got["logging"].(map[string]any)
	if logging["level"] != "debug" || logging["format"] != "text" {
		t.Errorf("logging = %v", logging)
	}
	if got["frame"].(map[string]any)["fps"] != int64(60) {
		t.Errorf("frame = %v", got["frame"])
	}
	if got["metrics"].(map[string]any)["enabled"] != false {
		t.Errorf("metrics = %v", got["metrics"])
	}

	if DeepMerge(nil, nil) == nil {
		t.Error("DeepMerge(nil, nil) should return an empty map")
	}
}
