// Package shareable captures worklets from the JS runtime so they can be
// rebuilt on the UI runtime.
//
// Engine values never cross runtimes. A Worklet carries the function source,
// its declared name and the captured closure values; it travels between
// threads as msgpack bytes and is compiled again on the receiving runtime.
package shareable

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/worklet"
)

// Errors returned while capturing or rebuilding worklets.
var (
	// ErrHashMismatch is returned by Decode when the payload was altered.
	ErrHashMismatch = errors.New("worklet hash mismatch")

	// ErrKindMismatch is returned when materialising on a runtime of another
	// language.
	ErrKindMismatch = errors.New("worklet language does not match runtime")

	// ErrEmptySource is returned for a worklet without source text.
	ErrEmptySource = errors.New("worklet source is empty")

	// ErrUnsupportedValue is returned by FromValue for values that do not
	// describe a worklet.
	ErrUnsupportedValue = errors.New("value is not a worklet")
)

// Worklet is a transferable description of a function.
type Worklet struct {
	Name    string         `msgpack:"name"`
	Kind    engine.Kind    `msgpack:"kind"`
	Source  string         `msgpack:"source"`
	Closure map[string]any `msgpack:"closure,omitempty"`
	Hash    uint64         `msgpack:"hash"`
}

// New creates a worklet and computes its hash.
func New(name string, kind engine.Kind, source string, closure map[string]any) (*Worklet, error) {
	if source == "" {
		return nil, ErrEmptySource
	}
	return &Worklet{
		Name:    name,
		Kind:    kind,
		Source:  source,
		Closure: closure,
		Hash:    Hash(kind, source),
	}, nil
}

// Hash returns the FNV-1a hash of a worklet's language and source.
func Hash(kind engine.Kind, source string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(source))
	return h.Sum64()
}

// Capture extracts fn from rt. rt must implement engine.Capturer.
func Capture(rt engine.Runtime, fn engine.Function, closure map[string]any) (*Worklet, error) {
	capturer, ok := rt.(engine.Capturer)
	if !ok {
		return nil, fmt.Errorf("%s runtime: %w", rt.Kind(), engine.ErrCaptureUnsupported)
	}
	source, err := capturer.Capture(fn)
	if err != nil {
		return nil, err
	}
	name, _ := rt.StringProperty(fn, "name")
	return New(name, rt.Kind(), source, closure)
}

// FromValue builds a worklet from a value passed to a host function. The
// value may be a function of rt, a source string, or an object with name,
// source and closure fields. closure overrides the object's closure when
// non-nil.
func FromValue(rt engine.Runtime, v any, closure map[string]any) (*Worklet, error) {
	switch val := v.(type) {
	case engine.Function:
		return Capture(rt, val, closure)
	case string:
		return New("", rt.Kind(), val, closure)
	case map[string]any:
		source, _ := val["source"].(string)
		name, _ := val["name"].(string)
		if closure == nil {
			closure, _ = val["closure"].(map[string]any)
		}
		return New(name, rt.Kind(), source, closure)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Encode serialises the worklet with msgpack.
func (w *Worklet) Encode() ([]byte, error) {
	return msgpack.Marshal(w)
}

// Decode parses a worklet encoded with Encode and verifies its hash.
// Integers in the closure decode as int64, uint64 or float64.
func Decode(data []byte) (*Worklet, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var w Worklet
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode worklet: %w", err)
	}
	if w.Hash != Hash(w.Kind, w.Source) {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, w.Name)
	}
	return &w, nil
}

// Materialize compiles the worklet on rt and captures it as a handle.
func (w *Worklet) Materialize(rt engine.Runtime) (*worklet.Handle, error) {
	if w.Kind != "" && w.Kind != rt.Kind() {
		return nil, fmt.Errorf("%w: %s worklet on %s runtime", ErrKindMismatch, w.Kind, rt.Kind())
	}
	fn, err := rt.Compile(w.Name, w.Source, w.Closure)
	if err != nil {
		return nil, fmt.Errorf("materialize %s: %w", w.label(), err)
	}
	return worklet.NewHandle(rt, fn), nil
}

// Clone returns an independent copy of the worklet via a msgpack round trip.
func (w *Worklet) Clone() (*Worklet, error) {
	data, err := w.Encode()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func (w *Worklet) label() string {
	if w.Name == "" {
		return fmt.Sprintf("worklet %x", w.Hash)
	}
	return w.Name
}
