// Package mapper runs per-frame computations ("mappers") in dependency order.
//
// Each mapper declares the shared-value keys it reads (inputs) and writes
// (outputs). A mapper that reads a key another mapper writes runs after that
// producer. Only dirty mappers run: a mapper becomes dirty when it starts,
// when one of its inputs is written to the shared store, or when it reports
// itself dirty with Registry.MarkDirty.
package mapper

import (
	"fmt"
	"sync/atomic"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/worklet"
)

// Body is the computation a mapper performs. Run receives the current values
// of the declared inputs and returns values for the declared outputs.
type Body interface {
	Run(rt engine.Runtime, inputs map[string]any) (map[string]any, error)
}

// BodyFunc adapts a Go function to Body.
type BodyFunc func(rt engine.Runtime, inputs map[string]any) (map[string]any, error)

// Run calls f.
func (f BodyFunc) Run(rt engine.Runtime, inputs map[string]any) (map[string]any, error) {
	return f(rt, inputs)
}

// releaser is implemented by bodies that hold engine resources.
type releaser interface {
	Release()
}

// WorkletBody runs a worklet with the inputs object as its only argument.
// The worklet returns an object whose fields are the outputs; returning
// nothing leaves the outputs untouched.
type WorkletBody struct {
	handle *worklet.Handle
}

// NewWorkletBody wraps a worklet handle as a mapper body.
func NewWorkletBody(handle *worklet.Handle) *WorkletBody {
	return &WorkletBody{handle: handle}
}

// Handle returns the wrapped worklet.
func (b *WorkletBody) Handle() *worklet.Handle {
	return b.handle
}

// Run invokes the worklet.
func (b *WorkletBody) Run(rt engine.Runtime, inputs map[string]any) (map[string]any, error) {
	result, err := b.handle.Call(rt, inputs)
	if err != nil {
		return nil, err
	}
	switch out := result.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidOutput, result)
	}
}

// Release invalidates the worklet handle.
func (b *WorkletBody) Release() {
	b.handle.Invalidate()
}

// Name returns the worklet's declared name.
func (b *WorkletBody) Name() string {
	return b.handle.String()
}

// deps is an immutable set of declared keys. UpdateDependencies swaps in a
// new value instead of editing one in place.
type deps struct {
	inputs  []string
	outputs []string
}

func newDeps(inputs, outputs []string) *deps {
	return &deps{inputs: dedupe(inputs), outputs: dedupe(outputs)}
}

// Mapper is a registered computation with declared dependencies.
type Mapper struct {
	id   uint64
	body Body
	deps atomic.Pointer[deps]

	dirty atomic.Bool
}

func newMapper(id uint64, body Body, inputs, outputs []string) *Mapper {
	m := &Mapper{
		id:   id,
		body: body,
	}
	m.deps.Store(newDeps(inputs, outputs))
	m.dirty.Store(true)
	return m
}

// ID returns the mapper id.
func (m *Mapper) ID() uint64 {
	return m.id
}

// Inputs returns the declared input keys.
func (m *Mapper) Inputs() []string {
	return append([]string(nil), m.deps.Load().inputs...)
}

// Outputs returns the declared output keys.
func (m *Mapper) Outputs() []string {
	return append([]string(nil), m.deps.Load().outputs...)
}

// Dirty reports whether the mapper will run on the next Execute.
func (m *Mapper) Dirty() bool {
	return m.dirty.Load()
}

// name returns a label for error reports.
func (m *Mapper) name() string {
	if n, ok := m.body.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("mapper-%d", m.id)
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
