package native

import (
	"sync"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/mapper"
	"github.com/dshills/worklets/internal/shareable"
	"github.com/dshills/worklets/internal/worklet"
)

// StartMapper registers w as a mapper reading inputs and writing outputs.
// The worklet is compiled on the UI runtime the first time it runs.
func (m *Module) StartMapper(w *shareable.Worklet, inputs, outputs []string) (uint64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	body := newLazyBody()
	if err := body.resolve(w); err != nil {
		return 0, err
	}
	return m.mappers.Start(body, inputs, outputs)
}

// StopMapper removes a mapper. It reports false for unknown ids.
func (m *Module) StopMapper(id uint64) bool {
	return m.mappers.Stop(id)
}

// lazyBody is a mapper body whose worklet arrives after the mapper is
// registered and is compiled on the runtime that first runs it.
type lazyBody struct {
	mu       sync.Mutex
	name     string
	data     []byte
	body     *mapper.WorkletBody
	released bool
}

func newLazyBody() *lazyBody {
	return &lazyBody{}
}

// resolve supplies the worklet.
func (b *lazyBody) resolve(w *shareable.Worklet) error {
	data, err := w.Encode()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = w.Name
	b.data = data
	return nil
}

// Run compiles the worklet on first use and runs it. Before the worklet is
// resolved it produces no outputs.
func (b *lazyBody) Run(rt engine.Runtime, inputs map[string]any) (map[string]any, error) {
	body, err := b.materialize(rt)
	if err != nil || body == nil {
		return nil, err
	}
	return body.Run(rt, inputs)
}

func (b *lazyBody) materialize(rt engine.Runtime) (*mapper.WorkletBody, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, worklet.ErrHandleInvalidated
	}
	if b.body != nil || b.data == nil {
		return b.body, nil
	}

	w, err := shareable.Decode(b.data)
	if err != nil {
		return nil, err
	}
	handle, err := w.Materialize(rt)
	if err != nil {
		return nil, err
	}
	b.body = mapper.NewWorkletBody(handle)
	return b.body, nil
}

// Name returns the worklet's declared name.
func (b *lazyBody) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.body != nil {
		return b.body.Name()
	}
	if b.name == "" {
		return "<anonymous>"
	}
	return b.name
}

// Release invalidates the compiled worklet.
func (b *lazyBody) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	if b.body != nil {
		b.body.Release()
	}
}
