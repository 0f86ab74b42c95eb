package mapper

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/worklets/internal/engine"
	"github.com/dshills/worklets/internal/shared"
)

// ErrorReporter receives mapper failures.
type ErrorReporter interface {
	Report(err error)
}

// RunHook is called after every Execute with the number of mappers that ran
// and the time spent.
type RunHook func(ran int, elapsed time.Duration)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReporter sets the reporter for mapper failures.
func WithReporter(r ErrorReporter) RegistryOption {
	return func(reg *Registry) {
		reg.reporter = r
	}
}

// WithRunHook sets a hook called after each Execute.
func WithRunHook(h RunHook) RegistryOption {
	return func(reg *Registry) {
		reg.runHook = h
	}
}

// Registry owns the running mappers and their execution order.
//
// Structural changes (Start, Stop, UpdateDependencies) mark the order cache
// stale; the next Execute recomputes it. Writes to the shared store mark the
// consumers of the written key dirty, including writes made by mappers during
// Execute, so downstream mappers run in the same pass.
//
// Stop and Clear take effect for passes that start afterwards. A pass already
// running still runs every dirty mapper it started with; the bodies of
// removed mappers are released once no pass is in flight.
type Registry struct {
	mu        sync.RWMutex
	mappers   map[uint64]*Mapper
	consumers map[string][]*Mapper
	order     []*Mapper

	inFlight int
	retired  []*Mapper

	// updatedSinceLastExecute is the {Clean, Dirty} state of the order cache.
	updatedSinceLastExecute bool

	lastID      atomic.Uint64
	store       *shared.Store
	unsubscribe func()
	reporter    ErrorReporter
	runHook     RunHook
}

// NewRegistry creates a mapper registry backed by store. A nil store gets a
// private one.
func NewRegistry(store *shared.Store, opts ...RegistryOption) *Registry {
	if store == nil {
		store = shared.NewStore()
	}
	r := &Registry{
		mappers:                 make(map[uint64]*Mapper),
		consumers:               make(map[string][]*Mapper),
		updatedSinceLastExecute: true,
		store:                   store,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.unsubscribe = store.Subscribe(r.onStoreWrite)
	return r
}

// Store returns the shared store the registry reads and writes.
func (r *Registry) Store() *shared.Store {
	return r.store
}

// Start registers a mapper and returns its id. The mapper is dirty, so it
// runs on the next Execute.
func (r *Registry) Start(body Body, inputs, outputs []string) (uint64, error) {
	if body == nil {
		return 0, ErrNilBody
	}
	m := newMapper(r.lastID.Add(1), body, inputs, outputs)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.mappers[m.id] = m
	r.indexInputs(m)
	r.updatedSinceLastExecute = true
	return m.id, nil
}

// Stop removes a mapper. Unknown ids are ignored; the return value reports
// whether a mapper was removed.
func (r *Registry) Stop(id uint64) bool {
	r.mu.Lock()
	m, ok := r.mappers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.mappers, id)
	r.unindexInputs(m)
	r.updatedSinceLastExecute = true
	release := r.retire(m)
	r.mu.Unlock()

	releaseBodies(release)
	return true
}

// MarkDirty schedules a mapper to run on the next Execute.
func (r *Registry) MarkDirty(id uint64) bool {
	r.mu.RLock()
	m, ok := r.mappers[id]
	r.mu.RUnlock()

	if ok {
		m.dirty.Store(true)
	}
	return ok
}

// UpdateDependencies replaces a mapper's declared inputs and outputs.
func (r *Registry) UpdateDependencies(id uint64, inputs, outputs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappers[id]
	if !ok {
		return ErrMapperNotFound
	}
	r.unindexInputs(m)
	m.deps.Store(newDeps(inputs, outputs))
	r.indexInputs(m)
	m.dirty.Store(true)
	r.updatedSinceLastExecute = true
	return nil
}

// Get returns a mapper by id.
func (r *Registry) Get(id uint64) (*Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mappers[id]
	return m, ok
}

// Count returns the number of running mappers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappers)
}

// NeedRunOnRender reports whether Execute has work to do: the order cache
// is stale or some mapper is dirty.
func (r *Registry) NeedRunOnRender() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.updatedSinceLastExecute {
		return true
	}
	for _, m := range r.mappers {
		if m.dirty.Load() {
			return true
		}
	}
	return false
}

// Order returns the mapper ids in execution order.
func (r *Registry) Order() []uint64 {
	r.mu.RLock()
	order := r.order
	stale := r.updatedSinceLastExecute
	if stale {
		order, _ = sortMappers(r.all())
	}
	r.mu.RUnlock()

	ids := make([]uint64, len(order))
	for i, m := range order {
		ids[i] = m.id
	}
	return ids
}

// Execute runs every dirty mapper in dependency order. It must be called on
// the goroutine holding rt. Failures are reported and joined; a failing
// mapper does not stop the others.
func (r *Registry) Execute(rt engine.Runtime) error {
	start := time.Now()

	order, orderErr := r.beginExecute()
	defer r.endExecute()

	var errs []error
	if orderErr != nil {
		r.report(orderErr)
		errs = append(errs, orderErr)
	}

	ran := 0
	for _, m := range order {
		// Cleared before running so a mapper that re-dirties itself stays
		// scheduled for the next frame.
		if !m.dirty.CompareAndSwap(true, false) {
			continue
		}
		ran++
		if err := r.run(rt, m); err != nil {
			merr := &MapperError{MapperID: m.id, Worklet: m.name(), Err: err}
			r.report(merr)
			errs = append(errs, merr)
		}
	}

	if r.runHook != nil {
		r.runHook(ran, time.Since(start))
	}
	return errors.Join(errs...)
}

// Clear stops every mapper. It returns the number removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	removed := r.all()
	r.mappers = make(map[uint64]*Mapper)
	r.consumers = make(map[string][]*Mapper)
	r.order = nil
	r.updatedSinceLastExecute = true
	release := r.retire(removed...)
	r.mu.Unlock()

	releaseBodies(release)
	return len(removed)
}

// Close stops every mapper and detaches the registry from the store.
func (r *Registry) Close() {
	r.Clear()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// beginExecute recomputes the order if stale, marks a pass in flight and
// returns a copy of the order.
func (r *Registry) beginExecute() ([]*Mapper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.updatedSinceLastExecute {
		err = r.updateOrder()
	}
	order := make([]*Mapper, len(r.order))
	copy(order, r.order)
	r.inFlight++
	return order, err
}

func (r *Registry) endExecute() {
	r.mu.Lock()
	r.inFlight--
	var release []*Mapper
	if r.inFlight == 0 {
		release = r.retired
		r.retired = nil
	}
	r.mu.Unlock()

	releaseBodies(release)
}

// retire returns the mappers whose bodies can be released now. While a pass
// is in flight they are parked until it finishes. Caller must hold the write
// lock.
func (r *Registry) retire(ms ...*Mapper) []*Mapper {
	if r.inFlight > 0 {
		r.retired = append(r.retired, ms...)
		return nil
	}
	return ms
}

func releaseBodies(ms []*Mapper) {
	for _, m := range ms {
		if rel, ok := m.body.(releaser); ok {
			rel.Release()
		}
	}
}

// updateOrder rebuilds the cached order. Caller must hold the write lock.
func (r *Registry) updateOrder() error {
	ordered, cyclic := sortMappers(r.all())
	r.order = ordered
	r.updatedSinceLastExecute = false

	if len(cyclic) == 0 {
		return nil
	}
	ids := make([]uint64, len(cyclic))
	for i, m := range cyclic {
		ids[i] = m.id
	}
	return &CycleError{IDs: ids}
}

func (r *Registry) all() []*Mapper {
	all := make([]*Mapper, 0, len(r.mappers))
	for _, m := range r.mappers {
		all = append(all, m)
	}
	return all
}

// run executes one mapper and writes its declared outputs.
func (r *Registry) run(rt engine.Runtime, m *Mapper) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: string(debug.Stack())}
		}
	}()

	d := m.deps.Load()
	inputs := make(map[string]any, len(d.inputs))
	for _, key := range d.inputs {
		if v, ok := r.store.Get(key); ok {
			inputs[key] = v
		}
	}

	outputs, err := m.body.Run(rt, inputs)
	if err != nil {
		return err
	}
	for _, key := range d.outputs {
		if v, ok := outputs[key]; ok {
			r.store.Set(key, v)
		}
	}
	return nil
}

// onStoreWrite marks every consumer of key dirty.
func (r *Registry) onStoreWrite(key string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.consumers[key] {
		m.dirty.Store(true)
	}
}

func (r *Registry) indexInputs(m *Mapper) {
	for _, key := range m.deps.Load().inputs {
		r.consumers[key] = append(r.consumers[key], m)
	}
}

func (r *Registry) unindexInputs(m *Mapper) {
	for _, key := range m.deps.Load().inputs {
		list := r.consumers[key]
		for i, other := range list {
			if other == m {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.consumers, key)
		} else {
			r.consumers[key] = list
		}
	}
}

func (r *Registry) report(err error) {
	if r.reporter != nil {
		r.reporter.Report(err)
	}
}
