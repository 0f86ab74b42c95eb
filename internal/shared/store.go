// Package shared implements the shared value store that worklets and mappers
// read and write by key.
package shared

import (
	"sort"
	"sync"
)

// Listener is called with the key of every Set that changed the store.
type Listener func(key string)

// Store is a thread-safe key/value store with per-key versions.
// Listeners run after the write lock is released, on the writing goroutine.
type Store struct {
	mu       sync.RWMutex
	values   map[string]any
	versions map[string]uint64

	listenerMu sync.RWMutex
	listeners  map[uint64]Listener
	nextID     uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		values:    make(map[string]any),
		versions:  make(map[string]uint64),
		listeners: make(map[uint64]Listener),
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, bumps the key's version and notifies listeners.
// Writing a scalar equal to the stored one is a no-op, so a mapper that
// writes back an unchanged input does not dirty itself again. It reports
// whether the store changed.
func (s *Store) Set(key string, value any) bool {
	s.mu.Lock()
	if old, ok := s.values[key]; ok && sameScalar(old, value) {
		s.mu.Unlock()
		return false
	}
	s.values[key] = value
	s.versions[key]++
	s.mu.Unlock()

	s.notify(key)
	return true
}

// sameScalar reports whether a and b are equal values of the same scalar
// type. Maps, slices and other composites always compare unequal.
func sameScalar(a, b any) bool {
	switch a.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return a == b
	}
	return false
}

// Delete removes key. Listeners are notified when the key existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.values[key]
	if ok {
		delete(s.values, key)
		s.versions[key]++
	}
	s.mu.Unlock()

	if ok {
		s.notify(key)
	}
	return ok
}

// Version returns how many times key has been written. Unknown keys are 0.
func (s *Store) Version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.versions[key]
}

// Snapshot returns a shallow copy of all values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Subscribe registers a listener. The returned function removes it.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.listenerMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify(key string) {
	s.listenerMu.RLock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = s.listeners[id]
	}
	s.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
