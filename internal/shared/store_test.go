package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSet(t *testing.T) {
	s := NewStore()

	_, ok := s.Get("x")
	assert.False(t, ok)
	assert.Equal(t, uint64(0), s.Version("x"))

	s.Set("x", 1)
	s.Set("x", 2)

	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, uint64(2), s.Version("x"))
	assert.Equal(t, 1, s.Len())
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	s.Set("x", 1)

	var notified []string
	s.Subscribe(func(key string) { notified = append(notified, key) })

	assert.True(t, s.Delete("x"))
	assert.False(t, s.Delete("x"))
	assert.Equal(t, []string{"x"}, notified)

	_, ok := s.Get("x")
	assert.False(t, ok)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Set("a", 1)
	s.Set("b", "two")

	snap := s.Snapshot()
	snap["a"] = 100

	v, _ := s.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()

	var got []string
	cancel := s.Subscribe(func(key string) { got = append(got, key) })

	s.Set("x", 1)
	s.Set("y", 2)
	cancel()
	s.Set("z", 3)

	assert.Equal(t, []string{"x", "y"}, got)
}

func TestStoreListenerMayReadStore(t *testing.T) {
	s := NewStore()

	var seen any
	s.Subscribe(func(key string) {
		// Runs after the write lock is released.
		seen, _ = s.Get(key)
	})

	s.Set("x", 42)
	assert.Equal(t, 42, seen)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set("counter", i)
			_, _ = s.Get("counter")
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(20), s.Version("counter"))
}

func TestStoreSetUnchangedScalar(t *testing.T) {
	s := NewStore()

	var notified []string
	s.Subscribe(func(key string) { notified = append(notified, key) })

	assert.True(t, s.Set("x", 10))
	assert.False(t, s.Set("x", 10), "same value")
	assert.True(t, s.Set("x", int64(10)), "same number, different type")
	assert.True(t, s.Set("x", 11))

	assert.True(t, s.Set("obj", map[string]any{"a": 1}))
	assert.True(t, s.Set("obj", map[string]any{"a": 1}), "composites always notify")

	assert.True(t, s.Set("nil", nil))
	assert.False(t, s.Set("nil", nil))

	assert.Equal(t, []string{"x", "x", "x", "obj", "obj", "nil"}, notified)
	assert.Equal(t, uint64(3), s.Version("x"))
}
