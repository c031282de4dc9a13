package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_addGetRemove(t *testing.T) {
	reg := New[string]()

	id := reg.NextID()
	assert.Equal(t, uint32(1), id)

	reg.Add(id, "alpha")
	reg.Add(reg.NextID(), "beta")

	got, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, "alpha", got)
	assert.Equal(t, 2, reg.Len())

	assert.True(t, reg.Remove(id))
	assert.False(t, reg.Remove(id), "second remove of the same id must report false")

	_, ok = reg.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_getUnknownID(t *testing.T) {
	reg := New[int]()

	_, ok := reg.Get(42)
	assert.False(t, ok)
	assert.False(t, reg.Remove(42))
}

func TestRegistry_allAndIDs(t *testing.T) {
	reg := New[string]()
	want := map[uint32]string{}
	for _, v := range []string{"a", "b", "c"} {
		id := reg.NextID()
		reg.Add(id, v)
		want[id] = v
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, reg.All())

	ids := reg.IDs()
	assert.Len(t, ids, 3)
	for _, id := range ids {
		_, ok := want[id]
		assert.True(t, ok)
	}
}

func TestRegistry_clear(t *testing.T) {
	reg := New[string]()
	reg.Add(reg.NextID(), "a")
	reg.Add(reg.NextID(), "b")

	removed := reg.Clear()

	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.All())
}

func TestRegistry_idsAreUniqueUnderConcurrency(t *testing.T) {
	reg := New[int]()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	seen := make(chan uint32, goroutines*perGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := reg.NextID()
				reg.Add(id, 0)
				seen <- id
			}
		}()
	}

	wg.Wait()
	close(seen)

	unique := map[uint32]struct{}{}
	for id := range seen {
		_, dup := unique[id]
		assert.False(t, dup, "id %d issued twice", id)
		unique[id] = struct{}{}
	}

	assert.Equal(t, goroutines*perGoroutine, reg.Len())
}
