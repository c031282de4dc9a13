// Package registry tracks open, handshake-completed connections by an opaque
// monotonic identifier. The registry is the single source of truth for "who
// is connected": a connection is present here if and only if it is open, and
// it is removed in the same step that emits the disconnect event.
//
// The value type is generic so the server package can store its own
// connection type without an import cycle.
package registry

import (
	"sync"
	"sync/atomic"
)

// Registry is a concurrency-safe map from connection id to V with a fused
// monotonic id allocator. All methods may be called from any goroutine;
// Remove reports prior membership so racing removers agree on a single
// winner.
type Registry[V any] struct {
	mu     sync.RWMutex
	conns  map[uint32]V
	lastID atomic.Uint32
}

// New returns an empty Registry ready for use.
//
// Returns:
//   - A pointer to a new Registry[V]
func New[V any]() *Registry[V] {
	return &Registry[V]{
		conns: make(map[uint32]V),
	}
}

// NextID allocates the next connection identifier. Ids are monotonic and
// never reused within the registry's lifetime; the first call returns 1.
// Safe for concurrent use.
//
// Returns:
//   - The next uint32 connection id
func (r *Registry[V]) NextID() uint32 {
	return r.lastID.Add(1)
}

// Add stores v under id, overwriting any existing entry.
//
// Parameters:
//   - id: The connection id
//   - v: The connection to store
func (r *Registry[V]) Add(id uint32, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = v
}

// Remove deletes the entry for id and reports whether it was present.
//
// Parameters:
//   - id: The connection id to remove
//
// Returns:
//   - true if the id was registered, false otherwise
func (r *Registry[V]) Remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[id]
	delete(r.conns, id)
	return ok
}

// Get returns the connection for id, if present.
//
// Parameters:
//   - id: The connection id to look up
//
// Returns:
//   - The connection and true if found, or a zero value and false otherwise
func (r *Registry[V]) Get(id uint32) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.conns[id]
	return v, ok
}

// All returns a snapshot of every registered connection. The snapshot is a
// copy; mutating the registry while iterating it is safe.
//
// Returns:
//   - A slice with all registered connections, in unspecified order
func (r *Registry[V]) All() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]V, 0, len(r.conns))
	for _, v := range r.conns {
		out = append(out, v)
	}

	return out
}

// IDs returns a snapshot of every registered connection id.
//
// Returns:
//   - A slice with all registered ids, in unspecified order
func (r *Registry[V]) IDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint32, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}

	return out
}

// Len returns the number of registered connections.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Clear removes every entry and returns the removed connections, used during
// server shutdown to force-close stragglers.
//
// Returns:
//   - The connections that were registered
func (r *Registry[V]) Clear() []V {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]V, 0, len(r.conns))
	for _, v := range r.conns {
		out = append(out, v)
	}

	r.conns = make(map[uint32]V)
	return out
}
