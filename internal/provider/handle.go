package provider

import "sync"

// Handle is a shared, atomically replaceable reference to the active
// implementation of a capability. Readers observe a consistent
// (instance, generation) snapshot for the duration of one logical call;
// replacement does not preempt in-flight calls — the old instance stays
// alive until its callers return.
//
// The generation increases monotonically on every swap and serves as the
// cache epoch for anything derived from the provider.
type Handle[T any] struct {
	mu         sync.RWMutex
	name       string
	instance   T
	generation uint64
}

// NewHandle creates a handle at generation 1.
func NewHandle[T any](name string, instance T) *Handle[T] {
	return &Handle[T]{name: name, instance: instance, generation: 1}
}

// Get returns the current instance and its generation as one snapshot.
func (h *Handle[T]) Get() (T, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instance, h.generation
}

// Current returns only the instance; use Get when the generation matters.
func (h *Handle[T]) Current() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instance
}

// Name returns the registered name of the active provider.
func (h *Handle[T]) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

// Generation returns the current generation.
func (h *Handle[T]) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.generation
}

// Swap atomically replaces the instance, bumps the generation, and returns
// the previous instance so the caller can close it once drained.
func (h *Handle[T]) Swap(name string, instance T) (old T, oldGen, newGen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old = h.instance
	oldGen = h.generation
	h.name = name
	h.instance = instance
	h.generation++
	return old, oldGen, h.generation
}
