// Package provider implements the pluggable provider substrate: a
// compile-time registration table keyed by (capability, name) and swappable
// runtime handles over the active provider instances.
//
// Capability contracts live next to their consumers (embed.Embedder,
// store.VectorStore, cache.Cache, bus.EventBus, chunk.Chunker); the registry
// stores factories uniformly and the composition root asserts the concrete
// contract on resolution.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codescope/codescope/internal/config"
	cerr "github.com/codescope/codescope/internal/errors"
)

// Capability identifies a provider slot.
type Capability string

const (
	CapEmbedder    Capability = "embedding"
	CapVectorStore Capability = "vector_store"
	CapCache       Capability = "cache"
	CapEventBus    Capability = "event_bus"
	CapMetrics     Capability = "metrics"
)

// Factory constructs a provider instance from configuration.
type Factory func(cfg *config.Config) (any, error)

type registryKey struct {
	capability Capability
	name       string
}

// Registry is a duplicate-rejecting table of provider factories.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]Factory)}
}

// Register adds a factory for (capability, name).
// Registering the same pair twice is an error.
func (r *Registry) Register(capability Capability, name string, factory Factory) error {
	if name == "" {
		return cerr.New(cerr.KindConfig, "provider name must not be empty")
	}
	if factory == nil {
		return cerr.Newf(cerr.KindConfig, "nil factory for %s/%s", capability, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{capability, name}
	if _, exists := r.entries[key]; exists {
		return cerr.Newf(cerr.KindConflict, "provider %s/%s already registered", capability, name)
	}
	r.entries[key] = factory
	return nil
}

// MustRegister is Register that panics on error; for startup wiring where a
// duplicate registration is a programming bug.
func (r *Registry) MustRegister(capability Capability, name string, factory Factory) {
	if err := r.Register(capability, name, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs the provider registered under (capability, name).
func (r *Registry) Resolve(cfg *config.Config, capability Capability, name string) (any, error) {
	r.mu.RLock()
	factory, ok := r.entries[registryKey{capability, name}]
	r.mu.RUnlock()

	if !ok {
		return nil, cerr.Newf(cerr.KindNotFound, "no %s provider named %q (available: %v)",
			capability, name, r.Names(capability))
	}

	instance, err := factory(cfg)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindConfig, fmt.Sprintf("construct %s/%s", capability, name), err)
	}
	return instance, nil
}

// Names lists registered provider names for a capability, sorted.
func (r *Registry) Names(capability Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for key := range r.entries {
		if key.capability == capability {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}
