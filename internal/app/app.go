// Package app is the composition root: it registers providers, resolves
// them from configuration into swappable handles, builds the services, and
// owns process lifecycle (init, provider swap, teardown).
package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codescope/codescope/internal/bus"
	"github.com/codescope/codescope/internal/cache"
	"github.com/codescope/codescope/internal/chunk"
	"github.com/codescope/codescope/internal/collection"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/embed"
	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/index"
	"github.com/codescope/codescope/internal/metrics"
	"github.com/codescope/codescope/internal/provider"
	"github.com/codescope/codescope/internal/search"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/validation"
)

// swapDrainGrace is how long a replaced provider instance stays alive so
// in-flight calls can finish before it is closed.
const swapDrainGrace = 30 * time.Second

// initialized forbids re-entrant Init within one process.
var initialized atomic.Bool

// App is the application context handed to transports.
type App struct {
	Config *config.Config

	Index      *index.Service
	Search     *search.Engine
	Validation *validation.Service

	registry *provider.Registry
	embedder *provider.Handle[embed.Embedder]
	vectors  *provider.Handle[store.VectorStore]
	caches   *provider.Handle[cache.Cache]
	events   *provider.Handle[bus.EventBus]
	metrics  *provider.Handle[metrics.Provider]

	keyword *store.BleveIndex
	sidecar *store.Sidecar
	writers *store.WriterPool
	mapper  *collection.Mapper

	mu     sync.Mutex
	closed bool
}

// Init builds the application once per process; a second call is refused.
// Teardown releases the guard.
func Init(cfg *config.Config) (*App, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, cerr.New(cerr.KindConflict, "application already initialised")
	}

	a, err := build(cfg)
	if err != nil {
		initialized.Store(false)
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		registry: NewProviderRegistry(),
	}

	// Resolution order follows the dependency chain: metrics, cache, and
	// bus first, then stores, then the embedder stack that decorates over
	// the cache.
	rawMetrics, err := a.registry.Resolve(cfg, provider.CapMetrics, cfg.Metrics.Provider)
	if err != nil {
		return nil, err
	}
	a.metrics = provider.NewHandle(cfg.Metrics.Provider, rawMetrics.(metrics.Provider))

	rawCache, err := a.registry.Resolve(cfg, provider.CapCache, cfg.Cache.Provider)
	if err != nil {
		return nil, err
	}
	a.caches = provider.NewHandle(cfg.Cache.Provider, rawCache.(cache.Cache))

	rawBus, err := a.registry.Resolve(cfg, provider.CapEventBus, cfg.EventBus.Provider)
	if err != nil {
		return nil, err
	}
	a.events = provider.NewHandle(cfg.EventBus.Provider, rawBus.(bus.EventBus))

	rawVectors, err := a.registry.Resolve(cfg, provider.CapVectorStore, cfg.VectorStore.Provider)
	if err != nil {
		return nil, err
	}
	a.vectors = provider.NewHandle(cfg.VectorStore.Provider, rawVectors.(store.VectorStore))

	rawEmbedder, err := a.registry.Resolve(cfg, provider.CapEmbedder, cfg.Embedding.Provider)
	if err != nil {
		return nil, err
	}
	a.embedder = provider.NewHandle(cfg.Embedding.Provider,
		a.decorateEmbedder(rawEmbedder.(embed.Embedder)))

	collectionsDir := filepath.Join(cfg.DataDir, "collections")
	a.keyword = store.NewBleveIndex(collectionsDir)
	a.sidecar = store.NewSidecar(collectionsDir)
	a.writers = store.NewWriterPool(
		func() store.VectorStore { return a.vectors.Current() },
		a.keyword, a.sidecar)

	a.mapper, err = collection.NewMapper(collectionsDir)
	if err != nil {
		return nil, err
	}

	chunker := chunk.NewASTChunker(chunk.Options{
		MaxChunkBytes: cfg.Indexing.MaxChunkBytes,
		OverlapBytes:  cfg.Indexing.OverlapBytes,
		MinChunkBytes: cfg.Indexing.MinChunkBytes,
	})

	a.Index = index.NewService(index.Deps{
		Config:   cfg,
		Embedder: a.embedder,
		Vectors:  a.vectors,
		Keyword:  a.keyword,
		Sidecar:  a.sidecar,
		Writers:  a.writers,
		Mapper:   a.mapper,
		Chunker:  chunker,
		Events:   busProxy{a.events},
		Metrics:  metricsProxy{a.metrics},
	})

	a.Search = search.NewEngine(search.Deps{
		Config:   cfg,
		Embedder: a.embedder,
		Vectors:  a.vectors,
		Keyword:  a.keyword,
		Cache:    cacheProxy{a.caches},
		Mapper:   a.mapper,
		Metrics:  metricsProxy{a.metrics},
	})

	a.Validation = validation.NewService(nil)

	return a, nil
}

// decorateEmbedder layers the standard stack over a raw embedder: the
// embedding cache, then the cross-worker batcher.
func (a *App) decorateEmbedder(raw embed.Embedder) embed.Embedder {
	cached := embed.NewCachedEmbedder(raw, cacheProxy{a.caches}, a.Config.Cache.TTLs.Embeddings)
	return embed.NewBatcher(cached, embed.DefaultFlushInterval)
}

// Events returns the active event bus.
func (a *App) Events() bus.EventBus { return a.events.Current() }

// SwapResult reports a completed provider swap.
type SwapResult struct {
	Capability    string `json:"capability"`
	OldName       string `json:"old_name"`
	NewName       string `json:"new_name"`
	OldGeneration uint64 `json:"old_generation"`
	NewGeneration uint64 `json:"new_generation"`
}

// SwapProvider constructs the named provider, atomically replaces the
// handle, bumps the generation, and publishes ProviderSwapped. In-flight
// calls keep the old instance alive until they return; the old instance is
// closed after a drain grace period. A new embedder with a different
// dimension is allowed here: IncompatibleCollection surfaces on next use
// of an existing collection.
func (a *App) SwapProvider(ctx context.Context, capability provider.Capability, name string) (*SwapResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, cerr.New(cerr.KindInternal, "application is shut down")
	}

	instance, err := a.registry.Resolve(a.Config, capability, name)
	if err != nil {
		return nil, err
	}

	var result *SwapResult
	switch capability {
	case provider.CapEmbedder:
		decorated := a.decorateEmbedder(instance.(embed.Embedder))
		oldName := a.embedder.Name()
		old, oldGen, newGen := a.embedder.Swap(name, decorated)
		deferClose(old.Close)
		result = &SwapResult{OldName: oldName, OldGeneration: oldGen, NewGeneration: newGen}
	case provider.CapVectorStore:
		oldName := a.vectors.Name()
		old, oldGen, newGen := a.vectors.Swap(name, instance.(store.VectorStore))
		deferClose(old.Close)
		result = &SwapResult{OldName: oldName, OldGeneration: oldGen, NewGeneration: newGen}
	case provider.CapCache:
		oldName := a.caches.Name()
		old, oldGen, newGen := a.caches.Swap(name, instance.(cache.Cache))
		deferClose(old.Close)
		result = &SwapResult{OldName: oldName, OldGeneration: oldGen, NewGeneration: newGen}
	case provider.CapEventBus:
		oldName := a.events.Name()
		old, oldGen, newGen := a.events.Swap(name, instance.(bus.EventBus))
		deferClose(old.Close)
		result = &SwapResult{OldName: oldName, OldGeneration: oldGen, NewGeneration: newGen}
	case provider.CapMetrics:
		// Metrics providers hold no resources; nothing to drain or close.
		oldName := a.metrics.Name()
		_, oldGen, newGen := a.metrics.Swap(name, instance.(metrics.Provider))
		result = &SwapResult{OldName: oldName, OldGeneration: oldGen, NewGeneration: newGen}
	default:
		return nil, cerr.Newf(cerr.KindInvalidInput, "capability %s does not support swapping", capability)
	}

	result.Capability = string(capability)
	result.NewName = name

	if err := a.events.Current().Publish(ctx, bus.Event{
		Type:       bus.EventProviderSwapped,
		Capability: result.Capability,
		OldName:    result.OldName,
		NewName:    result.NewName,
		Generation: result.NewGeneration,
	}); err != nil {
		slog.Warn("provider_swap_event_failed", slog.String("error", err.Error()))
	}

	slog.Info("provider_swapped",
		slog.String("capability", result.Capability),
		slog.String("old", result.OldName),
		slog.String("new", result.NewName),
		slog.Uint64("generation", result.NewGeneration))
	return result, nil
}

// deferClose closes a replaced instance after the drain grace period.
func deferClose(close func() error) {
	go func() {
		time.Sleep(swapDrainGrace)
		if err := close(); err != nil {
			slog.Warn("provider_close_failed", slog.String("error", err.Error()))
		}
	}()
}

// Teardown drains jobs cooperatively, flushes the event bus, and closes
// every store. Safe to call once; later calls no-op.
func (a *App) Teardown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	defer initialized.Store(false)

	a.Index.CancelAll()
	a.writers.Close()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(a.keyword.Close())
	record(a.sidecar.Close())
	record(a.vectors.Current().Close())
	record(a.embedder.Current().Close())
	record(a.events.Current().Close())
	record(a.caches.Current().Close())
	return firstErr
}

// busProxy and cacheProxy route service calls through the handles so a
// runtime swap is observed by every subsequent call.
type busProxy struct {
	h *provider.Handle[bus.EventBus]
}

func (p busProxy) Publish(ctx context.Context, e bus.Event) error { return p.h.Current().Publish(ctx, e) }
func (p busProxy) Subscribe(ctx context.Context, f bus.Filter) (<-chan bus.Event, func(), error) {
	return p.h.Current().Subscribe(ctx, f)
}
func (p busProxy) Close() error { return nil } // owned by the composition root

type metricsProxy struct {
	h *provider.Handle[metrics.Provider]
}

func (p metricsProxy) Increment(name string, labels map[string]string) {
	p.h.Current().Increment(name, labels)
}
func (p metricsProxy) Gauge(name string, labels map[string]string, value float64) {
	p.h.Current().Gauge(name, labels, value)
}
func (p metricsProxy) Observe(name string, labels map[string]string, value float64) {
	p.h.Current().Observe(name, labels, value)
}

type cacheProxy struct {
	h *provider.Handle[cache.Cache]
}

func (p cacheProxy) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	return p.h.Current().Get(ctx, ns, key)
}
func (p cacheProxy) Set(ctx context.Context, ns, key string, value []byte, ttl time.Duration) error {
	return p.h.Current().Set(ctx, ns, key, value, ttl)
}
func (p cacheProxy) Invalidate(ctx context.Context, ns, key string) error {
	return p.h.Current().Invalidate(ctx, ns, key)
}
func (p cacheProxy) Clear(ctx context.Context, ns string) error {
	return p.h.Current().Clear(ctx, ns)
}
func (p cacheProxy) Close() error { return nil } // owned by the composition root
