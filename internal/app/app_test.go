package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/bus"
	"github.com/codescope/codescope/internal/config"
	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/provider"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.VectorStore.Path = cfg.DataDir + "/collections"
	cfg.Embedding.Provider = "static"
	cfg.VectorStore.Provider = "hnsw"
	cfg.Cache.Provider = "memory"
	cfg.EventBus.Provider = "memory"
	return cfg
}

func initTestApp(t *testing.T) *App {
	t.Helper()
	a, err := Init(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Teardown(context.Background()) })
	return a
}

func TestInitBuildsServices(t *testing.T) {
	a := initTestApp(t)

	assert.NotNil(t, a.Index)
	assert.NotNil(t, a.Search)
	assert.NotNil(t, a.Validation)
	assert.NotNil(t, a.Events())
}

func TestInitIsNotReentrant(t *testing.T) {
	a := initTestApp(t)

	_, err := Init(testConfig(t))
	require.Error(t, err)
	assert.Equal(t, cerr.KindConflict, cerr.KindOf(err))

	// Teardown releases the guard for the next process-equivalent.
	require.NoError(t, a.Teardown(context.Background()))
	b, err := Init(testConfig(t))
	require.NoError(t, err)
	_ = b.Teardown(context.Background())
}

func TestInitRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Provider = "memcached"

	_, err := Init(cfg)
	require.Error(t, err)
	assert.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

func TestSwapProviderBumpsGenerationAndPublishes(t *testing.T) {
	a := initTestApp(t)
	ctx := context.Background()

	events, cancel, err := a.Events().Subscribe(ctx, bus.Filter{
		Types: []bus.EventType{bus.EventProviderSwapped},
	})
	require.NoError(t, err)
	defer cancel()

	result, err := a.SwapProvider(ctx, provider.CapEmbedder, "static")
	require.NoError(t, err)

	assert.Equal(t, "embedding", result.Capability)
	assert.Equal(t, "static", result.OldName)
	assert.Equal(t, "static", result.NewName)
	assert.Equal(t, result.OldGeneration+1, result.NewGeneration)

	select {
	case e := <-events:
		assert.Equal(t, bus.EventProviderSwapped, e.Type)
		assert.Equal(t, "embedding", e.Capability)
		assert.Equal(t, result.NewGeneration, e.Generation)
	case <-time.After(time.Second):
		t.Fatal("provider_swapped event not published")
	}
}

func TestSwapProviderUnknownName(t *testing.T) {
	a := initTestApp(t)

	_, err := a.SwapProvider(context.Background(), provider.CapEmbedder, "nonexistent")
	require.Error(t, err)
	assert.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

func TestSwapMetricsProvider(t *testing.T) {
	a := initTestApp(t)

	result, err := a.SwapProvider(context.Background(), provider.CapMetrics, "noop")
	require.NoError(t, err)
	assert.Equal(t, "metrics", result.Capability)
	assert.Equal(t, "memory", result.OldName)
	assert.Equal(t, "noop", result.NewName)
	assert.Equal(t, result.OldGeneration+1, result.NewGeneration)
}

func TestSwapProviderUnknownCapability(t *testing.T) {
	a := initTestApp(t)

	_, err := a.SwapProvider(context.Background(), provider.Capability("transport"), "stdio")
	require.Error(t, err)
	assert.Equal(t, cerr.KindNotFound, cerr.KindOf(err), "nothing is registered under an unknown capability")
}

func TestTeardownIdempotent(t *testing.T) {
	a := initTestApp(t)
	require.NoError(t, a.Teardown(context.Background()))
	require.NoError(t, a.Teardown(context.Background()))
}

func TestRegistryHasProductionProviders(t *testing.T) {
	r := NewProviderRegistry()

	assert.Equal(t, []string{"http", "static"}, r.Names(provider.CapEmbedder))
	assert.Equal(t, []string{"hnsw", "qdrant"}, r.Names(provider.CapVectorStore))
	assert.Equal(t, []string{"memory", "redis"}, r.Names(provider.CapCache))
	assert.Equal(t, []string{"memory", "redis"}, r.Names(provider.CapEventBus))
	assert.Equal(t, []string{"memory", "noop"}, r.Names(provider.CapMetrics))
}

func TestSplitEndpoint(t *testing.T) {
	host, port, err := splitEndpoint("qdrant.internal:6334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", host)
	assert.Equal(t, 6334, port)

	host, port, err = splitEndpoint("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)

	_, _, err = splitEndpoint("")
	assert.Error(t, err)
}
