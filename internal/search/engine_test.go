package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/cache"
	"github.com/codescope/codescope/internal/chunk"
	"github.com/codescope/codescope/internal/collection"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/embed"
	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/metrics"
	"github.com/codescope/codescope/internal/provider"
	"github.com/codescope/codescope/internal/store"
)

// failingEmbedder always reports a transient failure.
type failingEmbedder struct{ embed.Embedder }

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, cerr.New(cerr.KindProviderTransient, "embedder down")
}

type engineFixture struct {
	engine    *Engine
	embedder  *provider.Handle[embed.Embedder]
	vectors   *store.HNSWStore
	keyword   *store.BleveIndex
	cache     cache.Cache
	canonical string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	static := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore("")
	require.NoError(t, err)
	keyword := store.NewBleveIndex("")

	mem, err := cache.NewMemory(256)
	require.NoError(t, err)

	mapper, err := collection.NewMapper(filepath.Join(t.TempDir(), "collections"))
	require.NoError(t, err)
	canonical, err := mapper.Resolve("demo")
	require.NoError(t, err)

	require.NoError(t, vectors.EnsureCollection(ctx, &store.CollectionDescriptor{
		Name:           canonical,
		UserName:       "demo",
		EmbeddingModel: static.ModelID(),
		Dimension:      static.Dimensions(),
		DistanceMetric: store.MetricCosine,
	}))

	// Seed two source chunks through both indexes.
	seed := []struct {
		path, content string
		symbol        string
	}{
		{"a.py", "def add(x, y):\n    return x + y\n", "add"},
		{"b.py", "def mul(x, y):\n    return x * y\n", "mul"},
	}
	for _, sd := range seed {
		c := &chunk.CodeChunk{
			Collection:  canonical,
			FilePath:    sd.path,
			Language:    "python",
			Content:     sd.content,
			StartLine:   1,
			EndLine:     2,
			SymbolKind:  chunk.SymbolFunction,
			SymbolName:  sd.symbol,
			ContentHash: chunk.HashBytes([]byte(sd.content)),
		}
		c.ID = chunk.ID(canonical, sd.path, c.ContentHash, 0)

		vecs, err := static.Embed(ctx, []string{sd.content})
		require.NoError(t, err)
		require.NoError(t, vectors.Upsert(ctx, canonical, []store.ChunkEmbedding{{Chunk: c, Vector: vecs[0]}}))
		require.NoError(t, keyword.Index(ctx, canonical, []*store.KeywordDocument{{
			ID: c.ID, Content: c.Content, Language: c.Language, FilePath: c.FilePath, Symbol: c.SymbolName,
		}}))
	}

	cfg := config.Default()
	cfg.Search.RRFC = 60
	cfg.Search.CacheTTL = time.Minute

	embedHandle := provider.NewHandle[embed.Embedder]("static", embed.Embedder(static))
	engine := NewEngine(Deps{
		Config:   cfg,
		Embedder: embedHandle,
		Vectors:  provider.NewHandle[store.VectorStore]("hnsw", store.VectorStore(vectors)),
		Keyword:  keyword,
		Cache:    mem,
		Mapper:   mapper,
		Metrics:  metrics.NewInMemory(),
	})

	t.Cleanup(func() {
		_ = vectors.Close()
		_ = keyword.Close()
	})
	return &engineFixture{
		engine:    engine,
		embedder:  embedHandle,
		vectors:   vectors,
		keyword:   keyword,
		cache:     mem,
		canonical: canonical,
	}
}

func TestHybridSearchFindsFunction(t *testing.T) {
	fx := newEngineFixture(t)

	resp, err := fx.engine.Search(context.Background(), Query{
		Query: "add two numbers", Collection: "demo", K: 1, Mode: ModeHybrid,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	top := resp.Results[0]
	assert.True(t, strings.HasSuffix(top.Chunk.FilePath, "a.py"))
	assert.Contains(t, top.Chunk.Content, "def add")
	assert.NotEmpty(t, top.Snippet)
	assert.Positive(t, top.Score)
	assert.Empty(t, resp.Warnings)
}

func TestKeywordMode(t *testing.T) {
	fx := newEngineFixture(t)

	resp, err := fx.engine.Search(context.Background(), Query{
		Query: "mul", Collection: "demo", K: 5, Mode: ModeKeyword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Chunk.Content, "def mul")
	assert.Zero(t, resp.Results[0].SemanticRank)
}

func TestSemanticMode(t *testing.T) {
	fx := newEngineFixture(t)

	resp, err := fx.engine.Search(context.Background(), Query{
		Query: "def add(x, y)", Collection: "demo", K: 2, Mode: ModeSemantic,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Zero(t, resp.Results[0].KeywordRank)
}

func TestSearchEdgeCases(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Search(ctx, Query{Query: "", Collection: "demo", K: 1})
	assert.Equal(t, cerr.KindInvalidInput, cerr.KindOf(err))

	resp, err := fx.engine.Search(ctx, Query{Query: "x", Collection: "demo", K: 0})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = fx.engine.Search(ctx, Query{Query: "x", Collection: "ghost", K: 1})
	assert.Equal(t, cerr.KindNotFound, cerr.KindOf(err))
}

func TestSearchFilters(t *testing.T) {
	fx := newEngineFixture(t)

	resp, err := fx.engine.Search(context.Background(), Query{
		Query: "def", Collection: "demo", K: 10, Mode: ModeKeyword,
		Filters: &store.SearchFilter{PathGlob: "a.py"},
	})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "a.py", r.Chunk.FilePath)
	}
}

func TestSearchResultsCached(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	q := Query{Query: "add two numbers", Collection: "demo", K: 1, Mode: ModeHybrid}

	first, err := fx.engine.Search(ctx, q)
	require.NoError(t, err)

	// Remove the underlying data; the cached response still serves.
	require.NoError(t, fx.vectors.DeleteByIDs(ctx, fx.canonical, []string{first.Results[0].Chunk.ID}))

	second, err := fx.engine.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, first.Results[0].Chunk.ID, second.Results[0].Chunk.ID)
}

func TestProviderSwapInvalidatesCache(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	q := Query{Query: "add two numbers", Collection: "demo", K: 1, Mode: ModeKeyword}

	first, err := fx.engine.Search(ctx, q)
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)

	// Swap the embedder: same model type, new generation. The cache key
	// embeds the generation, so the old entry cannot be served.
	fx.embedder.Swap("static", embed.NewStaticEmbedder())

	require.NoError(t, fx.vectors.DeleteByIDs(ctx, fx.canonical, []string{first.Results[0].Chunk.ID}))
	require.NoError(t, fx.keyword.Delete(ctx, fx.canonical, []string{first.Results[0].Chunk.ID}))

	second, err := fx.engine.Search(ctx, q)
	require.NoError(t, err)
	for _, r := range second.Results {
		assert.NotEqual(t, first.Results[0].Chunk.ID, r.Chunk.ID,
			"post-swap search must not serve results cached under the previous generation")
	}
}

func TestHybridDegradesToKeyword(t *testing.T) {
	fx := newEngineFixture(t)
	fx.embedder.Swap("failing", &failingEmbedder{Embedder: embed.NewStaticEmbedder()})

	resp, err := fx.engine.Search(context.Background(), Query{
		Query: "mul", Collection: "demo", K: 5, Mode: ModeHybrid,
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Warnings, WarningSemanticUnavailable)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Zero(t, r.SemanticRank, "keyword-only results after degradation")
	}
}

func TestSemanticModeFailsWhenEmbedderDown(t *testing.T) {
	fx := newEngineFixture(t)
	fx.embedder.Swap("failing", &failingEmbedder{Embedder: embed.NewStaticEmbedder()})

	_, err := fx.engine.Search(context.Background(), Query{
		Query: "mul", Collection: "demo", K: 5, Mode: ModeSemantic,
	})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderTransient, cerr.KindOf(err))
}
