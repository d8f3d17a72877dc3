package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

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

// vectorSearchTimeout bounds the vector retrieval leg.
const vectorSearchTimeout = 5 * time.Second

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// WarningSemanticUnavailable is attached when hybrid search degrades to
// keyword-only because the embedder is unavailable.
const WarningSemanticUnavailable = "semantic_unavailable"

// Query is a search request.
type Query struct {
	Query      string
	Collection string
	K          int
	Filters    *store.SearchFilter
	Mode       Mode
}

// Result is a single hydrated search result.
type Result struct {
	Chunk        *chunk.CodeChunk `json:"chunk"`
	Score        float64          `json:"score"`
	SemanticRank int              `json:"semantic_rank,omitempty"`
	KeywordRank  int              `json:"keyword_rank,omitempty"`
	Snippet      string           `json:"snippet"`
}

// Response is a search result set with any degradation warnings.
type Response struct {
	Results  []*Result `json:"results"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Deps wires the engine to its providers.
type Deps struct {
	Config   *config.Config
	Embedder *provider.Handle[embed.Embedder]
	Vectors  *provider.Handle[store.VectorStore]
	Keyword  store.KeywordIndex
	Cache    cache.Cache
	Mapper   *collection.Mapper
	Metrics  metrics.Provider
}

// Engine is the hybrid search core.
type Engine struct {
	deps Deps
}

// NewEngine creates the search engine.
func NewEngine(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// Search runs the query: cache lookup, query embedding, parallel vector and
// keyword retrieval, RRF fusion, hydration, and snippet assembly.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	if q.Query == "" {
		return nil, cerr.New(cerr.KindInvalidInput, "query must not be empty")
	}
	if q.K < 0 {
		return nil, cerr.New(cerr.KindInvalidInput, "k must not be negative")
	}
	if q.K == 0 {
		return &Response{Results: []*Result{}}, nil
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}

	canonical, err := e.deps.Mapper.Lookup(q.Collection)
	if err != nil {
		return nil, err
	}

	vectors, _ := e.deps.Vectors.Get()
	if _, err := vectors.GetCollection(ctx, canonical); err != nil {
		return nil, err
	}

	embedder, generation := e.deps.Embedder.Get()
	key := e.cacheKey(canonical, q, embedder.ModelID(), generation)

	if data, hit, cErr := e.deps.Cache.Get(ctx, cache.NamespaceSearchResults, key); cErr == nil && hit {
		var cached Response
		if json.Unmarshal(data, &cached) == nil {
			e.deps.Metrics.Increment("search_cache_hits", map[string]string{"collection": canonical})
			return &cached, nil
		}
	}

	response, err := e.retrieve(ctx, q, canonical, vectors, embedder)
	if err != nil {
		return nil, err
	}

	if data, mErr := json.Marshal(response); mErr == nil {
		_ = e.deps.Cache.Set(ctx, cache.NamespaceSearchResults, key, data, e.deps.Config.Search.CacheTTL)
	}
	return response, nil
}

// retrieve runs the uncached retrieval path.
func (e *Engine) retrieve(ctx context.Context, q Query, canonical string, vectors store.VectorStore, embedder embed.Embedder) (*Response, error) {
	var warnings []string

	mode := q.Mode
	var queryVector []float32
	if mode != ModeKeyword {
		vec, err := e.embedQuery(ctx, embedder, q.Query)
		switch {
		case err == nil:
			queryVector = vec
		case mode == ModeSemantic:
			return nil, err
		default:
			// Hybrid degrades to keyword-only.
			mode = ModeKeyword
			warnings = append(warnings, WarningSemanticUnavailable)
			slog.Warn("semantic_degraded",
				slog.String("collection", canonical),
				slog.String("error", err.Error()))
		}
	}

	fetch := q.K * 2

	var vecResults []*store.VectorResult
	var kwResults []*store.KeywordResult

	g, gctx := errgroup.WithContext(ctx)
	if mode != ModeKeyword {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, vectorSearchTimeout)
			defer cancel()
			var err error
			vecResults, err = vectors.Search(sctx, canonical, queryVector, fetch, q.Filters)
			return err
		})
	}
	if mode != ModeSemantic {
		g.Go(func() error {
			var err error
			kwResults, err = e.deps.Keyword.Search(gctx, canonical, q.Query, fetch, q.Filters)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := FuseRRF(e.deps.Config.Search.RRFC, vecResults, kwResults)
	if len(fused) > q.K {
		fused = fused[:q.K]
	}

	if err := e.hydrate(ctx, vectors, canonical, fused); err != nil {
		return nil, err
	}

	tokens := queryTokens(q.Query)
	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		if f.Chunk == nil {
			continue
		}
		results = append(results, &Result{
			Chunk:        f.Chunk,
			Score:        f.Score,
			SemanticRank: f.SemanticRank,
			KeywordRank:  f.KeywordRank,
			Snippet:      buildSnippet(f.Chunk.Content, tokens),
		})
	}

	e.deps.Metrics.Increment("search_requests", map[string]string{
		"collection": canonical,
		"mode":       string(mode),
	})
	return &Response{Results: results, Warnings: warnings}, nil
}

// embedQuery embeds the query string; the embedder stack's caching
// decorator serves repeats from the embeddings namespace.
func (e *Engine) embedQuery(ctx context.Context, embedder embed.Embedder, query string) ([]float32, error) {
	var vectors [][]float32
	err := cerr.Retry(ctx, cerr.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		Factor:      2,
		MaxDelay:    time.Second,
	}, func() error {
		var embErr error
		vectors, embErr = embedder.Embed(ctx, []string{query})
		return embErr
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, cerr.New(cerr.KindProviderPermanent, "embedder returned no vector for query")
	}
	return vectors[0], nil
}

// hydrate fills chunks for results that came from the keyword list only,
// with one batch fetch from the vector store's payload — no per-result
// round trips.
func (e *Engine) hydrate(ctx context.Context, vectors store.VectorStore, canonical string, fused []*FusedResult) error {
	var missing []string
	for _, f := range fused {
		if f.Chunk == nil {
			missing = append(missing, f.ChunkID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	chunks, err := vectors.GetChunks(ctx, canonical, missing)
	if err != nil {
		return err
	}
	byID := make(map[string]*chunk.CodeChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, f := range fused {
		if f.Chunk == nil {
			f.Chunk = byID[f.ChunkID]
		}
	}
	return nil
}

// cacheKey builds the search-results cache key. It embeds the embedder
// model and handle generation, so a provider swap can never serve results
// cached under the previous provider.
func (e *Engine) cacheKey(canonical string, q Query, modelID string, generation uint64) string {
	filters := ""
	if q.Filters != nil {
		filters = fmt.Sprintf("%s|%s|%s", q.Filters.Language, q.Filters.PathGlob, q.Filters.SymbolKind)
	}
	return cache.Key(
		canonical,
		q.Query,
		strconv.Itoa(q.K),
		filters,
		string(q.Mode),
		modelID,
		strconv.FormatUint(generation, 10),
	)
}
