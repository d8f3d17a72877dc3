// Package store provides the durable index layer: vector stores (local
// HNSW, remote Qdrant, encrypting wrapper), the BM25 keyword sidecar, the
// per-collection metadata sidecar, and the serial writer that orders all
// mutations for a collection.
package store

import (
	"context"
	"time"

	"github.com/codescope/codescope/internal/chunk"
)

// Distance metrics.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
	MetricDot    = "dot"
)

// CollectionDescriptor binds a collection to its embedding space.
// Dimension and metric are immutable once the collection exists; changing
// them requires a new collection.
type CollectionDescriptor struct {
	Name           string    `json:"name"`         // canonical id
	UserName       string    `json:"user_name"`    // as supplied by the caller
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	DistanceMetric string    `json:"distance_metric"` // cosine, l2, dot
	CreatedAt      time.Time `json:"created_at"`
}

// ChunkEmbedding pairs a chunk with its vector for upsert.
type ChunkEmbedding struct {
	Chunk  *chunk.CodeChunk
	Vector []float32
}

// VectorResult is a single vector search hit. Chunk carries the full
// payload persisted alongside the vector, so results are assembled without
// a secondary fetch.
type VectorResult struct {
	ID    string
	Score float32
	Chunk *chunk.CodeChunk
}

// SearchFilter restricts search results.
type SearchFilter struct {
	Language   string
	PathGlob   string
	SymbolKind string
}

// Matches reports whether a chunk passes the filter.
func (f *SearchFilter) Matches(c *chunk.CodeChunk) bool {
	if f == nil || c == nil {
		return c != nil
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.SymbolKind != "" && string(c.SymbolKind) != f.SymbolKind {
		return false
	}
	if f.PathGlob != "" && !globMatch(f.PathGlob, c.FilePath) {
		return false
	}
	return true
}

// CollectionStats summarises a collection.
type CollectionStats struct {
	ChunkCount    int       `json:"chunk_count"`
	Bytes         int64     `json:"bytes"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// VectorStore is the capability contract for vector index backends.
// Upsert is idempotent on chunk id. Search returns at most k results
// ordered by score descending, ties broken by id ascending.
type VectorStore interface {
	EnsureCollection(ctx context.Context, desc *CollectionDescriptor) error
	GetCollection(ctx context.Context, name string) (*CollectionDescriptor, error)
	ListCollections(ctx context.Context) ([]*CollectionDescriptor, error)

	Upsert(ctx context.Context, collection string, items []ChunkEmbedding) error
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter *SearchFilter) ([]*VectorResult, error)
	GetChunks(ctx context.Context, collection string, ids []string) ([]*chunk.CodeChunk, error)

	Clear(ctx context.Context, collection string) error
	Stats(ctx context.Context, collection string) (*CollectionStats, error)
	Health(ctx context.Context) error
	Close() error
}

// KeywordDocument is a document to index for keyword search.
type KeywordDocument struct {
	ID       string
	Content  string
	Language string
	FilePath string
	Symbol   string
}

// KeywordResult is a single BM25 hit.
type KeywordResult struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// KeywordIndex is the BM25 sidecar contract. Mutations for a collection
// are serialised by the collection writer.
type KeywordIndex interface {
	Index(ctx context.Context, collection string, docs []*KeywordDocument) error
	Delete(ctx context.Context, collection string, ids []string) error
	Search(ctx context.Context, collection, query string, limit int, filter *SearchFilter) ([]*KeywordResult, error)
	Clear(ctx context.Context, collection string) error
	Close() error
}

// GlobMatch implements glob matching with ** support for slash-separated
// paths. Shared by search filters and the walk ignore list.
func GlobMatch(pattern, path string) bool {
	return matchSegments(pattern, path)
}

func globMatch(pattern, path string) bool {
	return matchSegments(pattern, path)
}

func matchSegments(pattern, s string) bool {
	// Recursive backtracking matcher supporting '*' (within segment),
	// '**' (across segments), and '?'.
	var match func(p, str string) bool
	match = func(p, str string) bool {
		for len(p) > 0 {
			switch {
			case len(p) >= 2 && p[0] == '*' && p[1] == '*':
				rest := p[2:]
				for len(rest) > 0 && (rest[0] == '/' || rest[0] == '*') {
					rest = rest[1:]
				}
				if rest == "" {
					return true
				}
				for i := 0; i <= len(str); i++ {
					if match(rest, str[i:]) {
						return true
					}
				}
				return false
			case p[0] == '*':
				rest := p[1:]
				for i := 0; i <= len(str); i++ {
					if i > 0 && str[i-1] == '/' {
						break
					}
					if match(rest, str[i:]) {
						return true
					}
				}
				return false
			case p[0] == '?':
				if str == "" || str[0] == '/' {
					return false
				}
				p, str = p[1:], str[1:]
			default:
				if str == "" || str[0] != p[0] {
					return false
				}
				p, str = p[1:], str[1:]
			}
		}
		return str == ""
	}
	return match(pattern, s)
}
