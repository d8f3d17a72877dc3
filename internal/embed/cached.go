package embed

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/codescope/codescope/internal/cache"
	cerr "github.com/codescope/codescope/internal/errors"
)

// CachedEmbedder decorates an Embedder with a TTL cache in the embeddings
// namespace. Keys embed the model id, so swapping models never serves a
// stale vector.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with the given cache and TTL.
func NewCachedEmbedder(inner Embedder, c cache.Cache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl}
}

// Embed serves cache hits and embeds only the misses, preserving input
// order in the returned slice.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := cache.Key(e.inner.ModelID(), text)
		if data, hit, err := e.cache.Get(ctx, cache.NamespaceEmbeddings, key); err == nil && hit {
			if v, derr := decodeVector(data); derr == nil && len(v) == e.inner.Dimensions() {
				vectors[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	embedded, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, cerr.Newf(cerr.KindProviderPermanent,
			"embedder returned %d vectors for %d texts", len(embedded), len(missTexts))
	}

	for j, i := range missIdx {
		vectors[i] = embedded[j]
		key := cache.Key(e.inner.ModelID(), texts[i])
		// Cache failures degrade to uncached operation.
		_ = e.cache.Set(ctx, cache.NamespaceEmbeddings, key, encodeVector(embedded[j]), e.ttl)
	}

	return vectors, nil
}

func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }
func (e *CachedEmbedder) ModelID() string { return e.inner.ModelID() }
func (e *CachedEmbedder) BatchHint() int  { return e.inner.BatchHint() }

func (e *CachedEmbedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }
func (e *CachedEmbedder) Close() error                       { return e.inner.Close() }

// encodeVector packs a vector as little-endian float32 bits.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector unpacks a vector encoded by encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, cerr.New(cerr.KindCorruption, "cached vector has invalid length")
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}
