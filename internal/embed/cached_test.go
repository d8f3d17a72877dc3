package embed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescope/codescope/internal/cache"
)

// countingEmbedder wraps StaticEmbedder and counts Embed calls and texts.
type countingEmbedder struct {
	*StaticEmbedder
	mu    sync.Mutex
	calls int
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	return c.StaticEmbedder.Embed(ctx, texts)
}

func newCachedFixture(t *testing.T) (*CachedEmbedder, *countingEmbedder) {
	t.Helper()
	mem, err := cache.NewMemory(64)
	require.NoError(t, err)

	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	return NewCachedEmbedder(inner, mem, time.Minute), inner
}

func TestCachedEmbedHitSkipsInner(t *testing.T) {
	e, inner := newCachedFixture(t)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"def add(x, y)"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"def add(x, y)"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second call must be a cache hit")
}

func TestCachedEmbedPartialMiss(t *testing.T) {
	e, inner := newCachedFixture(t)
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)

	vectors, err := e.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	// Only "beta" reached the inner embedder on the second call.
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, inner.texts)
}

func TestCachedEmbedOrderPreserved(t *testing.T) {
	e, _ := newCachedFixture(t)
	ctx := context.Background()

	// Prime the cache out of order.
	_, err := e.Embed(ctx, []string{"charlie"})
	require.NoError(t, err)

	direct := NewStaticEmbedder()
	want, err := direct.Embed(ctx, []string{"alpha", "charlie", "beta"})
	require.NoError(t, err)

	got, err := e.Embed(ctx, []string{"alpha", "charlie", "beta"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}
	decoded, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)
}

func TestDecodeVectorRejectsTruncated(t *testing.T) {
	_, err := decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
