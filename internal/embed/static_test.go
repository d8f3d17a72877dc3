package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	a, err := e.Embed(context.Background(), []string{"func Add(x, y int) int"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"func Add(x, y int) int"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedShape(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	vectors, err := e.Embed(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, StaticDimensions)
	}
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestStaticEmbedNormalized(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	vectors, err := e.Embed(context.Background(), []string{"binary heap implementation"})
	require.NoError(t, err)

	var sum float64
	for _, f := range vectors[0] {
		sum += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestStaticEmbedDistinguishesTexts(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	vectors, err := e.Embed(context.Background(), []string{"quick sort", "http server"})
	require.NoError(t, err)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestStaticEmbedEmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	defer e.Close()

	vectors, err := e.Embed(context.Background(), []string{"   "})
	require.NoError(t, err)
	for _, f := range vectors[0] {
		assert.Zero(t, f)
	}
}

func TestStaticEmbedClosed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
