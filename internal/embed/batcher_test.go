package embed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/codescope/codescope/internal/errors"
)

// recordingEmbedder captures batch sizes handed to the inner embedder.
type recordingEmbedder struct {
	*StaticEmbedder
	hint    int
	mu      sync.Mutex
	batches []int
	fail    error
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, len(texts))
	fail := r.fail
	r.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return r.StaticEmbedder.Embed(ctx, texts)
}

func (r *recordingEmbedder) BatchHint() int { return r.hint }

func TestBatcherMergesConcurrentRequests(t *testing.T) {
	inner := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(), hint: 8}
	b := NewBatcher(inner, 20*time.Millisecond)
	defer b.Close()

	var wg sync.WaitGroup
	results := make([][][]float32, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Embed(context.Background(), []string{"text"})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	total := 0
	for _, size := range inner.batches {
		assert.LessOrEqual(t, size, 8, "batches never exceed the hint")
		total += size
	}
	assert.Equal(t, 16, total)
	assert.Less(t, len(inner.batches), 16, "requests were merged, not sent one by one")

	// All callers got the same vector for the same text.
	for _, v := range results {
		require.Len(t, v, 1)
		assert.Equal(t, results[0][0], v[0])
	}
}

func TestBatcherPreservesOrderWithinCall(t *testing.T) {
	inner := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(), hint: 4}
	b := NewBatcher(inner, 5*time.Millisecond)
	defer b.Close()

	direct := NewStaticEmbedder()
	want, err := direct.Embed(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)

	got, err := b.Embed(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBatcherPropagatesErrors(t *testing.T) {
	inner := &recordingEmbedder{
		StaticEmbedder: NewStaticEmbedder(),
		hint:           4,
		fail:           cerr.New(cerr.KindProviderTransient, "backend down"),
	}
	b := NewBatcher(inner, 5*time.Millisecond)
	defer b.Close()

	_, err := b.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderTransient, cerr.KindOf(err))
}

func TestBatcherCancelledWhileAwaiting(t *testing.T) {
	inner := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(), hint: 4}
	b := NewBatcher(inner, time.Hour) // never flush on its own before hint
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Embed(ctx, []string{"lonely"})
	// Either the flush raced the deadline (fine) or we got Cancelled.
	if err != nil {
		assert.Equal(t, cerr.KindCancelled, cerr.KindOf(err))
	}
}

func TestBatcherCloseRejectsNewWork(t *testing.T) {
	inner := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(), hint: 4}
	b := NewBatcher(inner, 5*time.Millisecond)
	require.NoError(t, b.Close())

	_, err := b.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestBatcherEmptyInput(t *testing.T) {
	inner := &recordingEmbedder{StaticEmbedder: NewStaticEmbedder(), hint: 4}
	b := NewBatcher(inner, 5*time.Millisecond)
	defer b.Close()

	vectors, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
