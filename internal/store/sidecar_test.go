package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSidecar(t *testing.T) *Sidecar {
	t.Helper()
	s := NewSidecar(t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSidecarGetMissingFile(t *testing.T) {
	s := newTestSidecar(t)

	rec, err := s.GetFile(context.Background(), "demo", "a.go")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSidecarPutGetRoundTrip(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	want := &FileRecord{
		FilePath:    "pkg/a.go",
		ContentHash: "abc123",
		ChunkIDs:    []string{"c1", "c2"},
	}
	require.NoError(t, s.PutFile(ctx, "demo", want))

	got, err := s.GetFile(ctx, "demo", "pkg/a.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, []string{"c1", "c2"}, got.ChunkIDs)
	assert.False(t, got.LastIndexedAt.IsZero())
}

func TestSidecarPutOverwrites(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
		FilePath: "a.go", ContentHash: "h1", ChunkIDs: []string{"c1"},
	}))
	require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
		FilePath: "a.go", ContentHash: "h2", ChunkIDs: []string{"c2", "c3"},
	}))

	got, err := s.GetFile(ctx, "demo", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, []string{"c2", "c3"}, got.ChunkIDs)
}

func TestSidecarDeleteFile(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
		FilePath: "a.go", ContentHash: "h1", ChunkIDs: []string{"c1"},
	}))
	require.NoError(t, s.DeleteFile(ctx, "demo", "a.go"))

	rec, err := s.GetFile(ctx, "demo", "a.go")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSidecarAllFilesOrdered(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	for _, path := range []string{"z.go", "a.go", "m.go"} {
		require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
			FilePath: path, ContentHash: "h", ChunkIDs: []string{},
		}))
	}

	records, err := s.AllFiles(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a.go", records[0].FilePath)
	assert.Equal(t, "m.go", records[1].FilePath)
	assert.Equal(t, "z.go", records[2].FilePath)
}

func TestSidecarCollectionsIsolated(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, "alpha", &FileRecord{
		FilePath: "a.go", ContentHash: "h", ChunkIDs: []string{"c1"},
	}))

	rec, err := s.GetFile(ctx, "beta", "a.go")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSidecarLastIndexedAt(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	empty, err := s.LastIndexedAt(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
		FilePath: "a.go", ContentHash: "h", ChunkIDs: []string{}, LastIndexedAt: now,
	}))

	last, err := s.LastIndexedAt(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestSidecarClearRemovesState(t *testing.T) {
	s := newTestSidecar(t)
	ctx := context.Background()

	require.NoError(t, s.PutFile(ctx, "demo", &FileRecord{
		FilePath: "a.go", ContentHash: "h", ChunkIDs: []string{"c1"},
	}))
	require.NoError(t, s.Clear(ctx, "demo"))

	rec, err := s.GetFile(ctx, "demo", "a.go")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
