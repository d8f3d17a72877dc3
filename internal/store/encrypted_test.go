package store

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() string {
	return hex.EncodeToString(make([]byte, 32)) // all-zero test key
}

func newEncryptedFixture(t *testing.T) (*EncryptedStore, *HNSWStore) {
	t.Helper()
	inner, err := NewHNSWStore("")
	require.NoError(t, err)

	enc, err := NewEncryptedStore(inner, testMasterKey(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })
	return enc, inner
}

func TestEncryptedStoreRejectsBadKey(t *testing.T) {
	inner, err := NewHNSWStore("")
	require.NoError(t, err)
	defer inner.Close()

	_, err = NewEncryptedStore(inner, "not-hex", t.TempDir())
	assert.Error(t, err)

	_, err = NewEncryptedStore(inner, "abcd", t.TempDir())
	assert.Error(t, err, "short key rejected")
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	enc, inner := newEncryptedFixture(t)
	ctx := context.Background()

	require.NoError(t, enc.EnsureCollection(ctx, testDescriptor("demo", 4)))

	c := testChunk("aaaa", "a.go", "func Secret() string { return \"hunter2\" }")
	c.SymbolName = "Secret"
	require.NoError(t, enc.Upsert(ctx, "demo", []ChunkEmbedding{{Chunk: c, Vector: unitVector(4, 0)}}))

	// Reads through the wrapper yield plaintext.
	results, err := enc.Search(ctx, "demo", unitVector(4, 0), 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, c.Content, results[0].Chunk.Content)
	assert.Equal(t, "Secret", results[0].Chunk.SymbolName)

	// The inner store holds ciphertext only.
	raw, err := inner.GetChunks(ctx, "demo", []string{"aaaa"})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.NotEqual(t, c.Content, raw[0].Content)
	assert.NotContains(t, raw[0].Content, "hunter2")
	assert.NotEqual(t, "Secret", raw[0].SymbolName)
}

func TestEncryptedStoreGetChunksDecrypts(t *testing.T) {
	enc, _ := newEncryptedFixture(t)
	ctx := context.Background()

	require.NoError(t, enc.EnsureCollection(ctx, testDescriptor("demo", 4)))
	c := testChunk("bbbb", "b.go", "plain body")
	require.NoError(t, enc.Upsert(ctx, "demo", []ChunkEmbedding{{Chunk: c, Vector: unitVector(4, 1)}}))

	chunks, err := enc.GetChunks(ctx, "demo", []string{"bbbb"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "plain body", chunks[0].Content)
}

func TestEncryptedStoreDataKeyStable(t *testing.T) {
	keyDir := t.TempDir()
	ctx := context.Background()

	inner, err := NewHNSWStore("")
	require.NoError(t, err)
	enc, err := NewEncryptedStore(inner, testMasterKey(), keyDir)
	require.NoError(t, err)

	require.NoError(t, enc.EnsureCollection(ctx, testDescriptor("demo", 4)))
	c := testChunk("cccc", "c.go", "body to survive reopen")
	require.NoError(t, enc.Upsert(ctx, "demo", []ChunkEmbedding{{Chunk: c, Vector: unitVector(4, 0)}}))

	// A second wrapper over the same key dir unwraps the same data key and
	// can decrypt payloads written by the first.
	enc2, err := NewEncryptedStore(inner, testMasterKey(), keyDir)
	require.NoError(t, err)

	chunks, err := enc2.GetChunks(ctx, "demo", []string{"cccc"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "body to survive reopen", chunks[0].Content)
}

func TestEncryptStringEmpty(t *testing.T) {
	enc, _ := newEncryptedFixture(t)

	out, err := enc.encryptString("")
	require.NoError(t, err)
	assert.Empty(t, out)

	plain, err := enc.decryptString("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}
