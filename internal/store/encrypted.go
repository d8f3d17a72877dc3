package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/codescope/codescope/internal/chunk"
	cerr "github.com/codescope/codescope/internal/errors"
)

// EncryptedStore wraps any VectorStore, encrypting chunk payload fields
// (content and symbol name) with AES-256-GCM. Vectors are never encrypted:
// the similarity engine needs them in the clear.
//
// The data key is generated once and persisted envelope-encrypted under the
// master key at {root}/payload.key.
type EncryptedStore struct {
	inner   VectorStore
	dataKey []byte
	aead    cipher.AEAD
}

var _ VectorStore = (*EncryptedStore)(nil)

// NewEncryptedStore wraps inner. masterKeyHex is the hex-encoded 256-bit
// key-encrypting key; root is where the wrapped data key is persisted.
func NewEncryptedStore(inner VectorStore, masterKeyHex, root string) (*EncryptedStore, error) {
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(masterKey) != 32 {
		return nil, cerr.New(cerr.KindConfig, "encryption key must be 64 hex characters (256 bits)")
	}

	masterAEAD, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}

	dataKey, err := loadOrCreateDataKey(masterAEAD, filepath.Join(root, "payload.key"))
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(dataKey)
	if err != nil {
		return nil, err
	}

	return &EncryptedStore{inner: inner, dataKey: dataKey, aead: aead}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindConfig, "create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindConfig, "create gcm", err)
	}
	return aead, nil
}

// loadOrCreateDataKey reads the wrapped data key, or generates and wraps a
// fresh one on first use.
func loadOrCreateDataKey(masterAEAD cipher.AEAD, path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		if len(data) < masterAEAD.NonceSize() {
			return nil, cerr.New(cerr.KindCorruption, "wrapped data key too short")
		}
		nonce, sealed := data[:masterAEAD.NonceSize()], data[masterAEAD.NonceSize():]
		key, err := masterAEAD.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, cerr.Wrap(cerr.KindCorruption, "unwrap data key", err)
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "generate data key", err)
	}

	nonce := make([]byte, masterAEAD.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "generate nonce", err)
	}
	sealed := masterAEAD.Seal(nil, nonce, key, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "create key directory", err)
	}
	if err := os.WriteFile(path, append(nonce, sealed...), 0o600); err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "persist wrapped data key", err)
	}
	return key, nil
}

// encryptString seals a string with a random nonce prefix, base64-encoded.
func (e *EncryptedStore) encryptString(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", cerr.Wrap(cerr.KindInternal, "generate nonce", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *EncryptedStore) decryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", cerr.Wrap(cerr.KindCorruption, "decode payload", err)
	}
	if len(data) < e.aead.NonceSize() {
		return "", cerr.New(cerr.KindCorruption, "payload too short")
	}
	nonce, sealed := data[:e.aead.NonceSize()], data[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", cerr.Wrap(cerr.KindCorruption, "decrypt payload", err)
	}
	return string(plain), nil
}

func (e *EncryptedStore) encryptChunk(c *chunk.CodeChunk) (*chunk.CodeChunk, error) {
	content, err := e.encryptString(c.Content)
	if err != nil {
		return nil, err
	}
	symbol, err := e.encryptString(c.SymbolName)
	if err != nil {
		return nil, err
	}
	sealed := *c
	sealed.Content = content
	sealed.SymbolName = symbol
	return &sealed, nil
}

func (e *EncryptedStore) decryptChunk(c *chunk.CodeChunk) (*chunk.CodeChunk, error) {
	if c == nil {
		return nil, nil
	}
	content, err := e.decryptString(c.Content)
	if err != nil {
		return nil, err
	}
	symbol, err := e.decryptString(c.SymbolName)
	if err != nil {
		return nil, err
	}
	open := *c
	open.Content = content
	open.SymbolName = symbol
	return &open, nil
}

func (e *EncryptedStore) EnsureCollection(ctx context.Context, desc *CollectionDescriptor) error {
	return e.inner.EnsureCollection(ctx, desc)
}

func (e *EncryptedStore) GetCollection(ctx context.Context, name string) (*CollectionDescriptor, error) {
	return e.inner.GetCollection(ctx, name)
}

func (e *EncryptedStore) ListCollections(ctx context.Context) ([]*CollectionDescriptor, error) {
	return e.inner.ListCollections(ctx)
}

// Upsert encrypts payload fields before delegating.
func (e *EncryptedStore) Upsert(ctx context.Context, collection string, items []ChunkEmbedding) error {
	sealed := make([]ChunkEmbedding, len(items))
	for i, item := range items {
		c, err := e.encryptChunk(item.Chunk)
		if err != nil {
			return err
		}
		sealed[i] = ChunkEmbedding{Chunk: c, Vector: item.Vector}
	}
	return e.inner.Upsert(ctx, collection, sealed)
}

func (e *EncryptedStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	return e.inner.DeleteByIDs(ctx, collection, ids)
}

// Search decrypts result payloads before returning them.
// Language and path filters still apply: those fields stay in the clear.
func (e *EncryptedStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *SearchFilter) ([]*VectorResult, error) {
	results, err := e.inner.Search(ctx, collection, vector, k, filter)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		c, derr := e.decryptChunk(r.Chunk)
		if derr != nil {
			return nil, derr
		}
		r.Chunk = c
	}
	return results, nil
}

func (e *EncryptedStore) GetChunks(ctx context.Context, collection string, ids []string) ([]*chunk.CodeChunk, error) {
	chunks, err := e.inner.GetChunks(ctx, collection, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*chunk.CodeChunk, len(chunks))
	for i, c := range chunks {
		open, derr := e.decryptChunk(c)
		if derr != nil {
			return nil, derr
		}
		out[i] = open
	}
	return out, nil
}

func (e *EncryptedStore) Clear(ctx context.Context, collection string) error {
	return e.inner.Clear(ctx, collection)
}

func (e *EncryptedStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	return e.inner.Stats(ctx, collection)
}

func (e *EncryptedStore) Health(ctx context.Context) error { return e.inner.Health(ctx) }
func (e *EncryptedStore) Close() error                     { return e.inner.Close() }
