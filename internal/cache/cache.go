// Package cache provides namespaced TTL caches for embeddings, search
// results, and metadata, with in-memory and Redis backends.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Namespaces. Keys within a namespace must embed the active embedder's
// model id and handle generation wherever the cached value depends on the
// provider, so a provider swap can never serve stale entries.
const (
	NamespaceEmbeddings        = "embeddings"
	NamespaceSearchResults     = "search_results"
	NamespaceMetadata          = "metadata"
	NamespaceProviderResponses = "provider_responses"
)

// Namespaces lists every defined namespace.
var Namespaces = []string{
	NamespaceEmbeddings,
	NamespaceSearchResults,
	NamespaceMetadata,
	NamespaceProviderResponses,
}

// Cache is the capability contract for TTL-scoped caches.
type Cache interface {
	// Get returns the value for (namespace, key), with a hit flag.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Invalidate removes one entry.
	Invalidate(ctx context.Context, namespace, key string) error

	// Clear removes every entry in a namespace.
	Clear(ctx context.Context, namespace string) error

	// Close releases backend resources.
	Close() error
}

// Key builds a cache key by hashing its parts, so arbitrary inputs
// (queries, globs) produce fixed-size store-safe keys.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
