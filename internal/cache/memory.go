package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	cerr "github.com/codescope/codescope/internal/errors"
)

// memoryEntry carries a value and its expiry deadline.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a concurrent in-process cache: one LRU per namespace, each
// capped at maxEntries, with per-entry TTL checked on read.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	namespaces map[string]*lru.Cache[string, memoryEntry]
	now        func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-memory cache. maxEntries caps each namespace.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		return nil, cerr.New(cerr.KindConfig, "cache max_entries must be positive")
	}
	return &Memory{
		maxEntries: maxEntries,
		namespaces: make(map[string]*lru.Cache[string, memoryEntry]),
		now:        time.Now,
	}, nil
}

func (m *Memory) namespace(name string) (*lru.Cache[string, memoryEntry], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.namespaces[name]; ok {
		return c, nil
	}
	c, err := lru.New[string, memoryEntry](m.maxEntries)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "create namespace cache", err)
	}
	m.namespaces[name] = c
	return c, nil
}

// Get returns the value for (namespace, key). Expired entries miss and are
// evicted lazily.
func (m *Memory) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	ns, err := m.namespace(namespace)
	if err != nil {
		return nil, false, err
	}

	entry, ok := ns.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		ns.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with the given TTL. Non-positive TTL entries are
// rejected rather than stored forever.
func (m *Memory) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cerr.New(cerr.KindInvalidInput, "cache ttl must be positive")
	}
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}

	ns.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

// Invalidate removes one entry.
func (m *Memory) Invalidate(ctx context.Context, namespace, key string) error {
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	ns.Remove(key)
	return nil
}

// Clear removes every entry in a namespace.
func (m *Memory) Clear(ctx context.Context, namespace string) error {
	ns, err := m.namespace(namespace)
	if err != nil {
		return err
	}
	ns.Purge()
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }
