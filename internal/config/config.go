// Package config loads and validates the server configuration.
// Configuration comes from a YAML file with environment variable overrides
// for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Cache       CacheConfig       `yaml:"cache"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Search      SearchConfig      `yaml:"search"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider names a registered embedder implementation ("http", "static").
	Provider string `yaml:"provider"`
	// Model is the embedding model identifier.
	Model string `yaml:"model"`
	// APIKey authenticates against remote providers. Overridable via
	// CODESCOPE_EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL is the endpoint for HTTP providers.
	BaseURL string `yaml:"base_url"`
	// Dimensions is the vector width produced by the model.
	Dimensions int `yaml:"dimensions"`
	// BatchHint is the advisory max batch size for embed requests.
	BatchHint int `yaml:"batch_hint"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider names a registered vector store ("hnsw", "qdrant").
	Provider string `yaml:"provider"`
	// Path is the on-disk location for local stores; relative paths are
	// resolved under DataDir.
	Path string `yaml:"path"`
	// Endpoint is the address of remote stores (host:port for qdrant).
	Endpoint string `yaml:"endpoint"`
	// Metric is the distance metric: cosine, l2, or dot.
	Metric string `yaml:"metric"`
	// EncryptPayloads wraps the store with AES-256-GCM payload encryption.
	EncryptPayloads bool `yaml:"encrypt_payloads"`
	// EncryptionKey is the hex-encoded 256-bit data key. Overridable via
	// CODESCOPE_ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryption_key"`
}

// CacheConfig selects the cache backend and per-namespace TTLs.
type CacheConfig struct {
	// Provider names a registered cache ("memory", "redis").
	Provider string `yaml:"provider"`
	// Addr is the redis address for the distributed backend.
	Addr string `yaml:"addr"`
	// MaxEntries caps each namespace in the memory backend (LRU within cap).
	MaxEntries int `yaml:"max_entries"`
	TTLs       CacheTTLs `yaml:"ttls"`
}

// CacheTTLs holds the per-namespace time-to-live values.
type CacheTTLs struct {
	Embeddings        time.Duration `yaml:"embeddings"`
	SearchResults     time.Duration `yaml:"search_results"`
	Metadata          time.Duration `yaml:"metadata"`
	ProviderResponses time.Duration `yaml:"provider_responses"`
}

// EventBusConfig selects the event bus backend.
type EventBusConfig struct {
	// Provider names a registered bus ("memory", "redis").
	Provider string `yaml:"provider"`
	// Endpoint is the redis address for the distributed backend.
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Provider names a registered metrics provider ("memory", "noop").
	Provider string `yaml:"provider"`
}

// IndexingConfig tunes the indexing pipeline.
type IndexingConfig struct {
	// WorkerCount bounds the file-processing pool. 0 means min(NumCPU, 8).
	WorkerCount int `yaml:"worker_count"`
	// MaxChunkBytes is the upper bound for a single chunk.
	MaxChunkBytes int `yaml:"max_chunk_bytes"`
	// OverlapBytes is the window overlap for the fallback chunker.
	OverlapBytes int `yaml:"overlap_bytes"`
	// MinChunkBytes is the minimum size for nested declarations to become
	// their own chunk.
	MinChunkBytes int `yaml:"min_chunk_bytes"`
	// ProgressInterval is the file count between progress events.
	ProgressInterval int `yaml:"progress_interval"`
	// IgnoreGlobs are user-supplied path globs skipped during the walk.
	IgnoreGlobs []string `yaml:"ignore_globs"`
	// Extensions restricts indexing to these file extensions when non-empty.
	Extensions []string `yaml:"extensions"`
	// MaxFileBytes skips files larger than this during the walk.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	// RRFC is the Reciprocal Rank Fusion smoothing constant.
	RRFC int `yaml:"rrf_c"`
	// CacheTTL bounds how long fused results are served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Embedding: EmbeddingConfig{
			Provider:   "http",
			Model:      "text-embedding-3-small",
			BaseURL:    "https://api.openai.com/v1",
			Dimensions: 1536,
			BatchHint:  64,
		},
		VectorStore: VectorStoreConfig{
			Provider: "hnsw",
			Metric:   "cosine",
		},
		Cache: CacheConfig{
			Provider:   "memory",
			MaxEntries: 4096,
			TTLs: CacheTTLs{
				Embeddings:        24 * time.Hour,
				SearchResults:     5 * time.Minute,
				Metadata:          time.Hour,
				ProviderResponses: time.Minute,
			},
		},
		EventBus: EventBusConfig{
			Provider: "memory",
		},
		Metrics: MetricsConfig{
			Provider: "memory",
		},
		Indexing: IndexingConfig{
			WorkerCount:      0,
			MaxChunkBytes:    8192,
			OverlapBytes:     256,
			MinChunkBytes:    128,
			ProgressInterval: 64,
			MaxFileBytes:     2 * 1024 * 1024,
		},
		Search: SearchConfig{
			RRFC:     60,
			CacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path, applies defaults and env overrides,
// and validates the result. An empty path yields defaults + env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("CODESCOPE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CODESCOPE_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("CODESCOPE_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("CODESCOPE_VECTOR_ENDPOINT"); v != "" {
		c.VectorStore.Endpoint = v
	}
	if v := os.Getenv("CODESCOPE_REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.EventBus.Endpoint = v
	}
	if v := os.Getenv("CODESCOPE_ENCRYPTION_KEY"); v != "" {
		c.VectorStore.EncryptionKey = v
	}
	if v := os.Getenv("CODESCOPE_RRF_C"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFC = n
		}
	}
	if v := os.Getenv("CODESCOPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
	}
	if c.Embedding.BatchHint <= 0 {
		c.Embedding.BatchHint = def.Embedding.BatchHint
	}
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = def.VectorStore.Provider
	}
	if c.VectorStore.Metric == "" {
		c.VectorStore.Metric = def.VectorStore.Metric
	}
	if c.VectorStore.Path == "" {
		c.VectorStore.Path = filepath.Join(c.DataDir, "collections")
	} else if !filepath.IsAbs(c.VectorStore.Path) {
		c.VectorStore.Path = filepath.Join(c.DataDir, c.VectorStore.Path)
	}
	if c.Cache.Provider == "" {
		c.Cache.Provider = def.Cache.Provider
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Cache.TTLs.Embeddings <= 0 {
		c.Cache.TTLs.Embeddings = def.Cache.TTLs.Embeddings
	}
	if c.Cache.TTLs.SearchResults <= 0 {
		c.Cache.TTLs.SearchResults = def.Cache.TTLs.SearchResults
	}
	if c.Cache.TTLs.Metadata <= 0 {
		c.Cache.TTLs.Metadata = def.Cache.TTLs.Metadata
	}
	if c.Cache.TTLs.ProviderResponses <= 0 {
		c.Cache.TTLs.ProviderResponses = def.Cache.TTLs.ProviderResponses
	}
	if c.EventBus.Provider == "" {
		c.EventBus.Provider = def.EventBus.Provider
	}
	if c.Metrics.Provider == "" {
		c.Metrics.Provider = def.Metrics.Provider
	}
	if c.Indexing.WorkerCount <= 0 {
		c.Indexing.WorkerCount = DefaultWorkerCount()
	}
	if c.Indexing.MaxChunkBytes <= 0 {
		c.Indexing.MaxChunkBytes = def.Indexing.MaxChunkBytes
	}
	if c.Indexing.OverlapBytes < 0 {
		c.Indexing.OverlapBytes = def.Indexing.OverlapBytes
	}
	if c.Indexing.MinChunkBytes <= 0 {
		c.Indexing.MinChunkBytes = def.Indexing.MinChunkBytes
	}
	if c.Indexing.ProgressInterval <= 0 {
		c.Indexing.ProgressInterval = def.Indexing.ProgressInterval
	}
	if c.Indexing.MaxFileBytes <= 0 {
		c.Indexing.MaxFileBytes = def.Indexing.MaxFileBytes
	}
	if c.Search.RRFC <= 0 {
		c.Search.RRFC = def.Search.RRFC
	}
	if c.Search.CacheTTL <= 0 {
		c.Search.CacheTTL = def.Search.CacheTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.VectorStore.Metric {
	case "cosine", "l2", "dot":
	default:
		return fmt.Errorf("vector_store.metric must be cosine, l2, or dot; got %q", c.VectorStore.Metric)
	}
	if c.Embedding.Provider == "http" && c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url required for http provider")
	}
	if c.VectorStore.Provider == "qdrant" && c.VectorStore.Endpoint == "" {
		return fmt.Errorf("vector_store.endpoint required for qdrant provider")
	}
	if c.Cache.Provider == "redis" && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr required for redis provider")
	}
	if c.EventBus.Provider == "redis" && c.EventBus.Endpoint == "" {
		return fmt.Errorf("event_bus.endpoint required for redis provider")
	}
	if c.Indexing.OverlapBytes >= c.Indexing.MaxChunkBytes {
		return fmt.Errorf("indexing.overlap_bytes (%d) must be smaller than max_chunk_bytes (%d)",
			c.Indexing.OverlapBytes, c.Indexing.MaxChunkBytes)
	}
	return nil
}

// DefaultWorkerCount returns min(NumCPU, 8).
func DefaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".codescope")
	}
	return filepath.Join(home, ".codescope")
}
