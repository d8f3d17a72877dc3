package app

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/codescope/codescope/internal/bus"
	"github.com/codescope/codescope/internal/cache"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/embed"
	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/metrics"
	"github.com/codescope/codescope/internal/provider"
	"github.com/codescope/codescope/internal/store"
)

// NewProviderRegistry builds the production provider table. Membership is
// fixed at build time; test doubles are constructed directly in tests and
// never registered here.
func NewProviderRegistry() *provider.Registry {
	r := provider.NewRegistry()

	r.MustRegister(provider.CapEmbedder, "http", func(cfg *config.Config) (any, error) {
		return embed.NewHTTPEmbedder(embed.HTTPConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
			BatchHint:  cfg.Embedding.BatchHint,
		})
	})
	r.MustRegister(provider.CapEmbedder, "static", func(cfg *config.Config) (any, error) {
		return embed.NewStaticEmbedder(), nil
	})

	r.MustRegister(provider.CapVectorStore, "hnsw", func(cfg *config.Config) (any, error) {
		s, err := store.NewHNSWStore(cfg.VectorStore.Path)
		if err != nil {
			return nil, err
		}
		if cfg.VectorStore.EncryptPayloads {
			return store.NewEncryptedStore(s, cfg.VectorStore.EncryptionKey, cfg.VectorStore.Path)
		}
		return s, nil
	})
	r.MustRegister(provider.CapVectorStore, "qdrant", func(cfg *config.Config) (any, error) {
		host, port, err := splitEndpoint(cfg.VectorStore.Endpoint)
		if err != nil {
			return nil, err
		}
		s, err := store.NewQdrantStore(context.Background(), store.QdrantConfig{Host: host, Port: port})
		if err != nil {
			return nil, err
		}
		if cfg.VectorStore.EncryptPayloads {
			return store.NewEncryptedStore(s, cfg.VectorStore.EncryptionKey, cfg.VectorStore.Path)
		}
		return s, nil
	})

	r.MustRegister(provider.CapCache, "memory", func(cfg *config.Config) (any, error) {
		return cache.NewMemory(cfg.Cache.MaxEntries)
	})
	r.MustRegister(provider.CapCache, "redis", func(cfg *config.Config) (any, error) {
		return cache.NewRedis(context.Background(), cfg.Cache.Addr)
	})

	r.MustRegister(provider.CapEventBus, "memory", func(cfg *config.Config) (any, error) {
		return bus.NewMemory(), nil
	})
	r.MustRegister(provider.CapEventBus, "redis", func(cfg *config.Config) (any, error) {
		return bus.NewRedis(context.Background(), cfg.EventBus.Endpoint)
	})

	r.MustRegister(provider.CapMetrics, "memory", func(cfg *config.Config) (any, error) {
		return metrics.Provider(metrics.NewInMemory()), nil
	})
	r.MustRegister(provider.CapMetrics, "noop", func(cfg *config.Config) (any, error) {
		return metrics.Provider(metrics.Noop{}), nil
	})

	return r
}

// splitEndpoint parses host:port; a bare host defaults to qdrant's gRPC
// port.
func splitEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, cerr.New(cerr.KindConfig, "vector_store.endpoint is required")
	}
	if !strings.Contains(endpoint, ":") {
		return endpoint, 6334, nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, cerr.Wrap(cerr.KindConfig, "parse vector_store.endpoint", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, cerr.Wrap(cerr.KindConfig, "parse vector_store.endpoint port", err)
	}
	return host, port, nil
}
