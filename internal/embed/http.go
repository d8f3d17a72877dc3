package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	cerr "github.com/codescope/codescope/internal/errors"
)

// HTTPConfig configures the OpenAI-compatible HTTP embedder.
type HTTPConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	BatchHint  int
	Timeout    time.Duration
	PoolSize   int
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an HTTP embedder with connection pooling.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, cerr.New(cerr.KindConfig, "embedding base_url is required")
	}
	if cfg.Model == "" {
		return nil, cerr.New(cerr.KindConfig, "embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, cerr.New(cerr.KindConfig, "embedding dimensions must be positive")
	}
	if cfg.BatchHint <= 0 {
		cfg.BatchHint = DefaultBatchHint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// No client-level timeout: per-request contexts carry the deadline so
	// cancellation propagates correctly.
	return &HTTPEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type embeddingError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates embeddings for a batch of texts, order-preserving.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, cerr.New(cerr.KindProviderPermanent, "embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, cerr.Newf(cerr.KindInvalidInput, "text %d is empty", i)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "marshal embedding request", err)
	}

	url := strings.TrimSuffix(e.config.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyCtxErr(ctx)
		}
		return nil, cerr.Wrap(cerr.KindProviderTransient, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, e.classifyStatus(resp)
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "decode embedding response", err)
	}
	if len(result.Data) != len(texts) {
		return nil, cerr.Newf(cerr.KindProviderPermanent,
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(result.Data))
	}

	// The API may return out of order; index restores input order.
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, cerr.Newf(cerr.KindProviderPermanent, "embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, cerr.Newf(cerr.KindProviderPermanent,
				"embedding dimension mismatch: expected %d, got %d", e.config.Dimensions, len(d.Embedding))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, cerr.Newf(cerr.KindProviderPermanent, "missing embedding for input %d", i)
		}
	}

	return vectors, nil
}

// classifyStatus maps HTTP failure codes onto the provider error taxonomy.
func (e *HTTPEmbedder) classifyStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(data))
	var apiErr embeddingError
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := cerr.Newf(cerr.KindProviderRateLimited, "rate limited: %s", message)
		if hint := resp.Header.Get("Retry-After"); hint != "" {
			err = err.WithDetail("retry_after", hint)
		}
		return err
	case resp.StatusCode == http.StatusBadRequest:
		return cerr.Newf(cerr.KindInvalidInput, "embedding request rejected: %s", message)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return cerr.Newf(cerr.KindProviderPermanent, "authentication failed: %s", message)
	case resp.StatusCode >= 500:
		return cerr.Newf(cerr.KindProviderTransient, "server error %d: %s", resp.StatusCode, message)
	default:
		return cerr.Newf(cerr.KindProviderPermanent, "unexpected status %d: %s", resp.StatusCode, message)
	}
}

func classifyCtxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return cerr.Wrap(cerr.KindTimeout, "embedding request timed out", ctx.Err())
	}
	return cerr.Wrap(cerr.KindCancelled, "embedding request cancelled", ctx.Err())
}

// Dimensions returns the embedding width.
func (e *HTTPEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelID returns the model identifier.
func (e *HTTPEmbedder) ModelID() string { return e.config.Model }

// BatchHint returns the advisory max batch size.
func (e *HTTPEmbedder) BatchHint() int { return e.config.BatchHint }

// Available probes the endpoint with a single tiny request.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := e.Embed(ctx, []string{"ping"})
	return err == nil
}

// Close releases pooled connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
