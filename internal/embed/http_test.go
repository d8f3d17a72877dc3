package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/codescope/codescope/internal/errors"
)

func newHTTPTestEmbedder(t *testing.T, handler http.HandlerFunc) *HTTPEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewHTTPEmbedder(HTTPConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		APIKey:     "sk-test",
		Dimensions: 3,
		BatchHint:  8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func embeddingOK(vectors map[int][]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var resp embeddingResponse
		for i := range req.Input {
			v, ok := vectors[i]
			if !ok {
				v = []float32{1, 0, 0}
			}
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: v})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPEmbedSuccess(t *testing.T) {
	e := newHTTPTestEmbedder(t, embeddingOK(map[int][]float32{
		0: {1, 0, 0},
		1: {0, 1, 0},
	}))

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1, 0}, vectors[1])
}

func TestHTTPEmbedRestoresOrder(t *testing.T) {
	// Server returns entries reversed; index must restore input order.
	e := newHTTPTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var resp embeddingResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 0, 0}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	vectors, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestHTTPEmbedAuthHeader(t *testing.T) {
	var gotAuth string
	e := newHTTPTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		embeddingOK(nil)(w, r)
	})

	_, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHTTPEmbedRateLimited(t *testing.T) {
	e := newHTTPTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderRateLimited, cerr.KindOf(err))

	hint, ok := cerr.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, "7", hint)
}

func TestHTTPEmbedServerErrorIsTransient(t *testing.T) {
	e := newHTTPTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderTransient, cerr.KindOf(err))
	assert.True(t, cerr.IsRetryable(err))
}

func TestHTTPEmbedAuthFailureIsPermanent(t *testing.T) {
	e := newHTTPTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderPermanent, cerr.KindOf(err))
	assert.False(t, cerr.IsRetryable(err))
}

func TestHTTPEmbedDimensionMismatch(t *testing.T) {
	e := newHTTPTestEmbedder(t, embeddingOK(map[int][]float32{0: {1, 2, 3, 4}}))

	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, cerr.KindProviderPermanent, cerr.KindOf(err))
}

func TestHTTPEmbedRejectsEmptyText(t *testing.T) {
	e := newHTTPTestEmbedder(t, embeddingOK(nil))

	_, err := e.Embed(context.Background(), []string{"ok", "  "})
	require.Error(t, err)
	assert.Equal(t, cerr.KindInvalidInput, cerr.KindOf(err))
}

func TestHTTPEmbedderConfigValidation(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPConfig{Model: "m", Dimensions: 3})
	assert.Error(t, err, "base url required")

	_, err = NewHTTPEmbedder(HTTPConfig{BaseURL: "http://x", Dimensions: 3})
	assert.Error(t, err, "model required")

	_, err = NewHTTPEmbedder(HTTPConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err, "dimensions required")
}
