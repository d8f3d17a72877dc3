package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	cerr "github.com/codescope/codescope/internal/errors"
)

// StaticDimensions is the vector width of the hash-based embedder.
const StaticDimensions = 256

// staticModelID identifies the hash embedder in cache keys and descriptors.
const staticModelID = "static-fnv-256"

// Vector generation weights.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// staticStopWords filters common programming keywords out of the signal.
var staticStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// StaticEmbedder produces deterministic hash-based embeddings with no
// network or model dependency. Reduced semantic quality; used for tests
// and offline operation. The production provider registry offers it as the
// "static" embedding provider.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates embeddings for a batch of texts.
func (e *StaticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, cerr.New(cerr.KindProviderPermanent, "embedder is closed")
	}
	e.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, cerr.Wrap(cerr.KindCancelled, "embed cancelled", err)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			vectors[i] = make([]float32, StaticDimensions)
			continue
		}
		vectors[i] = normalizeVector(e.generateVector(trimmed))
	}
	return vectors, nil
}

// generateVector hashes tokens and character n-grams into vector slots.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokens(text) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	lowered := strings.ToLower(text)
	for i := 0; i+ngramSize <= len(lowered); i++ {
		vector[hashToIndex(lowered[i:i+ngramSize], StaticDimensions)] += ngramWeight
	}

	return vector
}

// staticTokens splits text into lowercase tokens minus stop words.
func staticTokens(text string) []string {
	words := staticTokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 2 || staticStopWords[lower] {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % dims
}

// Dimensions returns the embedding width.
func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

// ModelID returns the model identifier.
func (e *StaticEmbedder) ModelID() string { return staticModelID }

// BatchHint returns the advisory max batch size.
func (e *StaticEmbedder) BatchHint() int { return DefaultBatchHint }

// Available always succeeds for the local embedder.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
