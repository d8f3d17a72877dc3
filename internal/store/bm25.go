package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	cerr "github.com/codescope/codescope/internal/errors"
)

const (
	codeTokenizerName = "code_tokenizer"
	codeStopName      = "code_stop"
	codeAnalyzerName  = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopName, codeStopFilterConstructor)
}

// bleveDocument is the indexed document shape.
type bleveDocument struct {
	Content  string `json:"content"`
	Language string `json:"language"`
	FilePath string `json:"file_path"`
	Symbol   string `json:"symbol"`
}

// BleveIndex manages one Bleve BM25 index per collection, rooted under a
// data directory as collections/{id}/bm25.bleve.
type BleveIndex struct {
	mu      sync.Mutex
	root    string // "" means memory-only (tests)
	indexes map[string]bleve.Index
	closed  bool
}

var _ KeywordIndex = (*BleveIndex)(nil)

// NewBleveIndex creates the keyword index manager. Existing per-collection
// indexes are opened lazily on first use.
func NewBleveIndex(root string) *BleveIndex {
	return &BleveIndex{
		root:    root,
		indexes: make(map[string]bleve.Index),
	}
}

func (b *BleveIndex) indexPath(collection string) string {
	return filepath.Join(b.root, collection, "bm25.bleve")
}

// collectionIndex opens or creates the index for a collection.
func (b *BleveIndex) collectionIndex(collection string) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, cerr.New(cerr.KindInternal, "keyword index is closed")
	}
	if idx, ok := b.indexes[collection]; ok {
		return idx, nil
	}

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "create index mapping", err)
	}

	var idx bleve.Index
	if b.root == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		path := b.indexPath(collection)
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, cerr.Wrap(cerr.KindInternal, "create index directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bm25_index_corrupted",
				slog.String("collection", collection),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, cerr.Wrap(cerr.KindCorruption, "remove corrupted bm25 index", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "open bm25 index", err)
	}

	b.indexes[collection] = idx
	return idx, nil
}

// isCorruptionError checks whether an error indicates Bleve index damage.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName
	return indexMapping, nil
}

// Index adds documents to a collection's keyword index.
func (b *BleveIndex) Index(ctx context.Context, collection string, docs []*KeywordDocument) error {
	if len(docs) == 0 {
		return nil
	}
	idx, err := b.collectionIndex(collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{
			Content:  doc.Content,
			Language: doc.Language,
			FilePath: doc.FilePath,
			Symbol:   doc.Symbol,
		}); err != nil {
			return cerr.Wrap(cerr.KindInternal, fmt.Sprintf("index document %s", doc.ID), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return cerr.Wrap(cerr.KindInternal, "execute index batch", err)
	}
	return nil
}

// Delete removes documents from a collection's keyword index.
func (b *BleveIndex) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idx, err := b.collectionIndex(collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return cerr.Wrap(cerr.KindInternal, "execute delete batch", err)
	}
	return nil
}

// Search returns BM25-ranked hits for a query.
func (b *BleveIndex) Search(ctx context.Context, collection, query string, limit int, filter *SearchFilter) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	idx, err := b.collectionIndex(collection)
	if err != nil {
		return nil, err
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	var finalQuery = bleve.NewConjunctionQuery(matchQuery)
	if filter != nil && filter.Language != "" {
		langQuery := bleve.NewTermQuery(strings.ToLower(filter.Language))
		langQuery.SetField("language")
		finalQuery.AddQuery(langQuery)
	}

	req := bleve.NewSearchRequest(finalQuery)
	req.Size = limit * 2 // headroom for post-filtering by path glob
	req.IncludeLocations = true
	req.Fields = []string{"file_path", "language", "symbol"}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "bm25 search", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if filter != nil && filter.PathGlob != "" {
			if path, ok := hit.Fields["file_path"].(string); ok && !globMatch(filter.PathGlob, path) {
				continue
			}
		}
		results = append(results, &KeywordResult{
			ID:           hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Clear removes a collection's keyword index entirely; it is rebuilt on the
// next write.
func (b *BleveIndex) Clear(ctx context.Context, collection string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.indexes[collection]; ok {
		if err := idx.Close(); err != nil {
			slog.Warn("bm25_close_failed", slog.String("collection", collection), slog.String("error", err.Error()))
		}
		delete(b.indexes, collection)
	}
	if b.root != "" {
		if err := os.RemoveAll(b.indexPath(collection)); err != nil {
			return cerr.Wrap(cerr.KindInternal, "remove bm25 index", err)
		}
	}
	return nil
}

// Close closes every open index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
	}
	b.indexes = nil
	return firstErr
}

// extractMatchedTerms pulls the matched terms out of a hit's locations.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			terms[term] = struct{}{}
		}
	}
	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// codeTokenizerConstructor builds the code-aware tokenizer for Bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

type bleveCodeTokenizer struct{}

// Tokenize implements analysis.Tokenizer using the code-aware splitter.
func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: codeStopWords}, nil
}

type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
