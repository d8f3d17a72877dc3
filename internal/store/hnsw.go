package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/codescope/codescope/internal/chunk"
	cerr "github.com/codescope/codescope/internal/errors"
)

// HNSWStore is the local vector store: one pure-Go HNSW graph per
// collection, with chunk payloads persisted alongside the vectors so
// search results hydrate without a secondary fetch.
//
// Persistence layout per collection under root:
//
//	{collection}/vectors.hnsw  — exported graph
//	{collection}/vectors.meta  — gob: descriptor, id mappings, payloads
type HNSWStore struct {
	mu          sync.RWMutex
	root        string // "" means memory-only
	collections map[string]*hnswCollection
	closed      bool
}

type hnswCollection struct {
	descriptor *CollectionDescriptor
	graph      *hnsw.Graph[uint64]

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	chunks  map[string]*chunk.CodeChunk
	vectors map[string][]float32
	updated time.Time
}

// hnswMeta is the gob-persisted metadata for one collection.
type hnswMeta struct {
	Descriptor *CollectionDescriptor
	IDMap      map[string]uint64
	NextKey    uint64
	Chunks     map[string]*chunk.CodeChunk
	Vectors    map[string][]float32
	Updated    time.Time
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates the local store. Existing collections under root are
// loaded eagerly so ListCollections is complete from the start.
func NewHNSWStore(root string) (*HNSWStore, error) {
	s := &HNSWStore{
		root:        root,
		collections: make(map[string]*hnswCollection),
	}
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, cerr.Wrap(cerr.KindInternal, "create vector store root", err)
		}
		if err := s.loadAll(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newGraph(metric string) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch metric {
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	case MetricDot:
		graph.Distance = negatedDot
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25
	return graph
}

// negatedDot turns dot-product similarity into a min-better distance.
func negatedDot(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// EnsureCollection creates the collection or verifies compatibility with an
// existing one. Dimension, model, and metric are immutable.
func (s *HNSWStore) EnsureCollection(ctx context.Context, desc *CollectionDescriptor) error {
	if desc.Dimension <= 0 {
		return cerr.New(cerr.KindInvalidInput, "collection dimension must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cerr.New(cerr.KindInternal, "store is closed")
	}

	if existing, ok := s.collections[desc.Name]; ok {
		return checkCompatible(existing.descriptor, desc)
	}

	d := *desc
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	col := &hnswCollection{
		descriptor: &d,
		graph:      newGraph(d.DistanceMetric),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		chunks:     make(map[string]*chunk.CodeChunk),
		vectors:    make(map[string][]float32),
		updated:    time.Now().UTC(),
	}
	s.collections[desc.Name] = col
	return s.persistLocked(desc.Name, col)
}

// checkCompatible enforces descriptor immutability.
func checkCompatible(existing, want *CollectionDescriptor) error {
	if existing.Dimension != want.Dimension {
		return cerr.Newf(cerr.KindIncompatibleCollection,
			"collection %s has dimension %d, embedder produces %d",
			existing.Name, existing.Dimension, want.Dimension)
	}
	if want.EmbeddingModel != "" && existing.EmbeddingModel != want.EmbeddingModel {
		return cerr.Newf(cerr.KindIncompatibleCollection,
			"collection %s was built with model %s, active model is %s",
			existing.Name, existing.EmbeddingModel, want.EmbeddingModel)
	}
	if want.DistanceMetric != "" && existing.DistanceMetric != want.DistanceMetric {
		return cerr.Newf(cerr.KindIncompatibleCollection,
			"collection %s uses metric %s, requested %s",
			existing.Name, existing.DistanceMetric, want.DistanceMetric)
	}
	return nil
}

// GetCollection returns a copy of the collection descriptor.
func (s *HNSWStore) GetCollection(ctx context.Context, name string) (*CollectionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, cerr.Newf(cerr.KindNotFound, "collection %s not found", name)
	}
	d := *col.descriptor
	return &d, nil
}

// ListCollections returns descriptors sorted by name.
func (s *HNSWStore) ListCollections(ctx context.Context) ([]*CollectionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CollectionDescriptor, 0, len(s.collections))
	for _, col := range s.collections {
		d := *col.descriptor
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Upsert inserts or replaces chunks with their vectors. Idempotent on
// chunk id.
func (s *HNSWStore) Upsert(ctx context.Context, collection string, items []ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.Chunk == nil {
			return cerr.New(cerr.KindInvalidInput, "upsert item missing chunk")
		}
		if len(item.Vector) != col.descriptor.Dimension {
			return cerr.Newf(cerr.KindIncompatibleCollection,
				"vector dimension %d does not match collection dimension %d",
				len(item.Vector), col.descriptor.Dimension)
		}
	}

	for _, item := range items {
		id := item.Chunk.ID

		// Lazy deletion for replaced ids: orphan the old graph node.
		if oldKey, exists := col.idMap[id]; exists {
			delete(col.keyMap, oldKey)
			delete(col.idMap, id)
		}

		key := col.nextKey
		col.nextKey++

		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		if col.descriptor.DistanceMetric == MetricCosine || col.descriptor.DistanceMetric == "" {
			normalizeInPlace(vec)
		}

		col.graph.Add(hnsw.MakeNode(key, vec))
		col.idMap[id] = key
		col.keyMap[key] = id
		col.chunks[id] = item.Chunk
		col.vectors[id] = vec
	}
	col.updated = time.Now().UTC()

	return s.persistLocked(collection, col)
}

// DeleteByIDs removes chunks by id. Unknown ids are ignored.
func (s *HNSWStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if key, exists := col.idMap[id]; exists {
			delete(col.keyMap, key)
			delete(col.idMap, id)
		}
		delete(col.chunks, id)
		delete(col.vectors, id)
	}
	col.updated = time.Now().UTC()

	return s.persistLocked(collection, col)
}

// Search finds the k nearest chunks. Filters are applied after retrieval
// with over-fetch headroom; ties break by id ascending.
func (s *HNSWStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *SearchFilter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != col.descriptor.Dimension {
		return nil, cerr.Newf(cerr.KindIncompatibleCollection,
			"query dimension %d does not match collection dimension %d",
			len(vector), col.descriptor.Dimension)
	}
	if k <= 0 || col.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	metric := col.descriptor.DistanceMetric
	if metric == MetricCosine || metric == "" {
		normalizeInPlace(query)
	}

	// Over-fetch to survive filtering and orphaned (lazily deleted) nodes.
	fetch := k * 4
	if fetch < k+8 {
		fetch = k + 8
	}
	nodes := col.graph.Search(query, fetch)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, live := col.keyMap[node.Key]
		if !live {
			continue
		}
		c := col.chunks[id]
		if filter != nil && !filter.Matches(c) {
			continue
		}
		distance := col.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{
			ID:    id,
			Score: distanceToScore(distance, metric),
			Chunk: c,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// GetChunks returns payloads for the given ids, skipping unknown ids.
func (s *HNSWStore) GetChunks(ctx context.Context, collection string, ids []string) ([]*chunk.CodeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}

	out := make([]*chunk.CodeChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := col.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Clear removes a collection and its on-disk state.
func (s *HNSWStore) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; !ok {
		return cerr.Newf(cerr.KindNotFound, "collection %s not found", collection)
	}
	delete(s.collections, collection)

	if s.root != "" {
		dir := filepath.Join(s.root, collection)
		if err := os.Remove(filepath.Join(dir, "vectors.hnsw")); err != nil && !os.IsNotExist(err) {
			return cerr.Wrap(cerr.KindInternal, "remove vector index", err)
		}
		if err := os.Remove(filepath.Join(dir, "vectors.meta")); err != nil && !os.IsNotExist(err) {
			return cerr.Wrap(cerr.KindInternal, "remove vector metadata", err)
		}
	}
	return nil
}

// Stats summarises a collection.
func (s *HNSWStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}

	var bytes int64
	for _, c := range col.chunks {
		bytes += int64(len(c.Content))
	}
	return &CollectionStats{
		ChunkCount:    len(col.idMap),
		Bytes:         bytes,
		LastIndexedAt: col.updated,
	}, nil
}

// Health reports readiness.
func (s *HNSWStore) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return cerr.New(cerr.KindInternal, "store is closed")
	}
	return nil
}

// Close releases in-memory state. On-disk state stays for the next start.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

func (s *HNSWStore) collectionLocked(name string) (*hnswCollection, error) {
	if s.closed {
		return nil, cerr.New(cerr.KindInternal, "store is closed")
	}
	col, ok := s.collections[name]
	if !ok {
		return nil, cerr.Newf(cerr.KindNotFound, "collection %s not found", name)
	}
	return col, nil
}

// persistLocked writes the graph and metadata atomically (temp + rename).
func (s *HNSWStore) persistLocked(name string, col *hnswCollection) error {
	if s.root == "" {
		return nil
	}

	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerr.Wrap(cerr.KindInternal, "create collection directory", err)
	}

	graphPath := filepath.Join(dir, "vectors.hnsw")
	if err := atomicWrite(graphPath, func(f *os.File) error {
		return col.graph.Export(f)
	}); err != nil {
		return cerr.Wrap(cerr.KindInternal, "export vector graph", err)
	}

	metaPath := filepath.Join(dir, "vectors.meta")
	meta := hnswMeta{
		Descriptor: col.descriptor,
		IDMap:      col.idMap,
		NextKey:    col.nextKey,
		Chunks:     col.chunks,
		Vectors:    col.vectors,
		Updated:    col.updated,
	}
	if err := atomicWrite(metaPath, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return cerr.Wrap(cerr.KindInternal, "write vector metadata", err)
	}
	return nil
}

// atomicWrite writes via temp file + rename.
func atomicWrite(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// loadAll restores every collection found under root.
func (s *HNSWStore) loadAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, "read vector store root", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(s.root, entry.Name(), "vectors.meta")
		if _, err := os.Stat(metaPath); os.IsNotExist(err) {
			continue
		}
		col, err := loadCollection(filepath.Join(s.root, entry.Name()))
		if err != nil {
			return cerr.Wrap(cerr.KindCorruption, fmt.Sprintf("load collection %s", entry.Name()), err)
		}
		s.collections[col.descriptor.Name] = col
	}
	return nil
}

func loadCollection(dir string) (*hnswCollection, error) {
	metaFile, err := os.Open(filepath.Join(dir, "vectors.meta"))
	if err != nil {
		return nil, err
	}
	defer metaFile.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	col := &hnswCollection{
		descriptor: meta.Descriptor,
		graph:      newGraph(meta.Descriptor.DistanceMetric),
		idMap:      meta.IDMap,
		keyMap:     make(map[uint64]string, len(meta.IDMap)),
		nextKey:    meta.NextKey,
		chunks:     meta.Chunks,
		vectors:    meta.Vectors,
		updated:    meta.Updated,
	}
	for id, key := range meta.IDMap {
		col.keyMap[key] = id
	}
	if col.chunks == nil {
		col.chunks = make(map[string]*chunk.CodeChunk)
	}
	if col.vectors == nil {
		col.vectors = make(map[string][]float32)
	}

	graphFile, err := os.Open(filepath.Join(dir, "vectors.hnsw"))
	if err != nil {
		return nil, err
	}
	defer graphFile.Close()

	// bufio satisfies the io.ByteReader requirement of Import.
	if err := col.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return col, nil
}

// normalizeInPlace scales a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a min-better distance into a max-better score.
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case MetricL2:
		return 1.0 / (1.0 + distance)
	case MetricDot:
		return -distance
	default: // cosine: distance in [0,2]
		return 1.0 - distance/2.0
	}
}
