package store

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/codescope/codescope/internal/chunk"
	cerr "github.com/codescope/codescope/internal/errors"
)

// metaCollection is the registry collection holding one point per user
// collection with its descriptor as payload. Its vectors are 1-dimensional
// placeholders; qdrant requires a vector per point.
const metaCollection = "codescope_meta"

// QdrantStore adapts a remote Qdrant instance to the VectorStore contract.
// Chunk payloads travel with each point so search results hydrate without a
// secondary fetch.
type QdrantStore struct {
	client *qdrant.Client
}

var _ VectorStore = (*QdrantStore)(nil)

// QdrantConfig configures the remote store connection.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantStore connects to Qdrant and ensures the meta collection.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindConfig, "create qdrant client", err)
	}

	s := &QdrantStore{client: client}
	if err := s.ensureMetaCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureMetaCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, metaCollection)
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "check meta collection", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: metaCollection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     1,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "create meta collection", err)
	}
	return nil
}

func qdrantDistance(metric string) qdrant.Distance {
	switch metric {
	case MetricL2:
		return qdrant.Distance_Euclid
	case MetricDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

// pointID converts a chunk id into a qdrant point id. Chunk ids are 128-bit
// hex, which formats directly as a UUID; anything else is hashed into one.
func pointID(id string) *qdrant.PointId {
	if hex32.MatchString(id) {
		formatted := id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
		return qdrant.NewID(formatted)
	}
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

// EnsureCollection creates the collection or verifies compatibility.
func (s *QdrantStore) EnsureCollection(ctx context.Context, desc *CollectionDescriptor) error {
	if existing, err := s.GetCollection(ctx, desc.Name); err == nil {
		return checkCompatible(existing, desc)
	} else if !cerr.IsKind(err, cerr.KindNotFound) {
		return err
	}

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: desc.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(desc.Dimension),
			Distance: qdrantDistance(desc.DistanceMetric),
		}),
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "create collection", err)
	}

	d := *desc
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	payload, err := descriptorPayload(&d)
	if err != nil {
		return err
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: metaCollection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(chunk.HashBytes([]byte(desc.Name))[:32]),
			Vectors: qdrant.NewVectors(0),
			Payload: payload,
		}},
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "register collection descriptor", err)
	}
	return nil
}

func descriptorPayload(d *CollectionDescriptor) (map[string]*qdrant.Value, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindInternal, "encode descriptor", err)
	}
	return map[string]*qdrant.Value{
		"name":       qdrant.NewValueString(d.Name),
		"descriptor": qdrant.NewValueString(string(raw)),
	}, nil
}

// GetCollection reads a descriptor from the meta collection.
func (s *QdrantStore) GetCollection(ctx context.Context, name string) (*CollectionDescriptor, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: metaCollection,
		Ids:            []*qdrant.PointId{pointID(chunk.HashBytes([]byte(name))[:32])},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "read collection descriptor", err)
	}
	if len(points) == 0 {
		return nil, cerr.Newf(cerr.KindNotFound, "collection %s not found", name)
	}
	return decodeDescriptor(points[0].GetPayload())
}

func decodeDescriptor(payload map[string]*qdrant.Value) (*CollectionDescriptor, error) {
	raw := payload["descriptor"].GetStringValue()
	var d CollectionDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, cerr.Wrap(cerr.KindCorruption, "decode collection descriptor", err)
	}
	return &d, nil
}

// ListCollections scrolls the meta collection.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]*CollectionDescriptor, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: metaCollection,
		Limit:          qdrant.PtrOf(uint32(1024)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "list collections", err)
	}

	out := make([]*CollectionDescriptor, 0, len(points))
	for _, p := range points {
		d, derr := decodeDescriptor(p.GetPayload())
		if derr != nil {
			return nil, derr
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func chunkPayload(c *chunk.CodeChunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"chunk_id":     qdrant.NewValueString(c.ID),
		"file_path":    qdrant.NewValueString(c.FilePath),
		"language":     qdrant.NewValueString(c.Language),
		"content":      qdrant.NewValueString(c.Content),
		"start_line":   qdrant.NewValueInt(int64(c.StartLine)),
		"end_line":     qdrant.NewValueInt(int64(c.EndLine)),
		"symbol_kind":  qdrant.NewValueString(string(c.SymbolKind)),
		"symbol_name":  qdrant.NewValueString(c.SymbolName),
		"content_hash": qdrant.NewValueString(c.ContentHash),
	}
}

func payloadChunk(collection string, payload map[string]*qdrant.Value) *chunk.CodeChunk {
	return &chunk.CodeChunk{
		ID:          payload["chunk_id"].GetStringValue(),
		Collection:  collection,
		FilePath:    payload["file_path"].GetStringValue(),
		Language:    payload["language"].GetStringValue(),
		Content:     payload["content"].GetStringValue(),
		StartLine:   int(payload["start_line"].GetIntegerValue()),
		EndLine:     int(payload["end_line"].GetIntegerValue()),
		SymbolKind:  chunk.SymbolKind(payload["symbol_kind"].GetStringValue()),
		SymbolName:  payload["symbol_name"].GetStringValue(),
		ContentHash: payload["content_hash"].GetStringValue(),
	}
}

// Upsert writes chunks and vectors as qdrant points.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, items []ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}

	desc, err := s.GetCollection(ctx, collection)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != desc.Dimension {
			return cerr.Newf(cerr.KindIncompatibleCollection,
				"vector dimension %d does not match collection dimension %d",
				len(item.Vector), desc.Dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(item.Chunk.ID),
			Vectors: qdrant.NewVectors(item.Vector...),
			Payload: chunkPayload(item.Chunk),
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "qdrant upsert", err)
	}
	return nil
}

// DeleteByIDs removes points by chunk id.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "qdrant delete", err)
	}
	return nil
}

func qdrantFilter(filter *SearchFilter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	var must []*qdrant.Condition
	if filter.Language != "" {
		must = append(must, qdrant.NewMatch("language", filter.Language))
	}
	if filter.SymbolKind != "" {
		must = append(must, qdrant.NewMatch("symbol_kind", filter.SymbolKind))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search queries qdrant; the path glob is applied client-side since qdrant
// has no native glob matching.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *SearchFilter) ([]*VectorResult, error) {
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	fetch := uint64(k)
	if filter != nil && filter.PathGlob != "" {
		fetch = uint64(k * 4)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(fetch),
		Filter:         qdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "qdrant query", err)
	}

	results := make([]*VectorResult, 0, k)
	for _, p := range points {
		c := payloadChunk(collection, p.GetPayload())
		if filter != nil && filter.PathGlob != "" && !globMatch(filter.PathGlob, c.FilePath) {
			continue
		}
		results = append(results, &VectorResult{ID: c.ID, Score: p.GetScore(), Chunk: c})
		if len(results) >= k {
			break
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// GetChunks fetches payloads by chunk id.
func (s *QdrantStore) GetChunks(ctx context.Context, collection string, ids []string) ([]*chunk.CodeChunk, error) {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "qdrant get", err)
	}

	out := make([]*chunk.CodeChunk, 0, len(points))
	for _, p := range points {
		out = append(out, payloadChunk(collection, p.GetPayload()))
	}
	return out, nil
}

// Clear drops the collection and its descriptor.
func (s *QdrantStore) Clear(ctx context.Context, collection string) error {
	if _, err := s.GetCollection(ctx, collection); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "drop collection", err)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: metaCollection,
		Points:         qdrant.NewPointsSelector(pointID(chunk.HashBytes([]byte(collection))[:32])),
	})
	if err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "remove collection descriptor", err)
	}
	return nil
}

// Stats reads point counts from qdrant. Byte and recency accounting live in
// the sidecar, which the indexing service consults separately.
func (s *QdrantStore) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	if _, err := s.GetCollection(ctx, collection); err != nil {
		return nil, err
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.KindProviderTransient, "count points", err)
	}
	return &CollectionStats{ChunkCount: int(count)}, nil
}

// Health checks connectivity.
func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "qdrant health check", err)
	}
	return nil
}

// Close releases the client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
