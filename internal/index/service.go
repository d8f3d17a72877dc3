// Package index implements the indexing pipeline: deterministic walk,
// language detection, AST chunking, embedding, and dual-index writes with
// incremental per-file diffs and atomic sidecar commits, driven by
// asynchronous operations with progress, cancellation, and status.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codescope/codescope/internal/bus"
	"github.com/codescope/codescope/internal/chunk"
	"github.com/codescope/codescope/internal/collection"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/embed"
	cerr "github.com/codescope/codescope/internal/errors"
	"github.com/codescope/codescope/internal/metrics"
	"github.com/codescope/codescope/internal/provider"
	"github.com/codescope/codescope/internal/store"
)

// maxConsecutiveStoreFailures is the threshold at which a job is considered
// unable to make progress and fails.
const maxConsecutiveStoreFailures = 5

// Request starts an indexing operation.
type Request struct {
	RootPath    string
	Collection  string
	Extensions  []string
	IgnoreGlobs []string
	Force       bool
}

// Deps wires the service to its providers. Handles come from the
// composition root and may be swapped at runtime.
type Deps struct {
	Config   *config.Config
	Embedder *provider.Handle[embed.Embedder]
	Vectors  *provider.Handle[store.VectorStore]
	Keyword  store.KeywordIndex
	Sidecar  *store.Sidecar
	Writers  *store.WriterPool
	Mapper   *collection.Mapper
	Chunker  *chunk.ASTChunker
	Events   bus.EventBus
	Metrics  metrics.Provider
}

// Service drives indexing operations.
type Service struct {
	deps Deps
	ops  *operationRegistry

	rebuiltSidecars sync.Map // collection -> struct{}, one-shot rebuild guard
}

// NewService creates the indexing service.
func NewService(deps Deps) *Service {
	return &Service{deps: deps, ops: newOperationRegistry()}
}

// Start validates the request, creates a Queued operation, and launches the
// job. It returns the operation id immediately.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	if req.RootPath == "" {
		return "", cerr.New(cerr.KindInvalidInput, "root path is required")
	}
	info, err := os.Stat(req.RootPath)
	if err != nil || !info.IsDir() {
		return "", cerr.Newf(cerr.KindInvalidInput, "root path %s is not a directory", req.RootPath)
	}

	canonical, err := s.deps.Mapper.Resolve(req.Collection)
	if err != nil {
		return "", err
	}
	if s.ops.runningFor(canonical) {
		return "", cerr.Newf(cerr.KindConflict, "collection %s already has a running operation", canonical)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	op := newOperation(canonical, cancel)
	s.ops.add(op)

	go s.run(jobCtx, op, req)
	return op.ID(), nil
}

// Status returns a snapshot of an operation.
func (s *Service) Status(opID string) (Snapshot, error) {
	op, err := s.ops.get(opID)
	if err != nil {
		return Snapshot{}, err
	}
	return op.Snapshot(), nil
}

// Cancel requests cooperative cancellation; the flag is observed at every
// file boundary and inside provider call adaptors.
func (s *Service) Cancel(opID string) error {
	op, err := s.ops.get(opID)
	if err != nil {
		return err
	}
	op.cancel()
	return nil
}

// run executes the job and always leaves the operation in a terminal state.
func (s *Service) run(ctx context.Context, op *Operation, req Request) {
	defer op.cancel()

	op.setRunning()
	s.publish(bus.Event{Type: bus.EventIndexStarted, OpID: op.ID(), Collection: op.Collection()})

	err := s.runPipeline(ctx, op, req)
	switch {
	case err == nil:
		op.finish(StateCompleted, "")
		counters := op.countersSnapshot()
		s.publish(bus.Event{Type: bus.EventIndexCompleted, OpID: op.ID(), Collection: op.Collection(), Counters: &counters})
	case cerr.IsKind(err, cerr.KindCancelled) || ctx.Err() != nil:
		op.finish(StateCancelled, "cancelled")
		s.publish(bus.Event{Type: bus.EventIndexFailed, OpID: op.ID(), Collection: op.Collection(), Error: "cancelled"})
	default:
		op.finish(StateFailed, err.Error())
		s.publish(bus.Event{Type: bus.EventIndexFailed, OpID: op.ID(), Collection: op.Collection(), Error: err.Error()})
		slog.Error("index_failed",
			slog.String("op_id", op.ID()),
			slog.String("collection", op.Collection()),
			slog.String("error", err.Error()))
	}
}

func (s *Service) runPipeline(ctx context.Context, op *Operation, req Request) error {
	canonical := op.Collection()
	embedder := s.deps.Embedder.Current()
	vectors := s.deps.Vectors.Current()

	desc := &store.CollectionDescriptor{
		Name:           canonical,
		UserName:       req.Collection,
		EmbeddingModel: embedder.ModelID(),
		Dimension:      embedder.Dimensions(),
		DistanceMetric: s.deps.Config.VectorStore.Metric,
	}

	if err := vectors.EnsureCollection(ctx, desc); err != nil {
		if !cerr.IsKind(err, cerr.KindIncompatibleCollection) || !req.Force {
			return err
		}
		// force: rebuild the collection in the new embedding space.
		if err := s.dropCollection(ctx, canonical); err != nil {
			return err
		}
		if err := vectors.EnsureCollection(ctx, desc); err != nil {
			return err
		}
	}

	files, err := Walk(ctx, req.RootPath, WalkOptions{
		Extensions:   mergeExtensions(req.Extensions, s.deps.Config.Indexing.Extensions),
		IgnoreGlobs:  append(append([]string{}, s.deps.Config.Indexing.IgnoreGlobs...), req.IgnoreGlobs...),
		MaxFileBytes: s.deps.Config.Indexing.MaxFileBytes,
	})
	if err != nil {
		return err
	}

	var consecutiveStoreFailures atomic.Int32

	workers := s.deps.Config.Indexing.WorkerCount
	if workers <= 0 {
		workers = config.DefaultWorkerCount()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, entry := range files {
		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return cerr.Wrap(cerr.KindCancelled, "indexing cancelled", err)
			}
			op.fileSeen()
			return s.processFile(gctx, op, entry, req.Force, &consecutiveStoreFailures)
		})
	}
	return g.Wait()
}

// processFile runs steps 3–6 of the indexing algorithm for one file.
// Per-file failures are recorded against the operation and do not fail the
// job; only cancellation and a persistently unavailable store do.
func (s *Service) processFile(ctx context.Context, op *Operation, entry FileEntry, force bool, storeFailures *atomic.Int32) error {
	canonical := op.Collection()

	content, err := os.ReadFile(entry.AbsPath)
	if err != nil {
		op.recordError(entry.Path, fmt.Sprintf("read: %v", err))
		return nil
	}

	contentHash := chunk.HashNormalized(content)

	known, err := s.deps.Sidecar.GetFile(ctx, canonical, entry.Path)
	if err != nil {
		if !cerr.IsKind(err, cerr.KindCorruption) {
			op.recordError(entry.Path, fmt.Sprintf("sidecar: %v", err))
			return nil
		}
		// One-shot rebuild: drop the sidecar and re-process everything.
		if _, done := s.rebuiltSidecars.LoadOrStore(canonical, struct{}{}); !done {
			slog.Warn("sidecar_corrupt_rebuilding", slog.String("collection", canonical))
			if rErr := s.deps.Sidecar.Rebuild(ctx, canonical); rErr != nil {
				return cerr.Wrap(cerr.KindCorruption, "sidecar rebuild failed", rErr)
			}
		}
		known = nil
	}

	if known != nil && known.ContentHash == contentHash && !force {
		s.deps.Metrics.Increment("index_files_skipped", map[string]string{"collection": canonical})
		return nil
	}

	language := s.deps.Chunker.DetectLanguage(entry.Path, content)
	if language == "" {
		language = "text"
	}

	fc, err := s.deps.Chunker.Chunk(ctx, &chunk.FileInput{
		Collection: canonical,
		Path:       entry.Path,
		Content:    content,
		Language:   language,
	})
	if err != nil {
		op.recordError(entry.Path, err.Error())
		return nil
	}
	for _, warning := range fc.Warnings {
		op.recordError(entry.Path, warning)
	}

	// Diff against the sidecar's known chunk set.
	knownIDs := make(map[string]bool)
	if known != nil && !force {
		for _, id := range known.ChunkIDs {
			knownIDs[id] = true
		}
	}

	newIDs := make([]string, 0, len(fc.Chunks))
	var toAdd []*chunk.CodeChunk
	newSet := make(map[string]bool, len(fc.Chunks))
	for _, c := range fc.Chunks {
		newIDs = append(newIDs, c.ID)
		newSet[c.ID] = true
		if !knownIDs[c.ID] {
			toAdd = append(toAdd, c)
		}
	}
	var toRemove []string
	if known != nil {
		for _, id := range known.ChunkIDs {
			if !newSet[id] {
				toRemove = append(toRemove, id)
			}
		}
	}

	upserts, err := s.embedChunks(ctx, toAdd)
	if err != nil {
		if cerr.IsKind(err, cerr.KindCancelled) {
			return err
		}
		op.recordError(entry.Path, fmt.Sprintf("embed: %v", err))
		return nil
	}

	mutation := &store.FileMutation{
		FilePath:    entry.Path,
		ContentHash: contentHash,
		Upserts:     upserts,
		DeleteIDs:   toRemove,
		ChunkIDs:    newIDs,
	}
	if err := s.deps.Writers.Apply(ctx, canonical, mutation); err != nil {
		if cerr.IsKind(err, cerr.KindCancelled) {
			return err
		}
		op.recordError(entry.Path, fmt.Sprintf("store: %v", err))
		if storeFailures.Add(1) >= maxConsecutiveStoreFailures {
			return cerr.Wrap(cerr.KindProviderPermanent, "vector store unavailable, aborting job", err)
		}
		return nil
	}
	storeFailures.Store(0)

	indexed := op.fileIndexed(len(toAdd), int64(len(content)))
	s.deps.Metrics.Increment("index_files_indexed", map[string]string{"collection": canonical})
	if len(toAdd) > 0 {
		s.deps.Metrics.Gauge("index_chunks_created", map[string]string{"collection": canonical},
			float64(op.countersSnapshot().ChunksCreated))
	}

	interval := s.deps.Config.Indexing.ProgressInterval
	if interval > 0 && indexed%interval == 0 {
		counters := op.countersSnapshot()
		s.publish(bus.Event{Type: bus.EventIndexProgress, OpID: op.ID(), Collection: canonical, Counters: &counters})
	}
	return nil
}

// embedChunks retrieves embeddings for new chunks with retry on transient
// failures. Returns writer-ready upsert items in chunk order.
func (s *Service) embedChunks(ctx context.Context, chunks []*chunk.CodeChunk) ([]store.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := cerr.Retry(ctx, cerr.DefaultRetryPolicy(), func() error {
		var embErr error
		vectors, embErr = s.deps.Embedder.Current().Embed(ctx, texts)
		return embErr
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, cerr.Newf(cerr.KindProviderPermanent,
			"embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	items := make([]store.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		items[i] = store.ChunkEmbedding{Chunk: c, Vector: vectors[i]}
	}
	return items, nil
}

// CancelAll requests cooperative cancellation of every live operation;
// used during shutdown to drain jobs.
func (s *Service) CancelAll() {
	s.ops.cancelAll()
}

// Clear synchronously removes a collection's indexes and sidecar. It
// requires that no operation is running for the collection.
func (s *Service) Clear(ctx context.Context, userName string) error {
	canonical, err := s.deps.Mapper.Lookup(userName)
	if err != nil {
		return err
	}
	if s.ops.runningFor(canonical) {
		return cerr.Newf(cerr.KindConflict, "collection %s has a running operation", canonical)
	}
	if err := s.dropCollection(ctx, canonical); err != nil {
		return err
	}
	s.publish(bus.Event{Type: bus.EventCollectionCleared, Collection: canonical})
	return nil
}

// dropCollection tears down all per-collection state: writer, vector
// index, keyword index, sidecar.
func (s *Service) dropCollection(ctx context.Context, canonical string) error {
	s.deps.Writers.CloseCollection(canonical)

	if err := s.deps.Vectors.Current().Clear(ctx, canonical); err != nil && !cerr.IsKind(err, cerr.KindNotFound) {
		return err
	}
	if err := s.deps.Keyword.Clear(ctx, canonical); err != nil {
		return err
	}
	if err := s.deps.Sidecar.Clear(ctx, canonical); err != nil {
		return err
	}
	s.rebuiltSidecars.Delete(canonical)
	return nil
}

// Stats reports chunk count, bytes, and recency for a collection.
func (s *Service) Stats(ctx context.Context, userName string) (*store.CollectionStats, error) {
	canonical, err := s.deps.Mapper.Lookup(userName)
	if err != nil {
		return nil, err
	}

	stats, err := s.deps.Vectors.Current().Stats(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if last, err := s.deps.Sidecar.LastIndexedAt(ctx, canonical); err == nil && !last.IsZero() {
		stats.LastIndexedAt = last
	}
	return stats, nil
}

// ListCollections returns all collection descriptors.
func (s *Service) ListCollections(ctx context.Context) ([]*store.CollectionDescriptor, error) {
	return s.deps.Vectors.Current().ListCollections(ctx)
}

// publish emits an event; bus failures are logged, never propagated.
func (s *Service) publish(event bus.Event) {
	if err := s.deps.Events.Publish(context.Background(), event); err != nil {
		slog.Warn("event_publish_failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}

// mergeExtensions prefers request extensions, falling back to config.
func mergeExtensions(request, configured []string) []string {
	if len(request) > 0 {
		return request
	}
	return configured
}
