package store

import (
	"context"
	"sync"
	"time"

	cerr "github.com/codescope/codescope/internal/errors"
)

// writerQueueDepth bounds each collection's command queue. A full queue
// blocks producers, which is the backpressure that keeps outstanding
// vector-store writes per collection at one.
const writerQueueDepth = 16

// upsertTimeout bounds one vector-store write batch.
const upsertTimeout = 60 * time.Second

// FileMutation is the per-file unit of index mutation: upserts, deletes,
// and the sidecar record written last so a crash re-processes the file.
type FileMutation struct {
	FilePath    string
	ContentHash string
	Upserts     []ChunkEmbedding
	DeleteIDs   []string
	// ChunkIDs is the file's complete current chunk set (kept + added),
	// recorded in the sidecar.
	ChunkIDs []string
}

type writerCommand struct {
	mutation *FileMutation
	reply    chan error
}

// WriterPool serialises mutations per collection through single-owner
// writer tasks, preserving read-your-write and the upsert→delete→sidecar
// ordering within a collection. Across collections there is no ordering.
type WriterPool struct {
	vectors func() VectorStore
	keyword KeywordIndex
	sidecar *Sidecar

	mu      sync.Mutex
	writers map[string]*collectionWriter
	closed  bool
}

type collectionWriter struct {
	collection string
	pool       *WriterPool
	queue      chan writerCommand
	done       chan struct{}
}

// NewWriterPool creates the pool. The vector store is taken through a
// getter so provider swaps are observed by subsequent commands.
func NewWriterPool(vectors func() VectorStore, keyword KeywordIndex, sidecar *Sidecar) *WriterPool {
	return &WriterPool{
		vectors: vectors,
		keyword: keyword,
		sidecar: sidecar,
		writers: make(map[string]*collectionWriter),
	}
}

func (p *WriterPool) writer(collection string) (*collectionWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, cerr.New(cerr.KindInternal, "writer pool is closed")
	}
	if w, ok := p.writers[collection]; ok {
		return w, nil
	}

	w := &collectionWriter{
		collection: collection,
		pool:       p,
		queue:      make(chan writerCommand, writerQueueDepth),
		done:       make(chan struct{}),
	}
	p.writers[collection] = w
	go w.run()
	return w, nil
}

// Apply enqueues a file mutation and waits for it to commit.
func (p *WriterPool) Apply(ctx context.Context, collection string, m *FileMutation) error {
	w, err := p.writer(collection)
	if err != nil {
		return err
	}

	cmd := writerCommand{mutation: m, reply: make(chan error, 1)}
	select {
	case w.queue <- cmd:
	case <-ctx.Done():
		return cerr.Wrap(cerr.KindCancelled, "write cancelled while queued", ctx.Err())
	case <-w.done:
		return cerr.New(cerr.KindInternal, "collection writer stopped")
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		// The mutation may still commit; the caller only stops waiting.
		return cerr.Wrap(cerr.KindCancelled, "write cancelled while pending", ctx.Err())
	}
}

// CloseCollection stops the writer for one collection, draining its queue.
// Used before clearing a collection.
func (p *WriterPool) CloseCollection(collection string) {
	p.mu.Lock()
	w, ok := p.writers[collection]
	if ok {
		delete(p.writers, collection)
	}
	p.mu.Unlock()

	if ok {
		close(w.queue)
		<-w.done
	}
}

// Close stops every writer after draining queued commands.
func (p *WriterPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	writers := make([]*collectionWriter, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	p.writers = make(map[string]*collectionWriter)
	p.mu.Unlock()

	for _, w := range writers {
		close(w.queue)
		<-w.done
	}
}

func (w *collectionWriter) run() {
	defer close(w.done)
	for cmd := range w.queue {
		cmd.reply <- w.apply(cmd.mutation)
	}
}

// apply commits one file mutation in order: upsert both indexes, delete
// from both indexes, then record the sidecar entry as the last step.
func (w *collectionWriter) apply(m *FileMutation) error {
	ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
	defer cancel()

	vectors := w.pool.vectors()

	if len(m.Upserts) > 0 {
		if err := vectors.Upsert(ctx, w.collection, m.Upserts); err != nil {
			return err
		}
		docs := make([]*KeywordDocument, 0, len(m.Upserts))
		for _, item := range m.Upserts {
			docs = append(docs, &KeywordDocument{
				ID:       item.Chunk.ID,
				Content:  item.Chunk.Content,
				Language: item.Chunk.Language,
				FilePath: item.Chunk.FilePath,
				Symbol:   item.Chunk.SymbolName,
			})
		}
		if err := w.pool.keyword.Index(ctx, w.collection, docs); err != nil {
			return err
		}
	}

	if len(m.DeleteIDs) > 0 {
		if err := vectors.DeleteByIDs(ctx, w.collection, m.DeleteIDs); err != nil {
			return err
		}
		if err := w.pool.keyword.Delete(ctx, w.collection, m.DeleteIDs); err != nil {
			return err
		}
	}

	return w.pool.sidecar.PutFile(ctx, w.collection, &FileRecord{
		FilePath:    m.FilePath,
		ContentHash: m.ContentHash,
		ChunkIDs:    m.ChunkIDs,
	})
}
