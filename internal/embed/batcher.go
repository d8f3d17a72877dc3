package embed

import (
	"context"
	"time"

	cerr "github.com/codescope/codescope/internal/errors"
)

// batchRequest is one text awaiting embedding.
type batchRequest struct {
	text string
	done chan batchResult
}

type batchResult struct {
	vector []float32
	err    error
}

// Batcher merges embedding requests from concurrent workers into batches of
// up to BatchHint texts, flushing partial batches after a short interval.
// The queue is bounded: when it is full, callers block, which is the
// backpressure that keeps in-flight requests at or below the batch hint.
type Batcher struct {
	inner Embedder
	flush time.Duration

	queue chan *batchRequest
	stop  chan struct{}
	done  chan struct{}
}

var _ Embedder = (*Batcher)(nil)

// NewBatcher wraps inner and starts the batching loop.
func NewBatcher(inner Embedder, flush time.Duration) *Batcher {
	if flush <= 0 {
		flush = DefaultFlushInterval
	}
	hint := inner.BatchHint()
	if hint < 1 {
		hint = 1
	}

	b := &Batcher{
		inner: inner,
		flush: flush,
		queue: make(chan *batchRequest, hint),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Embed enqueues each text and awaits the results in order.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	select {
	case <-b.stop:
		return nil, cerr.New(cerr.KindProviderPermanent, "batcher is closed")
	default:
	}

	pending := make([]*batchRequest, len(texts))
	for i, text := range texts {
		req := &batchRequest{text: text, done: make(chan batchResult, 1)}
		select {
		case b.queue <- req:
			pending[i] = req
		case <-ctx.Done():
			return nil, cerr.Wrap(cerr.KindCancelled, "embed cancelled while queued", ctx.Err())
		case <-b.stop:
			return nil, cerr.New(cerr.KindProviderPermanent, "batcher is closed")
		}
	}

	vectors := make([][]float32, len(texts))
	for i, req := range pending {
		select {
		case res := <-req.done:
			if res.err != nil {
				return nil, res.err
			}
			vectors[i] = res.vector
		case <-ctx.Done():
			return nil, cerr.Wrap(cerr.KindCancelled, "embed cancelled while awaiting batch", ctx.Err())
		}
	}
	return vectors, nil
}

// run is the batching loop: it gathers queued requests until the batch hint
// is reached or the flush interval elapses, then dispatches one call.
func (b *Batcher) run() {
	defer close(b.done)

	hint := b.inner.BatchHint()
	if hint < 1 {
		hint = 1
	}

	for {
		var first *batchRequest
		select {
		case first = <-b.queue:
		case <-b.stop:
			b.drainQueue()
			return
		}

		batch := []*batchRequest{first}
		timer := time.NewTimer(b.flush)

	gather:
		for len(batch) < hint {
			select {
			case req := <-b.queue:
				batch = append(batch, req)
			case <-timer.C:
				break gather
			case <-b.stop:
				break gather
			}
		}
		timer.Stop()

		b.dispatch(batch)
	}
}

// dispatch embeds one gathered batch and fans results back out.
func (b *Batcher) dispatch(batch []*batchRequest) {
	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	vectors, err := b.inner.Embed(ctx, texts)
	cancel()

	if err == nil && len(vectors) != len(batch) {
		err = cerr.Newf(cerr.KindProviderPermanent,
			"embedder returned %d vectors for %d texts", len(vectors), len(batch))
	}

	for i, req := range batch {
		if err != nil {
			req.done <- batchResult{err: err}
			continue
		}
		req.done <- batchResult{vector: vectors[i]}
	}
}

// drainQueue fails any requests still queued at shutdown.
func (b *Batcher) drainQueue() {
	for {
		select {
		case req := <-b.queue:
			req.done <- batchResult{err: cerr.New(cerr.KindProviderPermanent, "batcher is closed")}
		default:
			return
		}
	}
}

func (b *Batcher) Dimensions() int { return b.inner.Dimensions() }
func (b *Batcher) ModelID() string { return b.inner.ModelID() }
func (b *Batcher) BatchHint() int  { return b.inner.BatchHint() }

func (b *Batcher) Available(ctx context.Context) bool { return b.inner.Available(ctx) }

// Close stops the loop and closes the wrapped embedder.
func (b *Batcher) Close() error {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	<-b.done
	return b.inner.Close()
}
