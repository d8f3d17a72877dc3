package index

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codescope/codescope/internal/bus"
	cerr "github.com/codescope/codescope/internal/errors"
)

// State is the lifecycle state of an indexing operation.
// Transitions are monotone: Queued → Running → terminal. Terminal states
// are sticky; a new start produces a new operation.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// maxRecordedErrors bounds the per-operation error list.
const maxRecordedErrors = 100

// opRetention is how long terminal operations stay queryable.
const opRetention = time.Hour

// FileError records a non-fatal per-file failure.
type FileError struct {
	FilePath string `json:"file_path"`
	Message  string `json:"message"`
}

// Snapshot is an immutable view of an operation.
type Snapshot struct {
	OpID          string       `json:"op_id"`
	Collection    string       `json:"collection"`
	State         State        `json:"state"`
	StartedAt     time.Time    `json:"started_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Counters      bus.Counters `json:"counters"`
	Errors        []FileError  `json:"errors,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// Operation tracks one asynchronous indexing job. It is exclusively owned
// by its driving task; observers receive snapshots.
type Operation struct {
	opID       string
	collection string
	startedAt  time.Time

	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	counters      bus.Counters
	errors        []FileError
	droppedErrors int
	lastHeartbeat time.Time
	failureReason string
	finishedAt    time.Time
}

func newOperation(collection string, cancel context.CancelFunc) *Operation {
	now := time.Now().UTC()
	return &Operation{
		opID:          uuid.NewString(),
		collection:    collection,
		startedAt:     now,
		lastHeartbeat: now,
		state:         StateQueued,
		cancel:        cancel,
	}
}

// ID returns the operation id.
func (o *Operation) ID() string { return o.opID }

// Collection returns the canonical collection id.
func (o *Operation) Collection() string { return o.collection }

func (o *Operation) setRunning() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateQueued {
		o.state = StateRunning
		o.lastHeartbeat = time.Now().UTC()
	}
}

// finish moves the operation to a terminal state once; later calls no-op.
func (o *Operation) finish(state State, reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return false
	}
	o.state = state
	o.failureReason = reason
	o.lastHeartbeat = time.Now().UTC()
	o.finishedAt = o.lastHeartbeat
	return true
}

func (o *Operation) fileSeen() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters.FilesSeen++
	o.lastHeartbeat = time.Now().UTC()
}

// fileIndexed records a processed file and returns the new indexed count,
// which the service uses to pace progress events.
func (o *Operation) fileIndexed(chunksCreated int, bytes int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters.FilesIndexed++
	o.counters.ChunksCreated += chunksCreated
	o.counters.Bytes += bytes
	o.lastHeartbeat = time.Now().UTC()
	return o.counters.FilesIndexed
}

func (o *Operation) recordError(path, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters.ErrorCount++
	if len(o.errors) >= maxRecordedErrors {
		o.droppedErrors++
		return
	}
	o.errors = append(o.errors, FileError{FilePath: path, Message: message})
}

// Snapshot returns an immutable copy of the current state.
func (o *Operation) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	errs := make([]FileError, len(o.errors))
	copy(errs, o.errors)

	return Snapshot{
		OpID:          o.opID,
		Collection:    o.collection,
		State:         o.state,
		StartedAt:     o.startedAt,
		LastHeartbeat: o.lastHeartbeat,
		Counters:      o.counters,
		Errors:        errs,
		FailureReason: o.failureReason,
	}
}

func (o *Operation) countersSnapshot() bus.Counters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters
}

func (o *Operation) expired(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Terminal() && now.Sub(o.finishedAt) > opRetention
}

// operationRegistry tracks live and recently finished operations.
type operationRegistry struct {
	mu  sync.Mutex
	ops map[string]*Operation
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{ops: make(map[string]*Operation)}
}

func (r *operationRegistry) add(op *Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.ops[op.ID()] = op
}

func (r *operationRegistry) get(opID string) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	op, ok := r.ops[opID]
	if !ok {
		return nil, cerr.Newf(cerr.KindNotFound, "operation %s not found", opID)
	}
	return op, nil
}

// runningFor reports whether a non-terminal operation exists for the
// collection.
func (r *operationRegistry) runningFor(collection string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.ops {
		if op.Collection() != collection {
			continue
		}
		op.mu.Lock()
		terminal := op.state.Terminal()
		op.mu.Unlock()
		if !terminal {
			return true
		}
	}
	return false
}

// cancelAll requests cooperative cancellation of every live operation.
// Used by the composition root during teardown.
func (r *operationRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.ops {
		op.cancel()
	}
}

func (r *operationRegistry) pruneLocked() {
	now := time.Now().UTC()
	for id, op := range r.ops {
		if op.expired(now) {
			delete(r.ops, id)
		}
	}
}
