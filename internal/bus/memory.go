package bus

import (
	"context"
	"sync"
	"time"

	cerr "github.com/codescope/codescope/internal/errors"
)

// subscriberBuffer bounds each subscriber's queue. Publishers block when a
// live subscriber falls this far behind; an unsubscribed channel never
// blocks a publisher.
const subscriberBuffer = 256

// Memory is the in-process event bus. Each subscriber owns a forwarding
// goroutine, so publishers only ever write to channels the bus owns and an
// unsubscribe can never race a publish.
type Memory struct {
	mu          sync.Mutex
	subscribers map[int]*memorySubscriber
	nextID      int
	closed      bool
}

type memorySubscriber struct {
	filter Filter
	in     chan Event // written by Publish, never closed
	out    chan Event // closed by the forwarder on unsubscribe
	done   chan struct{}
	once   sync.Once
}

var _ EventBus = (*Memory)(nil)

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{subscribers: make(map[int]*memorySubscriber)}
}

// Publish delivers the event to every matching subscriber; the order in
// which subscribers are served is not defined. Subscribers receive
// independent copies by value semantics.
func (m *Memory) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return cerr.New(cerr.KindInternal, "event bus is closed")
	}
	subs := make([]*memorySubscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		if sub.filter.Matches(event) {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.in <- event:
		case <-sub.done:
		case <-ctx.Done():
			return cerr.Wrap(cerr.KindCancelled, "publish cancelled", ctx.Err())
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber and returns its stream plus a
// cancel function. The stream is closed on cancel and on bus Close.
func (m *Memory) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, cerr.New(cerr.KindInternal, "event bus is closed")
	}

	id := m.nextID
	m.nextID++
	sub := &memorySubscriber{
		filter: filter,
		in:     make(chan Event, subscriberBuffer),
		out:    make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	m.subscribers[id] = sub
	go sub.forward()

	cancel := func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
		sub.stop()
	}
	return sub.out, cancel, nil
}

// forward moves events from the publish side to the subscriber side until
// stopped, then closes the outbound channel.
func (s *memorySubscriber) forward() {
	defer close(s.out)
	for {
		select {
		case event := <-s.in:
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Close shuts the bus down; all subscriber streams are closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memorySubscriber, 0, len(m.subscribers))
	for id, sub := range m.subscribers {
		delete(m.subscribers, id)
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}
