package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	cerr "github.com/codescope/codescope/internal/errors"
)

// redisChannel is the pub/sub channel all events travel on; filtering is
// client-side per subscriber.
const redisChannel = "codescope:events"

// Redis is the distributed event bus over Redis pub/sub. Redis delivers
// each message once per connected subscriber; reconnects may replay or
// drop at the boundary, which fits the at-least-once contract.
type Redis struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []func()
	closed bool
}

var _ EventBus = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, endpoint string) (*Redis, error) {
	if endpoint == "" {
		return nil, cerr.New(cerr.KindConfig, "event bus endpoint is required")
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cerr.Wrap(cerr.KindProviderTransient, "connect to redis", err)
	}
	return &Redis{client: client}, nil
}

// Publish serialises the event and publishes it on the shared channel.
func (r *Redis) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return cerr.Wrap(cerr.KindInternal, "encode event", err)
	}
	if err := r.client.Publish(ctx, redisChannel, payload).Err(); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "publish event", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection and decodes matching
// events into the returned channel.
func (r *Redis) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, cerr.New(cerr.KindInternal, "event bus is closed")
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, redisChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, cerr.Wrap(cerr.KindProviderTransient, "subscribe", err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := pubsub.Channel()
		for {
			select {
			case msg, ok := <-src:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("event_decode_failed", slog.String("error", err.Error()))
					continue
				}
				if !filter.Matches(event) {
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	r.mu.Lock()
	r.subs = append(r.subs, cancel)
	r.mu.Unlock()

	return out, cancel, nil
}

// Close cancels all subscriptions and releases the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	return r.client.Close()
}
