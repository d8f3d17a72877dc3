package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	cerr "github.com/codescope/codescope/internal/errors"
)

// redisKeyPrefix scopes all entries so the cache can share a Redis
// instance with other applications.
const redisKeyPrefix = "codescope:cache:"

// Redis is the distributed cache backend. Same contract as Memory with
// network I/O; expiry is delegated to Redis TTLs.
type Redis struct {
	client *redis.Client
}

var _ Cache = (*Redis)(nil)

// NewRedis connects to a Redis instance and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	if addr == "" {
		return nil, cerr.New(cerr.KindConfig, "redis addr is required")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, cerr.Wrap(cerr.KindProviderTransient, "connect to redis", err)
	}
	return &Redis{client: client}, nil
}

func redisKey(namespace, key string) string {
	return redisKeyPrefix + namespace + ":" + key
}

// Get returns the value for (namespace, key).
func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cerr.Wrap(cerr.KindProviderTransient, "redis get", err)
	}
	return val, true, nil
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cerr.New(cerr.KindInvalidInput, "cache ttl must be positive")
	}
	if err := r.client.Set(ctx, redisKey(namespace, key), value, ttl).Err(); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "redis set", err)
	}
	return nil
}

// Invalidate removes one entry.
func (r *Redis) Invalidate(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "redis del", err)
	}
	return nil
}

// Clear removes every entry in a namespace via cursor iteration, which
// stays O(namespace) instead of O(keyspace).
func (r *Redis) Clear(ctx context.Context, namespace string) error {
	pattern := redisKeyPrefix + namespace + ":*"
	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 256 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return cerr.Wrap(cerr.KindProviderTransient, "redis clear", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return cerr.Wrap(cerr.KindProviderTransient, "redis scan", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return cerr.Wrap(cerr.KindProviderTransient, "redis clear", err)
		}
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
