package export

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink receives encoded reports. Every blobstore.Store is a Sink.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Pruner is implemented by sinks that support retention.
// Every blobstore.Store is a Pruner.
type Pruner interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// RedisClient is the subset of redis.Cmdable used by RedisSink.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// DefaultRedisTTL is the expiry of reports written to Redis.
const DefaultRedisTTL = 24 * time.Hour

// RedisSink stores reports as Redis strings that expire after TTL.
// Retention is left to the TTL, so RedisSink is not a Pruner.
type RedisSink struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink writing keys "<prefix><name>".
// A non-positive ttl uses DefaultRedisTTL.
func NewRedisSink(client RedisClient, prefix string, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Put implements Sink.
func (s *RedisSink) Put(ctx context.Context, name string, data []byte) error {
	return s.client.Set(ctx, s.prefix+name, data, s.ttl).Err()
}
