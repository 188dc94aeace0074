package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotKeyPrefix = "snapshot:"

// cacheEnvelope is the msgpack record stored in Redis. The payload keeps the
// exact serialized snapshot bytes so the cache and durable backends always
// round-trip the same record.
type cacheEnvelope struct {
	ID       string    `msgpack:"id"`
	StoredAt time.Time `msgpack:"stored_at"`
	Payload  []byte    `msgpack:"payload"`
}

// RedisCache is the fast, non-durable side of the snapshot store.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration // 0 means no expiry
}

// RedisCacheConfig holds Redis cache configuration.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache creates a Redis-backed cache and verifies connectivity.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

// NewRedisCacheFromClient wraps an existing client. Used by tests running
// against miniredis.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Name identifies this backend in errors and logs.
func (c *RedisCache) Name() string { return "cache" }

// Put stores the serialized snapshot under its id.
func (c *RedisCache) Put(ctx context.Context, id string, data []byte) error {
	envelope, err := msgpack.Marshal(cacheEnvelope{
		ID:       id,
		StoredAt: time.Now().UTC(),
		Payload:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache envelope: %w", err)
	}
	return c.client.Set(ctx, snapshotKeyPrefix+id, envelope, c.ttl).Err()
}

// Get retrieves the serialized snapshot. A miss returns found=false with a
// nil error.
func (c *RedisCache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, snapshotKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var envelope cacheEnvelope
	if err := msgpack.Unmarshal(raw, &envelope); err != nil {
		// A corrupt cache entry is not fatal; treat it as a miss so the
		// durable backend can repopulate it.
		return nil, false, nil
	}
	return envelope.Payload, true, nil
}

// ListIDs enumerates cached snapshot ids.
func (c *RedisCache) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := c.client.Keys(ctx, snapshotKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, snapshotKeyPrefix))
	}
	return ids, nil
}

// DeleteAll removes every cached snapshot.
func (c *RedisCache) DeleteAll(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, snapshotKeyPrefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping checks backend reachability.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
