package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// maxLocalTTL bounds how long the in-process tier of a TwoTierCache holds an entry.
const maxLocalTTL = 5 * time.Minute

// Cache stores opaque values under string keys with a per-entry TTL.
// A read after the entry's TTL has elapsed is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found := l.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	return data, ok, nil
}

// Set stores a value in the local cache
func (l *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// Flush removes all items from the local cache
func (l *LocalCache) Flush() {
	l.cache.Flush()
}

// RedisCache wraps go-redis for distributed caching
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, _, found, err := r.getWithTTL(ctx, key)
	return data, found, err
}

// getWithTTL also returns how long the entry has left to live.
func (r *RedisCache) getWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, r.keyPrefix+key)
	ttlCmd := pipe.PTTL(ctx, r.keyPrefix+key)
	_, err := pipe.Exec(ctx)

	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	data, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, false, err
	}
	return data, ttlCmd.Val(), true, nil
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// TwoTierCache combines local and Redis cache. Redis is the source of truth;
// the local tier never outlives the Redis entry it mirrors.
type TwoTierCache struct {
	l1 *LocalCache
	l2 *RedisCache
}

// NewTwoTierCache creates a cache with local L1 and Redis L2
func NewTwoTierCache(localTTL, cleanupInterval time.Duration, redisClient *redis.Client, keyPrefix string) *TwoTierCache {
	return &TwoTierCache{
		l1: NewLocalCache(localTTL, cleanupInterval),
		l2: NewRedisCache(redisClient, keyPrefix),
	}
}

// Get checks L1 first, then L2
func (t *TwoTierCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, found, _ := t.l1.Get(ctx, key); found {
		return val, true, nil
	}

	val, remaining, found, err := t.l2.getWithTTL(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	if remaining > 0 {
		_ = t.l1.Set(ctx, key, val, localTTL(remaining))
	}
	return val, true, nil
}

// Set stores in both L1 and L2
func (t *TwoTierCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.l1.Set(ctx, key, value, localTTL(ttl))
}

// Delete removes from both L1 and L2
func (t *TwoTierCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func localTTL(ttl time.Duration) time.Duration {
	if ttl > maxLocalTTL {
		return maxLocalTTL
	}
	return ttl
}
