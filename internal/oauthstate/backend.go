package oauthstate

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"x-auto-post-tool/internal/redis"
)

// MemoryBackend keeps entries in process. go-cache's janitor sweeps expired
// entries; Take treats them as absent even before the sweep.
type MemoryBackend struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryBackend creates a MemoryBackend that sweeps every cleanupInterval.
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryBackend{cache: cache.New(DefaultTTL, cleanupInterval)}
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, state string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cache.Add(state, data, ttl); err != nil {
		return ErrStateExists
	}
	return nil
}

// Take implements Backend.
func (m *MemoryBackend) Take(_ context.Context, state string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache.Get(state)
	if !ok {
		return nil, false, nil
	}
	m.cache.Delete(state)

	data, _ := v.([]byte)
	return data, true, nil
}

// RedisBackend stores entries under oauth:state:<state> with a Redis TTL, so
// states started on one instance can be redeemed on another.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis backed state store.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "oauth:state:"}
}

// Put implements Backend.
func (r *RedisBackend) Put(ctx context.Context, state string, data []byte, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, r.prefix+state, data, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

// Take implements Backend with GETDEL.
func (r *RedisBackend) Take(ctx context.Context, state string) ([]byte, bool, error) {
	return r.client.GetDel(ctx, r.prefix+state)
}
