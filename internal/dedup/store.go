package dedup

import (
	"context"
	"sync"
	"time"

	"x-auto-post-tool/internal/redis"
)

// MemoryStore keeps hashes in process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]time.Time)}
}

// Seen implements Store.
func (m *MemoryStore) Seen(_ context.Context, scope, hash string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.entries[scope][hash]
	return ok && !at.Before(since), nil
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, scope, hash string, at time.Time, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashes, ok := m.entries[scope]
	if !ok {
		hashes = make(map[string]time.Time)
		m.entries[scope] = hashes
	}
	hashes[hash] = at

	cutoff := at.Add(-retention)
	for h, t := range hashes {
		if t.Before(cutoff) {
			delete(hashes, h)
		}
	}
	return nil
}

// RedisStore keeps one sorted set per scope, scored by post time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis backed store under dedup:<scope>.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "dedup:"}
}

// Seen implements Store.
func (r *RedisStore) Seen(ctx context.Context, scope, hash string, since time.Time) (bool, error) {
	return r.client.MemberSince(ctx, r.prefix+scope, hash, since)
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, scope, hash string, at time.Time, retention time.Duration) error {
	return r.client.RecordMember(ctx, r.prefix+scope, hash, at, retention)
}
