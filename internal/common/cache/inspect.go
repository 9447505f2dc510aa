package cache

import (
	"context"
	"strings"
)

// Inspector is implemented by caches that can count and drop every entry of
// a key namespace (the part of the key before the first ':').
type Inspector interface {
	Count(ctx context.Context, namespace string) (int, error)
	Clear(ctx context.Context, namespace string) (int, error)
}

func namespacePrefix(namespace string) string {
	return namespace + ":"
}

// Count returns the number of live entries in namespace.
func (l *LocalCache) Count(ctx context.Context, namespace string) (int, error) {
	prefix := namespacePrefix(namespace)
	n := 0
	for key := range l.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n, nil
}

// Clear drops every entry in namespace.
func (l *LocalCache) Clear(ctx context.Context, namespace string) (int, error) {
	prefix := namespacePrefix(namespace)
	n := 0
	for key := range l.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			l.cache.Delete(key)
			n++
		}
	}
	return n, nil
}

// scan walks the keys of namespace with SCAN so large keyspaces never block Redis.
func (r *RedisCache) scan(ctx context.Context, namespace string, fn func(keys []string) error) error {
	match := r.keyPrefix + namespacePrefix(namespace) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Count returns the number of entries in namespace.
func (r *RedisCache) Count(ctx context.Context, namespace string) (int, error) {
	n := 0
	err := r.scan(ctx, namespace, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

// Clear deletes every entry in namespace.
func (r *RedisCache) Clear(ctx context.Context, namespace string) (int, error) {
	n := 0
	err := r.scan(ctx, namespace, func(keys []string) error {
		deleted, err := r.client.Del(ctx, keys...).Result()
		n += int(deleted)
		return err
	})
	return n, err
}

// Count reports the Redis tier, which holds every entry the local tier does.
func (t *TwoTierCache) Count(ctx context.Context, namespace string) (int, error) {
	return t.l2.Count(ctx, namespace)
}

// Clear drops namespace from both tiers and reports what Redis held.
func (t *TwoTierCache) Clear(ctx context.Context, namespace string) (int, error) {
	_, _ = t.l1.Clear(ctx, namespace)
	return t.l2.Clear(ctx, namespace)
}
