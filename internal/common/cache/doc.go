// Package cache provides short-lived response caching with multiple backends.
//
// This package wraps:
//   - github.com/patrickmn/go-cache for local in-memory caching
//   - github.com/go-redis/redis/v8 for distributed Redis caching
//
// Three cache types are available:
//   - LocalCache: fast, process-local, lost on restart
//   - RedisCache: shared between instances, survives restarts
//   - TwoTierCache: LocalCache in front of RedisCache
//
// Values are opaque byte slices; callers choose the encoding. ContentKey and
// ResourceKey build keys for content-addressed and lookup entries.
package cache
