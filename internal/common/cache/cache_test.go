package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(time.Minute, time.Minute)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 50*time.Millisecond))

	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	time.Sleep(80 * time.Millisecond)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found, "read after ttl must miss")

	require.NoError(t, c.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, "d"))
	_, found, _ = c.Get(ctx, "d")
	assert.False(t, found)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	c := NewRedisCache(client, "test:")

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"), "key prefix should be applied")

	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	_, found, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	mr.Close()
	_, _, err = c.Get(ctx, "k")
	assert.Error(t, err, "backend outage should surface as an error")
}

func TestTwoTierCache(t *testing.T) {
	ctx := context.Background()
	client, _ := setupRedis(t)

	t.Run("write through both tiers", func(t *testing.T) {
		c := NewTwoTierCache(time.Minute, time.Minute, client, "tt:")
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Hour))

		val, found, _ := c.l1.Get(ctx, "k")
		assert.True(t, found)
		assert.Equal(t, []byte("v"), val)

		val, found, _ = c.l2.Get(ctx, "k")
		assert.True(t, found)
		assert.Equal(t, []byte("v"), val)
	})

	t.Run("promotes l2 hits", func(t *testing.T) {
		c := NewTwoTierCache(time.Minute, time.Minute, client, "tt:")
		require.NoError(t, c.l2.Set(ctx, "p", []byte("x"), time.Minute))

		val, found, err := c.Get(ctx, "p")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("x"), val)

		_, found, _ = c.l1.Get(ctx, "p")
		assert.True(t, found)
	})

	t.Run("delete clears both tiers", func(t *testing.T) {
		c := NewTwoTierCache(time.Minute, time.Minute, client, "tt:")
		require.NoError(t, c.Set(ctx, "d", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "d"))

		_, found, _ := c.Get(ctx, "d")
		assert.False(t, found)
	})
}

func TestLocalTTLCap(t *testing.T) {
	assert.Equal(t, maxLocalTTL, localTTL(time.Hour))
	assert.Equal(t, time.Minute, localTTL(time.Minute))
}

func TestNew(t *testing.T) {
	client, _ := setupRedis(t)

	_, err := New(Config{Type: TypeLocal, TTL: time.Minute, CleanupInterval: time.Minute})
	assert.NoError(t, err)

	_, err = New(Config{Type: TypeRedis})
	assert.Error(t, err)

	c, err := New(Config{Type: TypeTwoTier, RedisClient: client, KeyPrefix: "x:"})
	require.NoError(t, err)
	assert.IsType(t, &TwoTierCache{}, c)

	_, err = New(Config{Type: "bogus"})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	a := ContentKey("generation", "fix  bug\n", "owner/repo", "ja")
	b := ContentKey("generation", "fix bug", "owner/repo", "ja")
	c := ContentKey("generation", "fix bug", "owner/repo", "en")

	assert.Equal(t, a, b, "whitespace differences should not change the key")
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "generation:")

	assert.NotEqual(t, ContentKey("g", "ab", "c"), ContentKey("g", "a", "bc"), "part boundaries matter")
	assert.Equal(t, "commit:owner/repo", ResourceKey("commit", " Owner/Repo "))
}
