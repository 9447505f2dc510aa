package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("defaults pool size", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
		assert.NoError(t, client.Health())
	})
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), time.Minute))

	data, found, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(data))

	_, found, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	mr.FastForward(2 * time.Minute)
	_, found, _ = client.Get(ctx, "k")
	assert.False(t, found, "expired key should be gone")
}

func TestClient_SetNX(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "once", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "once", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	data, _, _ := client.Get(ctx, "once")
	assert.Equal(t, "a", string(data))
}

func TestClient_GetDel(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "state", []byte("entry"), time.Minute))

	var wg sync.WaitGroup
	var mu sync.Mutex
	hits := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := client.GetDel(ctx, "state")
			assert.NoError(t, err)
			if found {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, hits, "exactly one caller should observe the value")

	exists, err := client.Exists(ctx, "state")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_MemberWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, client.RecordMember(ctx, "dedup:u1", "old", now.Add(-30*time.Hour), 24*time.Hour))
	require.NoError(t, client.RecordMember(ctx, "dedup:u1", "fresh", now, 24*time.Hour))

	seen, err := client.MemberSince(ctx, "dedup:u1", "fresh", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = client.MemberSince(ctx, "dedup:u1", "old", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, seen, "member outside retention should be trimmed")

	seen, err = client.MemberSince(ctx, "dedup:u1", "never", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestClient_CheckRateLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := client.CheckRateLimit(ctx, "rl:user", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, count, err := client.CheckRateLimit(ctx, "rl:user", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
}
