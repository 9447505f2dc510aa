package oauthstate

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/crypto"
	"x-auto-post-tool/internal/redis"
)

func testClient() ClientConfig {
	return ClientConfig{
		ClientID:     "client-123",
		ClientSecret: "s3cret",
		RedirectURI:  "http://localhost:8000/auth/callback",
		Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
		AuthURL:      "https://provider.example.com/i/oauth2/authorize",
		TokenURL:     "https://provider.example.com/2/oauth2/token",
	}
}

func testCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	c, err := crypto.NewTokenCipher("test-master-secret")
	require.NoError(t, err)
	return c
}

func backends(t *testing.T) map[string]func() (Backend, *miniredis.Miniredis) {
	return map[string]func() (Backend, *miniredis.Miniredis){
		"memory": func() (Backend, *miniredis.Miniredis) {
			return NewMemoryBackend(time.Minute), nil
		},
		"redis": func() (Backend, *miniredis.Miniredis) {
			s := miniredis.RunT(t)
			client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
			require.NoError(t, err)
			t.Cleanup(func() { client.Close() })
			return NewRedisBackend(client), s
		},
	}
}

func TestStore_BeginAndConsume(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			backend, _ := newBackend()
			store, err := NewStore(backend, testCipher(t))
			require.NoError(t, err)
			ctx := context.Background()

			authURL, state, err := store.Begin(ctx, testClient())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(state), 43)

			u, err := url.Parse(authURL)
			require.NoError(t, err)
			q := u.Query()
			assert.Equal(t, state, q.Get("state"))
			assert.Equal(t, "S256", q.Get("code_challenge_method"))
			assert.Equal(t, "client-123", q.Get("client_id"))
			assert.Equal(t, "tweet.read tweet.write users.read offline.access", q.Get("scope"))

			entry, err := store.Consume(ctx, state)
			require.NoError(t, err)
			assert.Equal(t, state, entry.State)
			assert.Equal(t, "s3cret", entry.Client.ClientSecret)
			assert.Equal(t, oauth2.S256ChallengeFromVerifier(entry.CodeVerifier), q.Get("code_challenge"))

			_, err = store.Consume(ctx, state)
			assert.True(t, errors.IsType(err, errors.ErrTypeOAuthState))
		})
	}
}

func TestStore_SecretNotStoredInPlaintext(t *testing.T) {
	s := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	defer client.Close()

	store, err := NewStore(NewRedisBackend(client), testCipher(t))
	require.NoError(t, err)

	_, state, err := store.Begin(context.Background(), testClient())
	require.NoError(t, err)

	raw, err := s.Get("oauth:state:" + state)
	require.NoError(t, err)
	assert.NotContains(t, raw, "s3cret")
	assert.Equal(t, DefaultTTL, s.TTL("oauth:state:"+state))
}

func TestStore_Expiry(t *testing.T) {
	t.Run("redis ttl", func(t *testing.T) {
		s := miniredis.RunT(t)
		client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
		require.NoError(t, err)
		defer client.Close()

		store, err := NewStore(NewRedisBackend(client), testCipher(t))
		require.NoError(t, err)

		_, state, err := store.Begin(context.Background(), testClient())
		require.NoError(t, err)

		s.FastForward(DefaultTTL + time.Second)

		_, err = store.Consume(context.Background(), state)
		assert.True(t, errors.IsType(err, errors.ErrTypeOAuthState))
	})

	t.Run("age check", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		store, err := NewStore(NewMemoryBackend(time.Minute), testCipher(t), WithClock(clock))
		require.NoError(t, err)

		_, state, err := store.Begin(context.Background(), testClient())
		require.NoError(t, err)

		now = now.Add(DefaultTTL + time.Second)

		_, err = store.Consume(context.Background(), state)
		assert.True(t, errors.IsType(err, errors.ErrTypeOAuthState))
	})
}

func TestStore_ConcurrentConsume(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			backend, _ := newBackend()
			store, err := NewStore(backend, testCipher(t))
			require.NoError(t, err)
			ctx := context.Background()

			_, state, err := store.Begin(ctx, testClient())
			require.NoError(t, err)

			var wins, rejected int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Consume(ctx, state); err == nil {
						atomic.AddInt32(&wins, 1)
					} else if errors.IsType(err, errors.ErrTypeOAuthState) {
						atomic.AddInt32(&rejected, 1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins)
			assert.Equal(t, int32(15), rejected)
		})
	}
}

func TestStore_ConcurrentLoginsAreIndependent(t *testing.T) {
	store, err := NewStore(NewMemoryBackend(time.Minute), testCipher(t))
	require.NoError(t, err)
	ctx := context.Background()

	states := make([]string, 10)
	for i := range states {
		_, state, err := store.Begin(ctx, testClient())
		require.NoError(t, err)
		states[i] = state
	}

	for i := len(states) - 1; i >= 0; i-- {
		_, err := store.Consume(ctx, states[i])
		assert.NoError(t, err)
	}
}

func TestStore_Validation(t *testing.T) {
	store, err := NewStore(NewMemoryBackend(time.Minute), testCipher(t))
	require.NoError(t, err)
	ctx := context.Background()

	cfg := testClient()
	cfg.RedirectURI = "/relative"
	_, _, err = store.Begin(ctx, cfg)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	cfg = testClient()
	cfg.Scopes = nil
	_, _, err = store.Begin(ctx, cfg)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = store.Consume(ctx, "")
	assert.True(t, errors.IsType(err, errors.ErrTypeOAuthState))

	_, err = NewStore(nil, testCipher(t))
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

type failingBackend struct{}

func (failingBackend) Put(context.Context, string, []byte, time.Duration) error {
	return assert.AnError
}

func (failingBackend) Take(context.Context, string) ([]byte, bool, error) {
	return nil, false, assert.AnError
}

func TestStore_BackendOutage(t *testing.T) {
	store, err := NewStore(failingBackend{}, testCipher(t))
	require.NoError(t, err)

	_, _, err = store.Begin(context.Background(), testClient())
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))

	_, err = store.Consume(context.Background(), "some-state")
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestMemoryBackend_PutCollision(t *testing.T) {
	b := NewMemoryBackend(time.Minute)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "abc", []byte("1"), time.Minute))
	assert.ErrorIs(t, b.Put(ctx, "abc", []byte("2"), time.Minute), ErrStateExists)

	data, ok, err := b.Take(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), data)
}
