package autopost

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/crypto"
	"x-auto-post-tool/internal/database"
	"x-auto-post-tool/internal/dedup"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/provider"
	"x-auto-post-tool/internal/resilience"
	"x-auto-post-tool/internal/services/github"
	"x-auto-post-tool/internal/services/openai"
	"x-auto-post-tool/internal/services/twitter"
	"x-auto-post-tool/internal/tokenvault"
)

type fakeCommits struct {
	calls int32
	err   error
}

func (f *fakeCommits) LatestCommit(_ context.Context, repository string) (*github.Commit, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &github.Commit{SHA: "a1b2c3", Message: "Add dark mode"}, nil
}

type fakeGenerator struct {
	calls int32
	text  string
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, p openai.Prompt) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakePoster struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (f *fakePoster) Post(_ context.Context, accessToken, text string) (*twitter.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	if f.err != nil {
		return nil, f.err
	}
	return &twitter.PostResult{ID: "1789", Text: text}, nil
}

func (f *fakePoster) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type staticTokens struct {
	token string
}

func (s staticTokens) GetDecryptedAccessToken(context.Context, string, string) (string, bool, error) {
	return s.token, s.token != "", nil
}

type refresher struct {
	calls int32
}

func (r *refresher) Refresh(context.Context, oauthstate.ClientConfig, string) (*provider.TokenResponse, error) {
	atomic.AddInt32(&r.calls, 1)
	return &provider.TokenResponse{AccessToken: "access-refreshed", RefreshToken: "refresh-2", ExpiresIn: 7200}, nil
}

func failFast(name string) resilience.Policy {
	return resilience.Policy{
		Name:            name,
		Timeout:         time.Second,
		MaxAttempts:     1,
		InitialDelay:    time.Millisecond,
		MaxDelay:        time.Millisecond,
		BackoffFactor:   2,
		CacheTTL:        time.Minute,
		RateLimitBudget: 10 * time.Millisecond,
	}
}

type harness struct {
	orch      *Orchestrator
	commits   *fakeCommits
	generator *fakeGenerator
	poster    *fakePoster
	breakers  *circuitbreaker.Registry
}

func newHarness(t *testing.T, tokens Tokens) *harness {
	t.Helper()

	logger := logging.NewNopLogger()
	breakers, err := circuitbreaker.NewRegistry(circuitbreaker.ImplNative,
		circuitbreaker.Config{FailureThreshold: 3, RecoveryTimeout: time.Hour}, nil, logger)
	require.NoError(t, err)

	c := cache.NewLocalCache(time.Minute, time.Minute)
	invoker := func(name string) *resilience.Invoker {
		return resilience.NewInvoker(failFast(name), breakers.Get(name), c, logger)
	}

	h := &harness{
		commits:   &fakeCommits{},
		generator: &fakeGenerator{text: "Dark mode is live #buildinpublic"},
		poster:    &fakePoster{},
		breakers:  breakers,
	}

	h.orch, err = New(Config{
		Commits:   h.commits,
		Generator: h.generator,
		Poster:    h.poster,
		Tokens:    tokens,
		Dedup:     dedup.NewGuard(dedup.NewMemoryStore(), dedup.WithLogger(logger)),
		Invokers: Invokers{
			Commits:    invoker(github.ServiceName),
			Generation: invoker(openai.ServiceName),
			Post:       invoker(twitter.ServiceName),
		},
		Logger: logger,
	})
	require.NoError(t, err)
	return h
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, staticTokens{token: "user-token"})

	res, err := h.orch.Run(context.Background(), Request{UserID: "u1", Repository: "octo/app"})
	require.NoError(t, err)

	assert.Equal(t, "1789", res.PostID)
	assert.Equal(t, "a1b2c3", res.CommitSHA)
	assert.Equal(t, "Dark mode is live #buildinpublic", res.Text)
	assert.Equal(t, []string{"user-token"}, h.poster.tokens)
}

func TestRun_DuplicateIsRejected(t *testing.T) {
	h := newHarness(t, staticTokens{token: "user-token"})
	ctx := context.Background()

	_, err := h.orch.Run(ctx, Request{UserID: "u1", Repository: "octo/app", Language: "en"})
	require.NoError(t, err)

	_, err = h.orch.Run(ctx, Request{UserID: "u1", Repository: "octo/app", Language: "en"})
	assert.True(t, errors.IsType(err, errors.ErrTypeDuplicate))
	assert.Equal(t, 1, h.poster.calls())

	// commit and generation came from the cache the second time
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.commits.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.generator.calls))

	// another account may post the same text
	_, err = h.orch.Run(ctx, Request{UserID: "u2", Repository: "octo/app", Language: "en"})
	assert.NoError(t, err)
}

func TestRun_MissingTokenRequiresLogin(t *testing.T) {
	h := newHarness(t, staticTokens{})

	_, err := h.orch.Run(context.Background(), Request{UserID: "u1", Repository: "octo/app"})
	assert.True(t, errors.IsType(err, errors.ErrTypeAuthRequired))
	assert.Equal(t, 0, h.poster.calls())
}

func TestRun_PostBreakerOpensAfterThreeFailures(t *testing.T) {
	h := newHarness(t, staticTokens{token: "user-token"})
	h.poster.err = &resilience.StatusError{Service: "twitter", StatusCode: http.StatusBadGateway}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orch.Run(ctx, Request{UserID: "u1", Repository: "octo/app"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
		assert.Equal(t, StagePost, errors.Stage(err))
	}
	assert.Equal(t, 3, h.poster.calls())

	_, err := h.orch.Run(ctx, Request{UserID: "u1", Repository: "octo/app"})
	assert.True(t, errors.IsType(err, errors.ErrTypeServiceUnavailable))
	assert.Equal(t, StagePost, errors.Stage(err))
	assert.Equal(t, 3, h.poster.calls(), "open breaker must not reach the network")
	assert.Equal(t, circuitbreaker.StateOpen, h.breakers.Get(twitter.ServiceName).State())
}

func TestRun_StageTags(t *testing.T) {
	t.Run("commit fetch", func(t *testing.T) {
		h := newHarness(t, staticTokens{token: "user-token"})
		h.commits.err = &resilience.StatusError{Service: "github", StatusCode: http.StatusInternalServerError}

		_, err := h.orch.Run(context.Background(), Request{UserID: "u1", Repository: "octo/app"})
		assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
		assert.Equal(t, StageCommitFetch, errors.Stage(err))
		assert.Equal(t, int32(0), atomic.LoadInt32(&h.generator.calls))
	})

	t.Run("generation rate limited", func(t *testing.T) {
		h := newHarness(t, staticTokens{token: "user-token"})
		h.generator.err = &resilience.StatusError{Service: "openai", StatusCode: http.StatusTooManyRequests, RetryAfter: time.Minute}

		_, err := h.orch.Run(context.Background(), Request{UserID: "u1", Repository: "octo/app"})
		assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
		assert.Equal(t, StageGeneration, errors.Stage(err))
		assert.Equal(t, time.Minute, errors.RetryAfter(err))
	})

	t.Run("rejected token", func(t *testing.T) {
		h := newHarness(t, staticTokens{token: "user-token"})
		h.poster.err = &resilience.StatusError{Service: "twitter", StatusCode: http.StatusUnauthorized}

		_, err := h.orch.Run(context.Background(), Request{UserID: "u1", Repository: "octo/app"})
		assert.True(t, errors.IsType(err, errors.ErrTypeAuthRequired))
		assert.Equal(t, StagePost, errors.Stage(err))
		assert.Equal(t, circuitbreaker.StateClosed, h.breakers.Get(twitter.ServiceName).State())
	})
}

func TestRun_Validation(t *testing.T) {
	h := newHarness(t, staticTokens{token: "user-token"})

	for _, req := range []Request{
		{UserID: "", Repository: "octo/app"},
		{UserID: "u1", Repository: "not a repo"},
		{UserID: "u1", Repository: "octo/app", Language: "fr"},
	} {
		_, err := h.orch.Run(context.Background(), req)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "request %+v", req)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.commits.calls))
}

func TestRun_ExpiredTokenIsRefreshed(t *testing.T) {
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Type: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.NewTokenCipher("autopost-test-secret")
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	ref := &refresher{}
	vault, err := tokenvault.New(tokenvault.Config{
		Repository: tokenvault.NewSQLRepository(db),
		Cipher:     cipher,
		Refresher:  ref,
		Clients:    map[string]oauthstate.ClientConfig{Provider: {ClientID: "client"}},
		Now:        clock,
		Logger:     logging.NewNopLogger(),
	})
	require.NoError(t, err)

	_, err = vault.Save(ctx, "u1", Provider, &provider.TokenResponse{
		AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600,
	})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	h := newHarness(t, vault)
	res, err := h.orch.Run(ctx, Request{UserID: "u1", Repository: "octo/app"})
	require.NoError(t, err)
	assert.Equal(t, "1789", res.PostID)

	assert.Equal(t, []string{"access-refreshed"}, h.poster.tokens)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ref.calls))

	history, err := vault.History(ctx, "u1", Provider)
	require.NoError(t, err)
	require.Len(t, history, 2)

	active := 0
	for _, tok := range history {
		if tok.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
