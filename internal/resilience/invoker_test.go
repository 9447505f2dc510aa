package resilience

import (
	"context"
	stderrors "errors"
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
)

func testPolicy() Policy {
	return Policy{
		Name:            "twitter",
		Timeout:         200 * time.Millisecond,
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        4 * time.Millisecond,
		BackoffFactor:   2,
		CacheTTL:        time.Minute,
		RateLimitBudget: 50 * time.Millisecond,
	}
}

func newTestInvoker(policy Policy, threshold int) (*Invoker, *circuitbreaker.CircuitBreaker) {
	breaker := circuitbreaker.New(policy.Name, circuitbreaker.Config{FailureThreshold: threshold, RecoveryTimeout: time.Hour})
	c := cache.NewLocalCache(time.Minute, time.Minute)
	return NewInvoker(policy, breaker, c, logging.NewNopLogger()), breaker
}

type commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

func TestDo_CacheHitSkipsCall(t *testing.T) {
	inv, _ := newTestInvoker(testPolicy(), 3)
	ctx := context.Background()
	calls := 0

	call := func(ctx context.Context) (commit, error) {
		calls++
		return commit{SHA: "abc", Message: "fix bug"}, nil
	}

	first, err := Do(ctx, inv, "commit:owner/repo", call)
	require.NoError(t, err)
	second, err := Do(ctx, inv, "commit:owner/repo", call)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDo_EmptyKeyNeverCaches(t *testing.T) {
	inv, _ := newTestInvoker(testPolicy(), 3)
	calls := 0

	for i := 0; i < 2; i++ {
		_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
			calls++
			return "posted", nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, calls)
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	inv, breaker := newTestInvoker(testPolicy(), 3)
	calls := 0

	v, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Service: "twitter", StatusCode: http.StatusBadGateway}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, breaker.Stats().ConsecutiveFailures)
}

func TestDo_RetriesAreBounded(t *testing.T) {
	inv, breaker := newTestInvoker(testPolicy(), 3)
	calls := 0

	_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Service: "twitter", StatusCode: http.StatusServiceUnavailable}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	assert.Equal(t, 503, StatusCode(err))
	assert.Equal(t, 1, breaker.Stats().ConsecutiveFailures, "one invocation reports one outcome")
}

func TestDo_ClientErrorIsNotRetried(t *testing.T) {
	inv, breaker := newTestInvoker(testPolicy(), 3)
	calls := 0

	_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Service: "twitter", StatusCode: http.StatusForbidden}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, breaker.Stats().ConsecutiveFailures, "4xx says nothing about service health")
}

func TestDo_TimeoutPerAttempt(t *testing.T) {
	policy := testPolicy()
	policy.Timeout = 10 * time.Millisecond
	policy.MaxAttempts = 2
	inv, _ := newTestInvoker(policy, 3)
	calls := 0

	_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

func TestDo_RateLimitWithinBudgetRetriesOnce(t *testing.T) {
	inv, _ := newTestInvoker(testPolicy(), 3)
	calls := 0

	v, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &StatusError{Service: "twitter", StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Millisecond}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestDo_RateLimitOnlyRetriedOnce(t *testing.T) {
	inv, _ := newTestInvoker(testPolicy(), 3)
	calls := 0

	_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Service: "twitter", StatusCode: http.StatusTooManyRequests, RetryAfter: time.Millisecond}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
}

func TestDo_RateLimitBeyondBudgetFailsFast(t *testing.T) {
	inv, _ := newTestInvoker(testPolicy(), 3)
	calls := 0

	_, err := Do(context.Background(), inv, "", func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Service: "twitter", StatusCode: http.StatusTooManyRequests, RetryAfter: 15 * time.Minute}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	assert.Equal(t, 15*time.Minute, errors.RetryAfter(err))
}

func TestDo_OpenBreakerSkipsCall(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 1
	inv, breaker := newTestInvoker(policy, 3)
	calls := 0

	fail := func(ctx context.Context) (string, error) {
		calls++
		return "", &StatusError{Service: "twitter", StatusCode: http.StatusInternalServerError}
	}

	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), inv, "", fail)
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := Do(context.Background(), inv, "", fail)
	assert.True(t, errors.IsType(err, errors.ErrTypeServiceUnavailable))
	assert.Equal(t, 3, calls, "no network call once the circuit is open")
}

func TestDo_CacheHitBypassesOpenBreaker(t *testing.T) {
	inv, breaker := newTestInvoker(testPolicy(), 1)
	ctx := context.Background()

	_, err := Do(ctx, inv, "k", func(ctx context.Context) (string, error) { return "cached", nil })
	require.NoError(t, err)

	breaker.RecordFailure()
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	v, err := Do(ctx, inv, "k", func(ctx context.Context) (string, error) {
		t.Fatal("call must not run on a cache hit")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", v)
}

func TestDo_FailureIsNotCached(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 1
	inv, _ := newTestInvoker(policy, 5)
	calls := 0

	call := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &StatusError{Service: "openai", StatusCode: 500}
		}
		return "text", nil
	}

	_, err := Do(context.Background(), inv, "gen:1", call)
	require.Error(t, err)

	v, err := Do(context.Background(), inv, "gen:1", call)
	require.NoError(t, err)
	assert.Equal(t, "text", v)
}

func TestDo_CollapsesConcurrentCalls(t *testing.T) {
	policy := testPolicy()
	policy.CacheTTL = 0
	inv, _ := newTestInvoker(policy, 3)

	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), inv, "same", func(ctx context.Context) (string, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return "shared", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestDo_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	inv, breaker := newTestInvoker(testPolicy(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := Do(ctx, inv, "", func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Equal(t, 0, breaker.Stats().TotalFailures)
}

func TestDo_CancelledTrialIsHandedBack(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuitbreaker.New("twitter",
		circuitbreaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		circuitbreaker.WithClock(func() time.Time { return clock }),
	)
	inv := NewInvoker(testPolicy(), breaker, nil, logging.NewNopLogger())

	breaker.RecordFailure()
	clock = clock.Add(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, inv, "", func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateHalfOpen, breaker.State())

	v, err := Do(context.Background(), inv, "", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err, "the next caller gets the trial")
	assert.Equal(t, 7, v)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestDo_SharedCallSurvivesFirstCallerCancel(t *testing.T) {
	policy := testPolicy()
	policy.CacheTTL = 0
	policy.Timeout = time.Second
	inv, breaker := newTestInvoker(policy, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	call := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "posted", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Do(first, inv, "k", call)
		firstErr <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		v, err := Do(context.Background(), inv, "k", call)
		assert.NoError(t, err)
		second <- v
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, "posted", <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, stderrors.New("redis down")
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return stderrors.New("redis down")
}
func (brokenCache) Delete(ctx context.Context, key string) error { return nil }

func TestDo_CacheOutageDoesNotFailCall(t *testing.T) {
	breaker := circuitbreaker.New("github", circuitbreaker.DefaultConfig())
	inv := NewInvoker(testPolicy(), breaker, brokenCache{}, logging.NewNopLogger())

	v, err := Do(context.Background(), inv, "k", func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
