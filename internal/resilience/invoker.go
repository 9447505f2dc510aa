// Package resilience wraps outbound calls with caching, circuit breaking,
// timeouts and retries.
//
// Every protected service gets one Invoker built from its Policy. The order
// of operations is fixed:
//
//  1. cache lookup by the caller's key; a hit returns without calling out
//  2. breaker permit; a rejection fails fast with a service unavailable error
//  3. the call, under a per-attempt timeout
//  4. transient failures retried with capped exponential backoff
//  5. a throttling answer retried once if its reset hint fits the wait budget
//  6. the outcome reported to the breaker, and a success written to the cache
package resilience

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/common/utils"
)

// Policy holds the per-service knobs.
type Policy struct {
	// Name identifies the service in errors, logs and the breaker registry.
	Name string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxAttempts bounds attempts for transient failures, including the first.
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// CacheTTL is how long successful results are kept; zero disables caching.
	CacheTTL time.Duration
	// RateLimitBudget is the longest reset hint we are willing to wait out.
	RateLimitBudget time.Duration
}

// DefaultPolicy returns a policy with conservative defaults for name.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffFactor:   2,
		RateLimitBudget: 5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy(p.Name)
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = d.BackoffFactor
	}
	return p
}

// Invoker applies a Policy to calls against one service. It is safe for concurrent use.
type Invoker struct {
	policy  Policy
	breaker circuitbreaker.Breaker
	cache   cache.Cache
	logger  logging.Logger
	group   singleflight.Group
}

// NewInvoker creates an Invoker. c may be nil, which disables caching.
func NewInvoker(policy Policy, breaker circuitbreaker.Breaker, c cache.Cache, logger logging.Logger) *Invoker {
	return &Invoker{
		policy:  policy.normalized(),
		breaker: breaker,
		cache:   c,
		logger:  logging.OrGlobal(logger).WithFields(logging.String("service", policy.Name)),
	}
}

// Policy returns the effective policy.
func (inv *Invoker) Policy() Policy {
	return inv.policy
}

// Breaker returns the breaker guarding this service.
func (inv *Invoker) Breaker() circuitbreaker.Breaker {
	return inv.breaker
}

// Do runs call through inv. An empty key disables both caching and the
// collapsing of concurrent identical calls.
func Do[T any](ctx context.Context, inv *Invoker, key string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if key != "" {
		if v, ok := lookup[T](ctx, inv, key); ok {
			return v, nil
		}

		// concurrent callers with the same key share one downstream call. It
		// runs detached from any single caller's cancellation; each caller
		// stops waiting when its own context ends.
		ch := inv.group.DoChan(key, func() (interface{}, error) {
			return execute(context.WithoutCancel(ctx), inv, key, call)
		})

		select {
		case <-ctx.Done():
			return zero, errors.ServiceError(inv.policy.Name, ctx.Err())
		case r := <-ch:
			if r.Shared {
				inv.logger.Debug("Shared in-flight call", logging.String("key", key))
			}
			if r.Err != nil {
				return zero, r.Err
			}
			res, _ := r.Val.(T)
			return res, nil
		}
	}

	return execute(ctx, inv, "", call)
}

func lookup[T any](ctx context.Context, inv *Invoker, key string) (T, bool) {
	var v T
	if inv.cache == nil || inv.policy.CacheTTL <= 0 {
		return v, false
	}

	data, found, err := inv.cache.Get(ctx, key)
	if err != nil {
		inv.logger.Warn("Cache read failed, calling service", logging.String("key", key), logging.Err(err))
		return v, false
	}
	if !found {
		return v, false
	}

	if err := json.Unmarshal(data, &v); err != nil {
		inv.logger.Warn("Discarding undecodable cache entry", logging.String("key", key), logging.Err(err))
		return v, false
	}

	inv.logger.Debug("Cache hit", logging.String("key", key))
	return v, true
}

func execute[T any](ctx context.Context, inv *Invoker, key string, call func(ctx context.Context) (T, error)) (T, error) {
	var result T
	policy := inv.policy

	done, err := inv.breaker.Allow()
	if err != nil {
		inv.logger.Warn("Call rejected by open circuit")
		return result, err
	}

	calls := 0
	rateLimitRetried := false

	retry := utils.RetryConfig{
		// one extra slot is reserved for the single rate limit retry
		MaxAttempts:   policy.MaxAttempts + 1,
		InitialDelay:  policy.InitialDelay,
		MaxDelay:      policy.MaxDelay,
		BackoffFactor: policy.BackoffFactor,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			if wait, limited := RateLimitWait(err); limited {
				if rateLimitRetried || wait > policy.RateLimitBudget {
					return false
				}
				rateLimitRetried = true
				return true
			}
			transientCalls := calls
			if rateLimitRetried {
				transientCalls--
			}
			return IsTransient(err) && transientCalls < policy.MaxAttempts
		},
		WaitHint: func(err error) (time.Duration, bool) {
			wait, limited := RateLimitWait(err)
			if !limited {
				return 0, false
			}
			if wait <= 0 {
				wait = policy.InitialDelay
			}
			return wait, true
		},
	}

	err = utils.RetryWithBackoff(ctx, retry, func() error {
		calls++
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		v, err := call(attemptCtx)
		if err != nil {
			inv.logger.Debug("Attempt failed", logging.Int("attempt", calls), logging.Err(err))
			return err
		}
		result = v
		return nil
	})

	if err != nil {
		outcome := BreakerOutcome(ctx, err)
		done(outcome)
		if outcome == circuitbreaker.Abandoned {
			inv.logger.Debug("Call abandoned by caller", logging.Int("attempts", calls), logging.Err(err))
			return result, errors.ServiceError(inv.policy.Name, err)
		}
		return result, inv.classify(err, calls)
	}

	done(circuitbreaker.Success)
	inv.store(ctx, key, result)
	return result, nil
}

func (inv *Invoker) store(ctx context.Context, key string, v interface{}) {
	if key == "" || inv.cache == nil || inv.policy.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		inv.logger.Warn("Result not cacheable", logging.String("key", key), logging.Err(err))
		return
	}

	if err := inv.cache.Set(ctx, key, data, inv.policy.CacheTTL); err != nil {
		inv.logger.Warn("Cache write failed", logging.String("key", key), logging.Err(err))
	}
}

func (inv *Invoker) classify(err error, calls int) error {
	name := inv.policy.Name

	if wait, limited := RateLimitWait(err); limited {
		inv.logger.Warn("Rate limited", logging.Duration("retry_after", wait), logging.Int("attempts", calls))
		return errors.RateLimitedError(name, wait, err)
	}

	inv.logger.Warn("Call failed", logging.Int("attempts", calls), logging.Err(err))
	return errors.ServiceError(name, err)
}
