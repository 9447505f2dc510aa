package circuitbreaker

import (
	"sync"
	"time"
)

// CircuitBreaker is the in-process breaker. All transitions happen under one mutex.
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	totalFailures       int
	totalSuccesses      int
	lastFailure         time.Time
	trialInFlight       bool
	trialStarted        time.Time
	trialID             uint64

	onStateChange func(name string, from, to State)
}

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange installs a hook called after every transition.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// New creates a closed circuit breaker. An invalid config falls back to DefaultConfig.
func New(name string, config Config, opts ...Option) *CircuitBreaker {
	if config.Validate() != nil {
		config = DefaultConfig()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the protected service name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanExecute reports whether a call may be attempted now. Moving from open to
// half-open hands the single trial permit to this caller.
func (cb *CircuitBreaker) CanExecute() bool {
	ok, _ := cb.acquire()
	return ok
}

// acquire is CanExecute that also returns the id of the trial it granted,
// zero when the permit is not a half-open trial.
func (cb *CircuitBreaker) acquire() (bool, uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		if now.Sub(cb.lastFailure) > cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			return true, cb.startTrial(now)
		}
		return false, 0
	case StateHalfOpen:
		// a trial whose outcome was never reported is given up after a full recovery period
		if cb.trialInFlight && now.Sub(cb.trialStarted) <= cb.config.RecoveryTimeout {
			return false, 0
		}
		return true, cb.startTrial(now)
	}

	return false, 0
}

// startTrial must be called with mu held
func (cb *CircuitBreaker) startTrial(now time.Time) uint64 {
	cb.trialInFlight = true
	cb.trialStarted = now
	cb.trialID++
	return cb.trialID
}

// release returns trial id to the breaker without an outcome, so the next
// caller gets the half-open trial right away.
func (cb *CircuitBreaker) release(id uint64) {
	if id == 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.trialInFlight && cb.trialID == id {
		cb.trialInFlight = false
	}
}

// RecordSuccess reports a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.totalSuccesses++

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
		cb.setState(StateClosed)
	}
}

// RecordFailure reports a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.totalFailures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.setState(StateOpen)
	}
}

// Allow implements Breaker.
func (cb *CircuitBreaker) Allow() (func(Outcome), error) {
	ok, trial := cb.acquire()
	if !ok {
		return nil, rejected(cb.name)
	}

	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() {
			switch outcome {
			case Success:
				cb.RecordSuccess()
			case Failure:
				cb.RecordFailure()
			default:
				cb.release(trial)
			}
		})
	}, nil
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil && oldState != newState {
		// run outside the lock
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns the current statistics
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := Stats{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
	}

	if !cb.lastFailure.IsZero() {
		lastFailure := cb.lastFailure
		stats.LastFailure = &lastFailure
	}

	return stats
}

// Reset forces the breaker closed and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}
