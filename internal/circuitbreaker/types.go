// Package circuitbreaker tracks downstream failures per service and gates
// whether a call is attempted at all.
//
// Callers ask for a permit with Allow and report the outcome through the
// returned done function. What counts as success is entirely the caller's
// decision, so the same breaker can guard any kind of dependency.
package circuitbreaker

import (
	stderrors "errors"
	"fmt"
	"time"

	"x-auto-post-tool/internal/common/errors"
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means calls are allowed and failures are counted
	StateClosed State = iota
	// StateOpen means calls are rejected without being attempted
	StateOpen
	// StateHalfOpen means a single trial call decides whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is wrapped by the error Allow returns when a call is rejected.
var ErrOpen = stderrors.New("circuit breaker is open")

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call is allowed
	RecoveryTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("FailureThreshold must be positive, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("RecoveryTimeout must be positive, got %v", c.RecoveryTimeout)
	}
	return nil
}

// Stats is a point-in-time snapshot of a breaker
type Stats struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	TotalSuccesses      int        `json:"total_successes"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
}

// Outcome is what a permitted call reports back to its breaker.
type Outcome int

const (
	// Success means the service answered.
	Success Outcome = iota
	// Failure counts toward opening the circuit.
	Failure
	// Abandoned hands the permit back uncounted. It is for calls the caller
	// gave up on before the service answered.
	Abandoned
)

// OutcomeOf maps a plain success flag onto an Outcome.
func OutcomeOf(success bool) Outcome {
	if success {
		return Success
	}
	return Failure
}

// Breaker gates calls to one downstream service.
type Breaker interface {
	Name() string
	// Allow returns a done function when the call may proceed. The caller must
	// invoke done exactly once with the outcome. When the call is rejected the
	// error is a service unavailable error wrapping ErrOpen.
	Allow() (done func(Outcome), err error)
	State() State
	Stats() Stats
	Reset()
}

func rejected(name string) error {
	e := errors.ServiceUnavailableError(name)
	e.Cause = ErrOpen
	return e
}

// Execute runs fn under b, reporting any non-nil error as a failure.
func Execute(b Breaker, fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(OutcomeOf(err == nil))
	return err
}
