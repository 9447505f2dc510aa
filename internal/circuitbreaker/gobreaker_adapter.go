package circuitbreaker

import (
	"sync"

	"github.com/sony/gobreaker"
	"x-auto-post-tool/internal/common/logging"
)

// GoBreakerAdapter exposes sony/gobreaker's two-step breaker as a Breaker.
// MaxRequests is pinned to 1 so half-open admits exactly one trial call.
type GoBreakerAdapter struct {
	name   string
	config Config
	logger logging.Logger

	mu      sync.RWMutex
	breaker *gobreaker.TwoStepCircuitBreaker
}

// NewGoBreaker creates a Breaker backed by gobreaker
func NewGoBreaker(name string, config Config, logger logging.Logger) *GoBreakerAdapter {
	logger = logging.OrGlobal(logger)

	if err := config.Validate(); err != nil {
		logger.Warn("Invalid circuit breaker config, using defaults",
			logging.Field{Key: "error", Value: err.Error()},
			logging.Field{Key: "name", Value: name},
		)
		config = DefaultConfig()
	}

	g := &GoBreakerAdapter{
		name:   name,
		config: config,
		logger: logger,
	}
	g.breaker = gobreaker.NewTwoStepCircuitBreaker(g.settings())
	return g
}

func (g *GoBreakerAdapter) settings() gobreaker.Settings {
	threshold := uint32(g.config.FailureThreshold)
	return gobreaker.Settings{
		Name:        g.name,
		MaxRequests: 1,
		Timeout:     g.config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
	}
}

// Name returns the protected service name
func (g *GoBreakerAdapter) Name() string {
	return g.name
}

// Allow implements Breaker. gobreaker has no way to hand a permit back, so an
// abandoned call is dropped while closed and counted as a failed trial while
// half-open; leaving the trial unreported would keep the breaker half-open
// with no permits left.
func (g *GoBreakerAdapter) Allow() (func(Outcome), error) {
	g.mu.RLock()
	breaker := g.breaker
	g.mu.RUnlock()

	halfOpen := breaker.State() == gobreaker.StateHalfOpen
	done, err := breaker.Allow()
	if err != nil {
		// ErrOpenState and ErrTooManyRequests both mean the call is not attempted
		return nil, rejected(g.name)
	}
	// Allow itself may have moved an expired open breaker to half-open
	halfOpen = halfOpen || breaker.State() == gobreaker.StateHalfOpen

	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() {
			switch outcome {
			case Success:
				done(true)
			case Failure:
				done(false)
			default:
				if halfOpen {
					done(false)
				}
			}
		})
	}, nil
}

// State returns the current state of the circuit breaker
func (g *GoBreakerAdapter) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Stats returns current statistics. gobreaker does not expose the last failure time.
func (g *GoBreakerAdapter) Stats() Stats {
	g.mu.RLock()
	counts := g.breaker.Counts()
	g.mu.RUnlock()

	return Stats{
		Name:                g.name,
		State:               g.State().String(),
		ConsecutiveFailures: int(counts.ConsecutiveFailures),
		TotalFailures:       int(counts.TotalFailures),
		TotalSuccesses:      int(counts.TotalSuccesses),
	}
}

// Reset replaces the underlying breaker with a fresh closed one
func (g *GoBreakerAdapter) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breaker = gobreaker.NewTwoStepCircuitBreaker(g.settings())
}
