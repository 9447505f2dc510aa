package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"

	"x-auto-post-tool/internal/common/logging"
)

// Implementation selects the breaker backing a Registry.
type Implementation string

const (
	ImplNative    Implementation = "native"
	ImplGoBreaker Implementation = "gobreaker"
)

// Registry holds one breaker per protected service. It is the only place
// breaker state lives; callers receive it by injection.
type Registry struct {
	impl     Implementation
	defaults Config
	logger   logging.Logger

	mu       sync.RWMutex
	breakers map[string]Breaker
}

// NewRegistry creates a registry. Services listed in configs get their own
// parameters; any other service uses defaults.
func NewRegistry(impl Implementation, defaults Config, configs map[string]Config, logger logging.Logger) (*Registry, error) {
	if impl == "" {
		impl = ImplNative
	}
	if impl != ImplNative && impl != ImplGoBreaker {
		return nil, fmt.Errorf("unknown circuit breaker implementation: %s", impl)
	}

	r := &Registry{
		impl:     impl,
		defaults: defaults,
		logger:   logging.OrGlobal(logger),
		breakers: make(map[string]Breaker),
	}

	for name, cfg := range configs {
		r.breakers[name] = r.build(name, cfg)
	}
	return r, nil
}

func (r *Registry) build(name string, cfg Config) Breaker {
	if r.impl == ImplGoBreaker {
		return NewGoBreaker(name, cfg, r.logger)
	}

	return New(name, cfg, WithStateChange(func(name string, from, to State) {
		r.logger.Warn("Circuit breaker state changed",
			logging.Field{Key: "breaker", Value: name},
			logging.Field{Key: "from", Value: from.String()},
			logging.Field{Key: "to", Value: to.String()},
		)
	}))
}

// Get returns the breaker for service, creating it with the default config on first use
func (r *Registry) Get(service string) Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[service]; ok {
		return b
	}
	b = r.build(service, r.defaults)
	r.breakers[service] = b
	return b
}

// AllStats returns a snapshot of every breaker, ordered by name
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset closes the named breaker; it reports false if no such breaker exists
func (r *Registry) Reset(service string) bool {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}
