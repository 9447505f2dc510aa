// Package dedup keeps the same text from being posted twice inside a window.
//
// The guard is best effort. When its store is unreachable it answers "not a
// duplicate" and logs, so an outage never blocks posting.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"x-auto-post-tool/internal/common/logging"
)

// DefaultWindow is the trailing interval in which identical content counts as a duplicate.
const DefaultWindow = 24 * time.Hour

// Store remembers content hashes per scope.
type Store interface {
	// Seen reports whether hash was recorded for scope at or after since.
	Seen(ctx context.Context, scope, hash string, since time.Time) (bool, error)
	// Record stores hash at time at and forgets entries older than retention.
	Record(ctx context.Context, scope, hash string, at time.Time, retention time.Duration) error
}

// Guard answers duplicate checks for outbound posts.
type Guard struct {
	store  Store
	window time.Duration
	now    func() time.Time
	logger logging.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow overrides DefaultWindow.
func WithWindow(window time.Duration) Option {
	return func(g *Guard) {
		if window > 0 {
			g.window = window
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// NewGuard creates a Guard over store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrGlobal(g.logger)
	return g
}

// Window returns the configured dedup window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// IsDuplicate reports whether content was recorded for scope within window.
// window <= 0 uses the guard's window. Records are kept for the guard's window
// only, so a longer window is capped to it.
func (g *Guard) IsDuplicate(ctx context.Context, scope, content string, window time.Duration) bool {
	if window <= 0 || window > g.window {
		window = g.window
	}

	seen, err := g.store.Seen(ctx, scope, Hash(content), g.now().Add(-window))
	if err != nil {
		g.logger.Warn("Dedup check failed, treating content as new",
			logging.String("scope", scope),
			logging.Err(err),
		)
		return false
	}
	return seen
}

// Record remembers content for scope. Failures are logged only.
func (g *Guard) Record(ctx context.Context, scope, content string) {
	if err := g.store.Record(ctx, scope, Hash(content), g.now(), g.window); err != nil {
		g.logger.Warn("Failed to record posted content",
			logging.String("scope", scope),
			logging.Err(err),
		)
	}
}

// Normalize trims, collapses whitespace and lower-cases content.
func Normalize(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// Hash is the hex SHA-256 of the normalized content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}
