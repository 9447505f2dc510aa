// Package oauthstate holds in-flight authorization requests between the
// redirect to the provider and the callback.
//
// Each login gets its own unguessable state value and PKCE verifier. Entries
// live for at most DefaultTTL and are consumed with a single atomic
// get-and-delete, so a state can complete at most one login.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"time"

	"golang.org/x/oauth2"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/crypto"
)

// DefaultTTL is how long a started login stays redeemable.
const DefaultTTL = 10 * time.Minute

// stateBytes gives 256 bits of entropy per state value.
const stateBytes = 32

var (
	// ErrStateExists is returned by a Backend when Put finds a live entry.
	ErrStateExists = stderrors.New("oauth state already exists")

	errNoScopes = stderrors.New("at least one scope is required")
)

// Entry is a started login waiting for its callback.
type Entry struct {
	State        string       `json:"state"`
	CodeVerifier string       `json:"code_verifier"`
	Client       ClientConfig `json:"client"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Backend is a TTL key-value store with insert-if-absent and atomic take.
type Backend interface {
	// Put stores data under state unless a live entry exists (ErrStateExists).
	Put(ctx context.Context, state string, data []byte, ttl time.Duration) error
	// Take returns and removes the entry in one step.
	Take(ctx context.Context, state string) ([]byte, bool, error)
}

// Store issues and redeems authorization states.
type Store struct {
	backend Backend
	cipher  *crypto.TokenCipher
	ttl     time.Duration
	now     func() time.Time
	logger  logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock sets the time source used for CreatedAt and age checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store. The cipher protects client secrets at rest.
func NewStore(backend Backend, cipher *crypto.TokenCipher, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.ConfigError("oauth state backend is required")
	}
	if cipher == nil {
		return nil, errors.ConfigError("token cipher is required")
	}

	s := &Store{
		backend: backend,
		cipher:  cipher,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrGlobal(s.logger)

	return s, nil
}

// TTL returns the lifetime of new entries.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// record is the persisted form of Entry; the client secret is encrypted.
type record struct {
	Entry
	SecretCipher string `json:"client_secret_cipher,omitempty"`
}

// Begin starts a login. The returned state is the exact value embedded in the
// authorization URL and the key the entry is stored under.
func (s *Store) Begin(ctx context.Context, client ClientConfig) (authURL, state string, err error) {
	if err := client.Validate(); err != nil {
		return "", "", err
	}

	state, err = newState()
	if err != nil {
		return "", "", errors.InternalError("failed to generate state", err)
	}
	verifier := oauth2.GenerateVerifier()

	authURL = client.OAuth2().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	secret, err := s.cipher.Encrypt(client.ClientSecret)
	if err != nil {
		return "", "", errors.InternalError("failed to encrypt client secret", err)
	}

	rec := record{
		Entry: Entry{
			State:        state,
			CodeVerifier: verifier,
			Client:       client,
			CreatedAt:    s.now().UTC(),
		},
		SecretCipher: secret,
	}
	rec.Client.ClientSecret = ""

	data, err := json.Marshal(rec)
	if err != nil {
		return "", "", errors.InternalError("failed to encode oauth state", err)
	}

	if err := s.backend.Put(ctx, state, data, s.ttl); err != nil {
		return "", "", errors.InternalError("failed to store oauth state", err)
	}

	s.logger.Debug("Oauth login started",
		logging.String("client_id", client.ClientID),
		logging.Duration("ttl", s.ttl),
	)

	return authURL, state, nil
}

// Consume redeems state exactly once. Unknown, expired and already used
// states all fail with an oauth_state error.
func (s *Store) Consume(ctx context.Context, state string) (*Entry, error) {
	if state == "" {
		return nil, errors.OAuthStateError("missing state")
	}

	data, ok, err := s.backend.Take(ctx, state)
	if err != nil {
		return nil, errors.InternalError("oauth state store unavailable", err)
	}
	if !ok {
		return nil, errors.OAuthStateError("unknown, expired or already used state")
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.InternalError("failed to decode oauth state", err)
	}

	if rec.State != state {
		return nil, errors.OAuthStateError("state does not match stored entry")
	}
	if s.now().Sub(rec.CreatedAt) > s.ttl {
		return nil, errors.OAuthStateError("unknown, expired or already used state")
	}

	secret, err := s.cipher.Decrypt(rec.SecretCipher)
	if err != nil {
		return nil, err
	}

	entry := rec.Entry
	entry.Client.ClientSecret = secret
	return &entry, nil
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
