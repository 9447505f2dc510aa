// Package tokenvault stores per-user OAuth tokens encrypted at rest and keeps
// them usable: expired tokens are refreshed on read, unusable ones are
// deactivated so the user is sent back through login.
//
// Writes for one (user, provider) pair are serialized with a keyed lock, and
// the repository swaps the active row inside one transaction, so at most one
// row is ever active for the pair.
package tokenvault

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/lucsky/cuid"
	"golang.org/x/sync/singleflight"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/common/utils"
	"x-auto-post-tool/internal/crypto"
	"x-auto-post-tool/internal/database"
	"x-auto-post-tool/internal/locks"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/provider"
)

// DefaultSkew treats tokens as expired this long before their real expiry.
const DefaultSkew = 60 * time.Second

// ErrRefreshFailed marks a refresh that did not produce a new token.
var ErrRefreshFailed = stderrors.New("token refresh failed")

// Refresher redeems a refresh token at the provider.
type Refresher interface {
	Refresh(ctx context.Context, client oauthstate.ClientConfig, refreshToken string) (*provider.TokenResponse, error)
}

// Config wires a Vault.
type Config struct {
	Repository Repository
	Cipher     *crypto.TokenCipher
	Refresher  Refresher
	// Clients holds the OAuth client used to refresh each provider's tokens.
	Clients map[string]oauthstate.ClientConfig
	Locker  locks.Locker
	Skew    time.Duration
	Now     func() time.Time
	Logger  logging.Logger
}

// Vault is the token lifecycle manager.
type Vault struct {
	repo      Repository
	cipher    *crypto.TokenCipher
	refresher Refresher
	clients   map[string]oauthstate.ClientConfig
	locker    locks.Locker
	skew      time.Duration
	now       func() time.Time
	logger    logging.Logger
	group     singleflight.Group
}

// New creates a Vault.
func New(cfg Config) (*Vault, error) {
	if cfg.Repository == nil {
		return nil, errors.ConfigError("token repository is required")
	}
	if cfg.Cipher == nil {
		return nil, errors.ConfigError("token cipher is required")
	}

	v := &Vault{
		repo:      cfg.Repository,
		cipher:    cfg.Cipher,
		refresher: cfg.Refresher,
		clients:   cfg.Clients,
		locker:    cfg.Locker,
		skew:      cfg.Skew,
		now:       cfg.Now,
		logger:    logging.OrGlobal(cfg.Logger),
	}
	if v.locker == nil {
		v.locker = locks.NewLocalLocker()
	}
	if v.skew <= 0 {
		v.skew = DefaultSkew
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

func pairKey(userID, provider string) string {
	return "token:" + provider + ":" + userID
}

// Save stores resp as the pair's only active token.
func (v *Vault) Save(ctx context.Context, userID, providerName string, resp *provider.TokenResponse) (*OAuthToken, error) {
	if userID == "" || providerName == "" {
		return nil, errors.ValidationError("user id and provider are required")
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, errors.ValidationError("token response has no access token")
	}

	unlock, err := v.locker.Lock(ctx, pairKey(userID, providerName))
	if err != nil {
		return nil, errors.InternalError("failed to lock token pair", err)
	}
	defer unlock()

	return v.saveLocked(ctx, userID, providerName, resp)
}

func (v *Vault) saveLocked(ctx context.Context, userID, providerName string, resp *provider.TokenResponse) (*OAuthToken, error) {
	access, err := v.cipher.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, errors.InternalError("failed to encrypt access token", err)
	}
	refresh, err := v.cipher.Encrypt(resp.RefreshToken)
	if err != nil {
		return nil, errors.InternalError("failed to encrypt refresh token", err)
	}

	now := v.now().UTC()
	token := &OAuthToken{
		UserID:             userID,
		Provider:           providerName,
		AccessTokenCipher:  access,
		RefreshTokenCipher: refresh,
		TokenType:          resp.TokenType,
		Scope:              resp.Scope,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if resp.ExpiresIn > 0 {
		at := now.Add(time.Duration(resp.ExpiresIn) * time.Second)
		token.ExpiresAt = &at
	}

	// another instance may win the unique index between our update and
	// insert; one more attempt then supersedes its row
	retry := utils.RetryConfig{
		MaxAttempts:     2,
		InitialDelay:    10 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: database.IsUniqueViolation,
	}
	err = utils.RetryWithBackoff(ctx, retry, func() error {
		token.ID = cuid.New()
		return v.repo.Replace(ctx, token)
	})
	if err != nil {
		return nil, errors.InternalError("failed to save token", err)
	}

	v.logger.Info("Token saved",
		logging.String("user_id", userID),
		logging.String("provider", providerName),
		logging.String("token_id", token.ID),
		logging.Bool("has_refresh_token", token.HasRefreshToken()),
	)

	return token, nil
}

// GetValid returns the pair's usable active token, refreshing it if expired.
// It returns nil when the user has to log in again; in that case the stale
// row has been deactivated.
func (v *Vault) GetValid(ctx context.Context, userID, providerName string) (*OAuthToken, error) {
	// the shared lookup must finish for the other waiters even if this caller
	// goes away, so it does not inherit this caller's cancellation
	ch := v.group.DoChan(pairKey(userID, providerName), func() (interface{}, error) {
		return v.getValid(context.WithoutCancel(ctx), userID, providerName)
	})

	select {
	case <-ctx.Done():
		return nil, errors.InternalError("token lookup abandoned", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		token, _ := r.Val.(*OAuthToken)
		return token, nil
	}
}

func (v *Vault) getValid(ctx context.Context, userID, providerName string) (*OAuthToken, error) {
	token, err := v.repo.FindActive(ctx, userID, providerName)
	if err != nil {
		return nil, errors.InternalError("failed to load token", err)
	}
	if token == nil {
		return nil, nil
	}

	if _, err := v.cipher.Decrypt(token.AccessTokenCipher); err != nil {
		v.logger.Warn("Stored access token is unreadable, deactivating",
			logging.String("user_id", userID),
			logging.String("provider", providerName),
			logging.String("token_id", token.ID),
		)
		return nil, v.deactivate(ctx, token)
	}

	if !token.IsExpired(v.now(), v.skew) {
		return token, nil
	}

	if !token.HasRefreshToken() {
		v.logger.Info("Token expired without refresh token",
			logging.String("user_id", userID),
			logging.String("provider", providerName),
		)
		return nil, v.deactivate(ctx, token)
	}

	refreshed, err := v.Refresh(ctx, token)
	if err != nil {
		v.logger.Warn("Token refresh failed, deactivating",
			logging.String("user_id", userID),
			logging.String("provider", providerName),
			logging.Err(err),
		)
		return nil, v.deactivate(ctx, token)
	}
	return refreshed, nil
}

func (v *Vault) deactivate(ctx context.Context, token *OAuthToken) error {
	if err := v.repo.Deactivate(ctx, token.ID); err != nil {
		return errors.InternalError("failed to deactivate token", err)
	}
	return nil
}

// Refresh exchanges token's refresh token for a new active token. On failure
// the existing row is left as it is and the error wraps ErrRefreshFailed.
func (v *Vault) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	if v.refresher == nil {
		return nil, refreshFailure("no refresher configured", nil)
	}
	client, ok := v.clients[token.Provider]
	if !ok {
		return nil, refreshFailure("no oauth client for provider "+token.Provider, nil)
	}

	unlock, err := v.locker.Lock(ctx, pairKey(token.UserID, token.Provider))
	if err != nil {
		return nil, errors.InternalError("failed to lock token pair", err)
	}
	defer unlock()

	// a concurrent refresh may already have rotated the token
	current, err := v.repo.FindActive(ctx, token.UserID, token.Provider)
	if err != nil {
		return nil, errors.InternalError("failed to load token", err)
	}
	if current == nil {
		return nil, refreshFailure("token was revoked", nil)
	}
	if current.ID != token.ID {
		if !current.IsExpired(v.now(), v.skew) {
			return current, nil
		}
		token = current
	}

	refreshToken, err := v.cipher.Decrypt(token.RefreshTokenCipher)
	if err != nil {
		return nil, refreshFailure("refresh token is unreadable", err)
	}
	if refreshToken == "" {
		return nil, refreshFailure("no refresh token", nil)
	}

	resp, err := v.refresher.Refresh(ctx, client, refreshToken)
	if err != nil {
		return nil, refreshFailure("provider refused refresh", err)
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}

	return v.saveLocked(ctx, token.UserID, token.Provider, resp)
}

func refreshFailure(msg string, cause error) error {
	e := errors.AuthRequiredError(msg)
	e.Cause = stderrors.Join(ErrRefreshFailed, cause)
	return e
}

// GetDecryptedAccessToken returns the plaintext access token of the pair's
// valid token. ok is false when the user must log in again.
func (v *Vault) GetDecryptedAccessToken(ctx context.Context, userID, providerName string) (string, bool, error) {
	token, err := v.GetValid(ctx, userID, providerName)
	if err != nil || token == nil {
		return "", false, err
	}

	access, err := v.cipher.Decrypt(token.AccessTokenCipher)
	if err != nil || access == "" {
		// raced with a corrupting write; same outcome as a missing token
		return "", false, nil
	}
	return access, true, nil
}

// Status reports whether the pair has a usable token, refreshing it like
// GetValid does.
func (v *Vault) Status(ctx context.Context, userID, providerName string) (*Status, error) {
	token, err := v.GetValid(ctx, userID, providerName)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return &Status{}, nil
	}

	updated := token.UpdatedAt
	return &Status{
		Connected:       true,
		ExpiresAt:       token.ExpiresAt,
		Scope:           token.Scope,
		HasRefreshToken: token.HasRefreshToken(),
		UpdatedAt:       &updated,
	}, nil
}

// Revoke deactivates every active token of the pair.
func (v *Vault) Revoke(ctx context.Context, userID, providerName string) error {
	unlock, err := v.locker.Lock(ctx, pairKey(userID, providerName))
	if err != nil {
		return errors.InternalError("failed to lock token pair", err)
	}
	defer unlock()

	n, err := v.repo.DeactivateAll(ctx, userID, providerName)
	if err != nil {
		return errors.InternalError("failed to revoke tokens", err)
	}

	v.logger.Info("Tokens revoked",
		logging.String("user_id", userID),
		logging.String("provider", providerName),
		logging.Int("count", int(n)),
	)
	return nil
}

// History lists the pair's token rows, newest first.
func (v *Vault) History(ctx context.Context, userID, providerName string) ([]*OAuthToken, error) {
	tokens, err := v.repo.History(ctx, userID, providerName)
	if err != nil {
		return nil, errors.InternalError("failed to load token history", err)
	}
	return tokens, nil
}
