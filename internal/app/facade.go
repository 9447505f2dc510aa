package app

import (
	"context"

	"x-auto-post-tool/internal/autopost"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/resilience"
	"x-auto-post-tool/internal/services/twitter"
	"x-auto-post-tool/internal/tokenvault"
)

// BeginLogin starts an authorization with client and returns the URL to send
// the user to together with its state.
func (app *App) BeginLogin(ctx context.Context, client oauthstate.ClientConfig) (string, string, error) {
	return app.States.Begin(ctx, client)
}

// CompleteLogin redeems state, exchanges code for tokens, resolves whose
// account they belong to and stores them as that user's active credential.
// The state is spent even when a later step fails.
func (app *App) CompleteLogin(ctx context.Context, code, state string) (*tokenvault.OAuthToken, *twitter.Identity, error) {
	entry, err := app.States.Consume(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	if code == "" {
		return nil, nil, errors.ValidationError("authorization code is required")
	}

	resp, err := app.Provider.Exchange(ctx, entry, code)
	if err != nil {
		return nil, nil, err
	}

	identity, err := resilience.Do(ctx, app.Identity, "", func(ctx context.Context) (*twitter.Identity, error) {
		return app.Twitter.Me(ctx, resp.AccessToken)
	})
	if err != nil {
		return nil, nil, err
	}

	token, err := app.Vault.Save(ctx, identity.ID, twitter.ServiceName, resp)
	if err != nil {
		return nil, nil, err
	}

	logging.WithContext(ctx).Info("Login completed",
		logging.String("user_id", identity.ID),
		logging.String("username", identity.Username),
	)
	return token, identity, nil
}

// CancelLogin spends state without completing the login, for callbacks that
// carry an error instead of a code. An unknown or already spent state is
// reported as an oauth state error.
func (app *App) CancelLogin(ctx context.Context, state string) error {
	if state == "" {
		return errors.OAuthStateError("state is required")
	}
	_, err := app.States.Consume(ctx, state)
	return err
}

// GetPostingToken returns the user's plaintext access token, refreshing it
// when needed.
func (app *App) GetPostingToken(ctx context.Context, userID string) (string, error) {
	access, ok, err := app.Vault.GetDecryptedAccessToken(ctx, userID, twitter.ServiceName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.AuthRequiredError("no usable token, please log in again")
	}
	return access, nil
}

// AutoPost posts about repository's latest commit on the user's behalf.
func (app *App) AutoPost(ctx context.Context, userID, repository, language string) (*autopost.Result, error) {
	return app.Posts.Run(ctx, autopost.Request{
		UserID:     userID,
		Repository: repository,
		Language:   language,
	})
}

// Logout revokes the user's stored credentials.
func (app *App) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.ValidationError("user id is required")
	}
	return app.Vault.Revoke(ctx, userID, twitter.ServiceName)
}

// TokenStatus reports whether the user has a usable credential.
func (app *App) TokenStatus(ctx context.Context, userID string) (*tokenvault.Status, error) {
	return app.Vault.Status(ctx, userID, twitter.ServiceName)
}

// BreakerStats snapshots every circuit breaker.
func (app *App) BreakerStats() []circuitbreaker.Stats {
	return app.Breakers.AllStats()
}

// LoginClient is the OAuth client configured for user logins.
func (app *App) LoginClient() oauthstate.ClientConfig {
	return app.Config.TwitterClient()
}
