// Package handlers is the HTTP surface of the posting service: login through
// X, logout, automated posting and a few read-only status endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"x-auto-post-tool/internal/auth"
	"x-auto-post-tool/internal/autopost"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/services/twitter"
	"x-auto-post-tool/internal/tokenvault"
)

const maxBodyBytes = 1 << 16

// Service is the part of the application the handlers drive.
type Service interface {
	LoginClient() oauthstate.ClientConfig
	BeginLogin(ctx context.Context, client oauthstate.ClientConfig) (string, string, error)
	CompleteLogin(ctx context.Context, code, state string) (*tokenvault.OAuthToken, *twitter.Identity, error)
	CancelLogin(ctx context.Context, state string) error
	AutoPost(ctx context.Context, userID, repository, language string) (*autopost.Result, error)
	Logout(ctx context.Context, userID string) error
	TokenStatus(ctx context.Context, userID string) (*tokenvault.Status, error)
	BreakerStats() []circuitbreaker.Stats
	Health(ctx context.Context) map[string]error
	CacheStats(ctx context.Context) (map[string]int, error)
	ClearCache(ctx context.Context, kind string) (int, error)
}

type Handlers struct {
	service   Service
	auth      *auth.Auth
	publicURL string
	logger    logging.Logger
}

// New creates the handlers. After a successful login the browser is sent to
// publicURL.
func New(service Service, authHandler *auth.Auth, publicURL string, logger logging.Logger) *Handlers {
	if publicURL == "" {
		publicURL = "/"
	}
	return &Handlers{
		service:   service,
		auth:      authHandler,
		publicURL: publicURL,
		logger:    logging.OrGlobal(logger),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError("request body must be valid JSON")
	}
	return nil
}

func userID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}
