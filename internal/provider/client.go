// Package provider talks to the OAuth2 authorization server: it exchanges
// authorization codes (with the PKCE verifier) and refreshes tokens.
package provider

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"x-auto-post-tool/internal/circuitbreaker"
	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/oauthstate"
	"x-auto-post-tool/internal/resilience"
)

// ServiceName is the breaker name guarding the token endpoint.
const ServiceName = "oauth"

// DefaultTimeout bounds a single token endpoint request.
const DefaultTimeout = 15 * time.Second

// TokenResponse is what the token endpoint returned, before encryption.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the lifetime in seconds, 0 when the provider sent none.
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// Client exchanges and refreshes tokens behind a circuit breaker.
type Client struct {
	breaker    circuitbreaker.Breaker
	httpClient *http.Client
	now        func() time.Time
	logger     logging.Logger
}

// NewClient creates a Client. timeout <= 0 uses DefaultTimeout.
func NewClient(breaker circuitbreaker.Breaker, timeout time.Duration, logger logging.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		breaker:    breaker,
		httpClient: commonhttp.NewHTTPClient(commonhttp.WithTimeout(timeout)),
		now:        time.Now,
		logger:     logging.OrGlobal(logger),
	}
}

// Exchange trades an authorization code for tokens, proving possession of the
// verifier generated when the login started.
func (c *Client) Exchange(ctx context.Context, entry *oauthstate.Entry, code string) (*TokenResponse, error) {
	if entry == nil {
		return nil, errors.OAuthStateError("missing login state")
	}
	if code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}

	var tok *oauth2.Token
	err := c.guard(ctx, func() error {
		var err error
		tok, err = entry.Client.OAuth2().Exchange(c.context(ctx), code, oauth2.VerifierOption(entry.CodeVerifier))
		return err
	})
	if err != nil {
		c.logger.Warn("Authorization code exchange failed",
			logging.String("client_id", entry.Client.ClientID),
			logging.Err(err),
		)
		return nil, err
	}

	return c.response(tok), nil
}

// Refresh redeems refreshToken for a new token set.
func (c *Client) Refresh(ctx context.Context, client oauthstate.ClientConfig, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.AuthRequiredError("no refresh token")
	}

	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       c.now().Add(-time.Minute),
	}

	var tok *oauth2.Token
	err := c.guard(ctx, func() error {
		var err error
		tok, err = client.OAuth2().TokenSource(c.context(ctx), expired).Token()
		return err
	})
	if err != nil {
		return nil, err
	}

	return c.response(tok), nil
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// guard runs fn under the breaker. Rejections by the server (bad code,
// revoked grant) say nothing about its health and count as successes.
func (c *Client) guard(ctx context.Context, fn func() error) error {
	done, err := c.breaker.Allow()
	if err != nil {
		return err
	}

	err = classify(fn())
	done(resilience.BreakerOutcome(ctx, err))
	if err == nil {
		return nil
	}

	if wait, ok := resilience.RateLimitWait(err); ok {
		return errors.RateLimitedError(ServiceName, wait, err)
	}
	if resilience.IsClientError(err) {
		return errors.AuthRequiredError("authorization server rejected the grant").WithContext(errors.ContextService, ServiceName)
	}
	return errors.ServiceError(ServiceName, err)
}

// classify turns token endpoint failures into StatusErrors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) && re.Response != nil {
		msg := re.ErrorCode
		if msg == "" {
			msg = string(re.Body)
		}
		return &resilience.StatusError{
			Service:    ServiceName,
			StatusCode: re.Response.StatusCode,
			Message:    msg,
			RetryAfter: resilience.ParseRetryAfter(re.Response.Header, time.Now()),
		}
	}
	return err
}

func (c *Client) response(tok *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresIn:    tok.ExpiresIn,
	}

	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		if secs := int64(tok.Expiry.Sub(c.now()) / time.Second); secs > 0 {
			resp.ExpiresIn = secs
		}
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}

	return resp
}
