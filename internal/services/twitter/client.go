// Package twitter posts to X and resolves the identity behind a user token.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/resilience"
)

// ServiceName is the breaker namespace for the X API.
const ServiceName = "twitter"

const defaultBaseURL = "https://api.twitter.com"

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// PostResult is a created post.
type PostResult struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Identity is the account a token belongs to.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Client talks to the X v2 API with per-user bearer tokens.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.Timeout)),
	}
}

// Post publishes text on behalf of the token's owner.
func (c *Client) Post(ctx context.Context, accessToken, text string) (*PostResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.ValidationError("post text is empty")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, errors.InternalError("failed to encode post", err)
	}

	var out struct {
		Data PostResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/2/tweets", accessToken, body, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("post response has no id")
	}
	return &out.Data, nil
}

// Me returns the identity of the token's owner.
func (c *Client) Me(ctx context.Context, accessToken string) (*Identity, error) {
	var out struct {
		Data Identity `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/2/users/me", accessToken, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("identity response has no id")
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body []byte, want int, out interface{}) error {
	if accessToken == "" {
		return errors.AuthRequiredError("no access token")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.InternalError("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return resilience.NewStatusError(ServiceName, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
