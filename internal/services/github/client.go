// Package github looks up the latest commit of a repository.
package github

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/resilience"
)

// ServiceName is the breaker and cache namespace for commit lookups.
const ServiceName = "github"

// Config locates the API. Token is optional; unauthenticated calls get a
// much smaller rate limit.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Commit is the part of a commit the posting pipeline needs.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Client wraps go-github.
type Client struct {
	gh *github.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	gh := github.NewClient(commonhttp.NewHTTPClient(commonhttp.WithTimeout(timeout)))
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.ConfigError("invalid github api url: " + err.Error())
		}
		gh.BaseURL = u
	}

	return &Client{gh: gh}, nil
}

// LatestCommit returns the newest commit on the default branch of
// repository ("owner/name").
func (c *Client) LatestCommit(ctx context.Context, repository string) (*Commit, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, errors.ValidationError("repository must look like owner/name")
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, translate(err)
	}
	if len(commits) == 0 {
		return nil, errors.NotFoundError("commits for " + repository)
	}

	rc := commits[0]
	commit := &Commit{
		SHA:     rc.GetSHA(),
		Message: strings.TrimSpace(rc.GetCommit().GetMessage()),
		URL:     rc.GetHTMLURL(),
	}
	if author := rc.GetCommit().GetAuthor(); author != nil {
		commit.Author = author.GetName()
	}
	return commit, nil
}

// translate maps go-github errors onto StatusErrors so the invoker can tell
// throttling, client mistakes and outages apart.
func translate(err error) error {
	var rle *github.RateLimitError
	if stderrors.As(err, &rle) {
		return &resilience.StatusError{
			Service:    ServiceName,
			StatusCode: http.StatusTooManyRequests,
			Message:    rle.Message,
			RetryAfter: untilReset(rle.Rate.Reset.Time),
		}
	}

	var abuse *github.AbuseRateLimitError
	if stderrors.As(err, &abuse) {
		se := &resilience.StatusError{
			Service:    ServiceName,
			StatusCode: http.StatusTooManyRequests,
			Message:    abuse.Message,
		}
		if d := abuse.GetRetryAfter(); d > 0 {
			se.RetryAfter = d
		}
		return se
	}

	var er *github.ErrorResponse
	if stderrors.As(err, &er) && er.Response != nil {
		return &resilience.StatusError{
			Service:    ServiceName,
			StatusCode: er.Response.StatusCode,
			Message:    er.Message,
			RetryAfter: resilience.ParseRetryAfter(er.Response.Header, time.Now()),
		}
	}

	return err
}

func untilReset(reset time.Time) time.Duration {
	if reset.IsZero() {
		return 0
	}
	if d := time.Until(reset); d > 0 {
		return d
	}
	return 0
}
