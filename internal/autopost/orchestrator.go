// Package autopost turns a repository's latest commit into a post on the
// user's X account.
//
// A run fetches the commit, generates the post text, rejects text the user
// already posted recently, resolves the user's access token and posts. Every
// downstream call goes through that service's resilience.Invoker, and every
// failure carries the stage it happened in.
package autopost

import (
	"context"
	"net/http"
	"time"

	"x-auto-post-tool/internal/common/cache"
	"x-auto-post-tool/internal/common/errors"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/common/validation"
	"x-auto-post-tool/internal/dedup"
	"x-auto-post-tool/internal/resilience"
	"x-auto-post-tool/internal/services/github"
	"x-auto-post-tool/internal/services/openai"
	"x-auto-post-tool/internal/services/twitter"
)

// Stages a run can fail in.
const (
	StageCommitFetch = "commit-fetch"
	StageGeneration  = "generation"
	StagePost        = "post"
)

// Cache namespaces of the lookups a run caches.
const (
	CommitNamespace     = "commit"
	GenerationNamespace = "generation"
)

// Provider is the token vault provider posts are made with.
const Provider = twitter.ServiceName

// DefaultLanguage is used when a request names none.
const DefaultLanguage = "ja"

// CommitSource returns a repository's latest commit.
type CommitSource interface {
	LatestCommit(ctx context.Context, repository string) (*github.Commit, error)
}

// Generator writes post text for a commit.
type Generator interface {
	Generate(ctx context.Context, p openai.Prompt) (string, error)
}

// Poster publishes text with a user's access token.
type Poster interface {
	Post(ctx context.Context, accessToken, text string) (*twitter.PostResult, error)
}

// Tokens resolves a user's plaintext access token.
type Tokens interface {
	GetDecryptedAccessToken(ctx context.Context, userID, provider string) (string, bool, error)
}

// Invokers holds the resilience wrapper of each downstream service.
type Invokers struct {
	Commits    *resilience.Invoker
	Generation *resilience.Invoker
	Post       *resilience.Invoker
}

// Request asks for one automated post.
type Request struct {
	UserID     string `json:"user_id" validate:"required"`
	Repository string `json:"repository" validate:"required,repository"`
	Language   string `json:"language" validate:"omitempty,oneof=ja en"`
}

// Result describes a completed post.
type Result struct {
	PostID        string    `json:"post_id"`
	Text          string    `json:"text"`
	Repository    string    `json:"repository"`
	CommitSHA     string    `json:"commit_sha"`
	CommitMessage string    `json:"commit_message"`
	PostedAt      time.Time `json:"posted_at"`
}

// Orchestrator runs automated posts. It is safe for concurrent use.
type Orchestrator struct {
	commits   CommitSource
	generator Generator
	poster    Poster
	tokens    Tokens
	dedup     *dedup.Guard
	invokers  Invokers
	now       func() time.Time
	logger    logging.Logger
}

// Config wires an Orchestrator.
type Config struct {
	Commits   CommitSource
	Generator Generator
	Poster    Poster
	Tokens    Tokens
	Dedup     *dedup.Guard
	Invokers  Invokers
	Now       func() time.Time
	Logger    logging.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Commits == nil || cfg.Generator == nil || cfg.Poster == nil {
		return nil, errors.ConfigError("commit source, generator and poster are required")
	}
	if cfg.Tokens == nil || cfg.Dedup == nil {
		return nil, errors.ConfigError("token vault and dedup guard are required")
	}
	if cfg.Invokers.Commits == nil || cfg.Invokers.Generation == nil || cfg.Invokers.Post == nil {
		return nil, errors.ConfigError("an invoker is required for every service")
	}

	o := &Orchestrator{
		commits:   cfg.Commits,
		generator: cfg.Generator,
		poster:    cfg.Poster,
		tokens:    cfg.Tokens,
		dedup:     cfg.Dedup,
		invokers:  cfg.Invokers,
		now:       cfg.Now,
		logger:    logging.OrGlobal(cfg.Logger),
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Run performs one automated post for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}

	logger := o.logger.WithContext(ctx).WithFields(
		logging.String("user_id", req.UserID),
		logging.String("repository", req.Repository),
	)

	commit, err := resilience.Do(ctx, o.invokers.Commits, cache.ResourceKey(CommitNamespace, req.Repository),
		func(ctx context.Context) (*github.Commit, error) {
			return o.commits.LatestCommit(ctx, req.Repository)
		})
	if err != nil {
		return nil, o.fail(logger, StageCommitFetch, err)
	}

	prompt := openai.Prompt{CommitMessage: commit.Message, Repository: req.Repository, Language: req.Language}
	text, err := resilience.Do(ctx, o.invokers.Generation,
		cache.ContentKey(GenerationNamespace, prompt.CommitMessage, prompt.Repository, prompt.Language),
		func(ctx context.Context) (string, error) {
			return o.generator.Generate(ctx, prompt)
		})
	if err != nil {
		return nil, o.fail(logger, StageGeneration, err)
	}

	if o.dedup.IsDuplicate(ctx, req.UserID, text, 0) {
		logger.Info("Generated text was already posted, skipping")
		return nil, errors.DuplicateError("content was already posted within the dedup window")
	}

	accessToken, ok, err := o.tokens.GetDecryptedAccessToken(ctx, req.UserID, Provider)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.AuthRequiredError("no valid posting token, log in again")
	}

	// posts are never cached or collapsed
	posted, err := resilience.Do(ctx, o.invokers.Post, "",
		func(ctx context.Context) (*twitter.PostResult, error) {
			return o.poster.Post(ctx, accessToken, text)
		})
	if err != nil {
		if resilience.StatusCode(err) == http.StatusUnauthorized {
			e := errors.AuthRequiredError("posting token was rejected, log in again")
			e.Cause = err
			err = e
		}
		return nil, o.fail(logger, StagePost, err)
	}

	o.dedup.Record(ctx, req.UserID, text)
	if posted.Text == "" {
		posted.Text = text
	}

	logger.Info("Posted generated text",
		logging.String("post_id", posted.ID),
		logging.String("commit_sha", commit.SHA),
	)

	return &Result{
		PostID:        posted.ID,
		Text:          posted.Text,
		Repository:    req.Repository,
		CommitSHA:     commit.SHA,
		CommitMessage: commit.Message,
		PostedAt:      o.now().UTC(),
	}, nil
}

func (o *Orchestrator) fail(logger logging.Logger, stage string, err error) error {
	err = errors.WithStage(err, stage)
	logger.Warn("Auto post failed",
		logging.String("stage", stage),
		logging.String("error_type", string(errors.GetType(err))),
		logging.Err(err),
	)
	return err
}
