// Package openai generates post text from a commit message with the chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/resilience"
)

// ServiceName is the breaker and cache namespace for generation.
const ServiceName = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-3.5-turbo"
)

// Config configures the client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Prompt is the input of one generation.
type Prompt struct {
	CommitMessage string `json:"commit_message"`
	Repository    string `json:"repository"`
	Language      string `json:"language"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

// Client calls the chat completions endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a Client. An API key is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.ConfigError("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{config: cfg, httpClient: commonhttp.NewHTTPClient(commonhttp.WithTimeout(cfg.Timeout))}, nil
}

// Generate returns the post text for p.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: BuildPrompt(p)}},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", errors.InternalError("failed to encode chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.InternalError("failed to build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resilience.NewStatusError(ServiceName, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", fmt.Errorf("chat response has no content")
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat response has no content")
	}
	return text, nil
}

// BuildPrompt renders the generation prompt. Anything other than "en" gets
// the Japanese prompt.
func BuildPrompt(p Prompt) string {
	if p.Language == "en" {
		return fmt.Sprintf(`You are an indie developer who is good at sharing information on X (formerly Twitter).
Based on the following GitHub commit message, generate an engaging English tweet (within 140 characters, include at least one hashtag, in the style of Pieter Levels).

Repository: %s
Commit message: %s
`, p.Repository, p.CommitMessage)
	}

	return fmt.Sprintf(`あなたはX（旧Twitter）で情報発信が得意な個人開発者です。
以下のGitHubコミットメッセージをもとに、インプレッションが伸びるような日本語のツイート文を1つ考えてください。

リポジトリ: %s
コミットメッセージ: %s

#ルール
- 140文字以内
- ハッシュタグを1つ以上含める
- Pieter Levels風の熱量や人間味を意識
`, p.Repository, p.CommitMessage)
}
