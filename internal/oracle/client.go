// Package oracle is the OpenRouter chat-completion client used for classification.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/classifier"
)

const (
	// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultModel is used when no model is configured.
	DefaultModel = "openai/gpt-4o"

	defaultTimeout = 120 * time.Second
	referer        = "https://whatsapp-bot.local"
	title          = "WhatsApp Triage Assistant"
)

// ErrNoChoices is returned when the completion has no choices.
var ErrNoChoices = errors.New("no response choices")

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements classifier.Oracle against OpenRouter.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ classifier.Oracle = (*Client)(nil)

// headerTransport adds the OpenRouter attribution headers.
type headerTransport struct {
	base http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", referer)
	req.Header.Set("X-Title", title)
	return t.base.RoundTrip(req)
}

// NewClient creates a client. A nil logger is replaced by a no-op logger.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: headerTransport{base: http.DefaultTransport},
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.model
}

// Complete sends req.Prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, req classifier.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		c.logger.Error("chat completion failed", zap.String("model", model), zap.Error(err))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	c.logger.Info("chat completion",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.Choices[0].Message.Content, nil
}
