// Package llm provides the agent call used by the pipeline: an
// OpenAI-compatible chat completion client with streaming, retry of
// transient failures and a synchronous fallback for empty streams.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// AgentRequest is one call of a pipeline agent.
type AgentRequest struct {
	// Agent names the pipeline stage, used for logging only.
	Agent string

	// SystemPrompt is the agent's template text.
	SystemPrompt string

	// UserMessage carries the stage-specific context.
	UserMessage string

	// Model overrides the client's default model when set.
	Model string

	// Stream requests incremental output through the chunk callback.
	Stream bool

	// MaxTokens limits response length. 0 uses the client default.
	MaxTokens int
}

// ChunkFunc receives streamed output fragments in order.
type ChunkFunc func(chunk string)

// Config holds connection settings for an OpenAI-compatible endpoint.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client runs agents against an OpenAI-compatible chat completion API.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client for the endpoint described by cfg.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	c := &Client{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		retryConfig: DefaultRetryConfig(),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if base := NormalizeBaseURL(cfg.BaseURL); base != "" {
		apiCfg.BaseURL = base
	}
	apiCfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(apiCfg)

	return c
}

// RunAgent sends the agent's system prompt and user message and returns the
// full response text. When streaming, onChunk receives each fragment as it
// arrives; a stream that yields nothing is retried once synchronously.
func (c *Client) RunAgent(ctx context.Context, req AgentRequest, onChunk ChunkFunc) (string, error) {
	chatReq := c.buildRequest(req)
	start := time.Now()

	var (
		out string
		err error
	)
	if req.Stream {
		out, err = c.stream(ctx, chatReq, onChunk)
		if err == nil && out == "" {
			c.logger.Warn("Stream returned no content, falling back to sync call",
				"agent", req.Agent, "model", chatReq.Model)
			out, err = c.complete(ctx, chatReq)
		}
	} else {
		out, err = c.complete(ctx, chatReq)
	}

	if err != nil {
		c.logger.Error("Agent call failed",
			"agent", req.Agent,
			"model", chatReq.Model,
			"duration", time.Since(start),
			"error", err)
		return "", fmt.Errorf("run agent %s: %w", req.Agent, err)
	}

	c.logger.Debug("Agent call completed",
		"agent", req.Agent,
		"model", chatReq.Model,
		"chars", len(out),
		"duration", time.Since(start))
	return out, nil
}

func (c *Client) buildRequest(req AgentRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
		},
		MaxTokens: maxTokens,
	}
}

// complete performs a synchronous chat completion with retry.
func (c *Client) complete(ctx context.Context, chatReq openai.ChatCompletionRequest) (string, error) {
	var out string
	op := func() error {
		resp, err := c.api.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return c.permanentUnlessTransient(classify(err))
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(NewFatalError(errors.New("response has no choices")))
		}
		out = resp.Choices[0].Message.Content
		return nil
	}

	if err := c.retry(ctx, op); err != nil {
		return "", err
	}
	return out, nil
}

// stream performs a streaming chat completion. Opening the stream is
// retried; once a fragment has been delivered, failures are returned as is
// so callers never see duplicated output.
func (c *Client) stream(ctx context.Context, chatReq openai.ChatCompletionRequest, onChunk ChunkFunc) (string, error) {
	chatReq.Stream = true

	var sb strings.Builder
	op := func() error {
		stream, err := c.api.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return c.permanentUnlessTransient(classify(err))
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				classified := classify(err)
				if sb.Len() > 0 {
					return backoff.Permanent(classified)
				}
				return c.permanentUnlessTransient(classified)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			chunk := resp.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}
			sb.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
	}

	if err := c.retry(ctx, op); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *Client) permanentUnlessTransient(err error) error {
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.WithContext(c.retryConfig.policy(), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		c.logger.Debug("Request failed, retrying", "backoff", wait, "error", err)
	})
}

// NormalizeBaseURL adds a scheme when missing and makes sure the URL ends
// in /v1. An empty input stays empty.
func NormalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
