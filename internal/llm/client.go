// Package llm provides the client for the external generation capability,
// shared by the reranker, the intent classifier, and the summarizer.
package llm

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
)

// Options tune a single generation call.
type Options struct {
	// MaxTokens bounds the completion length. 0 uses the model default.
	MaxTokens int
	// Temperature controls sampling; deterministic mode uses 0.
	Temperature float32
	// TopP is nucleus sampling; 0 uses the model default.
	TopP float32
	// Stop sequences terminate generation.
	Stop []string
	// Timeout overrides the client default for this call.
	Timeout time.Duration
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// GenerateFunc adapts a function to the Generator interface.
type GenerateFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// Generate implements Generator.
func (f GenerateFunc) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// Client is a Generator backed by an OpenAI-compatible chat endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates a generation client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Generate runs a single-turn completion. Transport failures are
// Transient; an empty completion is Upstream.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := c.api.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", errors.Wrap(errors.KindTransient, "generation service unavailable", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New(errors.KindUpstream, "generation service returned empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Generator = (*Client)(nil)
var _ Generator = (GenerateFunc)(nil)
