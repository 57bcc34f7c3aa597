package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"emergency-call-backend/pkg"
)

// Client is the language-model capability the pipeline depends on: a single
// prompt in, a single completion out.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Configured() bool
}

// Options selects the model endpoint.  An empty APIKey produces a client that
// reports pkg.ErrAIBackendUnavailable on every call.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// OpenAIClient calls an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient constructs an OpenAI-backed LLM client.  Model falls back
// to gpt-4o-mini when empty.
func NewOpenAIClient(opts Options) *OpenAIClient {
	model := opts.Model
	if model == "" {
		// default to a modern small model; can be overridden via env
		model = "gpt-4o-mini"
	}
	c := &OpenAIClient{model: model, maxTokens: opts.MaxTokens}
	if opts.APIKey == "" {
		return c
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

// Configured reports whether a credential was supplied.
func (c *OpenAIClient) Configured() bool { return c.client != nil }

// Complete sends prompt as a single user message and returns the trimmed
// content of the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.client == nil {
		return "", pkg.ErrAIBackendUnavailable
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkg.ErrAIBackend, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", pkg.ErrAIBackend)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
