// Package openai provides an llm.Completer for OpenAI and any server speaking
// the OpenAI chat-completions protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/llm"
	goopenai "github.com/sashabaranov/go-openai"
)

// Provider is the name this completer reports.
const Provider = "openai"

const systemPrompt = "You write short professional texts. Follow the instructions exactly and output only the requested text."

// Config holds the settings needed to talk to an OpenAI-compatible API.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, e.g. for a proxy or a compatible server.
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (goopenai.ModelsList, error)
}

// Completer implements llm.Completer over the chat-completions endpoint.
type Completer struct {
	api    chatAPI
	cfg    Config
	logger *slog.Logger
}

// NewCompleter validates cfg and builds a client for it.
func NewCompleter(logger *slog.Logger, cfg Config) (*Completer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens cannot be negative", generation.ErrInvalidConfig)
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newCompleter(goopenai.NewClientWithConfig(clientCfg), cfg, logger), nil
}

func newCompleter(api chatAPI, cfg Config, logger *slog.Logger) *Completer {
	return &Completer{
		api:    api,
		cfg:    cfg,
		logger: logger.With("component", "openai_completer", "model", cfg.Model),
	}
}

// Provider implements llm.Completer.
func (c *Completer) Provider() string { return Provider }

// Model implements llm.Completer.
func (c *Completer) Model() string { return c.cfg.Model }

// Complete sends prompt as the user message of a single chat turn.
func (c *Completer) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	if prompt == "" {
		return llm.Completion{}, generation.Errorf(generation.KindGenerationFailed, "empty prompt")
	}

	req := goopenai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "chat completion failed", "error", err)
		return llm.Completion{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, generation.Retryable(
			generation.Errorf(generation.KindGenerationFailed, "openai returned no choices"))
	}

	choice := resp.Choices[0]
	completion := llm.Completion{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		c.logger.WarnContext(ctx, "completion withheld by content filter")
		completion.Blocked = true
		completion.Text = ""
	}
	return completion, nil
}

// Ping lists models, which needs a valid key and a reachable endpoint.
func (c *Completer) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

func classifyError(err error) error {
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return llm.ClassifyStatus(Provider, status, err)
}

var _ llm.Completer = (*Completer)(nil)
