package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/llm"
	"google.golang.org/genai"
)

// Provider is the name this completer reports.
const Provider = "gemini"

// Config holds the settings needed to talk to Gemini.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// modelsAPI is the part of genai.Models the completer uses.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Completer implements llm.Completer using the Gemini API.
type Completer struct {
	// models is the Gemini models service
	models modelsAPI

	// cfg holds the model name and sampling settings
	cfg Config

	// logger is used for structured logging
	logger *slog.Logger
}

// NewCompleter creates a Completer after validating cfg.
//
// Parameters:
//   - ctx: Context for client construction
//   - logger: A structured logger for operation logging
//   - cfg: API key, model and sampling settings
//
// Returns:
//   - A ready Completer, or an error wrapping generation.ErrInvalidConfig
func NewCompleter(ctx context.Context, logger *slog.Logger, cfg Config) (*Completer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := validateConfig(ctx, logger, cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return newCompleter(client.Models, cfg, logger), nil
}

func newCompleter(models modelsAPI, cfg Config, logger *slog.Logger) *Completer {
	return &Completer{
		models: models,
		cfg:    cfg,
		logger: logger.With("component", "gemini_completer", "model", cfg.Model),
	}
}

// validateConfig rejects configurations that can never work.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg Config) error {
	if cfg.APIKey == "" {
		logger.ErrorContext(ctx, "missing Gemini API key")
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		logger.ErrorContext(ctx, "missing Gemini model name")
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f is outside [0, 2]", generation.ErrInvalidConfig, cfg.Temperature)
	}
	return nil
}

// Provider implements llm.Completer.
func (c *Completer) Provider() string { return Provider }

// Model implements llm.Completer.
func (c *Completer) Model() string { return c.cfg.Model }

// Complete sends prompt to Gemini and returns the first candidate's text.
// Safety blocks are reported through Completion.Blocked rather than as errors.
func (c *Completer) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	if prompt == "" {
		return llm.Completion{}, generation.NewError(generation.KindGenerationFailed, "empty prompt", ErrEmptyPrompt)
	}

	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.cfg.Temperature),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Gemini API call error", "error", err)
		return llm.Completion{}, classifyError(err)
	}
	if resp == nil {
		return llm.Completion{}, generation.Retryable(
			generation.NewError(generation.KindGenerationFailed, "nil response", ErrNoCandidates))
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		c.logger.WarnContext(ctx, "prompt blocked by safety filters",
			"block_reason", resp.PromptFeedback.BlockReason)
		return llm.Completion{
			Model:        c.cfg.Model,
			Blocked:      true,
			FinishReason: string(resp.PromptFeedback.BlockReason),
		}, nil
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return llm.Completion{}, generation.Retryable(
			generation.NewError(generation.KindGenerationFailed, "no content generated", ErrNoCandidates))
	}

	candidate := resp.Candidates[0]
	completion := llm.Completion{
		Model:        c.cfg.Model,
		FinishReason: string(candidate.FinishReason),
	}
	if candidate.FinishReason == genai.FinishReasonSafety {
		c.logger.WarnContext(ctx, "content blocked by safety filters")
		completion.Blocked = true
		return completion, nil
	}

	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil {
				text.WriteString(part.Text)
			}
		}
		completion.Text = text.String()
	}
	return completion, nil
}

// Ping looks the configured model up.
func (c *Completer) Ping(ctx context.Context) error {
	if _, err := c.models.Get(ctx, c.cfg.Model, nil); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError extracts the HTTP status from genai API errors.
func classifyError(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr):
		status = apiErrPtr.Code
	}
	return llm.ClassifyStatus(Provider, status, err)
}

var _ llm.Completer = (*Completer)(nil)
