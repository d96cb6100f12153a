// Package ollama provides an llm.Completer for a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/llm"
)

// Provider is the name this completer reports.
const Provider = "ollama"

// Config holds the settings needed to talk to Ollama.
type Config struct {
	// URL is the server root, e.g. http://localhost:11434. A trailing /v1 is stripped.
	URL         string
	Model       string
	Temperature float32
	MaxTokens   int

	// HTTPTimeout bounds a single HTTP exchange. Zero leaves it to the context.
	HTTPTimeout time.Duration
}

type chatAPI interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
	Heartbeat(ctx context.Context) error
}

// Completer implements llm.Completer over the Ollama chat endpoint.
type Completer struct {
	api    chatAPI
	cfg    Config
	logger *slog.Logger
}

// NewCompleter parses cfg.URL and builds a client for it.
func NewCompleter(logger *slog.Logger, cfg Config) (*Completer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	base := strings.TrimSuffix(strings.TrimSuffix(cfg.URL, "/"), "/v1")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid ollama URL %q", generation.ErrInvalidConfig, cfg.URL)
	}

	client := api.NewClient(parsed, &http.Client{Timeout: cfg.HTTPTimeout})
	return newCompleter(client, cfg, logger), nil
}

func newCompleter(chat chatAPI, cfg Config, logger *slog.Logger) *Completer {
	return &Completer{
		api:    chat,
		cfg:    cfg,
		logger: logger.With("component", "ollama_completer", "model", cfg.Model),
	}
}

// Provider implements llm.Completer.
func (c *Completer) Provider() string { return Provider }

// Model implements llm.Completer.
func (c *Completer) Model() string { return c.cfg.Model }

// Complete runs a non-streaming chat with prompt as the only user message.
func (c *Completer) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	if prompt == "" {
		return llm.Completion{}, generation.Errorf(generation.KindGenerationFailed, "empty prompt")
	}

	stream := false
	options := map[string]any{"temperature": c.cfg.Temperature}
	if c.cfg.MaxTokens > 0 {
		options["num_predict"] = c.cfg.MaxTokens
	}
	req := &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options:  options,
	}

	var final api.ChatResponse
	var text strings.Builder
	err := c.api.Chat(ctx, req, func(r api.ChatResponse) error {
		text.WriteString(r.Message.Content)
		final = r
		return nil
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "ollama chat failed", "error", err)
		return llm.Completion{}, classifyError(err)
	}

	model := final.Model
	if model == "" {
		model = c.cfg.Model
	}
	return llm.Completion{
		Text:         text.String(),
		Model:        model,
		FinishReason: final.DoneReason,
		PromptTokens: final.PromptEvalCount,
		OutputTokens: final.EvalCount,
	}, nil
}

// Ping checks the server is up.
func (c *Completer) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

func classifyError(err error) error {
	status := 0
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.StatusCode
	}
	return llm.ClassifyStatus(Provider, status, err)
}

var _ llm.Completer = (*Completer)(nil)
