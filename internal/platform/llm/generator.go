package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/generation"
)

// Defaults for Config fields left unset.
const (
	DefaultConfidence      = 0.85
	DefaultBaseLatency     = 300 * time.Millisecond
	DefaultTokensPerSecond = 80.0
)

// ErrNilCompleter is returned when a Generator is built without a backend.
var ErrNilCompleter = errors.New("completer cannot be nil")

// lengthLimits are the maximum lengths, in characters, accepted per content type.
var lengthLimits = map[generation.ContentType]int{
	generation.ContentTypeEmailSubject: 150,
	generation.ContentTypeEmailBody:    10000,
	generation.ContentTypeSummary:      4000,
	generation.ContentTypeReply:        6000,
}

// expectedOutputTokens is a rough answer size per content type, used for estimates.
var expectedOutputTokens = map[generation.ContentType]int{
	generation.ContentTypeEmailSubject: 20,
	generation.ContentTypeEmailBody:    350,
	generation.ContentTypeSummary:      150,
	generation.ContentTypeReply:        250,
}

// Config describes one LLM-backed generator.
type Config struct {
	// ID defaults to "llm-<provider>".
	ID       string
	Priority int
	Disabled bool

	// Types restricts the generator to these content types. Empty means every
	// type with a prompt.
	Types []generation.ContentType

	// Confidence is reported on every piece of content.
	Confidence float64

	BaseLatency     time.Duration
	TokensPerSecond float64
}

// Generator implements generation.Generator over a Completer.
type Generator struct {
	generation.Base

	cfg       Config
	completer Completer
	prompts   *Prompts
	counter   TokenCounter
	logger    *slog.Logger
}

// NewGenerator creates a Generator. A nil counter uses ApproxCounter.
func NewGenerator(
	cfg Config,
	completer Completer,
	prompts *Prompts,
	counter TokenCounter,
	logger *slog.Logger,
) (*Generator, error) {
	if completer == nil {
		return nil, ErrNilCompleter
	}
	if prompts == nil {
		return nil, fmt.Errorf("%w: prompts cannot be nil", generation.ErrInvalidConfig)
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if counter == nil {
		counter = ApproxCounter{}
	}
	if cfg.ID == "" {
		cfg.ID = "llm-" + completer.Provider()
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = DefaultConfidence
	}
	if cfg.BaseLatency <= 0 {
		cfg.BaseLatency = DefaultBaseLatency
	}
	if cfg.TokensPerSecond <= 0 {
		cfg.TokensPerSecond = DefaultTokensPerSecond
	}
	if len(cfg.Types) == 0 {
		cfg.Types = prompts.Types()
	}
	for _, ct := range cfg.Types {
		if !prompts.Has(ct) {
			return nil, fmt.Errorf("%w: %s", ErrNoPrompt, ct)
		}
	}

	return &Generator{
		cfg:       cfg,
		completer: completer,
		prompts:   prompts,
		counter:   counter,
		logger: logger.With(
			"component", "llm_generator",
			"generator_id", cfg.ID,
			"provider", completer.Provider(),
			"model", completer.Model()),
	}, nil
}

// Describe implements generation.Generator.
func (g *Generator) Describe() generation.Descriptor {
	return generation.Descriptor{
		ID:             g.cfg.ID,
		SupportedTypes: append([]generation.ContentType(nil), g.cfg.Types...),
		Priority:       g.cfg.Priority,
		Enabled:        !g.cfg.Disabled,
		Method:         generation.MethodLLM,
		Capabilities:   []string{g.completer.Provider(), g.completer.Model()},
	}
}

// CanGenerate accepts supported types whose required context is present.
func (g *Generator) CanGenerate(_ context.Context, contentType generation.ContentType, params generation.Params) (bool, error) {
	if !g.supports(contentType) {
		return false, nil
	}
	return len(g.prompts.Missing(contentType, params)) == 0, nil
}

func (g *Generator) supports(contentType generation.ContentType) bool {
	for _, ct := range g.cfg.Types {
		if ct == contentType {
			return true
		}
	}
	return false
}

// Generate renders the prompt, calls the model and wraps the answer.
func (g *Generator) Generate(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error) {
	prompt, err := g.prompts.Render(req.ContentType, req.Context)
	if err != nil {
		return nil, generation.NewError(generation.KindGenerationFailed, "failed to build prompt", err)
	}

	g.logger.DebugContext(ctx, "sending prompt",
		"request_id", req.ID,
		"content_type", req.ContentType,
		"prompt_length", len(prompt))

	start := time.Now()
	completion, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		g.logger.WarnContext(ctx, "completion failed",
			"request_id", req.ID,
			"error", err)
		return nil, classify(g.completer.Provider(), err)
	}

	if completion.Blocked {
		return nil, generation.Errorf(generation.KindContentValidationFailed,
			"%s withheld the response (finish reason %s)", g.completer.Provider(), completion.FinishReason)
	}

	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return nil, generation.Retryable(generation.Errorf(generation.KindGenerationFailed,
			"%s returned an empty response", g.completer.Provider()))
	}

	g.logger.InfoContext(ctx, "completion received",
		"request_id", req.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", completion.PromptTokens,
		"output_tokens", completion.OutputTokens)

	model := completion.Model
	if model == "" {
		model = g.completer.Model()
	}

	return &generation.GeneratedContent{
		ID:   uuid.NewString(),
		Type: req.ContentType,
		Payload: generation.Payload{
			Text: text,
			Structured: map[string]any{
				"provider":      g.completer.Provider(),
				"model":         model,
				"prompt_tokens": completion.PromptTokens,
				"output_tokens": completion.OutputTokens,
			},
		},
		Metadata: generation.ContentMetadata{
			Method:      generation.MethodLLM,
			GeneratorID: g.cfg.ID,
			Confidence:  g.cfg.Confidence,
			GeneratedAt: time.Now().UTC(),
		},
	}, nil
}

// classify leaves already-classified errors alone and treats anything else
// from a backend as an upstream failure.
func classify(provider string, err error) error {
	var genErr *generation.Error
	if errors.As(err, &genErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ClassifyStatus(provider, 0, err)
}

// Validate checks the answer is non-empty and within the length limit of its
// type. Email subjects must also be a single line.
func (g *Generator) Validate(_ context.Context, content *generation.GeneratedContent) (*generation.ValidationResult, error) {
	if content == nil {
		return nil, errors.New("content cannot be nil")
	}

	var issues []string
	text := content.Payload.Text
	length := utf8.RuneCountInString(text)

	if strings.TrimSpace(text) == "" {
		issues = append(issues, "text is empty")
	}
	if limit, ok := lengthLimits[content.Type]; ok && length > limit {
		issues = append(issues, fmt.Sprintf("text is %d characters, limit is %d", length, limit))
	}
	if content.Type == generation.ContentTypeEmailSubject && strings.ContainsAny(text, "\r\n") {
		issues = append(issues, "subject spans multiple lines")
	}

	score := 1.0 - 0.4*float64(len(issues))
	if score < 0 {
		score = 0
	}
	return &generation.ValidationResult{
		IsValid: len(issues) == 0,
		Score:   score,
		Issues:  issues,
	}, nil
}

// EstimateGenerationTime counts prompt and expected answer tokens and divides
// by the configured throughput.
func (g *Generator) EstimateGenerationTime(params generation.Params) time.Duration {
	tokens := 0
	for _, v := range params {
		if s, ok := v.(string); ok {
			tokens += g.counter.Count(s)
		}
	}

	output := 200
	if len(g.cfg.Types) == 1 {
		if n, ok := expectedOutputTokens[g.cfg.Types[0]]; ok {
			output = n
		}
	}
	tokens += output

	seconds := float64(tokens) / g.cfg.TokensPerSecond
	return g.cfg.BaseLatency + time.Duration(seconds*float64(time.Second))
}

// Initialize adopts the pipeline's logger.
func (g *Generator) Initialize(_ context.Context, deps generation.Dependencies) error {
	if deps.Logger != nil {
		g.logger = deps.Logger.With(
			"component", "llm_generator",
			"provider", g.completer.Provider(),
			"model", g.completer.Model())
	}
	g.logger.Info("llm generator initialized", "types", g.cfg.Types)
	return nil
}

// Health pings the backend.
func (g *Generator) Health(ctx context.Context) (generation.HealthStatus, error) {
	if err := g.completer.Ping(ctx); err != nil {
		return generation.HealthStatus{
			State:   generation.HealthUnhealthy,
			Message: err.Error(),
		}, nil
	}
	return generation.HealthStatus{State: generation.HealthHealthy}, nil
}

var _ generation.Generator = (*Generator)(nil)
