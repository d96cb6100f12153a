// Package pipeline composes the registry, selector, cache, cancellation
// registry and retry executor into the end-to-end request lifecycle. Every
// public entry point returns a typed Result; nothing panics or errors past it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/cache"
	"github.com/phrazzld/quill/internal/cancel"
	"github.com/phrazzld/quill/internal/executor"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/metrics"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/registry"
	"github.com/phrazzld/quill/internal/selector"
)

// Defaults applied by New when a Config field is unset.
const (
	DefaultBatchSize         = 5
	DefaultHealthTimeout     = 5 * time.Second
	DefaultHealthConcurrency = 8
	DefaultCacheTTL          = time.Hour
)

// baselineScore is the validation score given when nobody has an opinion.
const baselineScore = 0.5

// ErrNilRegistry is returned by New when no registry is supplied.
var ErrNilRegistry = errors.New("registry cannot be nil")

// Config tunes the pipeline.
type Config struct {
	Timeout           time.Duration
	MaxRetries        int
	BatchSize         int
	CacheTTL          time.Duration
	MinConfidence     float64
	ProbeTimeout      time.Duration
	PriorityThreshold *int // nil uses selector.DefaultPriorityThreshold
	HealthTimeout     time.Duration
	HealthConcurrency int
	FallbackEnabled   bool
	Backoff           executor.Policy
}

// Deps are the collaborators of a Pipeline. Only Registry is required.
type Deps struct {
	Registry *registry.Registry

	// Cache is optional; nil disables caching.
	Cache cache.Store

	// Sink is optional; nil discards metrics.
	Sink metrics.Sink

	// Validator is the shared output validator used when a generator has no
	// opinion about its own content.
	Validator generation.Validator

	Logger *slog.Logger
}

// Pipeline is the content-generation service.
type Pipeline struct {
	cfg       Config
	registry  *registry.Registry
	selector  *selector.Selector
	executor  *executor.Executor
	cache     *cache.Gateway
	cancels   *cancel.Registry
	sink      metrics.Sink
	validator generation.Validator
	validate  *validator.Validate
	logger    *slog.Logger

	lifecycle sync.Mutex
	running   atomic.Bool
	stats     counters
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Registry == nil {
		return nil, ErrNilRegistry
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	var sink metrics.Sink = metrics.Nop{}
	if deps.Sink != nil {
		sink = deps.Sink
	}
	sink = guardedSink{sink: sink, known: deps.Registry.Supports}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.HealthConcurrency <= 0 {
		cfg.HealthConcurrency = DefaultHealthConcurrency
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	return &Pipeline{
		cfg:      cfg,
		registry: deps.Registry,
		selector: selector.New(deps.Registry, selector.Options{
			ProbeTimeout:      cfg.ProbeTimeout,
			PriorityThreshold: cfg.PriorityThreshold,
		}, log),
		executor: executor.New(executor.Config{
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.Backoff,
		}, log),
		cache:     cache.NewGateway(deps.Cache, cfg.CacheTTL, sink, log),
		cancels:   cancel.NewRegistry(),
		sink:      sink,
		validator: deps.Validator,
		validate:  validator.New(),
		logger:    log.With("component", "pipeline"),
	}, nil
}

// Generate runs one request through validation, cache, selection, execution,
// output validation, cache store and metrics.
func (p *Pipeline) Generate(ctx context.Context, req *generation.Request) (result generation.Result) {
	m := generation.Metrics{Start: time.Now()}
	if req != nil {
		m.RequestID = req.ID
		m.ContentType = req.ContentType
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered", "request_id", m.RequestID, "panic", r)
			result = p.fail(ctx, m, generation.Errorf(generation.KindGenerationFailed, "internal error: %v", r))
		}
	}()

	if err := p.validateRequest(req); err != nil {
		return p.fail(ctx, m, err)
	}
	log := p.requestLogger(ctx, req)

	if cached := p.cache.Lookup(ctx, req); cached != nil {
		cached.Metadata.CacheHit = true
		m.CacheHit = true
		m.GeneratorID = cached.Metadata.GeneratorID
		log.Debug("served from cache", "generator_id", cached.Metadata.GeneratorID)
		return p.succeed(ctx, m, cached)
	}

	sel := p.selector.Select(ctx, selector.Criteria{
		ContentType:     req.ContentType,
		Params:          req.Context,
		PreferredMethod: req.PreferredMethod,
		TimeBudget:      req.TimeBudget,
	})
	if !sel.Found() {
		log.Warn("no generator available", "reason", sel.Reason)
		return p.fail(ctx, m, generation.NewError(generation.KindGeneratorNotFound, sel.Reason, nil))
	}
	log.Debug("generator selected",
		"generator_id", sel.GeneratorID,
		"confidence", sel.Confidence,
		"reason", sel.Reason)

	token, err := p.cancels.Register(ctx, req.ID)
	if err != nil {
		return p.fail(ctx, m, generation.NewError(generation.KindInvalidRequest, "request id is already in flight", err))
	}
	defer p.cancels.Deregister(req.ID)

	retries := p.executor.MaxRetries()
	if req.RetryCount != nil {
		retries = *req.RetryCount
	}

	outcome, generatorID, method, fallback := p.execute(log, sel, req, token, retries)
	m.GeneratorID = generatorID
	if outcome.Attempts > 1 {
		m.RetryCount = outcome.Attempts - 1
	}
	if outcome.Err != nil {
		return p.fail(ctx, m, outcome.Err)
	}

	content := outcome.Content
	p.stampMetadata(content, req, generatorID, method, fallback, outcome.Elapsed)

	gen := sel.Generator
	if fallback {
		if reg, ok := p.registry.Get(generatorID); ok {
			gen = reg.Generator
		}
	}
	validation := p.validateOutput(ctx, log, gen, content)
	content.Validation = &validation
	if err := p.sink.RecordValidation(context.WithoutCancel(ctx), req.ID, generatorID, validation); err != nil {
		log.Warn("failed to record validation", "error", err)
	}

	if p.cfg.MinConfidence > 0 && content.Metadata.Confidence < p.cfg.MinConfidence {
		return p.fail(ctx, m, generation.Errorf(generation.KindLowConfidence,
			"confidence %.2f is below the required %.2f", content.Metadata.Confidence, p.cfg.MinConfidence))
	}

	p.cache.Save(ctx, req, content)
	return p.succeed(ctx, m, content)
}

// execute runs the selected generator and, when allowed, its alternatives.
// The returned outcome's Attempts counts every attempt across generators.
func (p *Pipeline) execute(
	log *slog.Logger,
	sel selector.Selection,
	req *generation.Request,
	token *cancel.Token,
	retries int,
) (executor.Outcome, string, generation.Method, bool) {
	primary, _ := p.registry.Get(sel.GeneratorID)
	outcome := p.executor.Execute(sel.Generator, req, token, retries)
	if outcome.Err == nil || !p.cfg.FallbackEnabled || !fallbackEligible(outcome.Err.Kind) {
		return outcome, sel.GeneratorID, primary.Method, false
	}

	attempts := outcome.Attempts
	lastErr := outcome.Err
	for _, alt := range sel.Alternatives {
		if token.Cancelled() {
			break
		}
		log.Warn("generator failed, trying fallback",
			"failed_error_kind", lastErr.Kind,
			"fallback_generator_id", alt.ID)

		next := p.executor.Execute(alt.Generator, req, token, retries)
		attempts += next.Attempts
		if next.Err == nil {
			next.Attempts = attempts
			return next, alt.ID, alt.Method, true
		}
		lastErr = next.Err
		if !fallbackEligible(lastErr.Kind) {
			break
		}
	}

	return executor.Outcome{Err: lastErr, Attempts: attempts}, sel.GeneratorID, primary.Method, false
}

func fallbackEligible(kind generation.Kind) bool {
	switch kind {
	case generation.KindTimeout, generation.KindUpstream, generation.KindGenerationFailed:
		return true
	default:
		return false
	}
}

// stampMetadata fills in what the pipeline knows and the generator may have left out.
func (p *Pipeline) stampMetadata(
	content *generation.GeneratedContent,
	req *generation.Request,
	generatorID string,
	method generation.Method,
	fallback bool,
	elapsed time.Duration,
) {
	if content.ID == "" {
		content.ID = uuid.NewString()
	}
	if content.Type == "" {
		content.Type = req.ContentType
	}
	if content.Metadata.GeneratorID == "" {
		content.Metadata.GeneratorID = generatorID
	}
	if content.Metadata.Method == "" {
		content.Metadata.Method = method
	}
	if content.Metadata.GeneratedAt.IsZero() {
		content.Metadata.GeneratedAt = time.Now().UTC()
	}
	content.Metadata.GenerationTime = elapsed
	content.Metadata.Fallback = fallback
	content.Metadata.CacheHit = false
}

// Cancel cancels an in-flight request. It returns false when the request is
// unknown, already finished, or already cancelled.
func (p *Pipeline) Cancel(requestID string) bool {
	cancelled := p.cancels.Cancel(requestID)
	if cancelled {
		p.logger.Info("request cancelled", "request_id", requestID)
	}
	return cancelled
}

func (p *Pipeline) succeed(ctx context.Context, m generation.Metrics, content *generation.GeneratedContent) generation.Result {
	m.Success = true
	p.finishMetrics(ctx, &m)
	return generation.Succeeded(content, m)
}

func (p *Pipeline) fail(ctx context.Context, m generation.Metrics, err *generation.Error) generation.Result {
	m.Success = false
	m.ErrorCode = err.Kind
	p.finishMetrics(ctx, &m)

	message := err.Message
	if err.Err != nil {
		message += ": " + err.Err.Error()
	}
	return generation.Failed(generation.Failure{
		Code:        err.Kind,
		Message:     message,
		RetryCount:  m.RetryCount,
		Recoverable: generation.Recoverable(err.Kind),
	}, m)
}

func (p *Pipeline) finishMetrics(ctx context.Context, m *generation.Metrics) {
	m.End = time.Now()
	m.DurationMs = m.End.Sub(m.Start).Milliseconds()
	p.stats.record(*m)

	if err := p.sink.RecordGeneration(context.WithoutCancel(ctx), *m); err != nil {
		p.logger.Warn("failed to record generation metrics", "request_id", m.RequestID, "error", err)
	}
}

func (p *Pipeline) requestLogger(ctx context.Context, req *generation.Request) *slog.Logger {
	log, ok := logger.FromContext(ctx)
	if !ok {
		log = p.logger
	}
	return log.With("request_id", req.ID, "content_type", req.ContentType)
}
