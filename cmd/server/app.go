package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/quill/internal/cache"
	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/executor"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/metrics"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/platform/gemini"
	"github.com/phrazzld/quill/internal/platform/llm"
	"github.com/phrazzld/quill/internal/platform/ollama"
	"github.com/phrazzld/quill/internal/platform/openai"
	"github.com/phrazzld/quill/internal/platform/postgres"
	"github.com/phrazzld/quill/internal/platform/template"
	"github.com/phrazzld/quill/internal/registry"
	"github.com/phrazzld/quill/internal/task"
	"github.com/redis/go-redis/v9"
)

// Generator priorities. Hosted models are preferred, the template generator
// is the last resort.
const (
	priorityGemini   = 30
	priorityOpenAI   = 20
	priorityOllama   = 10
	priorityTemplate = 1
)

// application holds the shared dependencies and owns their shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db          *sql.DB
	redis       *redis.Client
	prometheus  *metrics.Prometheus
	metricsSink *postgres.MetricsSink

	pipeline    *pipeline.Pipeline
	taskStore   task.TaskStore
	taskFactory *task.GenerationTaskFactory
	taskRunner  *task.TaskRunner

	background sync.WaitGroup
	stopPrune  context.CancelFunc
}

// newApplication builds and starts every component. On error, whatever was
// already started is shut down again.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *application, err error) {
	app = &application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.cleanup(context.Background())
			app = nil
		}
	}()

	if cfg.Database.URL != "" {
		if app.db, err = postgres.Open(ctx, cfg.Database.URL, logger); err != nil {
			return app, err
		}
		if err = postgres.Migrate(ctx, app.db, "up", logger); err != nil {
			return app, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	store, err := app.setupCache(ctx)
	if err != nil {
		return app, err
	}

	app.prometheus = metrics.NewPrometheus()
	var sink metrics.Sink = app.prometheus
	if app.db != nil {
		app.metricsSink = postgres.NewMetricsSink(app.db)
		sink = metrics.Multi{app.prometheus, app.metricsSink}
	}

	app.pipeline, err = pipeline.New(pipelineConfig(cfg.Pipeline), pipeline.Deps{
		Registry: registry.New(logger),
		Cache:    store,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		return app, fmt.Errorf("failed to create pipeline: %w", err)
	}

	generators, err := buildGenerators(ctx, cfg, logger)
	if err != nil {
		return app, err
	}
	for _, gen := range generators {
		if err = app.pipeline.RegisterGenerator(ctx, gen); err != nil {
			return app, fmt.Errorf("failed to register generator %s: %w", gen.Describe().ID, err)
		}
		logger.Info("generator registered",
			"generator_id", gen.Describe().ID,
			"priority", gen.Describe().Priority)
	}
	if err = app.pipeline.Start(ctx); err != nil {
		return app, fmt.Errorf("failed to start pipeline: %w", err)
	}

	if err = app.setupTaskRunner(); err != nil {
		return app, err
	}

	if app.metricsSink != nil {
		app.startPruning()
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// setupCache returns a Redis store when an address is configured and the
// in-memory store otherwise.
func (app *application) setupCache(ctx context.Context) (cache.Store, error) {
	cfg := app.config.Redis
	if cfg.Addr == "" {
		app.logger.Info("using in-memory cache", "max_entries", app.config.Pipeline.CacheMaxEntries)
		return cache.NewMemoryStore(app.config.Pipeline.CacheMaxEntries), nil
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store := cache.NewRedisStore(app.redis)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.logger.Info("using redis cache", "addr", cfg.Addr, "db", cfg.DB)
	return store, nil
}

func pipelineConfig(cfg config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		BatchSize:         cfg.BatchSize,
		CacheTTL:          cfg.CacheTTL,
		MinConfidence:     cfg.MinConfidence,
		ProbeTimeout:      cfg.ProbeTimeout,
		HealthTimeout:     cfg.HealthTimeout,
		HealthConcurrency: cfg.HealthConcurrency,
		FallbackEnabled:   cfg.FallbackEnabled,
		Backoff:           executor.DefaultPolicy(cfg.BackoffBase, cfg.BackoffMax),
	}
}

// buildGenerators creates one LLM generator per configured backend plus the
// template generator, which is always available.
func buildGenerators(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]generation.Generator, error) {
	var generators []generation.Generator

	completers, err := buildCompleters(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	if len(completers) > 0 {
		prompts, err := llm.LoadPrompts(cfg.LLM.PromptDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		for _, c := range completers {
			gen, err := llm.NewGenerator(
				llm.Config{Priority: c.priority},
				c.completer,
				prompts,
				llm.NewTokenCounter(c.model, logger),
				logger,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s generator: %w", c.completer.Provider(), err)
			}
			generators = append(generators, gen)
		}
	} else {
		logger.Warn("no LLM backend configured, only templates will be served")
	}

	tmpl, err := template.NewGenerator(template.Config{
		Priority: priorityTemplate,
		Dir:      cfg.Templates.Dir,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create template generator: %w", err)
	}
	return append(generators, tmpl), nil
}

type configuredCompleter struct {
	completer llm.Completer
	model     string
	priority  int
}

func buildCompleters(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) ([]configuredCompleter, error) {
	var out []configuredCompleter

	if cfg.GeminiAPIKey != "" {
		c, err := gemini.NewCompleter(ctx, logger, gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini completer: %w", err)
		}
		out = append(out, configuredCompleter{completer: c, model: cfg.GeminiModel, priority: priorityGemini})
	}

	if cfg.OpenAIAPIKey != "" {
		c, err := openai.NewCompleter(logger, openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai completer: %w", err)
		}
		out = append(out, configuredCompleter{completer: c, model: cfg.OpenAIModel, priority: priorityOpenAI})
	}

	if cfg.OllamaURL != "" {
		c, err := ollama.NewCompleter(logger, ollama.Config{
			URL:         cfg.OllamaURL,
			Model:       cfg.OllamaModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama completer: %w", err)
		}
		out = append(out, configuredCompleter{completer: c, model: cfg.OllamaModel, priority: priorityOllama})
	}

	return out, nil
}

// setupTaskRunner starts the background runner on the Postgres task store
// when a database is configured, and on the in-memory store otherwise.
func (app *application) setupTaskRunner() error {
	if app.db != nil {
		app.taskStore = postgres.NewPostgresTaskStore(app.db)
	} else {
		app.taskStore = task.NewMemoryTaskStore()
	}

	factory, err := task.NewGenerationTaskFactory(app.pipeline, app.taskStore, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create task factory: %w", err)
	}
	app.taskFactory = factory

	cfg := app.config.Task
	app.taskRunner = task.NewTaskRunner(app.taskStore, factory, task.TaskRunnerConfig{
		WorkerCount:  cfg.WorkerCount,
		QueueSize:    cfg.QueueSize,
		StuckTaskAge: time.Duration(cfg.StuckTaskAgeMinutes) * time.Minute,
	}, app.logger)

	if err := app.taskRunner.Start(); err != nil {
		app.taskRunner = nil
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	return nil
}

// startPruning deletes metrics rows older than the retention window on every
// prune interval.
func (app *application) startPruning() {
	ctx, cancel := context.WithCancel(context.Background())
	app.stopPrune = cancel

	app.background.Add(1)
	go func() {
		defer app.background.Done()

		ticker := time.NewTicker(app.config.Database.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.pruneMetrics(ctx)
			}
		}
	}()
}

func (app *application) pruneMetrics(ctx context.Context) {
	cutoff := time.Now().Add(-app.config.Database.Retention)
	deleted, err := app.metricsSink.Prune(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			app.logger.Error("failed to prune metrics", "error", err)
		}
		return
	}
	if deleted > 0 {
		app.logger.Info("pruned metrics rows", "deleted", deleted, "cutoff", cutoff)
	}
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup stops components in reverse start order.
func (app *application) cleanup(ctx context.Context) {
	if app.stopPrune != nil {
		app.stopPrune()
	}
	app.background.Wait()

	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.pipeline != nil {
		if err := app.pipeline.Stop(ctx); err != nil {
			app.logger.Error("error stopping pipeline", "error", err)
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
