package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/generation"
)

// Common errors
var (
	ErrNilGenerator    = errors.New("generator cannot be nil")
	ErrNilResultWriter = errors.New("result writer cannot be nil")
	ErrNilLogger       = errors.New("logger cannot be nil")
	ErrNilRequest      = errors.New("request cannot be nil")
	ErrUnknownTaskType = errors.New("unknown task type")
)

// Generator runs one request to completion. The pipeline satisfies it.
type Generator interface {
	Generate(ctx context.Context, req *generation.Request) generation.Result
}

// GenerationTask executes a stored generation request in the background
// and records the Result.
type GenerationTask struct {
	id      uuid.UUID
	request *generation.Request
	gen     Generator
	results ResultWriter
	logger  *slog.Logger

	mu     sync.Mutex
	status TaskStatus
}

// NewGenerationTask creates a pending task for req.
func NewGenerationTask(
	id uuid.UUID,
	req *generation.Request,
	gen Generator,
	results ResultWriter,
	logger *slog.Logger,
) (*GenerationTask, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if gen == nil {
		return nil, ErrNilGenerator
	}
	if results == nil {
		return nil, ErrNilResultWriter
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &GenerationTask{
		id:      id,
		request: req,
		gen:     gen,
		results: results,
		logger:  logger.With("task_type", TaskTypeGeneration, "task_id", id, "request_id", req.ID),
		status:  TaskStatusPending,
	}, nil
}

// ID returns the task's unique identifier
func (t *GenerationTask) ID() uuid.UUID {
	return t.id
}

// Type returns the task type identifier
func (t *GenerationTask) Type() string {
	return TaskTypeGeneration
}

// Request returns the request the task will run.
func (t *GenerationTask) Request() *generation.Request {
	return t.request
}

// Payload returns the JSON encoded request
func (t *GenerationTask) Payload() []byte {
	data, err := json.Marshal(t.request)
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Status returns the current task status
func (t *GenerationTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *GenerationTask) setStatus(s TaskStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Execute runs the request and stores its Result whether it succeeded or
// not. A failed Result is also returned as an error so the runner marks
// the task failed.
func (t *GenerationTask) Execute(ctx context.Context) error {
	t.setStatus(TaskStatusProcessing)
	t.logger.Info("starting generation task", "content_type", t.request.ContentType)

	if err := ctx.Err(); err != nil {
		t.setStatus(TaskStatusFailed)
		return fmt.Errorf("task cancelled by context: %w", err)
	}

	result := t.gen.Generate(ctx, t.request)

	data, err := json.Marshal(result)
	if err != nil {
		t.setStatus(TaskStatusFailed)
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := t.results.SaveTaskResult(ctx, t.id, data); err != nil {
		t.setStatus(TaskStatusFailed)
		t.logger.Error("failed to save task result", "error", err)
		return fmt.Errorf("failed to save task result: %w", err)
	}

	if !result.OK() {
		t.setStatus(TaskStatusFailed)
		t.logger.Warn("generation failed",
			"error_code", result.Failure.Code,
			"retry_count", result.Failure.RetryCount)
		return fmt.Errorf("generation failed: %s: %s", result.Failure.Code, result.Failure.Message)
	}

	t.setStatus(TaskStatusCompleted)
	t.logger.Info("generation task completed",
		"generator_id", result.Content.Metadata.GeneratorID,
		"cache_hit", result.Content.Metadata.CacheHit)
	return nil
}

// GenerationTaskFactory builds generation tasks for new submissions and
// for records found during recovery.
type GenerationTaskFactory struct {
	gen     Generator
	results ResultWriter
	logger  *slog.Logger
}

var _ Factory = (*GenerationTaskFactory)(nil)

// NewGenerationTaskFactory creates a factory bound to gen and results.
func NewGenerationTaskFactory(gen Generator, results ResultWriter, logger *slog.Logger) (*GenerationTaskFactory, error) {
	if gen == nil {
		return nil, ErrNilGenerator
	}
	if results == nil {
		return nil, ErrNilResultWriter
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	return &GenerationTaskFactory{gen: gen, results: results, logger: logger}, nil
}

// CreateTask wraps req in a new task with a fresh id.
func (f *GenerationTaskFactory) CreateTask(req *generation.Request) (*GenerationTask, error) {
	return NewGenerationTask(uuid.New(), req, f.gen, f.results, f.logger)
}

// FromRecord decodes a stored generation request.
func (f *GenerationTaskFactory) FromRecord(rec Record) (Task, error) {
	if rec.Type != TaskTypeGeneration {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, rec.Type)
	}

	var req generation.Request
	if err := json.Unmarshal(rec.Payload, &req); err != nil {
		return nil, fmt.Errorf("failed to decode generation payload: %w", err)
	}

	return NewGenerationTask(rec.ID, &req, f.gen, f.results, f.logger)
}
