package task

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// MockTask is a configurable Task for exercising the runner without a
// pipeline.
type MockTask struct {
	TaskID      uuid.UUID
	TaskType    string
	TaskPayload []byte
	ExecuteFn   func(ctx context.Context) error

	executions atomic.Int32
	done       chan struct{}
}

// NewMockTask creates a MockTask whose Execute succeeds.
func NewMockTask(taskType string, payload []byte) *MockTask {
	return &MockTask{
		TaskID:      uuid.New(),
		TaskType:    taskType,
		TaskPayload: payload,
		ExecuteFn:   func(context.Context) error { return nil },
		done:        make(chan struct{}, 1),
	}
}

// ID returns the task's unique identifier
func (t *MockTask) ID() uuid.UUID { return t.TaskID }

// Type returns the task type identifier
func (t *MockTask) Type() string { return t.TaskType }

// Payload returns the task data as a byte slice
func (t *MockTask) Payload() []byte { return t.TaskPayload }

// Status always reports pending; the store tracks progress.
func (t *MockTask) Status() TaskStatus { return TaskStatusPending }

// Execute calls ExecuteFn and signals Done afterwards.
func (t *MockTask) Execute(ctx context.Context) error {
	t.executions.Add(1)
	defer func() {
		select {
		case t.done <- struct{}{}:
		default:
		}
	}()
	return t.ExecuteFn(ctx)
}

// Executions reports how many times Execute ran.
func (t *MockTask) Executions() int { return int(t.executions.Load()) }

// Done receives once after each execution, dropping signals nobody reads.
func (t *MockTask) Done() <-chan struct{} { return t.done }
