package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/redact"
	"github.com/phrazzld/quill/internal/task"
)

// TaskRunner persists and executes background tasks.
type TaskRunner interface {
	Submit(ctx context.Context, t task.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*task.Record, error)
}

// TaskFactory wraps a request in a background task.
type TaskFactory interface {
	CreateTask(req *generation.Request) (*task.GenerationTask, error)
}

// TaskAcceptedResponse is returned when a request was queued.
type TaskAcceptedResponse struct {
	TaskID    uuid.UUID       `json:"task_id"`
	RequestID string          `json:"request_id"`
	Status    task.TaskStatus `json:"status"`
}

// TaskResponse describes a stored task and, once finished, its Result.
type TaskResponse struct {
	TaskID       uuid.UUID          `json:"task_id"`
	Status       task.TaskStatus    `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Result       *generation.Result `json:"result,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// TaskHandler serves asynchronous generation.
type TaskHandler struct {
	runner  TaskRunner
	factory TaskFactory
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(runner TaskRunner, factory TaskFactory) *TaskHandler {
	return &TaskHandler{runner: runner, factory: factory}
}

// Submit handles POST /api/tasks. The request is validated up front so that
// malformed requests are rejected instead of queued.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req generation.Request
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, CodeBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.factory.CreateTask(&req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	if err := h.runner.Submit(r.Context(), t); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContextOrDefault(r.Context()).Info("generation task queued",
		"task_id", t.ID(),
		"request_id", req.ID)

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskAcceptedResponse{
		TaskID:    t.ID(),
		RequestID: req.ID,
		Status:    task.TaskStatusPending,
	})
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "Invalid task ID")
		return
	}

	rec, err := h.runner.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := TaskResponse{
		TaskID:       rec.ID,
		Status:       rec.Status,
		ErrorMessage: redact.String(rec.ErrorMessage),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if len(rec.Result) > 0 {
		var res generation.Result
		if err := json.Unmarshal(rec.Result, &res); err != nil {
			HandleAPIError(w, r, err, "Failed to read task result")
			return
		}
		res = sanitizeResult(res)
		resp.Result = &res
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
