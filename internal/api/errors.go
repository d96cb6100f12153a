package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/redact"
	"github.com/phrazzld/quill/internal/task"
)

// Error codes used for failures that do not come from the pipeline.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeQueueFull     = "QUEUE_FULL"
	CodeInternalError = "INTERNAL_ERROR"
)

// StatusForKind maps a failure kind to the HTTP status returned with it.
func StatusForKind(kind generation.Kind) int {
	switch kind {
	case generation.KindInvalidRequest:
		return http.StatusBadRequest
	case generation.KindGeneratorNotFound:
		return http.StatusNotFound
	case generation.KindTimeout:
		return http.StatusGatewayTimeout
	case generation.KindUpstream:
		return http.StatusBadGateway
	case generation.KindLowConfidence, generation.KindContentValidationFailed:
		return http.StatusUnprocessableEntity
	case generation.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeResult strips secrets and paths from a failure message. Content is
// returned unchanged.
func sanitizeResult(res generation.Result) generation.Result {
	if res.Failure != nil {
		f := *res.Failure
		f.Message = redact.String(f.Message)
		res.Failure = &f
	}
	return res
}

// HandleAPIError maps errors from the task runner and request parsing to a
// status code and a safe message, then writes the response.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, userMessage string) {
	status, code, message := classifyError(err)
	if userMessage != "" {
		message = userMessage
	}
	shared.RespondWithErrorAndLog(w, r, status, code, message, err)
}

func classifyError(err error) (int, string, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound, CodeNotFound, "Task not found"
	case errors.Is(err, task.ErrQueueFull):
		return http.StatusServiceUnavailable, CodeQueueFull, "Task queue is full, retry later"
	case errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable, CodeQueueFull, "Task queue is shutting down"
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, CodeBadRequest, SanitizeValidationError(err)
	default:
		return http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred"
	}
}

// SanitizeValidationError describes the first failed field without echoing
// the submitted value.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "Validation error"
	}
	fe := validationErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
