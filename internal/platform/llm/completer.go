package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/quill/internal/generation"
)

// Completion is the text a model produced for one prompt.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	PromptTokens int
	OutputTokens int

	// Blocked is set when the provider withheld output for safety reasons.
	Blocked bool
}

// Completer is a single-prompt text completion backend.
type Completer interface {
	// Provider names the backend, e.g. "gemini".
	Provider() string

	// Model returns the model the completer sends prompts to.
	Model() string

	// Complete sends prompt and returns the model's answer. Errors should be
	// classified with ClassifyStatus where the provider exposes a status code.
	Complete(ctx context.Context, prompt string) (Completion, error)

	// Ping checks that the backend is reachable and the model exists.
	Ping(ctx context.Context) error
}

// ClassifyStatus maps a provider failure with an HTTP status to the error
// taxonomy. Throttling, server errors and failures without a status (network)
// are upstream errors; other client errors are non-retryable generation
// failures.
func ClassifyStatus(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case status == 0:
		return generation.NewError(generation.KindUpstream,
			fmt.Sprintf("%s request failed", provider), err)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return generation.NewError(generation.KindUpstream,
			fmt.Sprintf("%s returned status %d", provider, status), err)
	default:
		return generation.NewError(generation.KindGenerationFailed,
			fmt.Sprintf("%s rejected the request with status %d", provider, status), err)
	}
}
