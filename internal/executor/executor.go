// Package executor drives a single generator through a bounded, classified
// retry loop where every attempt races the generator against a deadline and
// the request's cancellation token.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/quill/internal/cancel"
	"github.com/phrazzld/quill/internal/generation"
)

// DefaultTimeout is used when Config.Timeout is not set.
const DefaultTimeout = 30 * time.Second

// State is a step of the retry state machine.
type State string

// Retry states.
const (
	StateAttempt State = "ATTEMPT"
	StateRetry   State = "RETRY"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
)

// RetryState is the per-request bookkeeping of the retry loop.
type RetryState struct {
	Attempt   int
	LastErr   *generation.Error
	NextDelay time.Duration
}

// Outcome is the resolution of Execute. Exactly one of Content and Err is set.
type Outcome struct {
	Content  *generation.GeneratedContent
	Err      *generation.Error
	Attempts int
	Elapsed  time.Duration
}

// RetryCount is the number of attempts beyond the first.
func (o Outcome) RetryCount() int {
	if o.Attempts <= 1 {
		return 0
	}
	return o.Attempts - 1
}

// Config tunes an Executor.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    Policy
}

// Executor runs generators with retries and timeouts.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Executor{cfg: cfg, logger: logger.With("component", "executor")}
}

// MaxRetries returns the retries used when a request does not override them.
func (e *Executor) MaxRetries() int {
	return e.cfg.MaxRetries
}

// Execute drives gen for req until it succeeds, fails with a non-retryable
// error, runs out of attempts, or token is cancelled. retries is the number of
// additional attempts allowed after the first.
func (e *Executor) Execute(
	gen generation.Generator,
	req *generation.Request,
	token *cancel.Token,
	retries int,
) Outcome {
	if retries < 0 {
		retries = 0
	}
	maxAttempts := retries + 1
	generatorID := gen.Describe().ID
	log := e.logger.With("request_id", req.ID, "generator_id", generatorID)
	start := time.Now()

	var rs RetryState
	var content *generation.GeneratedContent
	state := StateAttempt

	for {
		switch state {
		case StateAttempt:
			if token.Cancelled() || token.Context().Err() != nil {
				rs.LastErr = cancelledError(token)
				state = StateFailed
				continue
			}

			timeout, err := e.attemptTimeout(req)
			if err != nil {
				rs.LastErr = err
				state = StateFailed
				continue
			}

			rs.Attempt++
			log.Debug("starting attempt", "attempt", rs.Attempt, "max_attempts", maxAttempts, "timeout", timeout)

			c, attemptErr := e.attempt(gen, req, token, timeout)
			if attemptErr == nil {
				content = c
				state = StateSuccess
				continue
			}

			rs.LastErr = attemptErr
			switch {
			case attemptErr.Kind == generation.KindCancelled:
				state = StateFailed
			case !attemptErr.Retryable:
				log.Warn("non-retryable generator error",
					"attempt", rs.Attempt,
					"error_kind", attemptErr.Kind,
					"error", attemptErr)
				state = StateFailed
			case rs.Attempt >= maxAttempts:
				log.Warn("maximum attempts reached",
					"attempts", rs.Attempt,
					"error_kind", attemptErr.Kind,
					"error", attemptErr)
				state = StateFailed
			default:
				state = StateRetry
			}

		case StateRetry:
			rs.NextDelay = e.cfg.Backoff.For(rs.LastErr.Kind).Delay(rs.Attempt)
			log.Info("retrying after delay",
				"attempt", rs.Attempt,
				"error_kind", rs.LastErr.Kind,
				"delay", rs.NextDelay)

			if !sleep(token, rs.NextDelay) {
				rs.LastErr = cancelledError(token)
				state = StateFailed
				continue
			}
			state = StateAttempt

		case StateSuccess:
			return Outcome{Content: content, Attempts: rs.Attempt, Elapsed: time.Since(start)}

		case StateFailed:
			return Outcome{Err: rs.LastErr, Attempts: rs.Attempt, Elapsed: time.Since(start)}
		}
	}
}

// attemptTimeout caps the configured timeout by the request deadline.
func (e *Executor) attemptTimeout(req *generation.Request) (time.Duration, *generation.Error) {
	timeout := e.cfg.Timeout
	if req.Deadline == nil {
		return timeout, nil
	}
	remaining := time.Until(*req.Deadline)
	if remaining <= 0 {
		err := generation.NewError(generation.KindTimeout, "request deadline has passed", nil)
		err.Retryable = false
		return 0, err
	}
	if remaining < timeout {
		timeout = remaining
	}
	return timeout, nil
}

type attemptResult struct {
	content *generation.GeneratedContent
	err     error
}

// attempt runs one generator call. The losing branches are always cleaned up:
// the timer is stopped and the attempt context is cancelled on return, and the
// abandoned goroutine writes into a buffered channel nobody reads.
func (e *Executor) attempt(
	gen generation.Generator,
	req *generation.Request,
	token *cancel.Token,
	timeout time.Duration,
) (*generation.GeneratedContent, *generation.Error) {
	ctx, stop := context.WithCancel(token.Context())
	defer stop()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: generation.Errorf(generation.KindGenerationFailed, "generator panicked: %v", r)}
			}
		}()
		c, err := gen.Generate(ctx, req)
		done <- attemptResult{content: c, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			if token.Cancelled() {
				return nil, cancelledError(token)
			}
			return nil, generation.Classify(res.err)
		}
		if res.content == nil {
			return nil, generation.Errorf(generation.KindGenerationFailed, "generator returned no content")
		}
		return res.content, nil
	case <-timer.C:
		return nil, generation.Errorf(generation.KindTimeout, "generator did not respond within %s", timeout)
	case <-token.Done():
		return nil, cancelledError(token)
	}
}

// sleep waits for d unless token is cancelled first. It reports whether the
// full delay elapsed.
func sleep(token *cancel.Token, d time.Duration) bool {
	if d <= 0 {
		return token.Context().Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-token.Done():
		return false
	}
}

// cancelledError classifies why token's context ended. An explicit cancel is
// Cancelled; a parent context that ended keeps its own classification but is
// never retried.
func cancelledError(token *cancel.Token) *generation.Error {
	if token.Cancelled() {
		return generation.NewError(generation.KindCancelled, "request cancelled", nil)
	}
	cause := token.Context().Err()
	if cause == nil {
		cause = context.Canceled
	}
	kind := generation.KindCancelled
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = generation.KindTimeout
	}
	err := generation.NewError(kind, fmt.Sprintf("request context ended: %v", cause), cause)
	err.Retryable = false
	return err
}
