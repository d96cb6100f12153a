package executor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/quill/internal/cancel"
	"github.com/phrazzld/quill/internal/executor"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/mocks"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subject = generation.ContentTypeEmailSubject

func newExecutor(t *testing.T, timeout time.Duration) *executor.Executor {
	t.Helper()
	l, _ := logger.GetTestLogger(t)
	return executor.New(executor.Config{
		Timeout:    timeout,
		MaxRetries: 2,
		Backoff:    executor.Policy{Default: executor.Immediate{}},
	}, l)
}

func request() *generation.Request {
	return &generation.Request{ID: "r1", ContentType: subject, Context: generation.Params{"topic": "X"}}
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 2)

	require.Nil(t, out.Err)
	require.NotNil(t, out.Content)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, out.RetryCount())
}

func TestExecute_RetryBound(t *testing.T) {
	t.Parallel()

	for _, retries := range []int{0, 1, 2, 4} {
		gen := mocks.NewMockGeneratorWithError("g", 1, generation.NewError(generation.KindUpstream, "503", nil), subject)
		out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), retries)

		require.NotNil(t, out.Err)
		assert.Equal(t, retries+1, gen.GenerateCalls())
		assert.Equal(t, retries, out.RetryCount())
		assert.Equal(t, generation.KindUpstream, out.Err.Kind)
	}
}

func TestExecute_RecoversAfterTransientErrors(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	var calls atomic.Int32
	gen.GenerateFn = func(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error) {
		if calls.Add(1) < 3 {
			return nil, generation.NewError(generation.KindUpstream, "429", nil)
		}
		return gen.Content(req), nil
	}

	out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 2)
	require.Nil(t, out.Err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.RetryCount())
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind generation.Kind
	}{
		{"unmarked generation failure", generation.NewError(generation.KindGenerationFailed, "bad", nil), generation.KindGenerationFailed},
		{"plain error", errors.New("plain"), generation.KindGenerationFailed},
		{"validation", generation.NewError(generation.KindContentValidationFailed, "blocked", nil), generation.KindContentValidationFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen := mocks.NewMockGeneratorWithError("g", 1, tc.err, subject)
			out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 3)

			require.NotNil(t, out.Err)
			assert.Equal(t, tc.kind, out.Err.Kind)
			assert.Equal(t, 1, gen.GenerateCalls())
		})
	}

	t.Run("marked generation failure is retried", func(t *testing.T) {
		t.Parallel()
		gen := mocks.NewMockGeneratorWithError("g", 1, generation.Retryable(errors.New("flaky")), subject)
		out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 1)
		require.NotNil(t, out.Err)
		assert.Equal(t, 2, gen.GenerateCalls())
	})
}

func TestExecute_TimeoutPrecision(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	gen.GenerateFn = func(ctx context.Context, _ *generation.Request) (*generation.GeneratedContent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	timeout := 50 * time.Millisecond
	start := time.Now()
	out := newExecutor(t, timeout).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 0)
	elapsed := time.Since(start)

	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindTimeout, out.Err.Kind)
	assert.ErrorIs(t, out.Err, generation.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+250*time.Millisecond)
}

func TestExecute_TimeoutIsRetried(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	gen.GenerateFn = func(ctx context.Context, _ *generation.Request) (*generation.GeneratedContent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	out := newExecutor(t, 20*time.Millisecond).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 2)
	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindTimeout, out.Err.Kind)
	assert.Equal(t, 3, out.Attempts)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	token := cancel.NewToken(context.Background(), "r1")
	token.Cancel()

	out := newExecutor(t, time.Second).Execute(gen, request(), token, 2)
	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindCancelled, out.Err.Kind)
	assert.Zero(t, gen.GenerateCalls())
	assert.Zero(t, out.Attempts)
}

func TestExecute_CancelledMidAttempt(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	gen := mocks.NewMockGenerator("g", 1, subject)
	gen.GenerateFn = func(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error) {
		close(started)
		<-release
		return gen.Content(req), nil
	}
	token := cancel.NewToken(context.Background(), "r1")

	go func() {
		<-started
		token.Cancel()
	}()

	out := newExecutor(t, 5*time.Second).Execute(gen, request(), token, 2)
	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindCancelled, out.Err.Kind)
	assert.ErrorIs(t, out.Err, generation.ErrCancelled)
	assert.Equal(t, 1, out.Attempts)
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	l, _ := logger.GetTestLogger(t)
	exec := executor.New(executor.Config{
		Timeout: time.Second,
		Backoff: executor.Policy{Default: executor.Linear{Base: 10 * time.Second}},
	}, l)

	gen := mocks.NewMockGeneratorWithError("g", 1, generation.NewError(generation.KindUpstream, "503", nil), subject)
	token := cancel.NewToken(context.Background(), "r1")
	time.AfterFunc(20*time.Millisecond, func() { token.Cancel() })

	start := time.Now()
	out := exec.Execute(gen, request(), token, 3)

	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindCancelled, out.Err.Kind)
	assert.Equal(t, 1, gen.GenerateCalls())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_PanicIsNonRetryableFailure(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	gen.GenerateFn = func(context.Context, *generation.Request) (*generation.GeneratedContent, error) {
		panic("nil map write")
	}

	out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 3)
	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindGenerationFailed, out.Err.Kind)
	assert.Contains(t, out.Err.Message, "nil map write")
	assert.Equal(t, 1, gen.GenerateCalls())
}

func TestExecute_Deadline(t *testing.T) {
	t.Parallel()

	t.Run("passed deadline fails without attempting", func(t *testing.T) {
		t.Parallel()
		gen := mocks.NewMockGenerator("g", 1, subject)
		req := request()
		past := time.Now().Add(-time.Second)
		req.Deadline = &past

		out := newExecutor(t, time.Second).Execute(gen, req, cancel.NewToken(context.Background(), "r1"), 2)
		require.NotNil(t, out.Err)
		assert.Equal(t, generation.KindTimeout, out.Err.Kind)
		assert.Zero(t, gen.GenerateCalls())
	})

	t.Run("deadline caps attempt timeout", func(t *testing.T) {
		t.Parallel()
		gen := mocks.NewMockGenerator("g", 1, subject)
		gen.GenerateFn = func(ctx context.Context, _ *generation.Request) (*generation.GeneratedContent, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		req := request()
		deadline := time.Now().Add(40 * time.Millisecond)
		req.Deadline = &deadline

		start := time.Now()
		out := newExecutor(t, 10*time.Second).Execute(gen, req, cancel.NewToken(context.Background(), "r1"), 5)
		require.NotNil(t, out.Err)
		assert.Equal(t, generation.KindTimeout, out.Err.Kind)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestExecute_NilContentIsFailure(t *testing.T) {
	t.Parallel()

	gen := mocks.NewMockGenerator("g", 1, subject)
	gen.GenerateFn = func(context.Context, *generation.Request) (*generation.GeneratedContent, error) {
		return nil, nil
	}

	out := newExecutor(t, time.Second).Execute(gen, request(), cancel.NewToken(context.Background(), "r1"), 2)
	require.NotNil(t, out.Err)
	assert.Equal(t, generation.KindGenerationFailed, out.Err.Kind)
	assert.Equal(t, 1, gen.GenerateCalls())
}
