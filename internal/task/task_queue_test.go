package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue(t *testing.T) {
	t.Parallel()

	l, _ := logger.GetTestLogger(t)
	q := NewTaskQueue(2, l)

	require.NoError(t, q.Enqueue(NewMockTask("a", nil)))
	require.NoError(t, q.Enqueue(NewMockTask("b", nil)))
	assert.Equal(t, 2, q.Len())
	assert.ErrorIs(t, q.Enqueue(NewMockTask("c", nil)), ErrQueueFull)

	got := <-q.GetChannel()
	assert.Equal(t, "a", got.Type())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(NewMockTask("d", nil)), ErrQueueClosed)
}

func TestWorkerPool_ProcessesConcurrently(t *testing.T) {
	t.Parallel()

	l, _ := logger.GetTestLogger(t)
	q := NewTaskQueue(10, l)
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 3}, l)

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	wg.Add(6)

	release := make(chan struct{})
	pool.Start(func(_ context.Context, _ Task, workerID int) {
		mu.Lock()
		seen[workerID] = true
		mu.Unlock()
		<-release
		wg.Done()
	})

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Enqueue(NewMockTask("t", nil)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
	pool.Stop()
}

func TestWorkerPool_InvalidCount(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	pool := NewWorkerPool(NewTaskQueue(1, l), WorkerPoolConfig{WorkerCount: 0}, l)
	assert.Equal(t, 1, pool.workerCount)
	logger.AssertLogContains(t, buf, "invalid worker count")
}
