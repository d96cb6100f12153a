package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/mocks"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subject = generation.ContentTypeEmailSubject

func newRegistry(t *testing.T) (*registry.Registry, *logger.TestLogBuffer) {
	t.Helper()
	l, buf := logger.GetTestLogger(t)
	return registry.New(l), buf
}

func ids(regs []registry.Registration) []string {
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.ID)
	}
	return out
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("duplicate id is rejected", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)

		require.NoError(t, reg.Register(mocks.NewMockGenerator("a", 1, subject)))
		err := reg.Register(mocks.NewMockGenerator("a", 9, subject))
		assert.ErrorIs(t, err, registry.ErrDuplicateID)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("nil and empty id", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)

		assert.ErrorIs(t, reg.Register(nil), registry.ErrNilGenerator)
		assert.ErrorIs(t, reg.Register(mocks.NewMockGenerator("", 1)), registry.ErrEmptyID)
	})
}

func TestQuery_Ordering(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	require.NoError(t, reg.Register(mocks.NewMockGenerator("low", 1, subject)))
	require.NoError(t, reg.Register(mocks.NewMockGenerator("high-first", 10, subject)))
	require.NoError(t, reg.Register(mocks.NewMockGenerator("other-type", 50, generation.ContentTypeEmailBody)))
	require.NoError(t, reg.Register(mocks.NewMockGenerator("high-second", 10, subject)))

	disabled := mocks.NewMockGenerator("disabled", 100, subject)
	disabled.Desc.Enabled = false
	require.NoError(t, reg.Register(disabled))

	got := reg.Query(subject)
	assert.Equal(t, []string{"high-first", "high-second", "low"}, ids(got))

	// Selection determinism: same state, same answer.
	for i := 0; i < 10; i++ {
		assert.Equal(t, ids(got), ids(reg.Query(subject)))
	}
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	require.NoError(t, reg.Register(mocks.NewMockGenerator("a", 1, subject)))

	require.NoError(t, reg.SetEnabled("a", false))
	assert.Empty(t, reg.Query(subject))

	r, ok := reg.Get("a")
	require.True(t, ok)
	assert.False(t, r.Enabled)

	require.NoError(t, reg.SetEnabled("a", true))
	assert.Len(t, reg.Query(subject), 1)

	assert.ErrorIs(t, reg.SetEnabled("missing", true), registry.ErrNotRegistered)
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	t.Run("shuts down and removes", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		gen := mocks.NewMockGenerator("a", 1, subject)
		require.NoError(t, reg.Register(gen))

		require.NoError(t, reg.Unregister(context.Background(), "a"))
		assert.Equal(t, 1, gen.ShutdownCalls())
		_, ok := reg.Get("a")
		assert.False(t, ok)

		// The id is free again.
		require.NoError(t, reg.Register(mocks.NewMockGenerator("a", 1, subject)))
	})

	t.Run("shutdown failure is logged not returned", func(t *testing.T) {
		t.Parallel()
		reg, buf := newRegistry(t)
		gen := mocks.NewMockGenerator("a", 1, subject)
		gen.ShutdownFn = func(context.Context) error { return errors.New("socket busy") }
		require.NoError(t, reg.Register(gen))

		require.NoError(t, reg.Unregister(context.Background(), "a"))
		assert.Zero(t, reg.Len())
		logger.AssertLogContains(t, buf, "socket busy")
	})

	t.Run("shutdown runs before removal", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		gen := mocks.NewMockGenerator("a", 1, subject)
		var registeredDuringShutdown bool
		gen.ShutdownFn = func(context.Context) error {
			_, registeredDuringShutdown = reg.Get("a")
			return nil
		}
		require.NoError(t, reg.Register(gen))

		require.NoError(t, reg.Unregister(context.Background(), "a"))
		assert.True(t, registeredDuringShutdown)
		assert.Zero(t, reg.Len())
	})

	t.Run("shutdown panic is logged not returned", func(t *testing.T) {
		t.Parallel()
		reg, buf := newRegistry(t)
		gen := mocks.NewMockGenerator("a", 1, subject)
		gen.ShutdownFn = func(context.Context) error { panic("half closed") }
		require.NoError(t, reg.Register(gen))

		require.NoError(t, reg.Unregister(context.Background(), "a"))
		assert.Zero(t, reg.Len())
		logger.AssertLogContains(t, buf, "half closed")
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		reg, _ := newRegistry(t)
		assert.ErrorIs(t, reg.Unregister(context.Background(), "nope"), registry.ErrNotRegistered)
	})
}

func TestSupports(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	disabled := mocks.NewMockGenerator("a", 1, generation.ContentTypeReply)
	require.NoError(t, reg.Register(disabled))
	require.NoError(t, reg.SetEnabled("a", false))
	require.NoError(t, reg.Register(mocks.NewMockGenerator("b", 1, subject)))

	assert.True(t, reg.Supports(subject))
	assert.True(t, reg.Supports(generation.ContentTypeReply), "disabled generators still count")
	assert.False(t, reg.Supports("BOGUS_1"))
}

func TestAll_KeepsRegistrationOrder(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, reg.Register(mocks.NewMockGenerator(fmt.Sprintf("g%d", i), 3-i, subject)))
	}
	assert.Equal(t, []string{"g0", "g1", "g2"}, ids(reg.All()))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = reg.Register(mocks.NewMockGenerator(fmt.Sprintf("g%d", i), i, subject))
		}(i)
		go func() {
			defer wg.Done()
			_ = reg.Query(subject)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, reg.Len())
	got := reg.Query(subject)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Priority, got[i].Priority)
	}
}
