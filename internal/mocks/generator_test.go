package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGenerator(t *testing.T) {
	t.Parallel()

	t.Run("Default success case", func(t *testing.T) {
		t.Parallel()

		gen := mocks.NewMockGenerator("gen-a", 5, generation.ContentTypeEmailSubject)
		req := &generation.Request{ID: "r1", ContentType: generation.ContentTypeEmailSubject}

		ok, err := gen.CanGenerate(context.Background(), generation.ContentTypeEmailSubject, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		content, err := gen.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "gen-a", content.Metadata.GeneratorID)
		assert.Equal(t, generation.ContentTypeEmailSubject, content.Type)
		assert.Equal(t, 1, gen.GenerateCalls())
		assert.Same(t, req, gen.Requests()[0])
	})

	t.Run("Error case", func(t *testing.T) {
		t.Parallel()

		wantErr := errors.New("boom")
		gen := mocks.NewMockGeneratorWithError("gen-b", 1, wantErr)

		content, err := gen.Generate(context.Background(), &generation.Request{ID: "r1"})
		assert.ErrorIs(t, err, wantErr)
		assert.Nil(t, content)
	})

	t.Run("Reset", func(t *testing.T) {
		t.Parallel()

		gen := mocks.NewMockGenerator("gen-c", 1)
		_, _ = gen.Generate(context.Background(), &generation.Request{ID: "r1"})
		_ = gen.Initialize(context.Background(), generation.Dependencies{})
		gen.Reset()

		assert.Zero(t, gen.GenerateCalls())
		assert.Zero(t, gen.InitializeCalls())
		assert.Empty(t, gen.Requests())
	})
}
