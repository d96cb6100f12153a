package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	resp    goopenai.ChatCompletionResponse
	err     error
	listErr error
	got     goopenai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(
	_ context.Context,
	req goopenai.ChatCompletionRequest,
) (goopenai.ChatCompletionResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeChat) ListModels(context.Context) (goopenai.ModelsList, error) {
	return goopenai.ModelsList{}, f.listErr
}

func testCompleter(t *testing.T, api chatAPI) *Completer {
	t.Helper()
	l, _ := logger.GetTestLogger(t)
	return newCompleter(api, Config{APIKey: "k", Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 256}, l)
}

func TestNewCompleter_Validation(t *testing.T) {
	t.Parallel()

	l, _ := logger.GetTestLogger(t)

	_, err := NewCompleter(nil, Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)

	_, err = NewCompleter(l, Config{Model: "m"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewCompleter(l, Config{APIKey: "k"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	c, err := NewCompleter(l, Config{APIKey: "k", Model: "m", BaseURL: "http://localhost:9999/v1"})
	require.NoError(t, err)
	assert.Equal(t, "m", c.Model())
	assert.Equal(t, Provider, c.Provider())
}

func TestComplete(t *testing.T) {
	t.Parallel()

	api := &fakeChat{resp: goopenai.ChatCompletionResponse{
		Model: "gpt-4o-mini-2024",
		Choices: []goopenai.ChatCompletionChoice{{
			Message:      goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: "Thanks!"},
			FinishReason: goopenai.FinishReasonStop,
		}},
		Usage: goopenai.Usage{PromptTokens: 12, CompletionTokens: 2},
	}}

	got, err := testCompleter(t, api).Complete(context.Background(), "write a reply")
	require.NoError(t, err)

	assert.Equal(t, "Thanks!", got.Text)
	assert.Equal(t, "gpt-4o-mini-2024", got.Model)
	assert.Equal(t, 12, got.PromptTokens)
	assert.Equal(t, 2, got.OutputTokens)

	require.Len(t, api.got.Messages, 2)
	assert.Equal(t, goopenai.ChatMessageRoleUser, api.got.Messages[1].Role)
	assert.Equal(t, "write a reply", api.got.Messages[1].Content)
	assert.Equal(t, 256, api.got.MaxTokens)
}

func TestComplete_ContentFilter(t *testing.T) {
	t.Parallel()

	api := &fakeChat{resp: goopenai.ChatCompletionResponse{
		Choices: []goopenai.ChatCompletionChoice{{
			Message:      goopenai.ChatCompletionMessage{Content: "partial"},
			FinishReason: goopenai.FinishReasonContentFilter,
		}},
	}}

	got, err := testCompleter(t, api).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.Empty(t, got.Text)
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		api  *fakeChat
		kind generation.Kind
	}{
		{"no choices", &fakeChat{}, generation.KindGenerationFailed},
		{"rate limited", &fakeChat{err: &goopenai.APIError{HTTPStatusCode: 429, Message: "slow down"}}, generation.KindUpstream},
		{"unauthorized", &fakeChat{err: &goopenai.APIError{HTTPStatusCode: 401, Message: "bad key"}}, generation.KindGenerationFailed},
		{
			"gateway error",
			&fakeChat{err: &goopenai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}},
			generation.KindUpstream,
		},
		{"network", &fakeChat{err: errors.New("connection reset")}, generation.KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testCompleter(t, tt.api).Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Equal(t, tt.kind, generation.KindOf(err))
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	assert.NoError(t, testCompleter(t, &fakeChat{}).Ping(context.Background()))
	assert.Error(t, testCompleter(t, &fakeChat{listErr: errors.New("down")}).Ping(context.Background()))
}
