package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels stands in for genai.Models.
type fakeModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	getErr error

	gotModel  string
	gotPrompt string
}

func (f *fakeModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func (f *fakeModels) Get(context.Context, string, *genai.GetModelConfig) (*genai.Model, error) {
	return &genai.Model{}, f.getErr
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}},
	}
}

func testCompleter(t *testing.T, models modelsAPI) *Completer {
	t.Helper()
	l, _ := logger.GetTestLogger(t)
	return newCompleter(models, Config{APIKey: "key", Model: "gemini-2.0-flash", Temperature: 0.7}, l)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	l, _ := logger.GetTestLogger(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{APIKey: "k", Model: "m", Temperature: 0.5}, false},
		{"missing key", Config{Model: "m"}, true},
		{"missing model", Config{APIKey: "k"}, true},
		{"temperature too high", Config{APIKey: "k", Model: "m", Temperature: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(context.Background(), l, tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, generation.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewCompleter_RequiresLogger(t *testing.T) {
	t.Parallel()

	_, err := NewCompleter(context.Background(), nil, Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)
}

func TestComplete_Text(t *testing.T) {
	t.Parallel()

	models := &fakeModels{resp: textResponse("Hello ", "world")}
	c := testCompleter(t, models)

	got, err := c.Complete(context.Background(), "say hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello world", got.Text)
	assert.False(t, got.Blocked)
	assert.Equal(t, "gemini-2.0-flash", got.Model)
	assert.Equal(t, "gemini-2.0-flash", models.gotModel)
	assert.Equal(t, "say hello", models.gotPrompt)
}

func TestComplete_SafetyBlock(t *testing.T) {
	t.Parallel()

	resp := textResponse("partial")
	resp.Candidates[0].FinishReason = genai.FinishReasonSafety
	c := testCompleter(t, &fakeModels{resp: resp})

	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.Empty(t, got.Text)
}

func TestComplete_PromptBlocked(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}
	c := testCompleter(t, &fakeModels{resp: resp})

	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.True(t, got.Blocked)
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		models *fakeModels
		prompt string
		kind   generation.Kind
	}{
		{"empty prompt", &fakeModels{}, "", generation.KindGenerationFailed},
		{"no candidates", &fakeModels{resp: &genai.GenerateContentResponse{}}, "p", generation.KindGenerationFailed},
		{"rate limited", &fakeModels{err: genai.APIError{Code: 429, Message: "quota"}}, "p", generation.KindUpstream},
		{"server error", &fakeModels{err: genai.APIError{Code: 503, Message: "unavailable"}}, "p", generation.KindUpstream},
		{"bad request", &fakeModels{err: genai.APIError{Code: 400, Message: "invalid"}}, "p", generation.KindGenerationFailed},
		{"network", &fakeModels{err: errors.New("dial tcp: refused")}, "p", generation.KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testCompleter(t, tt.models).Complete(context.Background(), tt.prompt)
			require.Error(t, err)
			assert.Equal(t, tt.kind, generation.KindOf(err))
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	assert.NoError(t, testCompleter(t, &fakeModels{}).Ping(context.Background()))

	err := testCompleter(t, &fakeModels{getErr: genai.APIError{Code: 404, Message: "model not found"}}).
		Ping(context.Background())
	assert.Equal(t, generation.KindGenerationFailed, generation.KindOf(err))
}
