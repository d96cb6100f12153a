package template_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	tmplgen "github.com/phrazzld/quill/internal/platform/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T, cfg tmplgen.Config) *tmplgen.Generator {
	t.Helper()
	l, _ := logger.GetTestLogger(t)
	g, err := tmplgen.NewGenerator(cfg, l)
	require.NoError(t, err)
	return g
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	d := newGenerator(t, tmplgen.Config{Priority: 1}).Describe()

	assert.Equal(t, tmplgen.DefaultID, d.ID)
	assert.Equal(t, generation.MethodTemplate, d.Method)
	assert.True(t, d.Enabled)
	assert.ElementsMatch(t, []generation.ContentType{
		generation.ContentTypeEmailSubject,
		generation.ContentTypeEmailBody,
		generation.ContentTypeSummary,
		generation.ContentTypeReply,
	}, d.SupportedTypes)
}

func TestCanGenerate(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, tmplgen.Config{})

	tests := []struct {
		name   string
		ct     generation.ContentType
		params generation.Params
		want   bool
	}{
		{"subject with topic", generation.ContentTypeEmailSubject, generation.Params{"topic": "x"}, true},
		{"subject without topic", generation.ContentTypeEmailSubject, generation.Params{}, false},
		{"body needs recipient", generation.ContentTypeEmailBody, generation.Params{"topic": "x"}, false},
		{"body complete", generation.ContentTypeEmailBody, generation.Params{"topic": "x", "recipient": "Ana"}, true},
		{"unknown type", "POEM", generation.Params{"topic": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := g.CanGenerate(context.Background(), tt.ct, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, tmplgen.Config{})

	tests := []struct {
		name   string
		ct     generation.ContentType
		params generation.Params
		want   string
	}{
		{
			name:   "subject",
			ct:     generation.ContentTypeEmailSubject,
			params: generation.Params{"topic": "budget review"},
			want:   "Budget review",
		},
		{
			name:   "urgent subject",
			ct:     generation.ContentTypeEmailSubject,
			params: generation.Params{"topic": "server outage", "tone": "urgent"},
			want:   "Action needed: Server outage",
		},
		{
			name:   "summary keeps two sentences",
			ct:     generation.ContentTypeSummary,
			params: generation.Params{"text": "First point. Second point! Third point? Fourth."},
			want:   "First point. Second point!",
		},
		{
			name:   "body",
			ct:     generation.ContentTypeEmailBody,
			params: generation.Params{"recipient": "Ana", "topic": "the launch", "sender": "Sam"},
			want:   "Hi Ana,\n\nI wanted to follow up on the launch.\n\nBest regards,\nSam",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := g.Generate(context.Background(), &generation.Request{
				ID: "r1", ContentType: tt.ct, Context: tt.params,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, content.Payload.Text)
			assert.Equal(t, tmplgen.Confidence, content.Metadata.Confidence)
			assert.Equal(t, generation.MethodTemplate, content.Metadata.Method)
		})
	}
}

func TestGenerate_MissingContext(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, tmplgen.Config{})
	_, err := g.Generate(context.Background(), &generation.Request{
		ID: "r1", ContentType: generation.ContentTypeReply, Context: generation.Params{"intent": "decline"},
	})

	require.Error(t, err)
	assert.Equal(t, generation.KindGenerationFailed, generation.KindOf(err))
	assert.False(t, generation.IsRetryable(err))
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, tmplgen.Config{})
	req := &generation.Request{ID: "r1", ContentType: generation.ContentTypeEmailSubject, Context: generation.Params{"topic": "x"}}

	a, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Payload.Text, b.Payload.Text)
}

func TestCustomDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sms.tmpl"),
		[]byte("{{/* required: name */}}\nHey {{.name}}, see you soon."), 0o600))

	g := newGenerator(t, tmplgen.Config{Dir: dir})

	ok, err := g.CanGenerate(context.Background(), "SMS", generation.Params{})
	require.NoError(t, err)
	assert.False(t, ok)

	content, err := g.Generate(context.Background(), &generation.Request{
		ID: "r1", ContentType: "SMS", Context: generation.Params{"name": "Jo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hey Jo, see you soon.", content.Payload.Text)
}

func TestNewGenerator_Errors(t *testing.T) {
	t.Parallel()

	_, err := tmplgen.NewGenerator(tmplgen.Config{}, nil)
	assert.Error(t, err)

	l, _ := logger.GetTestLogger(t)
	_, err = tmplgen.NewGenerator(tmplgen.Config{Dir: filepath.Join(t.TempDir(), "nope")}, l)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	g := newGenerator(t, tmplgen.Config{})

	res, err := g.Validate(context.Background(), &generation.GeneratedContent{Payload: generation.Payload{Text: "ok"}})
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	res, err = g.Validate(context.Background(), &generation.GeneratedContent{Payload: generation.Payload{Text: "Hi <no value>"}})
	require.NoError(t, err)
	assert.False(t, res.IsValid)
}
