// Package template implements a deterministic content generator backed by
// text/template. It is the cheap, always-available fallback behind the LLM
// generators: it never calls out, so it only fails when the request lacks the
// context a template declares as required.
package template

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phrazzld/quill/internal/generation"
)

// Confidence is reported on every piece of template content.
const Confidence = 0.6

// DefaultID is the generator id used when Config.ID is empty.
const DefaultID = "template"

//go:embed templates/*.tmpl
var builtins embed.FS

// requiredPattern finds the "required: a, b" declaration in a template comment.
var requiredPattern = regexp.MustCompile(`\{\{/\*\s*required:\s*([^*]*?)\s*\*/\}\}`)

// Config describes the template generator.
type Config struct {
	ID       string
	Priority int
	Disabled bool

	// Dir holds *.tmpl files that override or extend the built-in templates.
	Dir string
}

type entry struct {
	tmpl     *template.Template
	required []string
}

// Generator implements generation.Generator with text templates.
type Generator struct {
	generation.Base

	cfg       Config
	templates map[generation.ContentType]entry
	logger    *slog.Logger
}

// NewGenerator parses the built-in templates and any found in cfg.Dir.
func NewGenerator(cfg Config, logger *slog.Logger) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ID == "" {
		cfg.ID = DefaultID
	}

	g := &Generator{
		cfg:       cfg,
		templates: make(map[generation.ContentType]entry),
		logger:    logger.With("component", "template_generator", "generator_id", cfg.ID),
	}
	if err := g.load(builtins, "templates"); err != nil {
		return nil, err
	}
	if cfg.Dir != "" {
		if _, err := os.Stat(cfg.Dir); err != nil {
			return nil, fmt.Errorf("%w: template directory %s: %v", generation.ErrInvalidConfig, cfg.Dir, err)
		}
		if err := g.load(os.DirFS(cfg.Dir), "."); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Generator) load(fsys fs.FS, root string) error {
	names, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.tmpl")))
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("%w: failed to read template %s: %v", generation.ErrInvalidConfig, name, err)
		}
		base := strings.TrimSuffix(filepath.Base(name), ".tmpl")
		tmpl, err := template.New(base).Funcs(funcs).Parse(string(raw))
		if err != nil {
			return fmt.Errorf("%w: failed to parse template %s: %v", generation.ErrInvalidConfig, name, err)
		}
		g.templates[generation.ContentType(strings.ToUpper(base))] = entry{
			tmpl:     tmpl,
			required: parseRequired(string(raw)),
		}
	}
	return nil
}

func parseRequired(raw string) []string {
	m := requiredPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(m[1], ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Describe implements generation.Generator.
func (g *Generator) Describe() generation.Descriptor {
	types := make([]generation.ContentType, 0, len(g.templates))
	for ct := range g.templates {
		types = append(types, ct)
	}
	return generation.Descriptor{
		ID:             g.cfg.ID,
		SupportedTypes: types,
		Priority:       g.cfg.Priority,
		Enabled:        !g.cfg.Disabled,
		Method:         generation.MethodTemplate,
		Capabilities:   []string{"deterministic", "offline"},
	}
}

// CanGenerate reports whether a template exists and its required params are present.
func (g *Generator) CanGenerate(_ context.Context, contentType generation.ContentType, params generation.Params) (bool, error) {
	e, ok := g.templates[contentType]
	if !ok {
		return false, nil
	}
	return len(missing(e.required, params)) == 0, nil
}

func missing(required []string, params generation.Params) []string {
	var out []string
	for _, k := range required {
		if !params.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Generate executes the template for the request's content type.
func (g *Generator) Generate(ctx context.Context, req *generation.Request) (*generation.GeneratedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e, ok := g.templates[req.ContentType]
	if !ok {
		return nil, generation.Errorf(generation.KindGenerationFailed, "no template for %s", req.ContentType)
	}
	if m := missing(e.required, req.Context); len(m) > 0 {
		return nil, generation.Errorf(generation.KindGenerationFailed,
			"missing required context: %s", strings.Join(m, ", "))
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, map[string]any(req.Context)); err != nil {
		return nil, generation.NewError(generation.KindGenerationFailed, "template execution failed", err)
	}

	g.logger.DebugContext(ctx, "rendered template",
		"request_id", req.ID,
		"content_type", req.ContentType)

	return &generation.GeneratedContent{
		ID:      uuid.NewString(),
		Type:    req.ContentType,
		Payload: generation.Payload{Text: strings.TrimSpace(buf.String())},
		Metadata: generation.ContentMetadata{
			Method:      generation.MethodTemplate,
			GeneratorID: g.cfg.ID,
			Confidence:  Confidence,
			GeneratedAt: time.Now().UTC(),
		},
	}, nil
}

// Validate rejects empty output and leftover placeholders.
func (g *Generator) Validate(_ context.Context, content *generation.GeneratedContent) (*generation.ValidationResult, error) {
	var issues []string
	text := content.Payload.Text
	if strings.TrimSpace(text) == "" {
		issues = append(issues, "text is empty")
	}
	if strings.Contains(text, "<no value>") {
		issues = append(issues, "template left an unfilled placeholder")
	}
	if len(issues) > 0 {
		return &generation.ValidationResult{IsValid: false, Score: 0.2, Issues: issues}, nil
	}
	return &generation.ValidationResult{IsValid: true, Score: Confidence}, nil
}

// EstimateGenerationTime is effectively instant.
func (g *Generator) EstimateGenerationTime(generation.Params) time.Duration {
	return 5 * time.Millisecond
}

var funcs = template.FuncMap{
	"capitalize": capitalize,
	"sentences":  sentences,
}

func capitalize(v any) string {
	s := strings.TrimSpace(fmt.Sprint(v))
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// sentences returns the first n sentences of v.
func sentences(v any, n int) string {
	text := strings.Join(strings.Fields(fmt.Sprint(v)), " ")
	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' {
			continue
		}
		count++
		if count == n {
			return text[:i+1]
		}
	}
	return text
}

var _ generation.Generator = (*Generator)(nil)
