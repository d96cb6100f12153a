package llm

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/phrazzld/quill/internal/generation"
)

//go:embed prompts/*.tmpl
var defaultPrompts embed.FS

// ErrNoPrompt is returned when no prompt template exists for a content type.
var ErrNoPrompt = errors.New("no prompt template for content type")

// requiredParams lists the context keys the built-in prompts cannot do without.
var requiredParams = map[generation.ContentType][]string{
	generation.ContentTypeEmailSubject: {"topic"},
	generation.ContentTypeSummary:      {"text"},
	generation.ContentTypeReply:        {"message"},
}

// promptData is what prompt templates are executed against.
type promptData struct {
	ContentType generation.ContentType
	Context     generation.Params
}

// Prompts holds one parsed template per content type.
type Prompts struct {
	templates map[generation.ContentType]*template.Template
	required  map[generation.ContentType][]string
}

// LoadPrompts parses the built-in prompts and then any *.tmpl files in dir,
// which override the built-ins or add new content types. The file name minus
// extension, upper-cased, is the content type: "email_subject.tmpl" serves
// EMAIL_SUBJECT. An empty dir loads only the built-ins.
func LoadPrompts(dir string) (*Prompts, error) {
	p := &Prompts{
		templates: make(map[generation.ContentType]*template.Template),
		required:  make(map[generation.ContentType][]string),
	}
	for ct, keys := range requiredParams {
		p.required[ct] = keys
	}

	if err := p.parseFS(defaultPrompts, "prompts"); err != nil {
		return nil, err
	}
	if dir == "" {
		return p, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt directory %s: %v", generation.ErrInvalidConfig, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: prompt directory %s is not a directory", generation.ErrInvalidConfig, dir)
	}
	if err := p.parseFS(os.DirFS(dir), "."); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prompts) parseFS(fsys fs.FS, root string) error {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.tmpl")))
	if err != nil {
		return fmt.Errorf("failed to list prompt templates: %w", err)
	}
	for _, name := range matches {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("%w: failed to read prompt template %s: %v", generation.ErrInvalidConfig, name, err)
		}
		base := strings.TrimSuffix(filepath.Base(name), ".tmpl")
		tmpl, err := template.New(base).Option("missingkey=zero").Parse(string(raw))
		if err != nil {
			return fmt.Errorf("%w: failed to parse prompt template %s: %v", generation.ErrInvalidConfig, name, err)
		}
		p.templates[generation.ContentType(strings.ToUpper(base))] = tmpl
	}
	return nil
}

// Types returns the content types with a prompt.
func (p *Prompts) Types() []generation.ContentType {
	types := make([]generation.ContentType, 0, len(p.templates))
	for ct := range p.templates {
		types = append(types, ct)
	}
	return types
}

// Has reports whether a prompt exists for contentType.
func (p *Prompts) Has(contentType generation.ContentType) bool {
	_, ok := p.templates[contentType]
	return ok
}

// Missing returns the required keys absent from params.
func (p *Prompts) Missing(contentType generation.ContentType, params generation.Params) []string {
	var missing []string
	for _, key := range p.required[contentType] {
		if !params.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// Render executes the prompt for contentType against params.
func (p *Prompts) Render(contentType generation.ContentType, params generation.Params) (string, error) {
	tmpl, ok := p.templates[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPrompt, contentType)
	}
	if missing := p.Missing(contentType, params); len(missing) > 0 {
		return "", fmt.Errorf("missing required context: %s", strings.Join(missing, ", "))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptData{ContentType: contentType, Context: params}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
