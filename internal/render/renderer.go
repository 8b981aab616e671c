package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

//go:embed templates/welcome.html
var defaultTemplateRaw string

// Params is the data a message template is executed with.
type Params struct {
	UserID  string
	Address string
}

// TemplateRenderer produces HTML message bodies from one parsed template.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses the template at path, or the embedded default
// when path is empty.
func NewTemplateRenderer(path string) (*TemplateRenderer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewTemplateRendererFromString("welcome", defaultTemplateRaw)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read template %s: %v", domain.ErrRender, path, err)
	}
	return NewTemplateRendererFromString(path, string(raw))
}

func NewTemplateRendererFromString(name, raw string) (*TemplateRenderer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: template %s is empty", domain.ErrRender, name)
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.FuncMap()).
		Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse template %s: %v", domain.ErrRender, name, err)
	}

	return &TemplateRenderer{tmpl: tmpl}, nil
}

func (r *TemplateRenderer) Render(id domain.Identifier, address string) (string, error) {
	if r == nil || r.tmpl == nil {
		return "", fmt.Errorf("%w: renderer is not initialized", domain.ErrRender)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, Params{UserID: id.String(), Address: address}); err != nil {
		return "", fmt.Errorf("%w: execute template %s: %v", domain.ErrRender, r.tmpl.Name(), err)
	}
	return buf.String(), nil
}
