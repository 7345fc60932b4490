package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// Template is a named text/template used to build model instructions.
type Template struct {
	Name     string
	template *template.Template
}

// NewTemplate parses content as a template.
func NewTemplate(name, content string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return &Template{Name: name, template: tmpl}, nil
}

// MustTemplate is NewTemplate for package-level prompts; it panics on a parse error.
func MustTemplate(name, content string) *Template {
	t, err := NewTemplate(name, content)
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	var buf strings.Builder
	if err := t.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Builder helps build prompts out of titled sections.
type Builder struct {
	parts []string
}

// NewBuilder creates a new prompt builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Add adds a part to the prompt
func (b *Builder) Add(part string) *Builder {
	b.parts = append(b.parts, part)
	return b
}

// AddFormat adds a formatted part to the prompt
func (b *Builder) AddFormat(format string, args ...any) *Builder {
	b.parts = append(b.parts, fmt.Sprintf(format, args...))
	return b
}

// AddSection adds a section with title and content. Empty content is skipped.
func (b *Builder) AddSection(title, content string) *Builder {
	content = strings.TrimSpace(content)
	if content == "" {
		return b
	}
	b.parts = append(b.parts, fmt.Sprintf("## %s\n%s", title, content))
	return b
}

// AddList adds a titled bullet list. An empty list is skipped.
func (b *Builder) AddList(title string, items []string) *Builder {
	var lines []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	return b.AddSection(title, strings.Join(lines, "\n"))
}

// Build joins all parts with blank lines.
func (b *Builder) Build() string {
	return strings.Join(b.parts, "\n\n")
}
