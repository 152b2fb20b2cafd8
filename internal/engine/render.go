package engine

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"text/template"
)

// Renderer renders a url template against a set of variables.
type Renderer interface {
	Render(tmpl string, vars map[string]any) (string, error)
}

// RenderFunc adapts a plain function to Renderer.
type RenderFunc func(tmpl string, vars map[string]any) (string, error)

func (f RenderFunc) Render(tmpl string, vars map[string]any) (string, error) {
	return f(tmpl, vars)
}

var templateFuncs = template.FuncMap{
	"base":       filepath.Base,
	"dir":        filepath.Dir,
	"ext":        filepath.Ext,
	"pathescape": url.PathEscape,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
}

// TextRenderer renders with text/template. Referencing a variable that was
// not supplied is an error.
type TextRenderer struct{}

func (TextRenderer) Render(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	t, err := template.New("url").Funcs(templateFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return sb.String(), nil
}
