package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRenderer(t *testing.T) {
	r := TextRenderer{}
	vars := map[string]any{"file": "/media/cam/Front Door.jpg"}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain", "http://example.com/upload", "http://example.com/upload"},
		{"base", "http://example.com/{{ .file | base }}", "http://example.com/Front Door.jpg"},
		{"escaped", "http://example.com/{{ .file | base | pathescape }}", "http://example.com/Front%20Door.jpg"},
		{"ext", "http://example.com/x{{ ext .file }}", "http://example.com/x.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(tt.tmpl, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextRenderer_Errors(t *testing.T) {
	r := TextRenderer{}

	_, err := r.Render("http://example.com/{{ .token }}", map[string]any{"file": "/a"})
	assert.Error(t, err, "unknown variables must not render as empty")

	_, err = r.Render("http://example.com/{{ .file ", map[string]any{"file": "/a"})
	assert.Error(t, err)
}

func TestRenderFunc(t *testing.T) {
	var gotVars map[string]any
	f := RenderFunc(func(tmpl string, vars map[string]any) (string, error) {
		gotVars = vars
		return "http://stub/" + tmpl, nil
	})

	out, err := f.Render("x", map[string]any{"file": "/f"})
	require.NoError(t, err)
	assert.Equal(t, "http://stub/x", out)
	assert.Equal(t, map[string]any{"file": "/f"}, gotVars)
}
