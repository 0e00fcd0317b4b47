package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/types"
)

func TestTemplateRenderer_Render(t *testing.T) {
	src := NewMapSource(&Prompt{
		ID:       "qa",
		Template: "You are ${var:persona:a helpful assistant}. Answer in ${var:lang}. Context: ${var:docs}",
		Defaults: map[string]any{"lang": "English"},
	})
	r := NewTemplateRenderer(src, zap.NewNop())

	tests := []struct {
		name string
		vars map[string]any
		want string
	}{
		{
			name: "defaults and missing",
			vars: nil,
			want: "You are a helpful assistant. Answer in English. Context: ",
		},
		{
			name: "caller overrides",
			vars: map[string]any{"persona": "a pirate", "lang": "French", "docs": []any{"d1", "d2"}},
			want: `You are a pirate. Answer in French. Context: ["d1","d2"]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Render(context.Background(), "qa", tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateRenderer_NotFound(t *testing.T) {
	r := NewTemplateRenderer(NewMapSource(), nil)
	_, err := r.Render(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPrompt_Variables(t *testing.T) {
	p := &Prompt{Template: "${var:b} ${var:a} ${var:b} ${request:q}"}
	assert.Equal(t, []string{"a", "b"}, p.Variables())

	src := NewMapSource()
	src.Put(&Prompt{ID: "x", Template: "hi"})
	got, err := src.Prompt(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Template)
}
