package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider struct{ name string }

func (p namedProvider) Completion(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Model: p.name}, nil
}

func (p namedProvider) Stream(context.Context, *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (p namedProvider) Name() string { return p.name }

func TestProviderRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := NewProviderRegistry()
	r.Register("gpt-4o", namedProvider{"openai"})
	r.Register("claude", namedProvider{"anthropic"})

	p, err := r.Resolve(context.Background(), "claude")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = r.Resolve(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, Classify(err))

	r.SetDefault(namedProvider{"fallback"})
	p, err = r.Resolve(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.Name())

	assert.Equal(t, []string{"claude", "gpt-4o"}, r.Models())
	r.Unregister("claude")
	assert.Equal(t, 1, r.Len())
}

func TestResponseHelpers(t *testing.T) {
	t.Parallel()

	resp := &ChatResponse{Choices: []ChatChoice{{FinishReason: "stop", Message: Message{Role: RoleAssistant, Content: "hi"}}}}
	assert.Equal(t, "hi", Content(resp))
	assert.Equal(t, "stop", FinishReason(resp))
	assert.Equal(t, "", Content(nil))

	_, err := FirstChoice(&ChatResponse{})
	assert.Error(t, err)
}

func TestChatRequest_Clone(t *testing.T) {
	t.Parallel()

	req := &ChatRequest{Model: "m", Messages: []Message{{Role: RoleUser, Content: "a"}}, Metadata: map[string]string{"k": "v"}}
	cp := req.Clone()
	cp.Model = "other"
	cp.Messages[0].Content = "b"
	cp.Metadata["k"] = "w"

	assert.Equal(t, "m", req.Model)
	assert.Equal(t, "a", req.Messages[0].Content)
	assert.Equal(t, "v", req.Metadata["k"])
}
