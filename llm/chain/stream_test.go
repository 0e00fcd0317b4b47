package chain

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/types"
)

func chunkStream(parts ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- llm.StreamChunk{Model: "m", Delta: llm.Message{Role: llm.RoleAssistant, Content: p}}
	}
	ch <- llm.StreamChunk{Model: "m", FinishReason: "stop", Usage: &llm.ChatUsage{TotalTokens: 7}}
	close(ch)
	return ch
}

func TestExecuteStream_FallbackOnOpenFailure(t *testing.T) {
	var aCalls atomic.Int32
	open := func(ctx context.Context, model string, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		assert.True(t, req.Stream)
		if model == "a" {
			aCalls.Add(1)
			return nil, errUpstream
		}
		return chunkStream("hel", "lo"), nil
	}

	sr, err := newTestExecutor(5, nil).ExecuteStream(context.Background(), []Step{step("a", 1), step("b", 0)}, userRequest(), open)
	require.NoError(t, err)
	require.NotNil(t, sr.Chunks)
	assert.Equal(t, int32(2), aCalls.Load())
	assert.Equal(t, 1, sr.Result.RespondingStep)

	var seen int
	resp, err := CollectStream(context.Background(), sr.Chunks, func(llm.StreamChunk) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, "hello", llm.Content(resp))
	assert.Equal(t, "stop", llm.FinishReason(resp))
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, 3, seen)
}

func TestExecuteStream_OpenTimeout(t *testing.T) {
	open := func(ctx context.Context, model string, _ *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sr, err := newTestExecutor(5, nil).ExecuteStream(context.Background(), []Step{step("a", 0)}, userRequest(), open)
	require.NoError(t, err)
	assert.Nil(t, sr.Chunks)
	require.Len(t, sr.Result.Attempts, 1)
	assert.Equal(t, OutcomeTimeout, sr.Result.Attempts[0].Outcome)
	assert.ErrorIs(t, sr.Result.Error(), types.ErrChainExhausted)
}

func TestExecuteStream_ChunkErrorCountsFailure(t *testing.T) {
	exec := newTestExecutor(1, nil)
	open := func(context.Context, string, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 2)
		ch <- llm.StreamChunk{Delta: llm.Message{Content: "partial"}}
		ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: "stream reset"}}
		close(ch)
		return ch, nil
	}

	sr, err := exec.ExecuteStream(context.Background(), []Step{step("a", 0)}, userRequest(), open)
	require.NoError(t, err)
	_, err = CollectStream(context.Background(), sr.Chunks, nil)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return exec.Breakers().GetState("a").State == circuitbreaker.StateOpen
	}, time.Second, 5*time.Millisecond)
}

func TestExecuteStream_ConfigurationError(t *testing.T) {
	_, err := newTestExecutor(5, nil).ExecuteStream(context.Background(), nil, userRequest(), nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestResolverStreamer(t *testing.T) {
	reg := llm.NewProviderRegistry()
	reg.Register("a", registryProvider{content: "streamed"})

	sr, err := newTestExecutor(5, nil).ExecuteStream(context.Background(), []Step{step("a", 0)}, userRequest(), ResolverStreamer(reg))
	require.NoError(t, err)
	resp, err := CollectStream(context.Background(), sr.Chunks, nil)
	require.NoError(t, err)
	assert.Equal(t, "streamed", llm.Content(resp))
}
