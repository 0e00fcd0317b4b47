package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/llm/circuitbreaker"
)

func newTracedExecutor(t *testing.T) (*Executor, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), circuitbreaker.WithLogger(zap.NewNop()))
	return NewExecutor(reg, WithLogger(zap.NewNop()), WithJitter(0, nil), WithTracer(tp.Tracer("test"))), rec
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestExecute_SpanRecordsRespondingModel(t *testing.T) {
	exec, rec := newTracedExecutor(t)
	inv := newScripted(map[string]behavior{
		"a": fail(errBadRequest),
		"b": succeed("ok"),
	})

	res, err := exec.Execute(context.Background(), []Step{step("a", 0), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chain.execute", spans[0].Name())

	attrs := spanAttrs(spans[0])
	assert.Equal(t, int64(2), attrs["chain.steps"].AsInt64())
	assert.Equal(t, int64(2), attrs["chain.attempts"].AsInt64())
	assert.Equal(t, int64(1), attrs["chain.responding_step"].AsInt64())
	assert.Equal(t, "b", attrs["chain.responding_model"].AsString())
	assert.Equal(t, res.ExecutionID, attrs["chain.execution_id"].AsString())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestExecute_SpanMarksExhaustedChain(t *testing.T) {
	exec, rec := newTracedExecutor(t)
	inv := newScripted(map[string]behavior{"a": fail(errBadRequest)})

	res, err := exec.Execute(context.Background(), []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.False(t, res.Succeeded())

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "error should be recorded as a span event")
	_, hasModel := spanAttrs(spans[0])["chain.responding_model"]
	assert.False(t, hasModel)
}
