package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/types"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type behavior func(ctx context.Context, n int) (*llm.ChatResponse, error)

// scriptedInvoker 按模型脚本化的调用函数，记录每个模型的调用次数
type scriptedInvoker struct {
	mu        sync.Mutex
	calls     map[string]int
	behaviors map[string]behavior
}

func newScripted(behaviors map[string]behavior) *scriptedInvoker {
	return &scriptedInvoker{calls: make(map[string]int), behaviors: behaviors}
}

func (s *scriptedInvoker) invoke(ctx context.Context, model string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.calls[model]++
	n := s.calls[model]
	b := s.behaviors[model]
	s.mu.Unlock()
	if b == nil {
		return nil, errors.New("no behavior for " + model)
	}
	return b(ctx, n)
}

func (s *scriptedInvoker) count(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[model]
}

func succeed(content string) behavior {
	return func(_ context.Context, _ int) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Model:   "m",
			Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}, FinishReason: "stop"}},
		}, nil
	}
}

func fail(err error) behavior {
	return func(context.Context, int) (*llm.ChatResponse, error) { return nil, err }
}

func hang() behavior {
	return func(ctx context.Context, _ int) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

var errUpstream = &llm.Error{Code: llm.ErrUpstreamError, Message: "502 bad gateway", HTTPStatus: 502, Retryable: true}
var errBadRequest = &llm.Error{Code: llm.ErrInvalidRequest, Message: "invalid messages", HTTPStatus: 400}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestExecutor(threshold int, clock *fakeClock) *Executor {
	opts := []circuitbreaker.Option{circuitbreaker.WithLogger(zap.NewNop())}
	if clock != nil {
		opts = append(opts, circuitbreaker.WithClock(clock.Now))
	}
	reg := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: threshold, OpenDuration: time.Minute}, opts...)
	return NewExecutor(reg, WithLogger(zap.NewNop()), WithJitter(0, nil))
}

func step(model string, retries int) Step {
	return Step{Model: model, MaxRetries: retries, MaxLatency: 50 * time.Millisecond, BackoffBase: time.Millisecond}
}

func userRequest() *llm.ChatRequest {
	return &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
}

// ---------------------------------------------------------------------------
// validation
// ---------------------------------------------------------------------------

func TestExecute_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{"empty chain", nil},
		{"negative retries", []Step{{Model: "a", MaxRetries: -1, MaxLatency: time.Second}}},
		{"zero latency", []Step{{Model: "a", MaxLatency: 0}}},
		{"missing model", []Step{{MaxLatency: time.Second}}},
		{"second step invalid", []Step{step("a", 0), {Model: "b", MaxLatency: -time.Second}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newScripted(map[string]behavior{"a": succeed("x")})
			res, err := newTestExecutor(3, nil).Execute(context.Background(), tt.steps, userRequest(), inv.invoke)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
			assert.Nil(t, res)
			assert.Zero(t, inv.count("a"))
		})
	}
}

func TestExecute_NilInvoke(t *testing.T) {
	_, err := newTestExecutor(3, nil).Execute(context.Background(), []Step{step("a", 0)}, userRequest(), nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

// ---------------------------------------------------------------------------
// fallback ordering
// ---------------------------------------------------------------------------

func TestExecute_FirstSuccessStopsChain(t *testing.T) {
	for succeedAt := 0; succeedAt < 4; succeedAt++ {
		models := []string{"m0", "m1", "m2", "m3"}
		behaviors := map[string]behavior{}
		steps := make([]Step, len(models))
		for i, m := range models {
			steps[i] = step(m, 0)
			if i == succeedAt {
				behaviors[m] = succeed(m)
			} else {
				behaviors[m] = fail(errUpstream)
			}
		}
		inv := newScripted(behaviors)

		res, err := newTestExecutor(10, nil).Execute(context.Background(), steps, userRequest(), inv.invoke)
		require.NoError(t, err)
		require.True(t, res.Succeeded())
		assert.Equal(t, succeedAt, res.RespondingStep)
		assert.Equal(t, models[succeedAt], res.RespondingModel)
		assert.Equal(t, models[succeedAt], llm.Content(res.Response))
		assert.Nil(t, res.Error())

		for i := succeedAt + 1; i < len(models); i++ {
			assert.Zero(t, inv.count(models[i]), "step %d must not be invoked", i)
		}
		assert.Equal(t, succeedAt, res.Metrics.Fallbacks)
	}
}

func TestExecute_TimeoutThenFallback(t *testing.T) {
	inv := newScripted(map[string]behavior{
		"modelA": hang(),
		"modelB": succeed("from B"),
	})
	steps := []Step{step("modelA", 1), step("modelB", 0)}

	res, err := newTestExecutor(5, nil).Execute(context.Background(), steps, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	assert.Equal(t, 1, res.RespondingStep)
	assert.Equal(t, "from B", llm.Content(res.Response))

	a := res.AttemptsFor("modelA")
	require.Len(t, a, 2)
	assert.Equal(t, OutcomeTimeout, a[0].Outcome)
	assert.Equal(t, OutcomeTimeout, a[1].Outcome)
	assert.Equal(t, 2, a[1].Attempt)
	assert.Len(t, res.AttemptsFor("modelB"), 1)

	assert.Equal(t, 3, res.Metrics.Attempts)
	assert.Equal(t, 1, res.Metrics.Retries)
	assert.Equal(t, 2, res.Metrics.ModelAttempts["modelA"])
	assert.GreaterOrEqual(t, res.Metrics.ModelLatency["modelA"], 100*time.Millisecond)
}

func TestExecute_AbortOnTimeout(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": hang(), "b": succeed("ok")})
	s := step("a", 3)
	s.AbortOnTimeout = true

	res, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{s, step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.count("a"))
	assert.Equal(t, 1, res.RespondingStep)
}

func TestExecute_LateResultDiscarded(t *testing.T) {
	slow := func(ctx context.Context, _ int) (*llm.ChatResponse, error) {
		time.Sleep(120 * time.Millisecond) // 忽略 ctx，模拟不支持取消的调用
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Content: "late"}}}}, nil
	}
	inv := newScripted(map[string]behavior{"slow": slow})

	start := time.Now()
	res, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{step("slow", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 110*time.Millisecond)
	assert.False(t, res.Succeeded())
	assert.Equal(t, -1, res.RespondingStep)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeTimeout, res.Attempts[0].Outcome)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	flaky := func(_ context.Context, n int) (*llm.ChatResponse, error) {
		if n < 3 {
			return nil, errUpstream
		}
		return succeed("third time")(context.Background(), n)
	}
	inv := newScripted(map[string]behavior{"a": flaky})

	res, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{step("a", 2)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, 3, inv.count("a"))
	assert.Equal(t, 2, res.Metrics.Retries)
	assert.Equal(t, OutcomeTransientFailure, res.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSuccess, res.Attempts[2].Outcome)
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": fail(errBadRequest), "b": succeed("ok")})
	exec := newTestExecutor(1, nil)

	res, err := exec.Execute(context.Background(), []Step{step("a", 3), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.count("a"))
	assert.Equal(t, OutcomePermanentFailure, res.Attempts[0].Outcome)
	assert.Equal(t, 1, res.RespondingStep)

	// 永久错误不计入熔断
	snap := exec.Breakers().GetState("a")
	assert.Equal(t, circuitbreaker.StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestExecute_AllFailAggregate(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": fail(errUpstream), "b": fail(errBadRequest)})

	res, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{step("a", 1), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Nil(t, res.Response)
	assert.Equal(t, -1, res.RespondingStep)

	require.NotNil(t, res.Err)
	require.Len(t, res.Err.Failures, 2)
	assert.Equal(t, OutcomeTransientFailure, res.Err.Failures[0].Outcome)
	assert.Equal(t, OutcomePermanentFailure, res.Err.Failures[1].Outcome)

	terminal := res.Error()
	assert.ErrorIs(t, terminal, types.ErrChainExhausted)
	assert.ErrorIs(t, terminal, types.ErrPermanentProvider)
	assert.ErrorIs(t, terminal, types.ErrTransientProvider)

	var llmErr *llm.Error
	require.ErrorAs(t, terminal, &llmErr)
	assert.Contains(t, terminal.Error(), "[0] a")
	assert.Contains(t, terminal.Error(), "[1] b")
}

// ---------------------------------------------------------------------------
// circuit breaking
// ---------------------------------------------------------------------------

func TestExecute_BreakerOpensSkipsAndProbes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	exec := newTestExecutor(2, clock)

	healthy := false
	var mu sync.Mutex
	inv := newScripted(map[string]behavior{"a": func(ctx context.Context, n int) (*llm.ChatResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return succeed("recovered")(ctx, n)
		}
		return nil, errUpstream
	}})
	steps := []Step{step("a", 0)}

	for i := 0; i < 2; i++ {
		res, err := exec.Execute(context.Background(), steps, userRequest(), inv.invoke)
		require.NoError(t, err)
		assert.False(t, res.Succeeded())
	}
	assert.Equal(t, circuitbreaker.StateOpen, exec.Breakers().GetState("a").State)
	require.Equal(t, 2, inv.count("a"))

	// 熔断期内：单步链同样被跳过，且不产生调用
	res, err := exec.Execute(context.Background(), steps, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.count("a"))
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].BreakerOpen)
	assert.Equal(t, OutcomeBreakerOpen, res.Attempts[0].Outcome)
	assert.Zero(t, res.Attempts[0].Latency)
	assert.Equal(t, 1, res.Metrics.BreakerSkips)
	assert.True(t, res.Err.AllSkipped())
	assert.ErrorIs(t, res.Error(), types.ErrBreakerOpen)

	// 到期后恰好一次试探
	clock.Advance(time.Minute)
	mu.Lock()
	healthy = true
	mu.Unlock()

	res, err = exec.Execute(context.Background(), steps, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.True(t, res.Attempts[0].Trial)
	assert.Equal(t, 3, inv.count("a"))
	assert.Equal(t, circuitbreaker.StateClosed, exec.Breakers().GetState("a").State)
}

func TestExecute_HalfOpenTrialSingleAttempt(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	exec := newTestExecutor(1, clock)
	inv := newScripted(map[string]behavior{"a": fail(errUpstream), "b": succeed("b")})

	_, err := exec.Execute(context.Background(), []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	require.Equal(t, circuitbreaker.StateOpen, exec.Breakers().GetState("a").State)

	clock.Advance(time.Minute)
	res, err := exec.Execute(context.Background(), []Step{step("a", 5), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)

	assert.Equal(t, 2, inv.count("a"), "half-open trial must be a single attempt")
	assert.Equal(t, 1, res.RespondingStep)
	assert.Equal(t, circuitbreaker.StateOpen, exec.Breakers().GetState("a").State)
	assert.Equal(t, 1, res.Metrics.BreakerTrips)
}

func TestExecute_TripCounted(t *testing.T) {
	exec := newTestExecutor(2, nil)
	inv := newScripted(map[string]behavior{"a": fail(errUpstream)})

	res, err := exec.Execute(context.Background(), []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Zero(t, res.Metrics.BreakerTrips)

	res, err = exec.Execute(context.Background(), []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metrics.BreakerTrips)
}

// ---------------------------------------------------------------------------
// cancellation
// ---------------------------------------------------------------------------

func TestExecute_CancelledBeforeStart(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": succeed("x")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestExecutor(5, nil).Execute(ctx, []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Zero(t, inv.count("a"))
	assert.ErrorIs(t, res.Error(), context.Canceled)
}

func TestExecute_CancelledDuringBackoff(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": fail(errUpstream), "b": succeed("x")})
	ctx, cancel := context.WithCancel(context.Background())

	s := step("a", 3)
	s.BackoffBase = time.Hour
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res, err := newTestExecutor(5, nil).Execute(ctx, []Step{s, step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, inv.count("a"))
	assert.Zero(t, inv.count("b"))
	assert.ErrorIs(t, res.Error(), context.Canceled)
}

func TestExecute_CancelledDuringCall(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": hang()})
	exec := newTestExecutor(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	s := step("a", 0)
	s.MaxLatency = time.Second
	res, err := exec.Execute(ctx, []Step{s}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeCancelled, res.Attempts[0].Outcome)
	// 取消不计入熔断
	assert.Equal(t, circuitbreaker.StateClosed, exec.Breakers().GetState("a").State)
}

// ---------------------------------------------------------------------------
// misc
// ---------------------------------------------------------------------------

func TestExecute_RequestIsolation(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	invoke := func(_ context.Context, model string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		mu.Lock()
		seen = append(seen, req.Model)
		mu.Unlock()
		return nil, errUpstream
	}
	req := userRequest()
	req.Model = "original"

	_, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{step("a", 0), step("b", 0)}, req, invoke)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, "original", req.Model)
}

func TestExecute_ExecutionIDFromContext(t *testing.T) {
	inv := newScripted(map[string]behavior{"a": succeed("x")})
	ctx := types.WithExecutionID(context.Background(), "exec-1")

	res, err := newTestExecutor(5, nil).Execute(ctx, []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ExecutionID)

	res, err = newTestExecutor(5, nil).Execute(context.Background(), []Step{step("a", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExecutionID)
}

func TestExecute_PanicIsTransient(t *testing.T) {
	inv := newScripted(map[string]behavior{
		"a": func(context.Context, int) (*llm.ChatResponse, error) { panic("boom") },
		"b": succeed("ok"),
	})
	res, err := newTestExecutor(5, nil).Execute(context.Background(), []Step{step("a", 0), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RespondingStep)
	assert.Equal(t, OutcomeTransientFailure, res.Attempts[0].Outcome)
	assert.Contains(t, res.Attempts[0].ErrorMessage(), "panic")
}

type registryProvider struct{ content string }

func (p registryProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Model: req.Model, Choices: []llm.ChatChoice{{Message: llm.Message{Content: p.content}}}}, nil
}

func (p registryProvider) Stream(_ context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Model: req.Model, Delta: llm.Message{Content: p.content}}
	ch <- llm.StreamChunk{Model: req.Model, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (p registryProvider) Name() string { return "registry" }

func TestResolverInvoker(t *testing.T) {
	reg := llm.NewProviderRegistry()
	reg.Register("b", registryProvider{content: "hello"})

	res, err := newTestExecutor(5, nil).Execute(context.Background(),
		[]Step{step("unregistered", 2), step("b", 0)}, userRequest(), ResolverInvoker(reg))
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, "hello", llm.Content(res.Response))
	assert.Equal(t, "b", res.Response.Model)
	// 未注册模型属于永久错误，不重试
	assert.Len(t, res.AttemptsFor("unregistered"), 1)
}

func TestExecute_ObserversSeeFinalResult(t *testing.T) {
	var seen []*Result
	obs := func(_ context.Context, r *Result) { seen = append(seen, r) }

	reg := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), circuitbreaker.WithLogger(zap.NewNop()))
	exec := NewExecutor(reg, WithJitter(0, nil), WithObserver(obs), WithObserver(nil))

	inv := newScripted(map[string]behavior{"a": fail(errBadRequest), "b": succeed("ok")})
	res, err := exec.Execute(context.Background(), []Step{step("a", 0), step("b", 0)}, userRequest(), inv.invoke)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Same(t, res, seen[0])
	assert.True(t, seen[0].Succeeded())
	assert.Positive(t, seen[0].Metrics.TotalDuration)

	// 配置错误不产生执行，也不通知
	_, err = exec.Execute(context.Background(), nil, userRequest(), inv.invoke)
	require.Error(t, err)
	assert.Len(t, seen, 1)
}
