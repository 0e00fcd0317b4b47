package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/llm/retry"
	"github.com/BaSui01/modelgate/types"
)

const instrumentationName = "github.com/BaSui01/modelgate/llm/chain"

// DefaultMaxBackoff 默认重试等待上限
const DefaultMaxBackoff = 30 * time.Second

// Option 配置 Executor
type Option func(*Executor)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxBackoff 设置重试等待上限
func WithMaxBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.backoff.Max = d
		}
	}
}

// WithJitter 设置抖动比例及随机源（测试可注入固定值）
func WithJitter(ratio float64, rand func() float64) Option {
	return func(e *Executor) {
		e.backoff.Jitter = ratio
		e.backoff.Rand = rand
	}
}

// WithTracer 设置 OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithIDGenerator 设置执行 ID 生成器
func WithIDGenerator(gen func() string) Option {
	return func(e *Executor) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// Observer 在每次执行结束、Result 交还调用方之前被同步调用。
// 只读，不得保留或修改 Result。
type Observer func(ctx context.Context, result *Result)

// WithObserver 追加执行结果观察者（指标导出等）
func WithObserver(obs Observer) Option {
	return func(e *Executor) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

// Executor 链式执行器。可被并发使用，唯一的共享状态是熔断器注册表。
type Executor struct {
	breakers  *circuitbreaker.Registry
	backoff   retry.Backoff
	logger    *zap.Logger
	tracer    trace.Tracer
	newID     func() string
	observers []Observer
}

// NewExecutor 创建链式执行器
func NewExecutor(breakers *circuitbreaker.Registry, opts ...Option) *Executor {
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	e := &Executor{
		breakers: breakers,
		backoff:  retry.NewBackoff(0, DefaultMaxBackoff),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "chain_executor"))
	return e
}

// Breakers returns the registry the executor gates on.
func (e *Executor) Breakers() *circuitbreaker.Registry {
	return e.breakers
}

// stepVerdict 单个步骤执行后的走向
type stepVerdict int

const (
	verdictNext stepVerdict = iota
	verdictDone
	verdictStopped
)

// Execute 依次尝试各步骤直到某一步成功。
// 仅在链配置非法时返回 error（此时未发起任何调用）；其余情况都体现在 Result 中。
func (e *Executor) Execute(ctx context.Context, steps []Step, req *llm.ChatRequest, invoke InvokeFunc) (*Result, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	if invoke == nil {
		return nil, types.NewConfigurationError("chain executor: nil invoke function")
	}

	start := time.Now()
	result := newResult(e.executionID(ctx))
	ctx, span := e.tracer.Start(ctx, "chain.execute", trace.WithAttributes(
		attribute.String("chain.execution_id", result.ExecutionID),
		attribute.Int("chain.steps", len(steps)),
	))
	defer func() {
		result.Metrics.TotalDuration = time.Since(start)
		e.finishSpan(span, result)
		e.notify(ctx, result)
	}()

	log := e.logger.With(zap.String("execution_id", result.ExecutionID))

	call := func(ctx context.Context, step Step) callOutcome {
		return e.invokeOnce(ctx, step, req, invoke)
	}
	for i, step := range steps {
		if i > 0 {
			result.Metrics.Fallbacks++
		}
		out, verdict := e.runStep(ctx, i, step, call, result, log)
		switch verdict {
		case verdictDone:
			result.Response = out.resp
			return result, nil
		case verdictStopped:
			return result, nil
		}
	}

	log.Warn("all chain steps failed",
		zap.Int("steps", len(steps)),
		zap.Int("attempts", result.Metrics.Attempts),
		zap.Error(result.Err))
	return result, nil
}

func (e *Executor) notify(ctx context.Context, result *Result) {
	for _, obs := range e.observers {
		obs(ctx, result)
	}
}

// attemptFunc 在单次尝试的预算内执行调用
type attemptFunc func(ctx context.Context, step Step) callOutcome

// runStep 执行单个链步骤（含熔断门控与重试循环）。
// 返回 verdictDone 时 callOutcome 为成功的那次调用。
func (e *Executor) runStep(
	ctx context.Context,
	index int,
	step Step,
	call attemptFunc,
	result *Result,
	log *zap.Logger,
) (callOutcome, stepVerdict) {
	if err := ctx.Err(); err != nil {
		e.markCancelled(result, index, step.Model, err)
		return callOutcome{}, verdictStopped
	}

	permit := e.breakers.Acquire(step.Model)
	if !permit.Allowed {
		result.record(Attempt{StepIndex: index, Model: step.Model, Outcome: OutcomeBreakerOpen, BreakerOpen: true})
		result.fail(StepFailure{StepIndex: index, Model: step.Model, Outcome: OutcomeBreakerOpen,
			Err: types.Errorf(types.ErrCodeBreakerOpen, "circuit breaker %s for model %q", permit.State, step.Model)})
		log.Debug("chain step skipped: breaker open",
			zap.Int("step", index), zap.String("model", step.Model), zap.String("state", permit.State.String()))
		return callOutcome{}, verdictNext
	}

	maxAttempts := step.MaxRetries + 1
	if permit.Trial {
		maxAttempts = 1
	}

	var last StepFailure
attempts:
	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			delay := e.delay(step, n-1)
			log.Debug("retrying chain step",
				zap.Int("step", index), zap.String("model", step.Model),
				zap.Int("attempt", n), zap.Duration("delay", delay))
			if err := retry.Sleep(ctx, delay); err != nil {
				e.breakers.Release(step.Model)
				e.markCancelled(result, index, step.Model, err)
				return callOutcome{}, verdictStopped
			}
		}

		out := call(ctx, step)
		attempt := Attempt{StepIndex: index, Model: step.Model, Attempt: n, Latency: out.latency, Trial: permit.Trial, Error: out.err}

		switch {
		case out.err == nil:
			attempt.Outcome = OutcomeSuccess
			result.record(attempt)
			e.breakers.RecordSuccess(step.Model)
			result.RespondingStep = index
			result.RespondingModel = step.Model
			log.Debug("chain step succeeded",
				zap.Int("step", index), zap.String("model", step.Model),
				zap.Int("attempt", n), zap.Duration("latency", out.latency))
			return out, verdictDone

		case ctx.Err() != nil:
			attempt.Outcome = OutcomeCancelled
			result.record(attempt)
			e.breakers.Release(step.Model)
			e.markCancelled(result, index, step.Model, ctx.Err())
			return callOutcome{}, verdictStopped

		case out.timedOut:
			attempt.Outcome = OutcomeTimeout
			result.record(attempt)
			last = StepFailure{StepIndex: index, Model: step.Model, Outcome: OutcomeTimeout, Err: out.err}
			log.Debug("chain attempt timed out",
				zap.Int("step", index), zap.String("model", step.Model),
				zap.Int("attempt", n), zap.Duration("max_latency", step.MaxLatency))
			if step.AbortOnTimeout {
				break attempts
			}

		case llm.Classify(out.err) == llm.ClassPermanent:
			attempt.Outcome = OutcomePermanentFailure
			result.record(attempt)
			e.breakers.Release(step.Model)
			result.fail(StepFailure{StepIndex: index, Model: step.Model, Outcome: OutcomePermanentFailure,
				Err: types.NewError(types.ErrCodePermanentProvider, "permanent provider error").WithProvider(step.Model).WithCause(out.err)})
			log.Info("chain step failed permanently",
				zap.Int("step", index), zap.String("model", step.Model), zap.Error(out.err))
			return callOutcome{}, verdictNext

		default:
			attempt.Outcome = OutcomeTransientFailure
			result.record(attempt)
			last = StepFailure{StepIndex: index, Model: step.Model, Outcome: OutcomeTransientFailure, Err: out.err}
			log.Debug("chain attempt failed",
				zap.Int("step", index), zap.String("model", step.Model),
				zap.Int("attempt", n), zap.Error(out.err))
		}
	}

	// 重试耗尽
	e.recordFailure(step.Model, permit, result)
	last.Err = types.NewError(types.ErrCodeTransientProvider, "retries exhausted").
		WithProvider(step.Model).WithRetryable(true).WithCause(last.Err)
	result.fail(last)
	log.Warn("chain step exhausted retries, falling back",
		zap.Int("step", index), zap.String("model", step.Model),
		zap.String("outcome", string(last.Outcome)))
	return callOutcome{}, verdictNext
}

type invokeResult struct {
	resp *llm.ChatResponse
	err  error
}

// callOutcome 单次调用的原始结果
type callOutcome struct {
	resp     *llm.ChatResponse
	stream   <-chan llm.StreamChunk
	cancel   context.CancelFunc
	err      error
	latency  time.Duration
	timedOut bool
}

// invokeOnce 在 MaxLatency 硬截止下执行一次调用。
// 超时后不等待迟到的结果：attempt context 被取消，结果通道带缓冲，迟到结果被丢弃。
func (e *Executor) invokeOnce(
	ctx context.Context,
	step Step,
	req *llm.ChatRequest,
	invoke InvokeFunc,
) callOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, step.MaxLatency)
	defer cancel()

	call := req.Clone()
	call.Model = step.Model

	start := time.Now()
	ch := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- invokeResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		resp, err := invoke(attemptCtx, step.Model, call)
		ch <- invokeResult{resp: resp, err: err}
	}()

	select {
	case res := <-ch:
		out := callOutcome{resp: res.resp, err: res.err, latency: time.Since(start)}
		if out.err == nil && out.resp == nil {
			out.err = types.NewError(types.ErrCodeTransientProvider, "provider returned nil response").WithProvider(step.Model)
		}
		// 调用方感知到截止并自行返回的错误同样视为超时
		if out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			out.resp, out.err, out.timedOut = nil, timeoutError(step), true
		}
		return out

	case <-attemptCtx.Done():
		out := callOutcome{latency: time.Since(start)}
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		out.err, out.timedOut = timeoutError(step), true
		return out
	}
}

func timeoutError(step Step) error {
	return types.Errorf(types.ErrCodeTransientProvider, "attempt exceeded max latency %s", step.MaxLatency).
		WithProvider(step.Model).WithRetryable(true).WithCause(context.DeadlineExceeded)
}

func (e *Executor) delay(step Step, retryN int) time.Duration {
	b := e.backoff
	b.Base = step.BackoffBase
	return b.Delay(retryN)
}

func (e *Executor) recordFailure(model string, permit circuitbreaker.Permit, result *Result) {
	e.breakers.RecordFailure(model)
	if e.breakers.GetState(model).State == circuitbreaker.StateOpen &&
		(permit.State == circuitbreaker.StateClosed || permit.Trial) {
		result.Metrics.BreakerTrips++
	}
}

func (e *Executor) markCancelled(result *Result, index int, model string, err error) {
	result.Cancelled = true
	result.cancelErr = err
	result.fail(StepFailure{StepIndex: index, Model: model, Outcome: OutcomeCancelled, Err: err})
	e.logger.Debug("chain cancelled",
		zap.String("execution_id", result.ExecutionID),
		zap.Int("step", index), zap.Error(err))
}

func (e *Executor) executionID(ctx context.Context) string {
	if id, ok := types.ExecutionID(ctx); ok {
		return id
	}
	return e.newID()
}

func (e *Executor) finishSpan(span trace.Span, result *Result) {
	span.SetAttributes(
		attribute.Int("chain.attempts", result.Metrics.Attempts),
		attribute.Int("chain.breaker_skips", result.Metrics.BreakerSkips),
		attribute.Int("chain.responding_step", result.RespondingStep),
	)
	if result.RespondingModel != "" {
		span.SetAttributes(attribute.String("chain.responding_model", result.RespondingModel))
	}
	if err := result.Error(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
