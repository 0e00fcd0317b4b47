package workflow

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

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/prompt"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/variables"
)

const instrumentationName = "github.com/BaSui01/modelgate/workflow"

// Dependencies 执行器依赖的协作方。仅工作流实际用到的步骤类型需要对应协作方，
// 缺失时在执行前以 CONFIGURATION 错误报告。
type Dependencies struct {
	Chains ChainLookup
	Chain  *chain.Executor
	Invoke chain.InvokeFunc
	// Stream 可选；为 nil 时 stream 步骤退化为同步调用
	Stream chain.StreamFunc

	Prompts     prompt.Renderer
	Knowledge   KnowledgeBase
	Scorer      DocumentScorer
	APIs        APIRegistry
	Credentials CredentialProvider
	HTTP        HTTPCaller
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxStepExecutions sets the default step budget for workflows that do
// not declare their own.
func WithMaxStepExecutions(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithTracer overrides the OTel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithIDGenerator overrides execution id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Executor) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithClock overrides the time source used for audit records.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor 工作流执行器，无状态，可被并发执行共享
type Executor struct {
	deps     Dependencies
	maxSteps int
	logger   *zap.Logger
	tracer   trace.Tracer
	newID    func() string
	now      func() time.Time
	inputs   *inputValidator
}

// NewExecutor 创建工作流执行器
func NewExecutor(deps Dependencies, opts ...Option) *Executor {
	e := &Executor{
		deps:     deps,
		maxSteps: DefaultMaxStepExecutions,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
		inputs:   newInputValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_executor"))
	return e
}

// Preflight 执行前检查：定义合法且所需协作方齐备。不产生任何副作用。
func (e *Executor) Preflight(wf *Workflow) error {
	if wf == nil {
		return types.NewConfigurationError("workflow is nil")
	}
	if err := wf.Validate(); err != nil {
		return err
	}
	var errs []error
	need := func(ok bool, step Step, what string) {
		if !ok {
			errs = append(errs, fmt.Errorf("step %q (%s) requires %s", step.Name, step.Kind(), what))
		}
	}
	for _, s := range wf.Steps {
		switch spec := s.Spec.(type) {
		case *ChatCompletion:
			need(e.deps.Chains != nil, s, "a chain lookup")
			need(e.deps.Chain != nil && e.deps.Invoke != nil, s, "a chain executor and invoker")
			if spec.Prompt != "" {
				need(e.deps.Prompts != nil, s, "a prompt renderer")
			}
		case *KnowledgeBaseSearch:
			need(e.deps.Knowledge != nil, s, "a knowledge base")
		case *CragScoring:
			need(e.deps.Scorer != nil, s, "a document scorer")
		case *HTTPRequest:
			need(e.deps.APIs != nil, s, "an api registry")
			need(e.deps.HTTP != nil, s, "an http caller")
			if spec.Credential != "" {
				need(e.deps.Credentials != nil, s, "a credential provider")
			}
		}
	}
	if len(errs) > 0 {
		return types.NewConfigurationError("workflow %q has unmet dependencies", wf.ID).WithCause(errors.Join(errs...))
	}
	return nil
}

// Execute 执行工作流。
// 仅执行前的问题（配置错误、工作流停用、输入不符合 schema）以 error 返回；
// 之后的一切结果都记录在 Result 中。
func (e *Executor) Execute(ctx context.Context, wf *Workflow, input types.Document) (*Result, error) {
	if err := e.Preflight(wf); err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, types.Errorf(types.ErrCodeWorkflowDisabled, "workflow %q is disabled", wf.ID)
	}
	if err := e.inputs.Validate(wf.InputSchema, input); err != nil {
		return nil, err
	}

	result := &Result{
		ExecutionID: e.executionID(ctx),
		WorkflowID:  wf.ID,
		Status:      StatusRunning,
		StartedAt:   e.now(),
	}
	ctx = types.WithWorkflowID(ctx, wf.ID)
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("workflow.execution_id", result.ExecutionID),
		attribute.Int("workflow.steps", len(wf.Steps)),
	))
	log := e.logger.With(zap.String("workflow_id", wf.ID), zap.String("execution_id", result.ExecutionID))
	log.Debug("workflow execution started")

	wctx := NewContext(input)
	e.run(ctx, wf, wctx, result, log)

	result.Outputs = wctx.Outputs()
	result.Duration = e.now().Sub(result.StartedAt)
	e.finishSpan(span, result)

	switch result.Status {
	case StatusFailed:
		log.Warn("workflow execution failed",
			zap.String("failed_step", result.FailedStep),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Error))
	default:
		log.Info("workflow execution finished",
			zap.String("status", string(result.Status)),
			zap.Int("step_executions", len(result.Steps)),
			zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// run 程序计数器主循环
func (e *Executor) run(ctx context.Context, wf *Workflow, wctx *Context, result *Result, log *zap.Logger) {
	budget := wf.MaxStepExecutions
	if budget <= 0 {
		budget = e.maxSteps
	}
	emit, _ := emitterFromContext(ctx)
	executions := make(map[string]int, len(wf.Steps))

	pc, executed := 0, 0
	for pc < len(wf.Steps) {
		step := wf.Steps[pc]
		if err := ctx.Err(); err != nil {
			result.failWith(step.Name, types.NewError(types.ErrCodeCancelled, "workflow cancelled").WithCause(err))
			return
		}
		if executed >= budget {
			result.failWith(step.Name, types.Errorf(types.ErrCodeStepBudgetExceeded,
				"step execution budget of %d exceeded", budget))
			return
		}
		executed++
		executions[step.Name]++

		rec := StepRecord{
			Step:      step.Name,
			Kind:      step.Kind(),
			Index:     pc,
			Execution: executions[step.Name],
			StartedAt: e.now(),
		}
		e.emit(emit, Event{Type: EventStepStart, ExecutionID: result.ExecutionID, Step: step.Name, Kind: rec.Kind})

		outcome, err := e.dispatch(ctx, stepRun{
			step:        step,
			scope:       wctx.Scope(),
			executionID: result.ExecutionID,
			workflowID:  wf.ID,
			emit:        emit,
		})
		rec.Duration = e.now().Sub(rec.StartedAt)
		rec.ChainExecutionID = outcome.chainExecutionID

		if err != nil {
			rec.Error = err.Error()
			cancelled := ctx.Err() != nil
			skip := step.onError() == OnErrorSkipStep && !cancelled
			if skip {
				rec.Status = StepSkipped
			} else {
				rec.Status = StepFailed
			}
			result.Steps = append(result.Steps, rec)
			e.emit(emit, Event{Type: EventStepError, ExecutionID: result.ExecutionID, Step: step.Name, Kind: rec.Kind, Error: err, Data: err.Error()})

			if skip {
				log.Warn("workflow step failed, skipping",
					zap.String("step", step.Name), zap.Error(err))
				wctx.Set(step.Name, types.Document{})
				pc++
				continue
			}
			if cancelled {
				result.failWith(step.Name, types.NewError(types.ErrCodeCancelled, "workflow cancelled").WithCause(err))
				return
			}
			result.failWith(step.Name, types.NewStepFailure(step.Name, err))
			return
		}

		rec.Status = StepSucceeded
		if _, ok := step.Spec.(*Conditional); ok {
			rec.Action = outcome.action.String()
			result.Steps = append(result.Steps, rec)
			e.emit(emit, Event{Type: EventStepComplete, ExecutionID: result.ExecutionID, Step: step.Name, Kind: rec.Kind, Data: rec.Action})

			switch outcome.action.Kind {
			case ActionGoTo:
				log.Debug("workflow goto", zap.String("step", step.Name), zap.String("target", outcome.action.Target))
				pc = wf.StepIndex(outcome.action.Target)
			case ActionEnd:
				result.Status = StatusEndedEarly
				result.EndedAt = step.Name
				result.Output = types.Document(resolveOutput(outcome.action.Output, wctx))
				return
			default:
				pc++
			}
			continue
		}

		wctx.Set(step.Name, outcome.output)
		result.Steps = append(result.Steps, rec)
		e.emit(emit, Event{Type: EventStepComplete, ExecutionID: result.ExecutionID, Step: step.Name, Kind: rec.Kind, Data: outcome.output})
		pc++
	}

	result.Status = StatusCompleted
	if _, last, ok := wctx.Last(); ok {
		result.Output = last
	} else {
		result.Output = types.Document{}
	}
}

func (e *Executor) emit(emit Emitter, ev Event) {
	if emit == nil {
		return
	}
	ev.Timestamp = e.now()
	emit(ev)
}

func (e *Executor) executionID(ctx context.Context) string {
	if id, ok := types.ExecutionID(ctx); ok {
		return id
	}
	return e.newID()
}

func (e *Executor) finishSpan(span trace.Span, result *Result) {
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.status", string(result.Status)),
		attribute.Int("workflow.step_executions", len(result.Steps)),
	)
	if result.Status == StatusFailed && result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// resolveOutput 解析 End 动作的输出文档，字符串叶子按当前账本解析
func resolveOutput(output map[string]any, wctx *Context) map[string]any {
	if len(output) == 0 {
		return map[string]any{}
	}
	return variables.ResolveMap(output, wctx.Scope())
}
