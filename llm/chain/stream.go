package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/types"
)

// StreamResult 流式链执行结果。
// Result 描述打开阶段（门控、重试、降级）；Chunks 在成功打开后才非 nil。
type StreamResult struct {
	Chunks <-chan llm.StreamChunk
	Result *Result
}

type openResult struct {
	ch  <-chan llm.StreamChunk
	err error
}

// ExecuteStream 与 Execute 具有相同的门控与降级语义，作用于“打开流”这一步。
// 打开阶段受 MaxLatency 约束；一旦打开成功，分片开始下发后不再重试或降级。
// 流中出现错误分片时记为一次熔断失败。
func (e *Executor) ExecuteStream(ctx context.Context, steps []Step, req *llm.ChatRequest, open StreamFunc) (*StreamResult, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, types.NewConfigurationError("chain executor: nil stream function")
	}

	start := time.Now()
	result := newResult(e.executionID(ctx))
	spanCtx, span := e.tracer.Start(ctx, "chain.execute_stream", trace.WithAttributes(
		attribute.String("chain.execution_id", result.ExecutionID),
		attribute.Int("chain.steps", len(steps)),
	))
	defer func() {
		result.Metrics.TotalDuration = time.Since(start)
		e.finishSpan(span, result)
		e.notify(spanCtx, result)
	}()
	log := e.logger.With(zap.String("execution_id", result.ExecutionID), zap.Bool("stream", true))

	call := func(ctx context.Context, step Step) callOutcome {
		return e.openOnce(ctx, step, req, open)
	}
	for i, step := range steps {
		if i > 0 {
			result.Metrics.Fallbacks++
		}
		out, verdict := e.runStep(spanCtx, i, step, call, result, log)
		switch verdict {
		case verdictDone:
			result.Response = &llm.ChatResponse{Model: step.Model}
			// 转发 goroutine 使用调用方 ctx，span 结束不影响流的生命周期
			return &StreamResult{Chunks: e.forward(ctx, step.Model, out.stream, out.cancel), Result: result}, nil
		case verdictStopped:
			return &StreamResult{Result: result}, nil
		}
	}

	log.Warn("all chain steps failed to open stream", zap.Error(result.Err))
	return &StreamResult{Result: result}, nil
}

// openOnce 在 MaxLatency 内打开流。成功时返回的 cancel 归转发 goroutine 所有。
func (e *Executor) openOnce(ctx context.Context, step Step, req *llm.ChatRequest, open StreamFunc) callOutcome {
	streamCtx, cancel := context.WithCancel(ctx)

	call := req.Clone()
	call.Model = step.Model
	call.Stream = true

	start := time.Now()
	ch := make(chan openResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- openResult{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		src, err := open(streamCtx, step.Model, call)
		ch <- openResult{ch: src, err: err}
	}()

	timer := time.NewTimer(step.MaxLatency)
	defer timer.Stop()

	select {
	case res := <-ch:
		out := callOutcome{stream: res.ch, err: res.err, latency: time.Since(start)}
		if out.err == nil && res.ch == nil {
			out.err = types.NewError(types.ErrCodeTransientProvider, "provider returned nil stream").WithProvider(step.Model)
		}
		if out.err != nil {
			cancel()
			out.stream = nil
			return out
		}
		out.cancel = cancel
		return out

	case <-timer.C:
		cancel()
		return callOutcome{err: timeoutError(step), latency: time.Since(start), timedOut: true}

	case <-ctx.Done():
		cancel()
		return callOutcome{err: ctx.Err(), latency: time.Since(start)}
	}
}

// forward 转发分片直到源通道关闭或 ctx 取消
func (e *Executor) forward(ctx context.Context, model string, src <-chan llm.StreamChunk, cancel context.CancelFunc) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		failed := false
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-src:
				if !ok {
					return
				}
				if chunk.Err != nil && !failed {
					failed = true
					e.breakers.RecordFailure(model)
					e.logger.Warn("stream chunk error",
						zap.String("model", model), zap.Error(chunk.Err))
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// CollectStream 读取全部分片并拼接为完整响应，onChunk 可为 nil
func CollectStream(ctx context.Context, chunks <-chan llm.StreamChunk, onChunk func(llm.StreamChunk)) (*llm.ChatResponse, error) {
	resp := &llm.ChatResponse{}
	var (
		content      strings.Builder
		finishReason string
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				resp.Choices = []llm.ChatChoice{{
					FinishReason: finishReason,
					Message:      llm.Message{Role: llm.RoleAssistant, Content: content.String()},
				}}
				return resp, nil
			}
			if onChunk != nil {
				onChunk(chunk)
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			content.WriteString(chunk.Delta.Content)
			if chunk.Model != "" {
				resp.Model = chunk.Model
			}
			if chunk.Provider != "" {
				resp.Provider = chunk.Provider
			}
			if chunk.ID != "" {
				resp.ID = chunk.ID
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
		}
	}
}
