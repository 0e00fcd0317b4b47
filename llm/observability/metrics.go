package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/modelgate/llm/chain"
)

const instrumentationName = "github.com/BaSui01/modelgate/llm"

// Metrics 以 OpenTelemetry 指标导出链执行结果。
// 与 internal/metrics 的 Prometheus 导出互补，走 OTLP 管道。
type Metrics struct {
	meter metric.Meter

	// 计数器
	executionTotal   metric.Int64Counter
	attemptTotal     metric.Int64Counter
	retryTotal       metric.Int64Counter
	breakerSkipTotal metric.Int64Counter
	fallbackTotal    metric.Int64Counter
	tokenTotal       metric.Int64Counter

	// 直方图
	executionDuration metric.Float64Histogram
	attemptDuration   metric.Float64Histogram
}

// NewMetrics 在 provider 上创建指标，provider 为 nil 时使用全局 MeterProvider
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	m := &Metrics{meter: meter}

	var err error

	if m.executionTotal, err = meter.Int64Counter("modelgate.chain.execution.total",
		metric.WithDescription("Total number of chain executions"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, err
	}

	if m.attemptTotal, err = meter.Int64Counter("modelgate.chain.attempt.total",
		metric.WithDescription("Total number of model attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}

	if m.retryTotal, err = meter.Int64Counter("modelgate.chain.retry.total",
		metric.WithDescription("Total number of retries within a step"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}

	if m.breakerSkipTotal, err = meter.Int64Counter("modelgate.chain.breaker_skip.total",
		metric.WithDescription("Steps skipped because their breaker was open"),
		metric.WithUnit("{skip}")); err != nil {
		return nil, err
	}

	if m.fallbackTotal, err = meter.Int64Counter("modelgate.chain.fallback.total",
		metric.WithDescription("Total number of fallbacks to a later step"),
		metric.WithUnit("{fallback}")); err != nil {
		return nil, err
	}

	if m.tokenTotal, err = meter.Int64Counter("modelgate.chain.token.total",
		metric.WithDescription("Tokens reported by the responding model"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}

	if m.executionDuration, err = meter.Float64Histogram("modelgate.chain.execution.duration",
		metric.WithDescription("Chain execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		return nil, err
	}

	if m.attemptDuration, err = meter.Float64Histogram("modelgate.chain.attempt.duration",
		metric.WithDescription("Single model attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordChain 记录一次链执行
func (m *Metrics) RecordChain(ctx context.Context, result *chain.Result) {
	if m == nil || result == nil {
		return
	}

	status := "exhausted"
	switch {
	case result.Succeeded():
		status = "succeeded"
	case result.Cancelled:
		status = "cancelled"
	}
	execAttrs := metric.WithAttributes(attribute.String("status", status))
	m.executionTotal.Add(ctx, 1, execAttrs)
	m.executionDuration.Record(ctx, result.Metrics.TotalDuration.Seconds(), execAttrs)

	if n := result.Metrics.Retries; n > 0 {
		m.retryTotal.Add(ctx, int64(n))
	}
	if n := result.Metrics.BreakerSkips; n > 0 {
		m.breakerSkipTotal.Add(ctx, int64(n))
	}
	if n := result.Metrics.Fallbacks; n > 0 {
		m.fallbackTotal.Add(ctx, int64(n))
	}

	for _, a := range result.Attempts {
		attrs := metric.WithAttributes(
			attribute.String("model", a.Model),
			attribute.String("outcome", string(a.Outcome)))
		m.attemptTotal.Add(ctx, 1, attrs)
		if a.Outcome != chain.OutcomeBreakerOpen {
			m.attemptDuration.Record(ctx, a.Latency.Seconds(), attrs)
		}
	}

	if result.Response != nil {
		usage := result.Response.Usage
		model := attribute.String("model", result.RespondingModel)
		if usage.PromptTokens > 0 {
			m.tokenTotal.Add(ctx, int64(usage.PromptTokens),
				metric.WithAttributes(model, attribute.String("type", "prompt")))
		}
		if usage.CompletionTokens > 0 {
			m.tokenTotal.Add(ctx, int64(usage.CompletionTokens),
				metric.WithAttributes(model, attribute.String("type", "completion")))
		}
	}
}
