package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/workflow"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 把链、工作流与熔断器的执行结果导出为 Prometheus 指标。
// 结果对象本身是事实来源，Collector 只读取、不修改。
type Collector struct {
	// 链指标
	chainExecutionsTotal   *prometheus.CounterVec
	chainExecutionDuration *prometheus.HistogramVec
	chainAttemptsTotal     *prometheus.CounterVec
	modelLatency           *prometheus.HistogramVec
	chainFallbacksTotal    prometheus.Counter

	// 熔断器指标
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// 工作流指标
	workflowExecutionsTotal   *prometheus.CounterVec
	workflowExecutionDuration *prometheus.HistogramVec
	workflowStepsTotal        *prometheus.CounterVec

	// 缓存指标
	cacheLookups *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus 默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	// 链指标
	c.chainExecutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_executions_total",
			Help:      "Total number of chain executions by outcome",
		},
		[]string{"outcome"}, // succeeded, exhausted, cancelled
	)

	c.chainExecutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_execution_duration_seconds",
			Help:      "Chain execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	c.chainAttemptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_attempts_total",
			Help:      "Total number of model attempts by outcome",
		},
		[]string{"model", "outcome"},
	)

	c.modelLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_attempt_latency_seconds",
			Help:      "Latency of individual model attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.chainFallbacksTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_fallbacks_total",
		Help:      "Total number of fallbacks to a later chain step",
	})

	// 熔断器指标
	c.breakerState = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per model (0=closed, 1=open, 2=half_open)",
		},
		[]string{"model"},
	)

	c.breakerTransitions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"model", "from", "to"},
	)

	// 工作流指标
	c.workflowExecutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"workflow", "status"},
	)

	c.workflowExecutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow"},
	)

	c.workflowStepsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_executions_total",
			Help:      "Total number of workflow step executions",
		},
		[]string{"workflow", "kind", "status"},
	)

	// 缓存指标
	c.cacheLookups = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_lookups",
			Help:      "Store cache lookups since start by result",
		},
		[]string{"result"}, // hit, miss
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	})
	c.dbConnectionsIdle = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	})
	c.dbConnectionsInUse = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Number of database connections in use",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// ⛓️ 链指标记录
// =============================================================================

// RecordChain 导出一次链执行的结果
func (c *Collector) RecordChain(result *chain.Result) {
	if result == nil {
		return
	}
	outcome := chainOutcome(result)
	c.chainExecutionsTotal.WithLabelValues(outcome).Inc()
	c.chainExecutionDuration.WithLabelValues(outcome).Observe(result.Metrics.TotalDuration.Seconds())
	c.chainFallbacksTotal.Add(float64(result.Metrics.Fallbacks))

	for _, a := range result.Attempts {
		c.chainAttemptsTotal.WithLabelValues(a.Model, string(a.Outcome)).Inc()
		if a.Outcome != chain.OutcomeBreakerOpen {
			c.modelLatency.WithLabelValues(a.Model).Observe(a.Latency.Seconds())
		}
	}
}

func chainOutcome(r *chain.Result) string {
	switch {
	case r.Succeeded():
		return "succeeded"
	case r.Cancelled:
		return "cancelled"
	default:
		return "exhausted"
	}
}

// =============================================================================
// 🔌 熔断器指标记录
// =============================================================================

// OnStateChange 实现 circuitbreaker.EventHandler
func (c *Collector) OnStateChange(ev circuitbreaker.Event) {
	c.breakerState.WithLabelValues(ev.Model).Set(float64(ev.To))
	c.breakerTransitions.WithLabelValues(ev.Model, ev.From.String(), ev.To.String()).Inc()
}

var _ circuitbreaker.EventHandler = (*Collector)(nil)

// SyncBreakers 用注册表快照刷新全部熔断状态 gauge
func (c *Collector) SyncBreakers(reg *circuitbreaker.Registry) {
	for model, snap := range reg.States() {
		c.breakerState.WithLabelValues(model).Set(float64(snap.State))
	}
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordWorkflow 导出一次工作流执行的结果
func (c *Collector) RecordWorkflow(result *workflow.Result) {
	if result == nil {
		return
	}
	c.workflowExecutionsTotal.WithLabelValues(result.WorkflowID, string(result.Status)).Inc()
	c.workflowExecutionDuration.WithLabelValues(result.WorkflowID).Observe(result.Duration.Seconds())
	for _, s := range result.Steps {
		c.workflowStepsTotal.WithLabelValues(result.WorkflowID, string(s.Kind), string(s.Status)).Inc()
	}
}

// =============================================================================
// 💾 缓存与数据库指标记录
// =============================================================================

// RecordCacheStats 记录缓存累计命中与未命中
func (c *Collector) RecordCacheStats(hits, misses uint64) {
	c.cacheLookups.WithLabelValues("hit").Set(float64(hits))
	c.cacheLookups.WithLabelValues("miss").Set(float64(misses))
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(open, idle, inUse int) {
	c.dbConnectionsOpen.Set(float64(open))
	c.dbConnectionsIdle.Set(float64(idle))
	c.dbConnectionsInUse.Set(float64(inUse))
}
