package modelgate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/modelgate/config"
	"github.com/BaSui01/modelgate/internal/cache"
	"github.com/BaSui01/modelgate/internal/database"
	"github.com/BaSui01/modelgate/internal/logging"
	"github.com/BaSui01/modelgate/internal/metrics"
	"github.com/BaSui01/modelgate/internal/telemetry"
	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/llm/observability"
	"github.com/BaSui01/modelgate/prompt"
	"github.com/BaSui01/modelgate/store"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
	"github.com/BaSui01/modelgate/workflow/catalog"
	"github.com/BaSui01/modelgate/workflow/httpcall"
)

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Option 配置 Gateway
type Option func(*options)

type options struct {
	logger      *zap.Logger
	registerer  prometheus.Registerer
	db          *gorm.DB
	redis       redis.UniversalClient
	chains      map[string][]chain.Step
	workflows   []*workflow.Workflow
	prompts     []*prompt.Prompt
	apis        workflow.StaticAPIs
	credentials workflow.StaticCredentials
	knowledge   workflow.KnowledgeBase
	scorer      workflow.DocumentScorer
	http        workflow.HTTPCaller
	clock       func() time.Time
}

// WithLogger 使用外部 logger，而不是按 config.Log 构建
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer 指定 Prometheus 注册表，默认使用全局注册表
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDB 使用已打开的数据库作为存储，忽略 config.Database 的连接参数
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithRedisClient 使用已有 Redis 客户端作为存储缓存
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithChain 注册静态链，仅在未配置存储时生效
func WithChain(modelRef string, steps ...chain.Step) Option {
	return func(o *options) {
		if o.chains == nil {
			o.chains = make(map[string][]chain.Step)
		}
		o.chains[modelRef] = steps
	}
}

// WithWorkflows 注册内存中的工作流，优先级低于目录与存储
func WithWorkflows(wfs ...*workflow.Workflow) Option {
	return func(o *options) { o.workflows = append(o.workflows, wfs...) }
}

// WithPrompts 注册静态提示词，仅在未配置存储时生效
func WithPrompts(ps ...*prompt.Prompt) Option {
	return func(o *options) { o.prompts = append(o.prompts, ps...) }
}

// WithAPIs 注册静态外部 API，仅在未配置存储时生效
func WithAPIs(apis ...workflow.ExternalAPI) Option {
	return func(o *options) {
		if o.apis == nil {
			o.apis = make(workflow.StaticAPIs)
		}
		for i := range apis {
			api := apis[i]
			o.apis[api.ID] = &api
		}
	}
}

// WithCredential 注册静态凭据，仅在未配置存储时生效
func WithCredential(ref string, headers map[string]string) Option {
	return func(o *options) {
		if o.credentials == nil {
			o.credentials = make(workflow.StaticCredentials)
		}
		o.credentials[ref] = headers
	}
}

// WithKnowledgeBase 设置 knowledge_base_search 步骤使用的知识库
func WithKnowledgeBase(kb workflow.KnowledgeBase) Option {
	return func(o *options) { o.knowledge = kb }
}

// WithScorer 设置 crag_scoring 步骤使用的评分器
func WithScorer(s workflow.DocumentScorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithHTTPCaller 替换 http_request 步骤的默认调用器
func WithHTTPCaller(c workflow.HTTPCaller) Option {
	return func(o *options) { o.http = c }
}

// WithClock 替换熔断器与工作流审计记录使用的时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// =============================================================================
// 🚪 Gateway
// =============================================================================

// Gateway 组装配置、熔断器注册表、链执行器与工作流执行器，
// 是对外的同步入口。可并发使用。
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	pool      *database.PoolManager
	store     *store.Store
	cached    *store.Cached
	cache     *cache.Manager
	catalog   *catalog.Catalog

	breakers  *circuitbreaker.Registry
	chains    *chain.Executor
	invoke    chain.InvokeFunc
	stream    chain.StreamFunc
	lookup    workflow.ChainLookup
	workflows *workflow.Executor
	sources   workflowSources
	history   *workflow.ExecutionHistoryStore

	collector *metrics.Collector
	otel      *observability.Metrics

	closeOnce sync.Once
}

// New 创建 Gateway。cfg 为 nil 时使用 config.DefaultConfig()。
// resolver 把模型标识映射到实际的 Provider。
func New(ctx context.Context, cfg *config.Config, resolver llm.ProviderResolver, opts ...Option) (_ *Gateway, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, types.NewConfigurationError("invalid gateway config").WithCause(err)
	}
	if resolver == nil {
		return nil, types.NewConfigurationError("gateway requires a provider resolver")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		if logger, err = logging.New(cfg.Log); err != nil {
			return nil, types.NewConfigurationError("build logger").WithCause(err)
		}
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "gateway")),
		invoke:  chain.ResolverInvoker(resolver),
		stream:  chain.ResolverStreamer(resolver),
		history: workflow.NewExecutionHistoryStore(cfg.Workflow.HistoryCapacity),
	}
	defer func() {
		if err != nil {
			_ = g.Close(context.Background())
		}
	}()

	if g.telemetry, err = telemetry.Init(cfg.Telemetry, logger); err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		g.collector = metrics.NewCollector(cfg.Metrics.Namespace, o.registerer, logger)
	}
	if g.otel, err = observability.NewMetrics(g.telemetry.MeterProvider()); err != nil {
		return nil, fmt.Errorf("create otel metrics: %w", err)
	}

	// 熔断器
	breakerOpts := []circuitbreaker.Option{circuitbreaker.WithLogger(logger)}
	if o.clock != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithClock(o.clock))
	}
	if g.collector != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithEventHandler(g.collector))
	}
	g.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration,
	}, breakerOpts...)

	// 存储与缓存
	if err = g.openStore(ctx, o, logger); err != nil {
		return nil, err
	}

	// 工作流目录
	if dir := cfg.Workflow.DefinitionsDir; dir != "" {
		g.catalog = catalog.New(dir, logger)
		if _, loadErr := g.catalog.Load(); loadErr != nil {
			// 部分文件非法时保留其余定义
			g.logger.Warn("workflow catalog loaded with errors", zap.Error(loadErr))
		}
		g.sources = append(g.sources, g.catalog)
	}

	// 链执行器
	g.chains = chain.NewExecutor(g.breakers,
		chain.WithLogger(logger),
		chain.WithMaxBackoff(cfg.Chain.MaxBackoff),
		chain.WithJitter(cfg.Chain.JitterRatio, nil),
		chain.WithTracer(g.telemetry.Tracer()),
		chain.WithObserver(g.observeChain),
	)

	deps := workflow.Dependencies{
		Chains:    g.lookup,
		Chain:     g.chains,
		Invoke:    g.invoke,
		Stream:    g.stream,
		Knowledge: o.knowledge,
		Scorer:    o.scorer,
		HTTP:      o.http,
	}
	g.wireCollaborators(&deps, o, logger)

	wfOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMaxStepExecutions(cfg.Workflow.MaxStepExecutions),
		workflow.WithTracer(g.telemetry.Tracer()),
	}
	if o.clock != nil {
		wfOpts = append(wfOpts, workflow.WithClock(o.clock))
	}
	g.workflows = workflow.NewExecutor(deps, wfOpts...)

	if len(o.workflows) > 0 {
		static := make(StaticWorkflows, len(o.workflows))
		for _, wf := range o.workflows {
			static[wf.ID] = wf
		}
		g.sources = append(g.sources, static)
	}

	g.logger.Info("gateway initialized",
		zap.Bool("store", g.store != nil),
		zap.Bool("cache", g.cache != nil),
		zap.Bool("catalog", g.catalog != nil),
		zap.Bool("metrics", g.collector != nil),
		zap.Bool("telemetry", g.telemetry.Enabled()))
	return g, nil
}

// openStore 打开存储；未配置驱动且未注入 DB 时使用静态查找
func (g *Gateway) openStore(ctx context.Context, o *options, logger *zap.Logger) error {
	db := o.db
	if db == nil && g.cfg.Database.Driver != "" {
		pool, err := database.Open(g.cfg.Database, logger)
		if err != nil {
			return types.NewConfigurationError("open store database").WithCause(err)
		}
		g.pool = pool
		if g.collector != nil {
			pool.OnStats(func(s sql.DBStats) {
				g.collector.RecordDBConnections(s.OpenConnections, s.Idle, s.InUse)
			})
		}
		pool.StartHealthCheck()
		db = pool.DB()
	}

	var fallback *chain.Step
	if g.cfg.Chain.FallbackToModel {
		fallback = &chain.Step{
			MaxRetries:  g.cfg.Chain.MaxRetries,
			MaxLatency:  g.cfg.Chain.MaxLatency,
			BackoffBase: g.cfg.Chain.BackoffBase,
		}
	}

	if db == nil {
		g.lookup = fallbackChains{primary: workflow.StaticChains{Chains: o.chains}, fallback: fallback}
		return nil
	}

	g.store = store.New(db, logger)
	if g.cfg.Database.AutoMigrate {
		if err := g.store.Migrate(ctx); err != nil {
			return err
		}
	}
	if err := g.store.ApplyBreakerOverrides(ctx, g.breakers); err != nil {
		return err
	}

	var lookup workflow.ChainLookup = g.store
	var wfSource WorkflowSource = g.store
	if manager, err := g.openCache(o, logger); err != nil {
		return err
	} else if manager != nil {
		g.cache = manager
		g.cached = store.NewCached(g.store, manager, g.cfg.Cache.TTL)
		lookup, wfSource = g.cached, g.cached
	}
	g.lookup = fallbackChains{primary: lookup, fallback: fallback}
	g.sources = append(g.sources, wfSource)
	return nil
}

func (g *Gateway) openCache(o *options, logger *zap.Logger) (*cache.Manager, error) {
	rc := g.cfg.Redis
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	cc.PoolSize = rc.PoolSize
	cc.KeyPrefix = rc.KeyPrefix
	cc.DefaultTTL = g.cfg.Cache.TTL

	switch {
	case o.redis != nil:
		return cache.NewManagerWithClient(o.redis, cc, logger), nil
	case rc.Enabled:
		m, err := cache.NewManager(cc, logger)
		if err != nil {
			return nil, types.NewConfigurationError("connect store cache").WithCause(err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

// wireCollaborators 有存储时由存储提供提示词、外部 API 与凭据，否则使用静态注册
func (g *Gateway) wireCollaborators(deps *workflow.Dependencies, o *options, logger *zap.Logger) {
	if deps.HTTP == nil {
		deps.HTTP = httpcall.New(
			httpcall.WithTimeout(g.cfg.Workflow.HTTPTimeout),
			httpcall.WithMaxBodyBytes(g.cfg.Workflow.HTTPMaxBodyBytes),
			httpcall.WithLogger(logger),
		)
	}

	if g.store != nil {
		var prompts prompt.Source = g.store
		var apis workflow.APIRegistry = g.store
		if g.cached != nil {
			prompts, apis = g.cached, g.cached
		}
		deps.Prompts = prompt.NewTemplateRenderer(prompts, logger)
		deps.APIs = apis
		// 凭据不进缓存
		deps.Credentials = g.store
		return
	}

	deps.Prompts = prompt.NewTemplateRenderer(prompt.NewMapSource(o.prompts...), logger)
	if o.apis != nil {
		deps.APIs = o.apis
	} else {
		deps.APIs = workflow.StaticAPIs{}
	}
	if o.credentials != nil {
		deps.Credentials = o.credentials
	} else {
		deps.Credentials = workflow.StaticCredentials{}
	}
}

// =============================================================================
// 🎯 入口
// =============================================================================

// Chat 按 modelRef 查找链并同步执行。
// 仅链查找失败或链配置非法时返回 error；调用结果（含全部失败）记录在 Result 中。
func (g *Gateway) Chat(ctx context.Context, modelRef string, req *llm.ChatRequest) (*chain.Result, error) {
	steps, err := g.lookup.Chain(ctx, modelRef)
	if err != nil {
		return nil, fmt.Errorf("resolve chain for model %q: %w", modelRef, err)
	}
	return g.chains.Execute(ctx, steps, req, g.invoke)
}

// ChatStream 与 Chat 语义相同，返回流式结果
func (g *Gateway) ChatStream(ctx context.Context, modelRef string, req *llm.ChatRequest) (*chain.StreamResult, error) {
	steps, err := g.lookup.Chain(ctx, modelRef)
	if err != nil {
		return nil, fmt.Errorf("resolve chain for model %q: %w", modelRef, err)
	}
	r := req.Clone()
	r.Stream = true
	return g.chains.ExecuteStream(ctx, steps, r, g.stream)
}

// RunWorkflow 按 id 查找工作流并执行。
// 执行前的问题（未找到、配置错误、已停用、输入不合法）以 error 返回，其余记录在 Result 中。
func (g *Gateway) RunWorkflow(ctx context.Context, workflowID string, input types.Document) (*workflow.Result, error) {
	wf, err := g.sources.Workflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return g.Execute(ctx, wf, input)
}

// Execute 执行给定的工作流定义，记录到执行历史与指标
func (g *Gateway) Execute(ctx context.Context, wf *workflow.Workflow, input types.Document) (*workflow.Result, error) {
	result, err := g.workflows.Execute(ctx, wf, input)
	if err != nil {
		return nil, err
	}
	g.history.Save(result)
	if g.collector != nil {
		g.collector.RecordWorkflow(result)
	}
	g.recordCacheStats()
	return result, nil
}

// Execution 返回最近一次执行的结果
func (g *Gateway) Execution(executionID string) (*workflow.Result, bool) {
	return g.history.Get(executionID)
}

// History 返回执行历史
func (g *Gateway) History() *workflow.ExecutionHistoryStore { return g.history }

// Breakers 返回熔断器注册表
func (g *Gateway) Breakers() *circuitbreaker.Registry { return g.breakers }

// Store 返回配置存储，未配置时为 nil。
// 启用缓存时直接写 Store 不会使缓存失效，应改用 CachedStore。
func (g *Gateway) Store() *store.Store { return g.store }

// CachedStore 返回带缓存的存储，未启用缓存时为 nil
func (g *Gateway) CachedStore() *store.Cached { return g.cached }

// Catalog 返回工作流目录，未配置目录时为 nil
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }

// WatchWorkflows 轮询工作流目录直到 ctx 结束，未配置目录时立即返回
func (g *Gateway) WatchWorkflows(ctx context.Context, interval time.Duration) {
	if g.catalog == nil {
		return
	}
	g.catalog.Watch(ctx, interval, func(ev catalog.ReloadEvent) {
		g.logger.Info("workflow catalog reloaded",
			zap.Strings("loaded", ev.Loaded),
			zap.Strings("removed", ev.Removed),
			zap.Error(ev.Err))
	})
}

// Close 释放数据库、缓存与遥测资源，可重复调用
func (g *Gateway) Close(ctx context.Context) error {
	var errs []error
	g.closeOnce.Do(func() {
		if g.cache != nil {
			if err := g.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cache: %w", err))
			}
		}
		if g.pool != nil {
			if err := g.pool.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		if err := g.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if g.logger != nil {
			_ = g.logger.Sync()
		}
	})
	return errors.Join(errs...)
}

// =============================================================================
// 📊 观测
// =============================================================================

func (g *Gateway) observeChain(ctx context.Context, result *chain.Result) {
	if g.collector != nil {
		g.collector.RecordChain(result)
	}
	g.otel.RecordChain(ctx, result)
}

func (g *Gateway) recordCacheStats() {
	if g.collector == nil || g.cache == nil {
		return
	}
	s := g.cache.Stats()
	g.collector.RecordCacheStats(s.Hits, s.Misses)
}
