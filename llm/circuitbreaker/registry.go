package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event 熔断器状态变更事件
type Event struct {
	Model     string    `json:"model"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Failures  int       `json:"failures"`
}

// EventHandler 事件处理器接口
type EventHandler interface {
	OnStateChange(event Event)
}

// EventHandlerFunc 函数形式的 EventHandler
type EventHandlerFunc func(event Event)

// OnStateChange implements EventHandler.
func (f EventHandlerFunc) OnStateChange(event Event) { f(event) }

// Option 配置 Registry
type Option func(*Registry)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventHandler 追加状态变更处理器
func WithEventHandler(h EventHandler) Option {
	return func(r *Registry) {
		if h != nil {
			r.handlers = append(r.handlers, h)
		}
	}
}

// Registry 按模型隔离的熔断器注册表。
//
// 记录在首次引用时惰性创建，永不删除。每条记录有独立的互斥锁，
// map 本身由 RWMutex 保护并在创建时双重检查。事件在释放记录锁后
// 同步派发，处理器内可以安全地回调 Registry。
type Registry struct {
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*breaker
	handlers  []EventHandler
	logger    *zap.Logger
	now       func() time.Time
	mu        sync.RWMutex
}

// NewRegistry 创建熔断器注册表
func NewRegistry(defaults Config, opts ...Option) *Registry {
	r := &Registry{
		defaults:  defaults.normalized(),
		overrides: make(map[string]Config),
		breakers:  make(map[string]*breaker),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "circuit_breaker"))
	return r
}

// get 获取或创建模型的熔断记录
func (r *Registry) get(model string) *breaker {
	r.mu.RLock()
	if b, ok := r.breakers[model]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双重检查
	if b, ok := r.breakers[model]; ok {
		return b
	}
	cfg := r.defaults
	if o, ok := r.overrides[model]; ok {
		cfg = o
	}
	b := newBreaker(model, cfg, r.now())
	r.breakers[model] = b
	return b
}

// Acquire 判断是否允许向 model 发起调用
//
//   - Closed：允许
//   - Open 且未到期：拒绝
//   - Open 且已到期：转入 HalfOpen，作为唯一试探调用放行
//   - HalfOpen 且试探进行中：拒绝
//
// 获得 Trial 许可的调用方必须以 RecordSuccess、RecordFailure 或 Release 之一结束。
func (r *Registry) Acquire(model string) Permit {
	p, ev := r.get(model).acquire(r.now())
	r.dispatch(ev)
	return p
}

// RecordSuccess 重置失败计数；HalfOpen → Closed
func (r *Registry) RecordSuccess(model string) {
	r.dispatch(r.get(model).recordSuccess(r.now()))
}

// RecordFailure 失败计数 +1；达到阈值时 Closed → Open，试探失败时 HalfOpen → Open
func (r *Registry) RecordFailure(model string) {
	r.dispatch(r.get(model).recordFailure(r.now()))
}

// Release 结束试探但不给出结论（永久性错误或调用方取消），状态保持不变
func (r *Registry) Release(model string) {
	r.get(model).release()
}

// GetState 返回模型当前的熔断快照
func (r *Registry) GetState(model string) Snapshot {
	return r.get(model).snapshot()
}

// States 返回所有已引用模型的快照
func (r *Registry) States() map[string]Snapshot {
	r.mu.RLock()
	list := make([]*breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(list))
	for _, b := range list {
		out[b.model] = b.snapshot()
	}
	return out
}

// Models 返回已引用模型的有序列表
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset 手动将模型恢复为 Closed
func (r *Registry) Reset(model string) {
	r.dispatch(r.get(model).reset(r.now()))
}

// ResetAll 重置所有熔断器
func (r *Registry) ResetAll() {
	for _, model := range r.Models() {
		r.Reset(model)
	}
}

// Configure 为单个模型设置阈值与熔断时长，已存在的记录立即生效
func (r *Registry) Configure(model string, cfg Config) {
	cfg = cfg.normalized()

	r.mu.Lock()
	r.overrides[model] = cfg
	b, ok := r.breakers[model]
	r.mu.Unlock()

	if ok {
		b.setConfig(cfg)
	}
}

// AddEventHandler 注册状态变更处理器
func (r *Registry) AddEventHandler(h EventHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Registry) dispatch(ev *Event) {
	if ev == nil {
		return
	}
	logTransition(r.logger, *ev)

	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()
	for _, h := range handlers {
		h.OnStateChange(*ev)
	}
}
