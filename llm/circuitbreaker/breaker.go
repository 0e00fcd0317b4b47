package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// OpenDuration 熔断持续时间（Open -> HalfOpen）
	OpenDuration time.Duration `json:"open_duration" yaml:"open_duration"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	return c
}

// Permit 是 Acquire 的结果
type Permit struct {
	// Allowed 为 false 时调用方必须跳过该模型
	Allowed bool
	// Trial 表示这是 HalfOpen 状态下唯一的试探调用
	Trial bool
	// State 是授权时的状态
	State State
}

// Snapshot 单个模型熔断记录的只读快照
type Snapshot struct {
	Model               string        `json:"model"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastTransition      time.Time     `json:"last_transition"`
	FailureThreshold    int           `json:"failure_threshold"`
	OpenDuration        time.Duration `json:"open_duration"`
	TrialInFlight       bool          `json:"trial_in_flight"`
}

// breaker 单个模型的熔断记录，所有字段受 mu 保护
type breaker struct {
	model string

	mu             sync.Mutex
	config         Config
	state          State
	failures       int
	lastTransition time.Time
	trialInFlight  bool
}

func newBreaker(model string, cfg Config, now time.Time) *breaker {
	return &breaker{
		model:          model,
		config:         cfg,
		state:          StateClosed,
		lastTransition: now,
	}
}

// acquire 原子地完成“检查状态 + 可能的 Open→HalfOpen 转换 + 占用试探名额”
func (b *breaker) acquire(now time.Time) (Permit, *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return Permit{Allowed: true, State: StateClosed}, nil

	case StateOpen:
		if now.Sub(b.lastTransition) < b.config.OpenDuration {
			return Permit{State: StateOpen}, nil
		}
		ev := b.transition(StateHalfOpen, now, "open duration elapsed")
		b.trialInFlight = true
		return Permit{Allowed: true, Trial: true, State: StateHalfOpen}, ev

	case StateHalfOpen:
		if b.trialInFlight {
			return Permit{State: StateHalfOpen}, nil
		}
		b.trialInFlight = true
		return Permit{Allowed: true, Trial: true, State: StateHalfOpen}, nil
	}
	return Permit{State: b.state}, nil
}

func (b *breaker) recordSuccess(now time.Time) *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateHalfOpen {
		return nil
	}
	b.trialInFlight = false
	return b.transition(StateClosed, now, "trial succeeded")
}

func (b *breaker) recordFailure(now time.Time) *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			return b.transition(StateOpen, now, fmt.Sprintf("%d consecutive failures", b.failures))
		}
	case StateHalfOpen:
		b.trialInFlight = false
		return b.transition(StateOpen, now, "trial failed")
	}
	return nil
}

func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

func (b *breaker) reset(now time.Time) *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state == StateClosed {
		return nil
	}
	return b.transition(StateClosed, now, "manual reset")
}

func (b *breaker) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Model:               b.model,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastTransition:      b.lastTransition,
		FailureThreshold:    b.config.FailureThreshold,
		OpenDuration:        b.config.OpenDuration,
		TrialInFlight:       b.trialInFlight,
	}
}

func (b *breaker) setConfig(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
}

// transition 状态转换（必须在锁内调用）
func (b *breaker) transition(to State, now time.Time, reason string) *Event {
	from := b.state
	b.state = to
	b.lastTransition = now
	return &Event{
		Model:     b.model,
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Failures:  b.failures,
	}
}

// logTransition 记录状态变更日志
func logTransition(logger *zap.Logger, ev Event) {
	fields := []zap.Field{
		zap.String("model", ev.Model),
		zap.String("old_state", ev.From.String()),
		zap.String("new_state", ev.To.String()),
		zap.String("reason", ev.Reason),
		zap.Int("failures", ev.Failures),
	}
	if ev.To == StateOpen {
		logger.Warn("circuit breaker opened", fields...)
		return
	}
	logger.Info("circuit breaker state change", fields...)
}
