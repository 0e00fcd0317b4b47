package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// DefaultJitter 默认抖动比例（±25%）
const DefaultJitter = 0.25

// Backoff 计算重试之间的等待时间
// delay(r) = Base × Multiplier^(r-1)，r 从 1 开始，叠加 ±Jitter 随机抖动后以 Max 封顶
type Backoff struct {
	Base       time.Duration // 第一次重试前的基础延迟
	Max        time.Duration // 最大延迟（0 表示不封顶）
	Multiplier float64       // 倍增因子（<1 时按 2 处理）
	Jitter     float64       // 抖动比例，0 表示关闭

	// Rand 返回 [0,1) 的随机数，测试时可注入
	Rand func() float64
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func defaultRand() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// NewBackoff 创建带默认倍增因子与抖动的退避策略
func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{
		Base:       base,
		Max:        max,
		Multiplier: 2.0,
		Jitter:     DefaultJitter,
	}
}

// Delay 返回第 retry 次重试（从 1 开始）前的等待时间
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 || b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 2.0
	}

	delay := float64(b.Base) * math.Pow(mult, float64(retry-1))
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = defaultRand
		}
		delay += (r()*2 - 1) * delay * b.Jitter
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Sleep 等待 d，context 取消时提前返回 ctx.Err()
// 使用 time.Timer 而非 time.After，避免取消后定时器滞留
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
