package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestBackoff_Cap(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: time.Second, Max: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, 3*time.Second, b.Delay(5))
}

func TestBackoff_JitterBounds(t *testing.T) {
	t.Parallel()

	low := Backoff{Base: time.Second, Multiplier: 2, Jitter: DefaultJitter, Rand: func() float64 { return 0 }}
	high := low
	high.Rand = func() float64 { return 0.999999 }

	assert.Equal(t, 750*time.Millisecond, low.Delay(1))
	assert.InDelta(t, float64(1250*time.Millisecond), float64(high.Delay(1)), float64(time.Millisecond))
}

func TestBackoff_ZeroBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), NewBackoff(0, time.Second).Delay(3))
}

// 属性：抖动后的延迟始终落在 [0.75, 1.25] × 名义延迟 之内，且不超过上限
func TestProperty_BackoffWithinJitterRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "base"))
		retry := rapid.IntRange(1, 8).Draw(rt, "retry")
		b := NewBackoff(base, 0)

		nominal := float64(base) * float64(int64(1)<<(retry-1))
		got := float64(b.Delay(retry))
		assert.GreaterOrEqual(rt, got, nominal*0.75-1)
		assert.LessOrEqual(rt, got, nominal*1.25+1)
	})
}

func TestSleep(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
