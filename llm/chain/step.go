package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/types"
)

// Step 链中的一个候选模型及其策略。执行期间不可变。
type Step struct {
	Model       string        `json:"model" yaml:"model"`
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	MaxLatency  time.Duration `json:"max_latency" yaml:"max_latency"`
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`

	// AbortOnTimeout 为 true 时，首次超时即结束该步骤的重试循环
	AbortOnTimeout bool `json:"abort_on_timeout,omitempty" yaml:"abort_on_timeout,omitempty"`
}

// Validate checks the step invariants.
func (s Step) Validate() error {
	if s.Model == "" {
		return types.NewConfigurationError("chain step has no model")
	}
	if s.MaxRetries < 0 {
		return types.NewConfigurationError("chain step %q: max_retries must be >= 0, got %d", s.Model, s.MaxRetries)
	}
	if s.MaxLatency <= 0 {
		return types.NewConfigurationError("chain step %q: max_latency must be > 0", s.Model)
	}
	if s.BackoffBase < 0 {
		return types.NewConfigurationError("chain step %q: backoff_base must be >= 0", s.Model)
	}
	return nil
}

// Chain 是存储中声明的命名链
type Chain struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate checks that the chain has at least one valid step.
func (c Chain) Validate() error {
	return ValidateSteps(c.Steps)
}

// ValidateSteps rejects an empty step list or any invalid step.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return types.NewConfigurationError("chain has no steps")
	}
	for i, s := range steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("chain step %d: %w", i, err)
		}
	}
	return nil
}

// InvokeFunc 对单个模型发起一次同步调用
type InvokeFunc func(ctx context.Context, model string, req *llm.ChatRequest) (*llm.ChatResponse, error)

// StreamFunc 对单个模型打开一个流式调用
type StreamFunc func(ctx context.Context, model string, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

// ResolverInvoker adapts a ProviderResolver into an InvokeFunc.
func ResolverInvoker(resolver llm.ProviderResolver) InvokeFunc {
	return func(ctx context.Context, model string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		p, err := resolver.Resolve(ctx, model)
		if err != nil {
			return nil, err
		}
		return p.Completion(ctx, req)
	}
}

// ResolverStreamer adapts a ProviderResolver into a StreamFunc.
func ResolverStreamer(resolver llm.ProviderResolver) StreamFunc {
	return func(ctx context.Context, model string, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		p, err := resolver.Resolve(ctx, model)
		if err != nil {
			return nil, err
		}
		return p.Stream(ctx, req)
	}
}
