package modelgate

import (
	"context"
	"errors"

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
)

// WorkflowSource 按 id 提供工作流定义
type WorkflowSource interface {
	Workflow(ctx context.Context, id string) (*workflow.Workflow, error)
}

// StaticWorkflows 内存中的工作流集合
type StaticWorkflows map[string]*workflow.Workflow

// Workflow 实现 WorkflowSource
func (s StaticWorkflows) Workflow(_ context.Context, id string) (*workflow.Workflow, error) {
	if wf, ok := s[id]; ok {
		return wf, nil
	}
	return nil, types.Errorf(types.ErrCodeNotFound, "workflow %q not found", id)
}

// workflowSources 依次查询各来源，NOT_FOUND 时继续下一个
type workflowSources []WorkflowSource

func (ss workflowSources) Workflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	for _, s := range ss {
		wf, err := s.Workflow(ctx, id)
		if err == nil {
			return wf, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	return nil, types.Errorf(types.ErrCodeNotFound, "workflow %q not found", id)
}

// fallbackChains 主查找返回 NOT_FOUND 时退化为以 modelRef 为模型的单步链
type fallbackChains struct {
	primary  workflow.ChainLookup
	fallback *chain.Step
}

func (f fallbackChains) Chain(ctx context.Context, modelRef string) ([]chain.Step, error) {
	steps, err := f.primary.Chain(ctx, modelRef)
	if err == nil || f.fallback == nil || !errors.Is(err, types.ErrNotFound) {
		return steps, err
	}
	step := *f.fallback
	step.Model = modelRef
	return []chain.Step{step}, nil
}
