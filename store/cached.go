package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/internal/cache"
	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/prompt"
	"github.com/BaSui01/modelgate/workflow"
	"github.com/BaSui01/modelgate/workflow/dsl"
)

// 缓存键前缀
const (
	keyChain    = "chain:"
	keyAPI      = "api:"
	keyPrompt   = "prompt:"
	keyWorkflow = "workflow:"
)

// Cached 在 Store 前加一层 Redis 读穿缓存。
// 凭证不进缓存；Redis 故障时降级为直接读库。Save 系列方法写库后失效对应键。
type Cached struct {
	*Store
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

var (
	_ workflow.ChainLookup        = (*Cached)(nil)
	_ workflow.APIRegistry        = (*Cached)(nil)
	_ workflow.CredentialProvider = (*Cached)(nil)
	_ prompt.Source               = (*Cached)(nil)
)

// NewCached 包装 Store。ttl 为 0 时使用缓存管理器的默认过期时间。
func NewCached(s *Store, c *cache.Manager, ttl time.Duration) *Cached {
	return &Cached{
		Store:  s,
		cache:  c,
		ttl:    ttl,
		logger: s.logger.With(zap.String("layer", "cache")),
	}
}

// readThrough 命中时解码，未命中或缓存出错时调用 load 并回填
func readThrough[T any](ctx context.Context, c *Cached, key string, load func() (T, error)) (T, error) {
	var cached T
	err := c.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("cache read failed, falling back to store", zap.String("key", key), zap.Error(err))
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if err := c.cache.SetJSON(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("cache fill failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

func (c *Cached) invalidate(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

// Chain 实现 workflow.ChainLookup
func (c *Cached) Chain(ctx context.Context, modelRef string) ([]chain.Step, error) {
	return readThrough(ctx, c, keyChain+modelRef, func() ([]chain.Step, error) {
		return c.Store.Chain(ctx, modelRef)
	})
}

// SaveChain 写库并失效缓存
func (c *Cached) SaveChain(ctx context.Context, ch chain.Chain) error {
	if err := c.Store.SaveChain(ctx, ch); err != nil {
		return err
	}
	c.invalidate(ctx, keyChain+ch.ID)
	return nil
}

// DisableChain 停用链并失效缓存
func (c *Cached) DisableChain(ctx context.Context, ref string) error {
	if err := c.Store.DisableChain(ctx, ref); err != nil {
		return err
	}
	c.invalidate(ctx, keyChain+ref)
	return nil
}

// Lookup 实现 workflow.APIRegistry
func (c *Cached) Lookup(ctx context.Context, apiRef string) (*workflow.ExternalAPI, error) {
	return readThrough(ctx, c, keyAPI+apiRef, func() (*workflow.ExternalAPI, error) {
		return c.Store.Lookup(ctx, apiRef)
	})
}

// SaveAPI 写库并失效缓存
func (c *Cached) SaveAPI(ctx context.Context, api workflow.ExternalAPI) error {
	if err := c.Store.SaveAPI(ctx, api); err != nil {
		return err
	}
	c.invalidate(ctx, keyAPI+api.ID)
	return nil
}

// Prompt 实现 prompt.Source
func (c *Cached) Prompt(ctx context.Context, id string) (*prompt.Prompt, error) {
	return readThrough(ctx, c, keyPrompt+id, func() (*prompt.Prompt, error) {
		return c.Store.Prompt(ctx, id)
	})
}

// SavePrompt 写库并失效缓存
func (c *Cached) SavePrompt(ctx context.Context, p *prompt.Prompt) error {
	if err := c.Store.SavePrompt(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, keyPrompt+p.ID)
	return nil
}

// Workflow 缓存 JSON 形式的 DSL，命中时重新解析
func (c *Cached) Workflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	def, err := readThrough(ctx, c, keyWorkflow+id, func() (*dsl.WorkflowDSL, error) {
		wf, err := c.Store.Workflow(ctx, id)
		if err != nil {
			return nil, err
		}
		return dsl.FromWorkflow(wf), nil
	})
	if err != nil {
		return nil, err
	}
	return dsl.Build(def), nil
}

// SaveWorkflow 写库并失效缓存
func (c *Cached) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := c.Store.SaveWorkflow(ctx, wf); err != nil {
		return err
	}
	c.invalidate(ctx, keyWorkflow+wf.ID)
	return nil
}

// SetWorkflowEnabled 更新启用状态并失效缓存
func (c *Cached) SetWorkflowEnabled(ctx context.Context, id string, enabled bool) error {
	if err := c.Store.SetWorkflowEnabled(ctx, id, enabled); err != nil {
		return err
	}
	c.invalidate(ctx, keyWorkflow+id)
	return nil
}
