// Package prompt renders stored prompt templates through the variable
// resolution engine.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/variables"
)

// Renderer renders a prompt by id with caller-supplied variables.
type Renderer interface {
	Render(ctx context.Context, promptID string, vars map[string]any) (string, error)
}

// Prompt 存储中的提示词模板
type Prompt struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Template string         `json:"template" yaml:"template"`
	Defaults map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// Variables returns the sorted names of ${var:...} references in the template.
func (p *Prompt) Variables() []string {
	seen := make(map[string]struct{})
	for _, ref := range variables.References(p.Template) {
		if ref.Scope == variables.ScopeVar {
			seen[ref.Key] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source 按 id 查找提示词模板（通常由 store 包提供）
type Source interface {
	Prompt(ctx context.Context, id string) (*Prompt, error)
}

// MapSource is an in-memory Source.
type MapSource struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewMapSource creates a MapSource seeded with prompts.
func NewMapSource(prompts ...*Prompt) *MapSource {
	s := &MapSource{prompts: make(map[string]*Prompt, len(prompts))}
	for _, p := range prompts {
		s.prompts[p.ID] = p
	}
	return s
}

// Put adds or replaces a prompt.
func (s *MapSource) Put(p *Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = p
}

// Prompt implements Source.
func (s *MapSource) Prompt(_ context.Context, id string) (*Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[id]
	if !ok {
		return nil, types.Errorf(types.ErrCodeNotFound, "prompt %q not found", id)
	}
	return p, nil
}

// TemplateRenderer 基于 Source 的 Renderer 实现，${var:...} 由 variables.Resolve 替换
type TemplateRenderer struct {
	source Source
	logger *zap.Logger
}

// NewTemplateRenderer creates a TemplateRenderer.
func NewTemplateRenderer(source Source, logger *zap.Logger) *TemplateRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateRenderer{source: source, logger: logger.With(zap.String("component", "prompt_renderer"))}
}

// Render implements Renderer. Caller variables override the prompt defaults.
func (r *TemplateRenderer) Render(ctx context.Context, promptID string, vars map[string]any) (string, error) {
	p, err := r.source.Prompt(ctx, promptID)
	if err != nil {
		return "", fmt.Errorf("load prompt %q: %w", promptID, err)
	}

	merged := make(map[string]any, len(p.Defaults)+len(vars))
	for k, v := range p.Defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	for _, name := range p.Variables() {
		if _, ok := merged[name]; !ok {
			r.logger.Debug("prompt variable not supplied",
				zap.String("prompt_id", promptID), zap.String("variable", name))
		}
	}
	return variables.Resolve(p.Template, &variables.Scope{Vars: merged}), nil
}
