package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/variables"
)

// Validate 加载期校验：名称唯一且非空、必填字段、运算符、on_error 取值、
// GoTo 目标存在。所有问题一次性收集，包装为 CONFIGURATION 错误返回。
func (w *Workflow) Validate() error {
	errs := w.validationErrors()
	if len(errs) == 0 {
		return nil
	}
	return types.NewConfigurationError("workflow %q is invalid", w.ID).WithCause(errors.Join(errs...))
}

func (w *Workflow) validationErrors() []error {
	var errs []error
	if len(w.Steps) == 0 {
		errs = append(errs, fmt.Errorf("workflow has no steps"))
	}
	if w.MaxStepExecutions < 0 {
		errs = append(errs, fmt.Errorf("max_step_executions must be >= 0, got %d", w.MaxStepExecutions))
	}

	names := make(map[string]int, len(w.Steps))
	for i, s := range w.Steps {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("step %d: name is required", i))
			continue
		}
		if prev, dup := names[s.Name]; dup {
			errs = append(errs, fmt.Errorf("step %d: duplicate name %q (first used by step %d)", i, s.Name, prev))
			continue
		}
		names[s.Name] = i
	}

	for i, s := range w.Steps {
		switch s.OnError {
		case "", OnErrorFailWorkflow, OnErrorSkipStep:
		default:
			errs = append(errs, fmt.Errorf("step %q: unknown on_error %q", s.Name, s.OnError))
		}
		if s.Spec == nil {
			errs = append(errs, fmt.Errorf("step %d (%q): step type is required", i, s.Name))
			continue
		}
		for _, err := range s.Spec.validate() {
			errs = append(errs, fmt.Errorf("step %q: %w", s.Name, err))
		}
		if cond, ok := s.Spec.(*Conditional); ok {
			for _, target := range cond.targets() {
				if _, exists := names[target]; !exists {
					errs = append(errs, fmt.Errorf("step %q: goto target %q does not exist", s.Name, target))
				}
			}
		}
	}
	return errs
}

// ReferenceWarnings 静态扫描模板中的 ${step:...} 引用，返回指向不存在步骤的引用。
// 这些引用在运行时解析为空，不阻止加载。
func (w *Workflow) ReferenceWarnings() []string {
	known := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		known[s.Name] = true
	}
	seen := make(map[string]bool)
	var warnings []string
	for _, s := range w.Steps {
		if s.Spec == nil {
			continue
		}
		for _, tpl := range s.Spec.templates() {
			for _, ref := range variables.References(tpl) {
				if ref.Scope != variables.ScopeStep || known[ref.Key] {
					continue
				}
				msg := fmt.Sprintf("step %q references unknown step %q", s.Name, ref.Key)
				if !seen[msg] {
					seen[msg] = true
					warnings = append(warnings, msg)
				}
			}
		}
	}
	sort.Strings(warnings)
	return warnings
}

// =============================================================================
// Per-variant checks
// =============================================================================

func (c *ChatCompletion) validate() []error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("chat_completion: model is required"))
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat_completion: max_tokens must be >= 0, got %d", *c.MaxTokens))
	}
	return errs
}

func (k *KnowledgeBaseSearch) validate() []error {
	var errs []error
	if k.KnowledgeBase == "" {
		errs = append(errs, errors.New("knowledge_base_search: knowledge_base is required"))
	}
	if k.Query == "" {
		errs = append(errs, errors.New("knowledge_base_search: query is required"))
	}
	if k.TopK < 0 {
		errs = append(errs, fmt.Errorf("knowledge_base_search: top_k must be >= 0, got %d", k.TopK))
	}
	return errs
}

func (c *CragScoring) validate() []error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("crag_scoring: model is required"))
	}
	if c.Prompt == "" {
		errs = append(errs, errors.New("crag_scoring: prompt is required"))
	}
	if c.Documents == "" {
		errs = append(errs, errors.New("crag_scoring: documents is required"))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("crag_scoring: threshold must be within [0,1], got %v", c.Threshold))
	}
	return errs
}

func (c *Conditional) validate() []error {
	var errs []error
	if len(c.Conditions) == 0 && c.Default == nil {
		errs = append(errs, errors.New("conditional: at least one condition or a default action is required"))
	}
	for i, cond := range c.Conditions {
		if cond.Field == "" {
			errs = append(errs, fmt.Errorf("conditional: condition %d: field is required", i))
		}
		if !cond.Operator.Valid() {
			errs = append(errs, fmt.Errorf("conditional: condition %d: unknown operator %q", i, cond.Operator))
		}
		if err := cond.Action.validate(); err != nil {
			errs = append(errs, fmt.Errorf("conditional: condition %d: %w", i, err))
		}
	}
	if c.Default != nil {
		if err := c.Default.validate(); err != nil {
			errs = append(errs, fmt.Errorf("conditional: default: %w", err))
		}
	}
	return errs
}

func (c *Conditional) targets() []string {
	var out []string
	for _, cond := range c.Conditions {
		if cond.Action.Kind == ActionGoTo {
			out = append(out, cond.Action.Target)
		}
	}
	if c.Default != nil && c.Default.Kind == ActionGoTo {
		out = append(out, c.Default.Target)
	}
	return out
}

func (a Action) validate() error {
	switch a.Kind {
	case "", ActionContinue, ActionEnd:
		return nil
	case ActionGoTo:
		if a.Target == "" {
			return errors.New("goto action requires a target")
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

func (h *HTTPRequest) validate() []error {
	var errs []error
	if h.API == "" {
		errs = append(errs, errors.New("http_request: api is required"))
	}
	return errs
}
