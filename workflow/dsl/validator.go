package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/modelgate/workflow"
)

// Validator DSL 验证器
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// fieldsByType 每种步骤类型允许出现的字段
var fieldsByType = map[workflow.StepKind]map[string]bool{
	workflow.KindChatCompletion: set("model", "prompt", "prompt_variables", "system", "user",
		"temperature", "max_tokens", "top_p", "stop", "stream"),
	workflow.KindKnowledgeBaseSearch: set("knowledge_base", "query", "top_k", "filter"),
	workflow.KindCragScoring:         set("documents", "query", "strategy", "threshold", "model", "prompt"),
	workflow.KindConditional:         set("conditions", "default"),
	workflow.KindHTTPRequest:         set("api", "credential", "method", "path", "headers", "body"),
}

// Validate 验证 DSL 定义，收集全部问题后返回
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	} else if dsl.Version != SupportedVersion {
		errs = append(errs, fmt.Errorf("unsupported version %q (want %q)", dsl.Version, SupportedVersion))
	}
	if dsl.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if len(dsl.Steps) == 0 {
		errs = append(errs, fmt.Errorf("steps must have at least one step"))
	}

	for i := range dsl.Steps {
		errs = append(errs, v.validateStep(i, &dsl.Steps[i])...)
	}
	return errs
}

// validateStep 验证单个步骤
func (v *Validator) validateStep(i int, step *StepDef) []error {
	var errs []error
	label := fmt.Sprintf("step %d", i)
	if step.Name != "" {
		label = fmt.Sprintf("step %q", step.Name)
	}

	allowed, known := fieldsByType[workflow.StepKind(step.Type)]
	if !known {
		if step.Type == "" {
			errs = append(errs, fmt.Errorf("%s: type is required", label))
		} else {
			errs = append(errs, fmt.Errorf("%s: invalid type %q", label, step.Type))
		}
		return errs
	}

	var foreign []string
	for _, f := range step.setFields() {
		if !allowed[f] {
			foreign = append(foreign, f)
		}
	}
	if len(foreign) > 0 {
		sort.Strings(foreign)
		errs = append(errs, fmt.Errorf("%s: fields %s are not valid for type %s",
			label, strings.Join(foreign, ", "), step.Type))
	}

	switch workflow.OnError(step.OnError) {
	case "", workflow.OnErrorFailWorkflow, workflow.OnErrorSkipStep:
	default:
		errs = append(errs, fmt.Errorf("%s: invalid on_error %q", label, step.OnError))
	}

	for j, cond := range step.Conditions {
		if !workflow.Operator(cond.Operator).Valid() {
			errs = append(errs, fmt.Errorf("%s: condition %d: invalid operator %q", label, j, cond.Operator))
		}
		if err := validateAction(cond.Action); err != nil {
			errs = append(errs, fmt.Errorf("%s: condition %d: %w", label, j, err))
		}
	}
	if step.Default != nil {
		if err := validateAction(*step.Default); err != nil {
			errs = append(errs, fmt.Errorf("%s: default: %w", label, err))
		}
	}
	return errs
}

func validateAction(a ActionDef) error {
	switch workflow.ActionKind(a.Type) {
	case workflow.ActionContinue, workflow.ActionEnd:
		if a.Target != "" {
			return fmt.Errorf("action %q does not take a target", a.Type)
		}
	case workflow.ActionGoTo:
		if a.Target == "" {
			return fmt.Errorf("goto action requires a target")
		}
		if len(a.Output) > 0 {
			return fmt.Errorf("goto action does not take an output")
		}
	case "":
		return fmt.Errorf("action type is required")
	default:
		return fmt.Errorf("invalid action type %q", a.Type)
	}
	if workflow.ActionKind(a.Type) == workflow.ActionContinue && len(a.Output) > 0 {
		return fmt.Errorf("continue action does not take an output")
	}
	return nil
}

// setFields 列出非零值的类型相关字段
func (s *StepDef) setFields() []string {
	var out []string
	add := func(name string, isSet bool) {
		if isSet {
			out = append(out, name)
		}
	}
	add("model", s.Model != "")
	add("prompt", s.Prompt != "")
	add("prompt_variables", len(s.PromptVariables) > 0)
	add("system", s.System != "")
	add("user", s.User != "")
	add("temperature", s.Temperature != nil)
	add("max_tokens", s.MaxTokens != nil)
	add("top_p", s.TopP != nil)
	add("stop", len(s.Stop) > 0)
	add("stream", s.Stream)
	add("knowledge_base", s.KnowledgeBase != "")
	add("query", s.Query != "")
	add("top_k", s.TopK != 0)
	add("filter", len(s.Filter) > 0)
	add("documents", s.Documents != "")
	add("strategy", s.Strategy != "")
	add("threshold", s.Threshold != 0)
	add("conditions", len(s.Conditions) > 0)
	add("default", s.Default != nil)
	add("api", s.API != "")
	add("credential", s.Credential != "")
	add("method", s.Method != "")
	add("path", s.Path != "")
	add("headers", len(s.Headers) > 0)
	add("body", s.Body != nil)
	return out
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
