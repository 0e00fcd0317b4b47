package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
)

// Parser DSL 解析器。YAML 为主格式，JSON 作为其子集同样可解析。
type Parser struct {
	logger *zap.Logger
}

// NewParser 创建 DSL 解析器
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger.With(zap.String("component", "workflow_dsl"))}
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML/JSON 字节解析并校验工作流
func (p *Parser) Parse(data []byte) (*workflow.Workflow, error) {
	var dsl WorkflowDSL
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&dsl); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, types.NewConfigurationError("empty workflow definition")
		}
		return nil, types.NewConfigurationError("parse workflow definition").WithCause(err)
	}

	// 1. DSL 结构校验
	if errs := NewValidator().Validate(&dsl); len(errs) > 0 {
		return nil, types.NewConfigurationError("invalid workflow definition %q", dsl.ID).WithCause(errors.Join(errs...))
	}

	// 2. 构建模型并做语义校验（名称唯一、GoTo 目标等）
	wf := Build(&dsl)
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	for _, w := range wf.ReferenceWarnings() {
		p.logger.Warn("workflow reference warning", zap.String("workflow_id", wf.ID), zap.String("warning", w))
	}
	return wf, nil
}

// Build 将已校验的 DSL 转换为工作流模型
func Build(dsl *WorkflowDSL) *workflow.Workflow {
	wf := &workflow.Workflow{
		ID:                dsl.ID,
		Name:              dsl.Name,
		Description:       dsl.Description,
		InputSchema:       dsl.InputSchema,
		Enabled:           dsl.Enabled == nil || *dsl.Enabled,
		MaxStepExecutions: dsl.MaxStepExecutions,
		Steps:             make([]workflow.Step, 0, len(dsl.Steps)),
	}
	for i := range dsl.Steps {
		wf.Steps = append(wf.Steps, buildStep(&dsl.Steps[i]))
	}
	return wf
}

func buildStep(def *StepDef) workflow.Step {
	step := workflow.Step{Name: def.Name, OnError: workflow.OnError(def.OnError)}
	switch workflow.StepKind(def.Type) {
	case workflow.KindChatCompletion:
		step.Spec = &workflow.ChatCompletion{
			Model:           def.Model,
			Prompt:          def.Prompt,
			PromptVariables: def.PromptVariables,
			System:          def.System,
			User:            def.User,
			Temperature:     def.Temperature,
			MaxTokens:       def.MaxTokens,
			TopP:            def.TopP,
			Stop:            def.Stop,
			Stream:          def.Stream,
		}
	case workflow.KindKnowledgeBaseSearch:
		step.Spec = &workflow.KnowledgeBaseSearch{
			KnowledgeBase: def.KnowledgeBase,
			Query:         def.Query,
			TopK:          def.TopK,
			Filter:        def.Filter,
		}
	case workflow.KindCragScoring:
		step.Spec = &workflow.CragScoring{
			Documents: def.Documents,
			Query:     def.Query,
			Strategy:  def.Strategy,
			Threshold: def.Threshold,
			Model:     def.Model,
			Prompt:    def.Prompt,
		}
	case workflow.KindConditional:
		cond := &workflow.Conditional{}
		for _, c := range def.Conditions {
			cond.Conditions = append(cond.Conditions, workflow.Condition{
				Field:    c.Field,
				Operator: workflow.Operator(c.Operator),
				Value:    c.Value,
				Action:   buildAction(c.Action),
			})
		}
		if def.Default != nil {
			a := buildAction(*def.Default)
			cond.Default = &a
		}
		step.Spec = cond
	case workflow.KindHTTPRequest:
		step.Spec = &workflow.HTTPRequest{
			API:        def.API,
			Credential: def.Credential,
			Method:     def.Method,
			Path:       def.Path,
			Headers:    def.Headers,
			Body:       def.Body,
		}
	}
	return step
}

func buildAction(def ActionDef) workflow.Action {
	return workflow.Action{Kind: workflow.ActionKind(def.Type), Target: def.Target, Output: def.Output}
}

// =============================================================================
// Export
// =============================================================================

// FromWorkflow 将工作流模型转换回 DSL
func FromWorkflow(wf *workflow.Workflow) *WorkflowDSL {
	enabled := wf.Enabled
	dsl := &WorkflowDSL{
		Version:           SupportedVersion,
		ID:                wf.ID,
		Name:              wf.Name,
		Description:       wf.Description,
		Enabled:           &enabled,
		MaxStepExecutions: wf.MaxStepExecutions,
		InputSchema:       wf.InputSchema,
		Steps:             make([]StepDef, 0, len(wf.Steps)),
	}
	for _, s := range wf.Steps {
		def := StepDef{Name: s.Name, Type: string(s.Kind()), OnError: string(s.OnError)}
		switch spec := s.Spec.(type) {
		case *workflow.ChatCompletion:
			def.Model, def.Prompt, def.PromptVariables = spec.Model, spec.Prompt, spec.PromptVariables
			def.System, def.User = spec.System, spec.User
			def.Temperature, def.MaxTokens, def.TopP = spec.Temperature, spec.MaxTokens, spec.TopP
			def.Stop, def.Stream = spec.Stop, spec.Stream
		case *workflow.KnowledgeBaseSearch:
			def.KnowledgeBase, def.Query, def.TopK, def.Filter = spec.KnowledgeBase, spec.Query, spec.TopK, spec.Filter
		case *workflow.CragScoring:
			def.Documents, def.Query, def.Strategy = spec.Documents, spec.Query, spec.Strategy
			def.Threshold, def.Model, def.Prompt = spec.Threshold, spec.Model, spec.Prompt
		case *workflow.Conditional:
			for _, c := range spec.Conditions {
				def.Conditions = append(def.Conditions, ConditionDef{
					Field:    c.Field,
					Operator: string(c.Operator),
					Value:    c.Value,
					Action:   exportAction(c.Action),
				})
			}
			if spec.Default != nil {
				a := exportAction(*spec.Default)
				def.Default = &a
			}
		case *workflow.HTTPRequest:
			def.API, def.Credential, def.Method, def.Path = spec.API, spec.Credential, spec.Method, spec.Path
			def.Headers, def.Body = spec.Headers, spec.Body
		}
		dsl.Steps = append(dsl.Steps, def)
	}
	return dsl
}

func exportAction(a workflow.Action) ActionDef {
	kind := a.Kind
	if kind == "" {
		kind = workflow.ActionContinue
	}
	return ActionDef{Type: string(kind), Target: a.Target, Output: a.Output}
}

// MarshalYAML 导出为 YAML
func MarshalYAML(wf *workflow.Workflow) ([]byte, error) {
	return yaml.Marshal(FromWorkflow(wf))
}

// MarshalJSON 导出为 JSON
func MarshalJSON(wf *workflow.Workflow) ([]byte, error) {
	return json.Marshal(FromWorkflow(wf))
}
