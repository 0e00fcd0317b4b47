package dsl

// SupportedVersion DSL 当前版本
const SupportedVersion = "1"

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// ID 工作流唯一标识
	ID string `yaml:"id" json:"id"`
	// Name 工作流名称
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Enabled 缺省为 true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	// MaxStepExecutions 单次执行的步骤执行次数上限，0 使用执行器默认值
	MaxStepExecutions int `yaml:"max_step_executions,omitempty" json:"max_step_executions,omitempty"`
	// InputSchema 请求输入的 JSON Schema
	InputSchema map[string]any `yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	// Steps 有序步骤
	Steps []StepDef `yaml:"steps" json:"steps"`
}

// StepDef 步骤定义。按 Type 使用对应字段，其余字段必须为空。
type StepDef struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"` // chat_completion, knowledge_base_search, crag_scoring, conditional, http_request
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// chat_completion / crag_scoring
	Model           string            `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt          string            `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	PromptVariables map[string]string `yaml:"prompt_variables,omitempty" json:"prompt_variables,omitempty"`
	System          string            `yaml:"system,omitempty" json:"system,omitempty"`
	User            string            `yaml:"user,omitempty" json:"user,omitempty"`
	Temperature     *float32          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens       *int              `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TopP            *float32          `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	Stop            []string          `yaml:"stop,omitempty" json:"stop,omitempty"`
	Stream          bool              `yaml:"stream,omitempty" json:"stream,omitempty"`

	// knowledge_base_search
	KnowledgeBase string         `yaml:"knowledge_base,omitempty" json:"knowledge_base,omitempty"`
	Query         string         `yaml:"query,omitempty" json:"query,omitempty"`
	TopK          int            `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	Filter        map[string]any `yaml:"filter,omitempty" json:"filter,omitempty"`

	// crag_scoring
	Documents string  `yaml:"documents,omitempty" json:"documents,omitempty"`
	Strategy  string  `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// conditional
	Conditions []ConditionDef `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Default    *ActionDef     `yaml:"default,omitempty" json:"default,omitempty"`

	// http_request
	API        string            `yaml:"api,omitempty" json:"api,omitempty"`
	Credential string            `yaml:"credential,omitempty" json:"credential,omitempty"`
	Method     string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path       string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body       any               `yaml:"body,omitempty" json:"body,omitempty"`
}

// ConditionDef 条件定义
type ConditionDef struct {
	Field    string    `yaml:"field" json:"field"`
	Operator string    `yaml:"operator" json:"operator"`
	Value    any       `yaml:"value,omitempty" json:"value,omitempty"`
	Action   ActionDef `yaml:"action" json:"action"`
}

// ActionDef 动作定义
type ActionDef struct {
	Type   string         `yaml:"type" json:"type"` // continue, goto, end
	Target string         `yaml:"target,omitempty" json:"target,omitempty"`
	Output map[string]any `yaml:"output,omitempty" json:"output,omitempty"`
}
