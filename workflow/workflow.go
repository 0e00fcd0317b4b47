package workflow

// =============================================================================
// Workflow model
// =============================================================================

// DefaultMaxStepExecutions 单次执行允许的步骤执行次数上限（GoTo 回环时生效）
const DefaultMaxStepExecutions = 1000

// Workflow 工作流定义，执行期间不可变
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []Step         `json:"steps"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Enabled     bool           `json:"enabled"`

	// MaxStepExecutions 0 表示使用执行器默认值
	MaxStepExecutions int `json:"max_step_executions,omitempty"`
}

// StepIndex returns the position of the named step, or -1.
func (w *Workflow) StepIndex(name string) int {
	for i, s := range w.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// OnError 步骤失败后的处理策略
type OnError string

const (
	OnErrorFailWorkflow OnError = "fail_workflow"
	OnErrorSkipStep     OnError = "skip_step"
)

// Step 工作流中的一个步骤
type Step struct {
	Name    string   `json:"name"`
	OnError OnError  `json:"on_error,omitempty"`
	Spec    StepSpec `json:"-"`
}

// Kind returns the variant kind, or "" when Spec is nil.
func (s Step) Kind() StepKind {
	if s.Spec == nil {
		return ""
	}
	return s.Spec.Kind()
}

func (s Step) onError() OnError {
	if s.OnError == "" {
		return OnErrorFailWorkflow
	}
	return s.OnError
}

// StepKind 步骤类型
type StepKind string

const (
	KindChatCompletion      StepKind = "chat_completion"
	KindKnowledgeBaseSearch StepKind = "knowledge_base_search"
	KindCragScoring         StepKind = "crag_scoring"
	KindConditional         StepKind = "conditional"
	KindHTTPRequest         StepKind = "http_request"
)

// StepSpec is the closed set of step variants. Implementations live in this
// package only.
type StepSpec interface {
	Kind() StepKind
	// templates returns every template string the step resolves at run time.
	templates() []string
	validate() []error
}

// =============================================================================
// Step variants
// =============================================================================

// ChatCompletion 通过模型链发起一次对话补全
type ChatCompletion struct {
	// Model 模型引用，由 ChainLookup 解析为链
	Model string `json:"model"`

	// Prompt 可选的托管提示词 ID，渲染结果作为 system 消息
	Prompt          string            `json:"prompt,omitempty"`
	PromptVariables map[string]string `json:"prompt_variables,omitempty"`

	System string `json:"system,omitempty"`
	User   string `json:"user,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

func (*ChatCompletion) Kind() StepKind { return KindChatCompletion }

func (c *ChatCompletion) templates() []string {
	out := []string{c.System, c.User}
	for _, v := range c.PromptVariables {
		out = append(out, v)
	}
	return out
}

// KnowledgeBaseSearch 检索知识库
type KnowledgeBaseSearch struct {
	KnowledgeBase string         `json:"knowledge_base"`
	Query         string         `json:"query"`
	TopK          int            `json:"top_k,omitempty"`
	Filter        map[string]any `json:"filter,omitempty"`
}

func (*KnowledgeBaseSearch) Kind() StepKind { return KindKnowledgeBaseSearch }

func (k *KnowledgeBaseSearch) templates() []string {
	return append([]string{k.Query}, stringLeaves(k.Filter)...)
}

// DefaultTopK search depth when TopK is unset.
const DefaultTopK = 5

// CragScoring 对检索结果做相关性评分与分类
type CragScoring struct {
	// Documents 文档列表模板，通常为单个占位符，例如 ${step:search:documents}
	Documents string  `json:"documents"`
	Query     string  `json:"query"`
	Strategy  string  `json:"strategy,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Model     string  `json:"model"`
	Prompt    string  `json:"prompt"`
}

func (*CragScoring) Kind() StepKind { return KindCragScoring }

func (c *CragScoring) templates() []string { return []string{c.Documents, c.Query} }

// Conditional 按顺序求值条件，命中第一个即执行其动作
type Conditional struct {
	Conditions []Condition `json:"conditions"`
	// Default 无条件命中时的动作，nil 等价于 Continue
	Default *Action `json:"default,omitempty"`
}

func (*Conditional) Kind() StepKind { return KindConditional }

func (c *Conditional) templates() []string {
	var out []string
	for _, cond := range c.Conditions {
		out = append(out, cond.Field)
		if s, ok := cond.Value.(string); ok {
			out = append(out, s)
		}
		out = append(out, stringLeaves(cond.Action.Output)...)
	}
	if c.Default != nil {
		out = append(out, stringLeaves(c.Default.Output)...)
	}
	return out
}

// HTTPRequest 调用已注册的外部 API
type HTTPRequest struct {
	API        string            `json:"api"`
	Credential string            `json:"credential,omitempty"`
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	// Body 为字符串模板或嵌套文档，字符串叶子会被解析
	Body any `json:"body,omitempty"`
}

func (*HTTPRequest) Kind() StepKind { return KindHTTPRequest }

func (h *HTTPRequest) templates() []string {
	out := []string{h.Method, h.Path}
	for _, v := range h.Headers {
		out = append(out, v)
	}
	switch b := h.Body.(type) {
	case string:
		out = append(out, b)
	case map[string]any:
		out = append(out, stringLeaves(b)...)
	}
	return out
}

// =============================================================================
// Conditions and actions
// =============================================================================

// Operator 条件比较运算符
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
	OpContains   Operator = "contains"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIsEmpty, OpIsNotEmpty, OpContains:
		return true
	}
	return false
}

// unary operators ignore Value.
func (op Operator) unary() bool {
	return op == OpIsEmpty || op == OpIsNotEmpty
}

// Condition 单个条件：Field 为模板，Value 为字符串时同样会被解析
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Action   Action   `json:"action"`
}

// ActionKind 条件命中后的控制流动作
type ActionKind string

const (
	ActionContinue ActionKind = "continue"
	ActionGoTo     ActionKind = "goto"
	ActionEnd      ActionKind = "end"
)

// Action 控制流动作
type Action struct {
	Kind   ActionKind     `json:"kind"`
	Target string         `json:"target,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Continue proceeds to the next step.
func Continue() Action { return Action{Kind: ActionContinue} }

// GoTo jumps to the named step.
func GoTo(target string) Action { return Action{Kind: ActionGoTo, Target: target} }

// End stops the workflow with the given output; string leaves are resolved.
func End(output map[string]any) Action { return Action{Kind: ActionEnd, Output: output} }

func (a Action) String() string {
	switch a.Kind {
	case ActionGoTo:
		return "goto:" + a.Target
	case "":
		return string(ActionContinue)
	}
	return string(a.Kind)
}

func stringLeaves(doc map[string]any) []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			for _, x := range t {
				walk(x)
			}
		case []any:
			for _, x := range t {
				walk(x)
			}
		}
	}
	for _, v := range doc {
		walk(v)
	}
	return out
}
