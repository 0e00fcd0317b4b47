package workflow

import (
	"time"

	"github.com/BaSui01/modelgate/types"
)

// Status 工作流执行终态
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusEndedEarly Status = "ended_early"
)

// StepStatus 单个步骤执行结果
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepOutput 账本中的一条记录
type StepOutput struct {
	Step   string         `json:"step"`
	Output types.Document `json:"output"`
}

// StepRecord 每次步骤执行的审计记录（GoTo 回环会产生多条同名记录）
type StepRecord struct {
	Step      string        `json:"step"`
	Kind      StepKind      `json:"kind"`
	Index     int           `json:"index"`
	Execution int           `json:"execution"`
	Status    StepStatus    `json:"status"`
	Action    string        `json:"action,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`

	// ChainExecutionID 对话步骤对应的链执行 ID
	ChainExecutionID string `json:"chain_execution_id,omitempty"`
}

// Result 一次工作流执行的结果，返回后归调用方独占
type Result struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      Status         `json:"status"`
	Output      types.Document `json:"output"`
	Outputs     []StepOutput   `json:"outputs"`
	Steps       []StepRecord   `json:"steps"`

	// FailedStep 导致失败的步骤；EndedAt 触发提前结束的条件步骤
	FailedStep string `json:"failed_step,omitempty"`
	EndedAt    string `json:"ended_at,omitempty"`

	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the workflow finished without failing.
func (r *Result) Succeeded() bool {
	return r != nil && (r.Status == StatusCompleted || r.Status == StatusEndedEarly)
}

// StepOutput looks up a ledger entry by step name.
func (r *Result) StepOutput(name string) (types.Document, bool) {
	for _, o := range r.Outputs {
		if o.Step == name {
			return o.Output, true
		}
	}
	return nil, false
}

// Executions returns the audit records for the named step.
func (r *Result) Executions(name string) []StepRecord {
	var out []StepRecord
	for _, rec := range r.Steps {
		if rec.Step == name {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Result) failWith(step string, err error) {
	r.Status = StatusFailed
	r.FailedStep = step
	r.Error = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}
