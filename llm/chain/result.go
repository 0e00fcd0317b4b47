package chain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/types"
)

// Outcome 单次尝试的结果
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeBreakerOpen      Outcome = "breaker_open"
	OutcomeCancelled        Outcome = "cancelled"
)

// Attempt 一次尝试的记录。breaker_open 记录的 Attempt 为 0、Latency 为 0。
type Attempt struct {
	StepIndex   int           `json:"step_index"`
	Model       string        `json:"model"`
	Attempt     int           `json:"attempt"`
	Outcome     Outcome       `json:"outcome"`
	Latency     time.Duration `json:"latency"`
	BreakerOpen bool          `json:"breaker_open"`
	Trial       bool          `json:"trial,omitempty"`
	Error       error         `json:"-"`
}

// ErrorMessage returns the attempt error text, or "".
func (a Attempt) ErrorMessage() string {
	if a.Error == nil {
		return ""
	}
	return a.Error.Error()
}

// StepFailure 单个步骤的最后一次失败
type StepFailure struct {
	StepIndex int
	Model     string
	Outcome   Outcome
	Err       error
}

func (f StepFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("[%d] %s: %s", f.StepIndex, f.Model, f.Outcome)
	}
	return fmt.Sprintf("[%d] %s: %s: %v", f.StepIndex, f.Model, f.Outcome, f.Err)
}

func (f StepFailure) Unwrap() error { return f.Err }

// AggregateError 链中所有步骤均失败时的终止错误
type AggregateError struct {
	Failures []StepFailure
}

func (e *AggregateError) Error() string {
	if len(e.Failures) == 0 {
		return "all chain steps failed"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "all chain steps failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every step failure to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Is matches types.ErrChainExhausted.
func (e *AggregateError) Is(target error) bool {
	t, ok := target.(*types.Error)
	return ok && t.Code == types.ErrCodeChainExhausted
}

// AllSkipped reports whether every step was skipped by an open breaker.
func (e *AggregateError) AllSkipped() bool {
	for _, f := range e.Failures {
		if f.Outcome != OutcomeBreakerOpen {
			return false
		}
	}
	return len(e.Failures) > 0
}

// Metrics 单次链执行累计的指标，由调用方决定是否以及如何导出
type Metrics struct {
	Attempts      int                      `json:"attempts"`
	Retries       int                      `json:"retries"`
	BreakerSkips  int                      `json:"breaker_skips"`
	BreakerTrips  int                      `json:"breaker_trips"`
	Fallbacks     int                      `json:"fallbacks"`
	TotalDuration time.Duration            `json:"total_duration"`
	ModelLatency  map[string]time.Duration `json:"model_latency"`
	ModelAttempts map[string]int           `json:"model_attempts"`
}

func newMetrics() Metrics {
	return Metrics{
		ModelLatency:  make(map[string]time.Duration),
		ModelAttempts: make(map[string]int),
	}
}

// Result 一次链执行的完整结果，返回后归调用方独占
type Result struct {
	ExecutionID string            `json:"execution_id"`
	Response    *llm.ChatResponse `json:"response,omitempty"`
	Attempts    []Attempt         `json:"attempts"`

	// RespondingStep 成功步骤的下标，-1 表示没有步骤成功
	RespondingStep  int    `json:"responding_step"`
	RespondingModel string `json:"responding_model,omitempty"`

	Err       *AggregateError `json:"-"`
	Cancelled bool            `json:"cancelled,omitempty"`
	cancelErr error

	Metrics Metrics `json:"metrics"`
}

func newResult(id string) *Result {
	return &Result{
		ExecutionID:    id,
		RespondingStep: -1,
		Metrics:        newMetrics(),
	}
}

// Succeeded reports whether some step produced a response.
func (r *Result) Succeeded() bool {
	return r != nil && r.Response != nil && r.RespondingStep >= 0
}

// Error returns the terminal error of a failed or cancelled execution, or nil.
func (r *Result) Error() error {
	switch {
	case r == nil:
		return nil
	case r.Succeeded():
		return nil
	case r.Cancelled:
		if r.Err != nil && len(r.Err.Failures) > 0 {
			return fmt.Errorf("chain cancelled: %w", errors.Join(r.cancelErr, r.Err))
		}
		return fmt.Errorf("chain cancelled: %w", r.cancelErr)
	case r.Err != nil:
		return r.Err
	}
	return types.ErrChainExhausted
}

// AttemptsFor returns the attempts made against model, breaker skips included.
func (r *Result) AttemptsFor(model string) []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Model == model {
			out = append(out, a)
		}
	}
	return out
}

func (r *Result) record(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	if a.BreakerOpen {
		r.Metrics.BreakerSkips++
		return
	}
	r.Metrics.Attempts++
	if a.Attempt > 1 {
		r.Metrics.Retries++
	}
	r.Metrics.ModelAttempts[a.Model]++
	r.Metrics.ModelLatency[a.Model] += a.Latency
}

func (r *Result) fail(f StepFailure) {
	if r.Err == nil {
		r.Err = &AggregateError{}
	}
	r.Err.Failures = append(r.Err.Failures, f)
}
