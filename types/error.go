package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Orchestration error codes
const (
	ErrCodeConfiguration      ErrorCode = "CONFIGURATION"
	ErrCodeTransientProvider  ErrorCode = "TRANSIENT_PROVIDER"
	ErrCodePermanentProvider  ErrorCode = "PERMANENT_PROVIDER"
	ErrCodeBreakerOpen        ErrorCode = "BREAKER_OPEN"
	ErrCodeStepFailure        ErrorCode = "WORKFLOW_STEP_FAILURE"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeWorkflowDisabled   ErrorCode = "WORKFLOW_DISABLED"
	ErrCodeStepBudgetExceeded ErrorCode = "STEP_BUDGET_EXCEEDED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeChainExhausted     ErrorCode = "CHAIN_EXHAUSTED"
	ErrCodeCancelled          ErrorCode = "CANCELLED"
)

// Sentinel errors for errors.Is matching. Matching is by Code, so any *Error
// carrying the same code satisfies errors.Is(err, ErrConfiguration).
var (
	ErrConfiguration      = NewError(ErrCodeConfiguration, "configuration error")
	ErrTransientProvider  = NewError(ErrCodeTransientProvider, "transient provider error")
	ErrPermanentProvider  = NewError(ErrCodePermanentProvider, "permanent provider error")
	ErrBreakerOpen        = NewError(ErrCodeBreakerOpen, "circuit breaker open")
	ErrStepFailure        = NewError(ErrCodeStepFailure, "workflow step failed")
	ErrInvalidInput       = NewError(ErrCodeInvalidInput, "invalid input")
	ErrWorkflowDisabled   = NewError(ErrCodeWorkflowDisabled, "workflow disabled")
	ErrStepBudgetExceeded = NewError(ErrCodeStepBudgetExceeded, "step execution budget exceeded")
	ErrNotFound           = NewError(ErrCodeNotFound, "not found")
	ErrChainExhausted     = NewError(ErrCodeChainExhausted, "all chain steps failed")
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Step       string    `json:"step,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Step != "" {
		prefix = fmt.Sprintf("[%s] step %q", e.Code, e.Step)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithStep attaches the workflow step name.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// AsError extracts the first *Error in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewConfigurationError 构造配置错误（执行前即失败，不重试）
func NewConfigurationError(format string, args ...any) *Error {
	return Errorf(ErrCodeConfiguration, format, args...)
}

// NewStepFailure 包装步骤内部错误，附带步骤名称
func NewStepFailure(step string, cause error) *Error {
	return &Error{
		Code:    ErrCodeStepFailure,
		Message: "step execution failed",
		Step:    step,
		Cause:   cause,
	}
}
