package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/BaSui01/modelgate/types"
)

// Class is the retry classification of a provider error.
type Class int

const (
	// ClassNone 表示调用成功
	ClassNone Class = iota
	// ClassTransient 超时、5xx、连接失败：按策略重试并计入熔断
	ClassTransient
	// ClassPermanent 4xx 请求格式错误：不重试，不计入熔断
	ClassPermanent
	// ClassCancelled 调用方取消
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a provider invocation to its class.
// Unknown errors are treated as transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return classifyLLMError(llmErr)
	}

	if te, ok := types.AsError(err); ok {
		switch te.Code {
		case types.ErrCodePermanentProvider, types.ErrCodeConfiguration, types.ErrCodeInvalidInput:
			return ClassPermanent
		case types.ErrCodeTransientProvider:
			return ClassTransient
		}
		if te.HTTPStatus > 0 {
			return classifyStatus(te.HTTPStatus, te.Retryable)
		}
		if te.Retryable {
			return ClassTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	// 兜底：部分适配器只返回字符串错误
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"400", "401", "403", "404", "422", "bad request", "invalid request", "unauthorized", "forbidden"} {
		if strings.Contains(msg, kw) {
			return ClassPermanent
		}
	}
	return ClassTransient
}

func classifyLLMError(e *Error) Class {
	if e.Retryable {
		return ClassTransient
	}
	switch e.Code {
	case ErrUpstreamTimeout, ErrUpstreamError, ErrModelOverloaded, ErrProviderUnavailable, ErrRateLimited:
		return ClassTransient
	case ErrInvalidRequest, ErrUnauthorized, ErrForbidden, ErrContentFiltered, ErrQuotaExceeded, ErrModelNotFound:
		return ClassPermanent
	}
	if e.HTTPStatus > 0 {
		return classifyStatus(e.HTTPStatus, false)
	}
	return ClassTransient
}

func classifyStatus(status int, retryable bool) Class {
	switch {
	case status == 408 || status == 429:
		return ClassTransient
	case status >= 400 && status < 500:
		if retryable {
			return ClassTransient
		}
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsPermanent reports whether err is a permanent provider error.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}
