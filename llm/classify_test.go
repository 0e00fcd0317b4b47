package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/modelgate/types"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

var _ net.Error = timeoutNetErr{}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"cancelled", context.Canceled, ClassCancelled},
		{"wrapped cancelled", fmt.Errorf("call: %w", context.Canceled), ClassCancelled},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"llm retryable", &Error{Code: ErrRateLimited, Retryable: true, HTTPStatus: 429}, ClassTransient},
		{"llm invalid request", &Error{Code: ErrInvalidRequest, HTTPStatus: 400}, ClassPermanent},
		{"llm 5xx by status", &Error{Code: "X", HTTPStatus: 503}, ClassTransient},
		{"llm 4xx by status", &Error{Code: "X", HTTPStatus: 422}, ClassPermanent},
		{"llm upstream", &Error{Code: ErrUpstreamError}, ClassTransient},
		{"types permanent", types.NewError(types.ErrCodePermanentProvider, "bad"), ClassPermanent},
		{"types transient", types.NewError(types.ErrCodeTransientProvider, "flaky"), ClassTransient},
		{"types status", types.NewError("OTHER", "x").WithHTTPStatus(404), ClassPermanent},
		{"net error", timeoutNetErr{}, ClassTransient},
		{"string 400", errors.New("provider returned 400 bad request"), ClassPermanent},
		{"unknown", errors.New("boom"), ClassTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClass_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "permanent", ClassPermanent.String())
	assert.Equal(t, "unknown", Class(99).String())
	assert.True(t, IsPermanent(&Error{Code: ErrUnauthorized}))
}
