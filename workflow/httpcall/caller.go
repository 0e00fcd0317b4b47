// Package httpcall 提供 http_request 步骤默认使用的外部 HTTP 调用器。
package httpcall

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
)

// Defaults
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 4 << 20
)

// Option configures a Caller.
type Option func(*Caller)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMaxBodyBytes caps the response body size. Larger bodies fail the call.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithTransport overrides the base transport (still wrapped by otelhttp).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Caller) {
		if rt != nil {
			c.client.Transport = otelhttp.NewTransport(rt)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Caller workflow.HTTPCaller 的 net/http 实现，出站请求带 OTel 传播
type Caller struct {
	client  *http.Client
	maxBody int64
	logger  *zap.Logger
}

var _ workflow.HTTPCaller = (*Caller)(nil)

// New creates a Caller.
func New(opts ...Option) *Caller {
	c := &Caller{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBody: DefaultMaxBodyBytes,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "http_caller"))
	return c
}

// Call performs the request. Non-2xx statuses are returned, not treated as
// errors; transport failures are TRANSIENT_PROVIDER errors.
func (c *Caller) Call(ctx context.Context, call workflow.HTTPCall) (*workflow.HTTPResponse, error) {
	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, types.NewError(types.ErrCodeInvalidInput, "build http request").WithCause(err)
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrCodeTransientProvider, fmt.Sprintf("%s %s failed", call.Method, req.URL.Redacted())).
			WithCause(err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	// 多读一个字节用于判断是否超限
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, types.NewError(types.ErrCodeTransientProvider, "read http response").WithCause(err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, types.NewError(types.ErrCodeInvalidInput,
			fmt.Sprintf("%s %s: response body exceeds %d bytes", call.Method, req.URL.Redacted(), c.maxBody)).
			WithHTTPStatus(resp.StatusCode)
	}

	c.logger.Debug("http call finished",
		zap.String("method", call.Method),
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	return &workflow.HTTPResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
