// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、按调用次序脚本化的结果、流式输出、延迟与错误注入。
package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/modelgate/llm"
)

// --- MockProvider 结构 ---

// Reply 单次调用的脚本化结果
type Reply struct {
	Content string
	Err     error
	// Delay 返回前等待；期间 ctx 结束则返回 ctx.Err()
	Delay time.Duration
}

// MockProvider 是 llm.Provider 的模拟实现，可并发调用
type MockProvider struct {
	mu sync.Mutex

	name     string
	response string
	err      error
	delay    time.Duration
	script   []Reply
	chunks   []string

	promptTokens     int
	completionTokens int

	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request *llm.ChatRequest
	Stream  bool
	Error   error
}

var _ llm.Provider = (*MockProvider)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建返回 "Mock response" 的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:             name,
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置脚本耗尽后的固定响应
func (m *MockProvider) WithResponse(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = content
	return m
}

// WithError 设置脚本耗尽后的固定错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置脚本耗尽后每次调用的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithScript 按调用次序依次返回 replies，用完后回到固定行为
func (m *MockProvider) WithScript(replies ...Reply) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
	return m
}

// WithStreamChunks 设置流式响应的分片；未设置时整段响应作为单个分片
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
	return m
}

// WithTokenUsage 设置响应中的 token 用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// --- llm.Provider 实现 ---

// Name 实现 llm.Provider
func (m *MockProvider) Name() string {
	return m.name
}

// Completion 实现 llm.Provider
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	reply := m.next()
	err := wait(ctx, reply)
	m.record(req, false, err)
	if err != nil {
		return nil, err
	}
	return m.buildResponse(req, reply.Content), nil
}

// Stream 实现 llm.Provider。脚本中的错误在打开阶段返回。
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	reply := m.next()
	err := wait(ctx, reply)
	m.record(req, true, err)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	parts := append([]string(nil), m.chunks...)
	usage := llm.ChatUsage{PromptTokens: m.promptTokens, CompletionTokens: m.completionTokens,
		TotalTokens: m.promptTokens + m.completionTokens}
	m.mu.Unlock()
	if len(parts) == 0 {
		parts = []string{reply.Content}
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, p := range parts {
			chunk := llm.StreamChunk{
				Provider: m.name,
				Model:    req.Model,
				Index:    i,
				Delta:    llm.Message{Role: llm.RoleAssistant, Content: p},
			}
			if i == len(parts)-1 {
				chunk.FinishReason = "stop"
				chunk.Usage = &usage
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// --- 调用记录 ---

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastRequest 返回最后一次调用的请求
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Request
}

// --- 内部方法 ---

func (m *MockProvider) next() Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r
	}
	return Reply{Content: m.response, Err: m.err, Delay: m.delay}
}

func (m *MockProvider) record(req *llm.ChatRequest, stream bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req.Clone(), Stream: stream, Error: err})
}

func (m *MockProvider) buildResponse(req *llm.ChatRequest, content string) *llm.ChatResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &llm.ChatResponse{
		ID:       "mock-" + strings.ReplaceAll(req.Model, "/", "-"),
		Provider: m.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
		CreatedAt: time.Now(),
	}
}

func wait(ctx context.Context, r Reply) error {
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	return r.Err
}

// --- 便捷构造函数 ---

// NewSuccessProvider 始终返回 content
func NewSuccessProvider(name, content string) *MockProvider {
	return NewMockProvider(name).WithResponse(content)
}

// NewErrorProvider 始终返回 err
func NewErrorProvider(name string, err error) *MockProvider {
	return NewMockProvider(name).WithError(err)
}

// NewFlakyProvider 前 failures 次返回 err，之后返回 content
func NewFlakyProvider(name string, failures int, err error, content string) *MockProvider {
	m := NewMockProvider(name).WithResponse(content)
	for i := 0; i < failures; i++ {
		m.WithScript(Reply{Err: err})
	}
	return m
}
