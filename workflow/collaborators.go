package workflow

import (
	"context"
	"net/http"

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/types"
)

// ============================================================
// Workflow-local interfaces (implemented by store/, httpcall/, or the caller)
// ============================================================

// ChainLookup resolves a model reference into ordered chain steps.
type ChainLookup interface {
	Chain(ctx context.Context, modelRef string) ([]chain.Step, error)
}

// ChainLookupFunc adapts a function to ChainLookup.
type ChainLookupFunc func(ctx context.Context, modelRef string) ([]chain.Step, error)

func (f ChainLookupFunc) Chain(ctx context.Context, modelRef string) ([]chain.Step, error) {
	return f(ctx, modelRef)
}

// ExternalAPI 已注册的外部 API
type ExternalAPI struct {
	ID             string            `json:"id"`
	BaseURL        string            `json:"base_url"`
	DefaultHeaders map[string]string `json:"default_headers,omitempty"`
}

// APIRegistry resolves an API reference.
type APIRegistry interface {
	Lookup(ctx context.Context, apiRef string) (*ExternalAPI, error)
}

// CredentialProvider returns headers that authenticate a credential reference.
type CredentialProvider interface {
	Headers(ctx context.Context, credentialRef string) (map[string]string, error)
}

// KnowledgeBase 知识库检索
type KnowledgeBase interface {
	Search(ctx context.Context, kbID, query string, topK int, filter map[string]any) ([]types.Document, error)
}

// Classification CRAG 文档分类
type Classification string

const (
	ClassCorrect   Classification = "correct"
	ClassAmbiguous Classification = "ambiguous"
	ClassIncorrect Classification = "incorrect"
)

// ScoreRequest 文档评分请求
type ScoreRequest struct {
	Documents []types.Document
	Query     string
	Strategy  string
	Threshold float64
	Model     string
	Prompt    string
}

// ScoredDocument 评分后的文档
type ScoredDocument struct {
	Document       types.Document `json:"document"`
	Score          float64        `json:"score"`
	Classification Classification `json:"classification"`
}

// DocumentScorer grades retrieved documents against a query.
type DocumentScorer interface {
	Score(ctx context.Context, req ScoreRequest) ([]ScoredDocument, error)
}

// HTTPCall 外部 HTTP 调用描述
type HTTPCall struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse 外部 HTTP 调用结果
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPCaller performs outbound HTTP calls for http_request steps.
type HTTPCaller interface {
	Call(ctx context.Context, call HTTPCall) (*HTTPResponse, error)
}

// ============================================================
// Static implementations
// ============================================================

// StaticChains ChainLookup backed by a map. Unknown references fall back to a
// single-step chain when Fallback is set.
type StaticChains struct {
	Chains   map[string][]chain.Step
	Fallback *chain.Step
}

func (s StaticChains) Chain(_ context.Context, modelRef string) ([]chain.Step, error) {
	if steps, ok := s.Chains[modelRef]; ok {
		return steps, nil
	}
	if s.Fallback != nil {
		step := *s.Fallback
		step.Model = modelRef
		return []chain.Step{step}, nil
	}
	return nil, types.Errorf(types.ErrCodeNotFound, "no chain configured for model %q", modelRef)
}

// StaticAPIs APIRegistry backed by a map.
type StaticAPIs map[string]*ExternalAPI

func (s StaticAPIs) Lookup(_ context.Context, apiRef string) (*ExternalAPI, error) {
	if api, ok := s[apiRef]; ok {
		return api, nil
	}
	return nil, types.Errorf(types.ErrCodeNotFound, "external api %q not registered", apiRef)
}

// StaticCredentials CredentialProvider backed by a map of header sets.
type StaticCredentials map[string]map[string]string

func (s StaticCredentials) Headers(_ context.Context, credentialRef string) (map[string]string, error) {
	if h, ok := s[credentialRef]; ok {
		return h, nil
	}
	return nil, types.Errorf(types.ErrCodeNotFound, "credential %q not found", credentialRef)
}
