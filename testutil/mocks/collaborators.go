package mocks

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
)

// --- MockKnowledgeBase ---

// KnowledgeQuery 记录一次检索
type KnowledgeQuery struct {
	KB     string
	Query  string
	TopK   int
	Filter map[string]any
}

// MockKnowledgeBase 按知识库 id 返回固定文档，截断到 topK
type MockKnowledgeBase struct {
	mu      sync.Mutex
	docs    map[string][]types.Document
	err     error
	queries []KnowledgeQuery
}

var _ workflow.KnowledgeBase = (*MockKnowledgeBase)(nil)

// NewMockKnowledgeBase 创建空知识库
func NewMockKnowledgeBase() *MockKnowledgeBase {
	return &MockKnowledgeBase{docs: make(map[string][]types.Document)}
}

// WithDocuments 设置知识库的文档
func (m *MockKnowledgeBase) WithDocuments(kbID string, docs ...types.Document) *MockKnowledgeBase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[kbID] = docs
	return m
}

// WithError 每次检索都返回 err
func (m *MockKnowledgeBase) WithError(err error) *MockKnowledgeBase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Search 实现 workflow.KnowledgeBase
func (m *MockKnowledgeBase) Search(ctx context.Context, kbID, query string, topK int, filter map[string]any) ([]types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, KnowledgeQuery{KB: kbID, Query: query, TopK: topK, Filter: filter})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	docs := m.docs[kbID]
	if topK > 0 && len(docs) > topK {
		docs = docs[:topK]
	}
	return append([]types.Document(nil), docs...), nil
}

// Queries 返回检索记录
func (m *MockKnowledgeBase) Queries() []KnowledgeQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]KnowledgeQuery(nil), m.queries...)
}

// --- MockScorer ---

// MockScorer 依据文档 content 是否包含查询词打分：包含为 1，否则为 0
type MockScorer struct {
	mu     sync.Mutex
	err    error
	calls  int
	fields []string
}

var _ workflow.DocumentScorer = (*MockScorer)(nil)

// NewMockScorer 创建评分器，默认读取文档的 "content" 字段
func NewMockScorer() *MockScorer {
	return &MockScorer{fields: []string{"content"}}
}

// WithError 每次评分都返回 err
func (m *MockScorer) WithError(err error) *MockScorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Score 实现 workflow.DocumentScorer
func (m *MockScorer) Score(_ context.Context, req workflow.ScoreRequest) ([]workflow.ScoredDocument, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	fields := m.fields
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(req.Query)
	out := make([]workflow.ScoredDocument, 0, len(req.Documents))
	for _, doc := range req.Documents {
		score := 0.0
		for _, f := range fields {
			if s, ok := doc[f].(string); ok && query != "" && strings.Contains(strings.ToLower(s), query) {
				score = 1
				break
			}
		}
		class := workflow.ClassIncorrect
		if score >= req.Threshold {
			class = workflow.ClassCorrect
		}
		out = append(out, workflow.ScoredDocument{Document: doc, Score: score, Classification: class})
	}
	return out, nil
}

// Calls 返回调用次数
func (m *MockScorer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
