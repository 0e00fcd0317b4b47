package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/modelgate/llm"
	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/variables"
)

// stepRun 单次步骤执行的输入
type stepRun struct {
	step        Step
	scope       *variables.Scope
	executionID string
	workflowID  string
	emit        Emitter
}

// stepOutcome 单次步骤执行的产出
type stepOutcome struct {
	output           types.Document
	action           Action
	chainExecutionID string
}

// dispatch 按步骤类型分派执行
func (e *Executor) dispatch(ctx context.Context, run stepRun) (stepOutcome, error) {
	switch spec := run.step.Spec.(type) {
	case *ChatCompletion:
		return e.runChat(ctx, run, spec)
	case *KnowledgeBaseSearch:
		out, err := e.runSearch(ctx, run, spec)
		return stepOutcome{output: out}, err
	case *CragScoring:
		out, err := e.runCrag(ctx, run, spec)
		return stepOutcome{output: out}, err
	case *HTTPRequest:
		out, err := e.runHTTP(ctx, run, spec)
		return stepOutcome{output: out}, err
	case *Conditional:
		action, _ := spec.choose(run.scope)
		return stepOutcome{action: action}, nil
	default:
		return stepOutcome{}, types.NewConfigurationError("unsupported step type %T", run.step.Spec)
	}
}

// ============================================================
// chat_completion
// ============================================================

func (e *Executor) runChat(ctx context.Context, run stepRun, spec *ChatCompletion) (stepOutcome, error) {
	steps, err := e.deps.Chains.Chain(ctx, spec.Model)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("resolve chain for model %q: %w", spec.Model, err)
	}
	req, err := e.buildChatRequest(ctx, run, spec)
	if err != nil {
		return stepOutcome{}, err
	}

	if spec.Stream && run.emit != nil && e.deps.Stream != nil {
		return e.runChatStream(ctx, run, steps, req)
	}

	res, err := e.deps.Chain.Execute(ctx, steps, req, e.deps.Invoke)
	if err != nil {
		return stepOutcome{}, err
	}
	if !res.Succeeded() {
		return stepOutcome{chainExecutionID: res.ExecutionID}, res.Error()
	}
	return stepOutcome{
		output:           chatOutput(res.Response, res),
		chainExecutionID: res.ExecutionID,
	}, nil
}

func (e *Executor) runChatStream(ctx context.Context, run stepRun, steps []chain.Step, req *llm.ChatRequest) (stepOutcome, error) {
	req.Stream = true
	sr, err := e.deps.Chain.ExecuteStream(ctx, steps, req, e.deps.Stream)
	if err != nil {
		return stepOutcome{}, err
	}
	if !sr.Result.Succeeded() {
		return stepOutcome{chainExecutionID: sr.Result.ExecutionID}, sr.Result.Error()
	}
	resp, err := chain.CollectStream(ctx, sr.Chunks, func(chunk llm.StreamChunk) {
		if chunk.Delta.Content == "" {
			return
		}
		run.emit(Event{
			Type:        EventToken,
			ExecutionID: run.executionID,
			Step:        run.step.Name,
			Kind:        KindChatCompletion,
			Data:        chunk.Delta.Content,
			Timestamp:   e.now(),
		})
	})
	if err != nil {
		return stepOutcome{chainExecutionID: sr.Result.ExecutionID}, fmt.Errorf("stream: %w", err)
	}
	if resp.Model == "" {
		resp.Model = sr.Result.RespondingModel
	}
	return stepOutcome{
		output:           chatOutput(resp, sr.Result),
		chainExecutionID: sr.Result.ExecutionID,
	}, nil
}

// buildChatRequest 解析消息模板；托管提示词作为 system 消息，已有 system 时置于其前
func (e *Executor) buildChatRequest(ctx context.Context, run stepRun, spec *ChatCompletion) (*llm.ChatRequest, error) {
	system := variables.Resolve(spec.System, run.scope)
	user := variables.Resolve(spec.User, run.scope)

	if spec.Prompt != "" {
		vars := make(map[string]any, len(spec.PromptVariables))
		for k, tpl := range spec.PromptVariables {
			vars[k] = variables.ResolveValue(tpl, run.scope)
		}
		rendered, err := e.deps.Prompts.Render(ctx, spec.Prompt, vars)
		if err != nil {
			return nil, fmt.Errorf("render prompt %q: %w", spec.Prompt, err)
		}
		switch {
		case system == "":
			system = rendered
		case rendered != "":
			system = rendered + "\n\n" + system
		}
	}

	req := &llm.ChatRequest{
		Model: spec.Model,
		Stop:  append([]string(nil), spec.Stop...),
		Metadata: map[string]string{
			"workflow_id":  run.workflowID,
			"execution_id": run.executionID,
			"step":         run.step.Name,
		},
	}
	if traceID, ok := types.TraceID(ctx); ok {
		req.TraceID = traceID
	}
	if tenantID, ok := types.TenantID(ctx); ok {
		req.TenantID = tenantID
	}
	if system != "" {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	if user != "" {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: user})
	}
	if len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrCodeInvalidInput, "chat step resolved to no messages")
	}
	if spec.Temperature != nil {
		req.Temperature = *spec.Temperature
	}
	if spec.TopP != nil {
		req.TopP = *spec.TopP
	}
	if spec.MaxTokens != nil {
		req.MaxTokens = *spec.MaxTokens
	}
	return req, nil
}

func chatOutput(resp *llm.ChatResponse, res *chain.Result) types.Document {
	return types.Document{
		"content":       llm.Content(resp),
		"model":         resp.Model,
		"finish_reason": llm.FinishReason(resp),
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
		"attempts": len(res.Attempts),
	}
}

// ============================================================
// knowledge_base_search
// ============================================================

func (e *Executor) runSearch(ctx context.Context, run stepRun, spec *KnowledgeBaseSearch) (types.Document, error) {
	topK := spec.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	query := variables.Resolve(spec.Query, run.scope)
	docs, err := e.deps.Knowledge.Search(ctx, spec.KnowledgeBase, query, topK, variables.ResolveMap(spec.Filter, run.scope))
	if err != nil {
		return nil, fmt.Errorf("search knowledge base %q: %w", spec.KnowledgeBase, err)
	}
	list := make([]any, len(docs))
	for i, d := range docs {
		list[i] = d
	}
	return types.Document{"documents": list, "count": len(list)}, nil
}

// ============================================================
// crag_scoring
// ============================================================

func (e *Executor) runCrag(ctx context.Context, run stepRun, spec *CragScoring) (types.Document, error) {
	docs, err := toDocuments(variables.ResolveValue(spec.Documents, run.scope))
	if err != nil {
		return nil, err
	}
	out := types.Document{
		"correct":   []any{},
		"ambiguous": []any{},
		"incorrect": []any{},
		"documents": []any{},
		"count":     0,
	}
	if len(docs) == 0 {
		return out, nil
	}

	scored, err := e.deps.Scorer.Score(ctx, ScoreRequest{
		Documents: docs,
		Query:     variables.Resolve(spec.Query, run.scope),
		Strategy:  spec.Strategy,
		Threshold: spec.Threshold,
		Model:     spec.Model,
		Prompt:    spec.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("score documents: %w", err)
	}

	var correct, ambiguous, incorrect []any
	for _, sd := range scored {
		class := classify(sd, spec.Threshold)
		entry := types.CloneDocument(sd.Document)
		if entry == nil {
			entry = types.Document{}
		}
		entry["score"] = sd.Score
		entry["classification"] = string(class)
		switch class {
		case ClassCorrect:
			correct = append(correct, entry)
		case ClassAmbiguous:
			ambiguous = append(ambiguous, entry)
		default:
			incorrect = append(incorrect, entry)
		}
	}
	relevant := append(append([]any{}, correct...), ambiguous...)
	out["correct"] = orEmpty(correct)
	out["ambiguous"] = orEmpty(ambiguous)
	out["incorrect"] = orEmpty(incorrect)
	out["documents"] = relevant
	out["count"] = len(relevant)
	return out, nil
}

// classify 阈值过滤：分数低于阈值的文档一律视为 incorrect；未分类的按 ambiguous 处理
func classify(sd ScoredDocument, threshold float64) Classification {
	class := sd.Classification
	switch class {
	case ClassCorrect, ClassAmbiguous, ClassIncorrect:
	default:
		class = ClassAmbiguous
	}
	if threshold > 0 && sd.Score < threshold {
		return ClassIncorrect
	}
	return class
}

// toDocuments 将解析后的值转换为文档列表。非对象元素包装为 {"content": ...}
func toDocuments(v any) ([]types.Document, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []types.Document:
		return t, nil
	case []any:
		docs := make([]types.Document, 0, len(t))
		for _, el := range t {
			if m, ok := el.(map[string]any); ok {
				docs = append(docs, m)
				continue
			}
			docs = append(docs, types.Document{"content": variables.Render(el)})
		}
		return docs, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, types.NewError(types.ErrCodeInvalidInput, "documents did not resolve to a list").WithCause(err)
		}
		return toDocuments(list)
	}
	return nil, types.Errorf(types.ErrCodeInvalidInput, "documents resolved to %T, want a list", v)
}

func orEmpty(list []any) []any {
	if list == nil {
		return []any{}
	}
	return list
}

// ============================================================
// http_request
// ============================================================

const maxErrorBody = 512

func (e *Executor) runHTTP(ctx context.Context, run stepRun, spec *HTTPRequest) (types.Document, error) {
	api, err := e.deps.APIs.Lookup(ctx, spec.API)
	if err != nil {
		return nil, fmt.Errorf("lookup api %q: %w", spec.API, err)
	}

	headers := make(map[string]string, len(api.DefaultHeaders)+len(spec.Headers))
	for k, v := range api.DefaultHeaders {
		headers[k] = v
	}
	if spec.Credential != "" {
		creds, err := e.deps.Credentials.Headers(ctx, spec.Credential)
		if err != nil {
			return nil, fmt.Errorf("load credential %q: %w", spec.Credential, err)
		}
		for k, v := range creds {
			headers[k] = v
		}
	}
	for k, tpl := range spec.Headers {
		headers[k] = variables.Resolve(tpl, run.scope)
	}

	body, jsonBody, err := encodeBody(spec.Body, run.scope)
	if err != nil {
		return nil, err
	}
	if jsonBody && !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = "application/json"
	}

	method := strings.ToUpper(strings.TrimSpace(variables.Resolve(spec.Method, run.scope)))
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	resp, err := e.deps.HTTP.Call(ctx, HTTPCall{
		Method:  method,
		URL:     joinURL(api.BaseURL, variables.Resolve(spec.Path, run.scope)),
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("call api %q: %w", spec.API, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		code := types.ErrCodePermanentProvider
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			code = types.ErrCodeTransientProvider
		}
		return nil, types.Errorf(code, "api %q returned status %d: %s", spec.API, resp.StatusCode, truncate(string(resp.Body), maxErrorBody)).
			WithHTTPStatus(resp.StatusCode)
	}
	return types.Document{"status": resp.StatusCode, "body": decodeBody(resp)}, nil
}

func encodeBody(body any, scope *variables.Scope) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case string:
		resolved := variables.Resolve(b, scope)
		return []byte(resolved), json.Valid([]byte(resolved)), nil
	case map[string]any:
		raw, err := json.Marshal(variables.ResolveMap(b, scope))
		if err != nil {
			return nil, false, fmt.Errorf("encode request body: %w", err)
		}
		return raw, true, nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("encode request body: %w", err)
		}
		return raw, true, nil
	}
}

// decodeBody JSON 响应体解码为文档，其余保留为字符串
func decodeBody(resp *HTTPResponse) any {
	if len(resp.Body) == 0 {
		return ""
	}
	ct := ""
	if resp.Header != nil {
		ct = resp.Header.Get("Content-Type")
	}
	trimmed := strings.TrimSpace(string(resp.Body))
	looksJSON := strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	if strings.Contains(ct, "json") || looksJSON {
		var v any
		if err := json.Unmarshal(resp.Body, &v); err == nil {
			return v
		}
	}
	return string(resp.Body)
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
