package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/modelgate/llm/chain"
	"github.com/BaSui01/modelgate/llm/circuitbreaker"
	"github.com/BaSui01/modelgate/prompt"
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/workflow"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存库每个连接独立，固定为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := New(db, zaptest.NewLogger(t))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testChain() chain.Chain {
	return chain.Chain{
		ID:   "smart",
		Name: "Smart tier",
		Steps: []chain.Step{
			{Model: "gpt-4o", MaxRetries: 2, MaxLatency: 10 * time.Second, BackoffBase: 200 * time.Millisecond},
			{Model: "claude-3-5-sonnet", MaxRetries: 1, MaxLatency: 15 * time.Second, AbortOnTimeout: true},
		},
	}
}

func testWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:      "greet",
		Name:    "Greeting",
		Enabled: true,
		Steps: []workflow.Step{
			{Name: "ask", Spec: &workflow.ChatCompletion{Model: "smart", User: "Say hi to ${request:name}"}},
			{Name: "route", Spec: &workflow.Conditional{
				Conditions: []workflow.Condition{{
					Field:    "${step:ask:content}",
					Operator: workflow.OpIsEmpty,
					Action:   workflow.End(map[string]any{"answer": "nothing"}),
				}},
			}},
		},
	}
}

func TestStore_Chain(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChain(ctx, testChain()))

	steps, err := s.Chain(ctx, "smart")
	require.NoError(t, err)
	assert.Equal(t, testChain().Steps, steps)

	// 再次保存整体替换步骤
	replaced := testChain()
	replaced.Steps = replaced.Steps[1:]
	require.NoError(t, s.SaveChain(ctx, replaced))
	steps, err = s.Chain(ctx, "smart")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "claude-3-5-sonnet", steps[0].Model)

	var count int64
	require.NoError(t, s.DB().Model(&ChainStepRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, s.DisableChain(ctx, "smart"))
	_, err = s.Chain(ctx, "smart")
	assert.True(t, types.IsErrorCode(err, types.ErrCodeNotFound))

	assert.True(t, types.IsErrorCode(s.DisableChain(ctx, "nope"), types.ErrCodeNotFound))
}

func TestStore_ChainKeepsSubMillisecondDurations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := chain.Chain{ID: "fast", Steps: []chain.Step{
		{Model: "edge-small", MaxRetries: 1, MaxLatency: 500 * time.Microsecond, BackoffBase: 1500 * time.Nanosecond},
	}}
	require.NoError(t, s.SaveChain(ctx, c))

	steps, err := s.Chain(ctx, "fast")
	require.NoError(t, err)
	assert.Equal(t, c.Steps, steps)

	require.NoError(t, s.SaveBreakerOverride(ctx, "edge-small", circuitbreaker.Config{FailureThreshold: 1, OpenDuration: 250 * time.Microsecond}))
	overrides, err := s.BreakerOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Microsecond, overrides["edge-small"].OpenDuration)
}

func TestStore_SaveChainRejectsInvalid(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.SaveChain(ctx, chain.Chain{ID: "empty"}), types.ErrConfiguration)
	assert.ErrorIs(t, s.SaveChain(ctx, chain.Chain{Steps: testChain().Steps}), types.ErrConfiguration)
}

func TestStore_ChainNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Chain(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCodeNotFound))
	assert.Contains(t, err.Error(), `chain "missing" not found`)
}

func TestStore_APIsAndCredentials(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAPI(ctx, workflow.ExternalAPI{
		ID:             "crm",
		BaseURL:        "https://crm.example.com/api",
		DefaultHeaders: map[string]string{"Accept": "application/json"},
	}))
	api, err := s.Lookup(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, "https://crm.example.com/api", api.BaseURL)
	assert.Equal(t, "application/json", api.DefaultHeaders["Accept"])

	// upsert
	require.NoError(t, s.SaveAPI(ctx, workflow.ExternalAPI{ID: "crm", BaseURL: "https://crm2.example.com"}))
	api, err = s.Lookup(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, "https://crm2.example.com", api.BaseURL)
	assert.Empty(t, api.DefaultHeaders)

	require.NoError(t, s.SaveCredential(ctx, "crm-token", map[string]string{"Authorization": "Bearer abc"}))
	headers, err := s.Headers(ctx, "crm-token")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, headers)

	_, err = s.Lookup(ctx, "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrCodeNotFound))
	_, err = s.Headers(ctx, "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrCodeNotFound))
}

func TestStore_MalformedCredential(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.DB().Create(&CredentialRecord{Ref: "bad", Headers: "{not json"}).Error)

	_, err := s.Headers(context.Background(), "bad")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestStore_Prompt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePrompt(ctx, &prompt.Prompt{
		ID:       "summary",
		Name:     "Summary",
		Template: "Summarize in ${var:words} words: ${var:text}",
		Defaults: map[string]any{"words": "50"},
	}))

	p, err := s.Prompt(ctx, "summary")
	require.NoError(t, err)
	assert.Equal(t, "Summary", p.Name)
	assert.Equal(t, "50", p.Defaults["words"])
	assert.Equal(t, []string{"text", "words"}, p.Variables())

	// 通过 TemplateRenderer 使用存储
	out, err := prompt.NewTemplateRenderer(s, nil).Render(ctx, "summary", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize in 50 words: hello", out)
}

func TestStore_Workflow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, testWorkflow()))
	require.NoError(t, s.SaveWorkflow(ctx, testWorkflow()))

	wf, err := s.Workflow(ctx, "greet")
	require.NoError(t, err)
	assert.True(t, wf.Enabled)
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, workflow.KindChatCompletion, wf.Steps[0].Kind())
	assert.Equal(t, testWorkflow().Steps[1].Spec, wf.Steps[1].Spec)

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Version)

	require.NoError(t, s.SetWorkflowEnabled(ctx, "greet", false))
	wf, err = s.Workflow(ctx, "greet")
	require.NoError(t, err)
	assert.False(t, wf.Enabled)

	assert.True(t, types.IsErrorCode(s.SetWorkflowEnabled(ctx, "nope", true), types.ErrCodeNotFound))
}

func TestStore_SaveDisabledWorkflow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow()
	wf.Enabled = false
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	loaded, err := s.Workflow(ctx, "greet")
	require.NoError(t, err)
	assert.False(t, loaded.Enabled)
}

func TestStore_WorkflowErrors(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	invalid := testWorkflow()
	invalid.Steps = append(invalid.Steps, workflow.Step{Name: "ask", Spec: &workflow.HTTPRequest{API: "x"}})
	assert.ErrorIs(t, s.SaveWorkflow(ctx, invalid), types.ErrConfiguration)

	_, err := s.Workflow(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrCodeNotFound))

	require.NoError(t, s.DB().Create(&WorkflowRecord{Ref: "broken", Definition: "version: [", Enabled: true}).Error)
	_, err = s.Workflow(ctx, "broken")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestStore_BreakerOverrides(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBreakerOverride(ctx, "flaky", circuitbreaker.Config{FailureThreshold: 2, OpenDuration: time.Minute}))
	require.NoError(t, s.SaveBreakerOverride(ctx, "flaky", circuitbreaker.Config{FailureThreshold: 3, OpenDuration: time.Minute}))

	overrides, err := s.BreakerOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]circuitbreaker.Config{"flaky": {FailureThreshold: 3, OpenDuration: time.Minute}}, overrides)

	reg := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	require.NoError(t, s.ApplyBreakerOverrides(ctx, reg))
	snap := reg.GetState("flaky")
	assert.Equal(t, 3, snap.FailureThreshold)
	assert.Equal(t, time.Minute, snap.OpenDuration)
	assert.Equal(t, circuitbreaker.DefaultConfig().FailureThreshold, reg.GetState("other").FailureThreshold)
}
