package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/modelgate/types"
)

func TestWorkflow_Validate(t *testing.T) {
	valid := func() *Workflow {
		return &Workflow{
			ID: "wf",
			Steps: []Step{
				chatStep("ask", "gpt", "hi"),
				{Name: "route", Spec: &Conditional{Conditions: []Condition{
					{Field: "${step:ask:content}", Operator: OpContains, Value: "retry", Action: GoTo("ask")},
				}}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(w *Workflow)
		wantErr string
	}{
		{name: "valid", mutate: func(*Workflow) {}},
		{name: "no steps", mutate: func(w *Workflow) { w.Steps = nil }, wantErr: "no steps"},
		{name: "empty name", mutate: func(w *Workflow) { w.Steps[0].Name = "" }, wantErr: "name is required"},
		{name: "duplicate name", mutate: func(w *Workflow) { w.Steps[1].Name = "ask" }, wantErr: "duplicate name"},
		{name: "missing spec", mutate: func(w *Workflow) { w.Steps[0].Spec = nil }, wantErr: "step type is required"},
		{name: "bad on_error", mutate: func(w *Workflow) { w.Steps[0].OnError = "retry" }, wantErr: "unknown on_error"},
		{name: "chat without model", mutate: func(w *Workflow) {
			w.Steps[0].Spec.(*ChatCompletion).Model = ""
		}, wantErr: "model is required"},
		{name: "chat with only a model", mutate: func(w *Workflow) {
			w.Steps[0].Spec = &ChatCompletion{Model: "gpt"}
		}},
		{name: "unknown operator", mutate: func(w *Workflow) {
			w.Steps[1].Spec.(*Conditional).Conditions[0].Operator = "like"
		}, wantErr: "unknown operator"},
		{name: "unknown goto target", mutate: func(w *Workflow) {
			w.Steps[1].Spec.(*Conditional).Conditions[0].Action = GoTo("missing")
		}, wantErr: `goto target "missing" does not exist`},
		{name: "goto without target", mutate: func(w *Workflow) {
			w.Steps[1].Spec.(*Conditional).Conditions[0].Action = Action{Kind: ActionGoTo}
		}, wantErr: "requires a target"},
		{name: "negative budget", mutate: func(w *Workflow) { w.MaxStepExecutions = -1 }, wantErr: "max_step_executions"},
		{name: "crag without prompt", mutate: func(w *Workflow) {
			w.Steps = append(w.Steps, Step{Name: "grade", Spec: &CragScoring{Documents: "${step:ask}", Model: "m"}})
		}, wantErr: "prompt is required"},
		{name: "crag threshold out of range", mutate: func(w *Workflow) {
			w.Steps = append(w.Steps, Step{Name: "grade", Spec: &CragScoring{Documents: "x", Model: "m", Prompt: "p", Threshold: 1.5}})
		}, wantErr: "threshold"},
		{name: "http without api", mutate: func(w *Workflow) {
			w.Steps = append(w.Steps, Step{Name: "call", Spec: &HTTPRequest{}})
		}, wantErr: "api is required"},
		{name: "search without query", mutate: func(w *Workflow) {
			w.Steps = append(w.Steps, Step{Name: "s", Spec: &KnowledgeBaseSearch{KnowledgeBase: "kb"}})
		}, wantErr: "query is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConfiguration))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkflow_ValidateCollectsAllErrors(t *testing.T) {
	w := &Workflow{ID: "wf", Steps: []Step{
		{Name: "a", Spec: &ChatCompletion{}},
		{Name: "b", Spec: &HTTPRequest{}},
	}}
	errs := w.validationErrors()
	assert.Len(t, errs, 3)
}

func TestWorkflow_ReferenceWarnings(t *testing.T) {
	w := &Workflow{ID: "wf", Steps: []Step{
		chatStep("ask", "gpt", "${step:search:documents} ${step:ask:content} ${request:q}"),
		{Name: "end", Spec: &Conditional{Default: &Action{Kind: ActionEnd, Output: map[string]any{
			"answer": "${step:summarize:content}",
			"nested": map[string]any{"x": []any{"${step:search:count}"}},
		}}}},
	}}

	assert.Equal(t, []string{
		`step "ask" references unknown step "search"`,
		`step "end" references unknown step "search"`,
		`step "end" references unknown step "summarize"`,
	}, w.ReferenceWarnings())
}

func TestContext_Ledger(t *testing.T) {
	c := NewContext(nil)
	assert.NotNil(t, c.Input())
	_, _, ok := c.Last()
	assert.False(t, ok)

	c.Set("a", types.Document{"v": 1})
	c.Set("b", nil)
	c.Set("a", types.Document{"v": 2})

	name, last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "a", name)
	assert.Equal(t, 2, last["v"])

	outs := c.Outputs()
	require.Len(t, outs, 2)
	assert.Equal(t, "a", outs[0].Step)
	assert.Equal(t, "b", outs[1].Step)
	assert.Equal(t, types.Document{}, outs[1].Output)

	out, ok := c.StepOutput("b")
	assert.True(t, ok)
	assert.Empty(t, out)
}
