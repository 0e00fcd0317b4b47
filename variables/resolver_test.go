package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/modelgate/types"
)

func testScope() *Scope {
	return &Scope{
		Vars: map[string]any{"name": "Ada", "lang": "go"},
		Request: types.Document{
			"question": "hi",
			"user":     map[string]any{"name": "Grace", "age": 36},
			"tags":     []any{"a", "b"},
			"score":    0.75,
			"count":    float64(3),
			"ok":       true,
			"empty":    nil,
		},
		Steps: StepMap{
			"search": {
				"documents": []map[string]any{
					{"id": "d1", "score": 0.9},
					{"id": "d2", "score": 0.4},
				},
				"count": 2,
			},
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		scope    *Scope
		want     string
	}{
		{"request field", "${request:question}", testScope(), "hi"},
		{"nested field", "Hello ${request:user.name}!", testScope(), "Hello Grace!"},
		{"array index", "${request:tags.1}", testScope(), "b"},
		{"number", "${request:score}", testScope(), "0.75"},
		{"integral float", "${request:count}", testScope(), "3"},
		{"bool", "${request:ok}", testScope(), "true"},
		{"array renders json", "${request:tags}", testScope(), `["a","b"]`},
		{"object renders json", "${request:user}", testScope(), `{"age":36,"name":"Grace"}`},
		{"var scope", "${var:name} writes ${var:lang}", testScope(), "Ada writes go"},
		{"step field", "${step:search:count}", testScope(), "2"},
		{"step nested index", "${step:search:documents.0.id}", testScope(), "d1"},
		{"step jmespath", "${step:search:documents[?score > `0.5`].id}", testScope(), `["d1"]`},
		{"jmespath slice keeps colon", "${step:search:documents[0:1].id:none}", testScope(), `["d1"]`},
		{"step default when absent", "${step:search:count:0}", nil, "0"},
		{"step default when step missing", "${step:rerank:count:0}", testScope(), "0"},
		{"request default", "${request:missing:fallback}", testScope(), "fallback"},
		{"default keeps colons", "${var:url:http://localhost:8080}", testScope(), "http://localhost:8080"},
		{"null uses default", "${request:empty:n/a}", testScope(), "n/a"},
		{"missing no default", "[${request:missing}]", testScope(), "[]"},
		{"unresolved var", "${var:unknown}", testScope(), ""},
		{"unknown scope verbatim", "${env:HOME}", testScope(), "${env:HOME}"},
		{"no colon verbatim", "${question}", testScope(), "${question}"},
		{"unterminated verbatim", "a ${request:question", testScope(), "a ${request:question"},
		{"nested dollar", "${x ${request:question}", testScope(), "${x hi"},
		{"plain text", "no placeholders", testScope(), "no placeholders"},
		{"multiple", "${request:question}-${request:question}-${var:name}", testScope(), "hi-hi-Ada"},
		{"whole step output", "${step:search}", &Scope{Steps: StepMap{"s": {"a": 1}, "search": {"n": 1}}}, `{"n":1}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Resolve(tt.template, tt.scope))
		})
	}
}

func TestResolve_NoRecursiveExpansion(t *testing.T) {
	t.Parallel()

	scope := &Scope{Request: types.Document{"q": "${request:secret}", "secret": "leak"}}
	assert.Equal(t, "${request:secret}", Resolve("${request:q}", scope))
}

func TestResolveValue(t *testing.T) {
	t.Parallel()

	scope := testScope()

	docs := ResolveValue("${step:search:documents}", scope)
	list, ok := docs.([]map[string]any)
	require.True(t, ok, "expected typed document list, got %T", docs)
	assert.Len(t, list, 2)

	assert.Equal(t, 2, ResolveValue("${step:search:count}", scope))
	assert.Equal(t, "7", ResolveValue("${step:other:count:7}", scope))
	assert.Nil(t, ResolveValue("${step:other:count}", scope))
	assert.Equal(t, "count=2", ResolveValue("count=${step:search:count}", scope))
	assert.Equal(t, "literal", ResolveValue("literal", scope))
}

func TestResolveMap(t *testing.T) {
	t.Parallel()

	out := ResolveMap(map[string]any{
		"answer": "Q: ${request:question}",
		"meta":   map[string]any{"n": "${step:search:count}"},
		"list":   []any{"${var:name}", 5},
		"n":      1,
	}, testScope())

	assert.Equal(t, "Q: hi", out["answer"])
	assert.Equal(t, map[string]any{"n": 2}, out["meta"])
	assert.Equal(t, []any{"Ada", 5}, out["list"])
	assert.Equal(t, 1, out["n"])
	assert.Nil(t, ResolveMap(nil, testScope()))
}

func TestReferences(t *testing.T) {
	t.Parallel()

	refs := References("${request:q} ${step:search:documents:[]} ${env:X} ${var:v:d}")
	require.Len(t, refs, 3)

	assert.Equal(t, Reference{Raw: "${request:q}", Scope: ScopeRequest, Key: "q"}, refs[0])
	assert.Equal(t, Reference{
		Raw: "${step:search:documents:[]}", Scope: ScopeStep, Key: "search",
		Path: "documents", Default: "[]", HasDefault: true,
	}, refs[1])
	assert.Equal(t, "d", refs[2].Default)

	assert.True(t, HasPlaceholders("x ${var:a}"))
	assert.False(t, HasPlaceholders("x ${nope}"))
}

func TestRender(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Render(nil))
	assert.Equal(t, "1.5", Render(1.5))
	assert.Equal(t, "100000", Render(float64(100000)))
	assert.Equal(t, "42", Render(int64(42)))
	assert.Equal(t, "false", Render(false))
	assert.Equal(t, `{"a":[1,2]}`, Render(map[string]any{"a": []int{1, 2}}))
}
