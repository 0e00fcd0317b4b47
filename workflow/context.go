package workflow

import (
	"github.com/BaSui01/modelgate/types"
	"github.com/BaSui01/modelgate/variables"
)

// Context 单次执行的上下文：请求输入 + 按插入顺序记录的步骤输出。
// 每次执行独享，不跨执行共享，也不做并发保护。
type Context struct {
	input   types.Document
	order   []string
	outputs map[string]types.Document
	last    string
}

// NewContext creates an execution context over the request input.
func NewContext(input types.Document) *Context {
	if input == nil {
		input = types.Document{}
	}
	return &Context{
		input:   input,
		outputs: make(map[string]types.Document),
	}
}

// Input returns the request document.
func (c *Context) Input() types.Document { return c.input }

// Set 记录步骤输出。同名步骤再次执行（GoTo 回环）时覆盖值并保留原有位置。
func (c *Context) Set(step string, output types.Document) {
	if output == nil {
		output = types.Document{}
	}
	if _, exists := c.outputs[step]; !exists {
		c.order = append(c.order, step)
	}
	c.outputs[step] = output
	c.last = step
}

// StepOutput implements variables.StepOutputs.
func (c *Context) StepOutput(name string) (types.Document, bool) {
	out, ok := c.outputs[name]
	return out, ok
}

// Last returns the most recently written output.
func (c *Context) Last() (string, types.Document, bool) {
	if c.last == "" {
		return "", nil, false
	}
	return c.last, c.outputs[c.last], true
}

// Outputs returns the ledger in insertion order.
func (c *Context) Outputs() []StepOutput {
	out := make([]StepOutput, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, StepOutput{Step: name, Output: c.outputs[name]})
	}
	return out
}

// Scope returns a resolution scope over the current ledger.
func (c *Context) Scope() *variables.Scope {
	return variables.NewScope(c.input, c)
}
