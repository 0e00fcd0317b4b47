package variables

import "github.com/BaSui01/modelgate/types"

// Scope names recognized by the resolver.
const (
	ScopeVar     = "var"
	ScopeRequest = "request"
	ScopeStep    = "step"
)

// StepOutputs exposes the outputs produced by previously executed steps.
type StepOutputs interface {
	StepOutput(name string) (types.Document, bool)
}

// StepMap is a map-backed StepOutputs.
type StepMap map[string]types.Document

// StepOutput implements StepOutputs.
func (m StepMap) StepOutput(name string) (types.Document, bool) {
	d, ok := m[name]
	return d, ok
}

// Scope is the layered lookup a template is resolved against.
// A nil *Scope behaves like an empty one.
type Scope struct {
	Vars    map[string]any
	Request types.Document
	Steps   StepOutputs
}

// NewScope creates a scope over the given request document and step outputs.
func NewScope(request types.Document, steps StepOutputs) *Scope {
	return &Scope{Request: request, Steps: steps}
}

// WithVars returns a copy of the scope carrying vars for the var scope.
func (s *Scope) WithVars(vars map[string]any) *Scope {
	if s == nil {
		return &Scope{Vars: vars}
	}
	cp := *s
	cp.Vars = vars
	return &cp
}

// lookup returns the value a reference points at, or nil when absent.
func (s *Scope) lookup(ref Reference) any {
	if s == nil {
		return nil
	}
	switch ref.Scope {
	case ScopeVar:
		if s.Vars == nil {
			return nil
		}
		if v, ok := s.Vars[ref.Key]; ok {
			return v
		}
		// 允许 ${var:user.name} 访问嵌套变量
		return lookupPath(s.Vars, ref.Key)
	case ScopeRequest:
		if ref.Key == "" {
			return nil
		}
		return lookupPath(s.Request, ref.Key)
	case ScopeStep:
		if s.Steps == nil {
			return nil
		}
		out, ok := s.Steps.StepOutput(ref.Key)
		if !ok {
			return nil
		}
		if ref.Path == "" {
			return out
		}
		return lookupPath(out, ref.Path)
	}
	return nil
}
