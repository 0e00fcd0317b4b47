package variables

import "strings"

// Resolve substitutes every placeholder in template against scope.
// It never fails: unresolved references without a default become "".
func Resolve(template string, scope *Scope) string {
	if !strings.Contains(template, "${") {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for _, seg := range parse(template) {
		if seg.ref == nil {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(resolveRef(*seg.ref, scope))
	}
	return b.String()
}

// ResolveValue resolves template and returns the raw typed value when the
// template consists of exactly one placeholder. A missing value with no
// default yields nil. Any other template resolves like Resolve.
func ResolveValue(template string, scope *Scope) any {
	segs := parse(template)
	if len(segs) == 1 && segs[0].ref != nil {
		ref := *segs[0].ref
		if v := scope.lookup(ref); v != nil {
			return v
		}
		if ref.HasDefault {
			return ref.Default
		}
		return nil
	}
	return Resolve(template, scope)
}

// ResolveMap resolves every string leaf of a nested document. Non-string
// leaves are returned unchanged; a string leaf that is a single
// placeholder keeps the referenced value's type.
func ResolveMap(doc map[string]any, scope *Scope) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = resolveAny(v, scope)
	}
	return out
}

func resolveAny(v any, scope *Scope) any {
	switch t := v.(type) {
	case string:
		return ResolveValue(t, scope)
	case map[string]any:
		return ResolveMap(t, scope)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = resolveAny(item, scope)
		}
		return out
	}
	return v
}

// References lists the placeholders of template in order of appearance.
func References(template string) []Reference {
	var refs []Reference
	for _, seg := range parse(template) {
		if seg.ref != nil {
			refs = append(refs, *seg.ref)
		}
	}
	return refs
}

// HasPlaceholders reports whether template contains at least one
// recognized placeholder.
func HasPlaceholders(template string) bool {
	return len(References(template)) > 0
}

func resolveRef(ref Reference, scope *Scope) string {
	if v := scope.lookup(ref); v != nil {
		return Render(v)
	}
	if ref.HasDefault {
		return ref.Default
	}
	return ""
}
