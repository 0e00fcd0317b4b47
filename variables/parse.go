package variables

import "strings"

// Reference is one placeholder found in a template.
type Reference struct {
	// Raw is the full placeholder text including "${" and "}".
	Raw   string
	Scope string
	// Key is the variable name, the request field path, or the step name.
	Key string
	// Path is the field path into a step output (step scope only).
	Path       string
	Default    string
	HasDefault bool
}

// segment is either literal text or a parsed placeholder.
type segment struct {
	text string
	ref  *Reference
}

// parse splits a template into literal and placeholder segments.
// Text that does not form a recognized placeholder is kept as literal.
func parse(template string) []segment {
	var (
		segs []segment
		lit  strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "${")
		if start < 0 {
			lit.WriteString(template[i:])
			break
		}
		start += i
		lit.WriteString(template[i:start])

		end := strings.IndexByte(template[start+2:], '}')
		if end < 0 {
			// 未闭合，剩余部分原样保留
			lit.WriteString(template[start:])
			break
		}
		end += start + 2
		body := template[start+2 : end]

		// "${a ${request:x}" 中外层不是占位符，只消费 "$" 后继续扫描
		if strings.Contains(body, "${") {
			lit.WriteByte('$')
			i = start + 1
			continue
		}

		ref, ok := parseBody(body)
		if !ok {
			lit.WriteString(template[start : end+1])
			i = end + 1
			continue
		}
		ref.Raw = template[start : end+1]
		flush()
		segs = append(segs, segment{ref: &ref})
		i = end + 1
	}
	flush()
	return segs
}

func parseBody(body string) (Reference, bool) {
	scope, rest, ok := strings.Cut(body, ":")
	if !ok {
		return Reference{}, false
	}
	ref := Reference{Scope: scope}
	switch scope {
	case ScopeVar, ScopeRequest:
		ref.Key, ref.Default, ref.HasDefault = cutPath(rest)
	case ScopeStep:
		name, tail, hasPath := strings.Cut(rest, ":")
		ref.Key = name
		if hasPath {
			ref.Path, ref.Default, ref.HasDefault = cutPath(tail)
		}
	default:
		return Reference{}, false
	}
	return ref, true
}

// cutPath splits "path:default" at the first colon outside brackets, so
// JMESPath slices such as items[0:2] stay part of the path.
func cutPath(s string) (path, def string, hasDef bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ':':
			if depth == 0 {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}
