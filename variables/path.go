package variables

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// isExpression reports whether a field path needs JMESPath evaluation.
func isExpression(path string) bool {
	return strings.ContainsAny(path, "[*|?")
}

// lookupPath walks a field path into data. Missing segments yield nil.
func lookupPath(data any, path string) any {
	if data == nil || path == "" {
		return nil
	}
	if isExpression(path) {
		v, err := jmespath.Search(path, normalize(data))
		if err != nil {
			return nil
		}
		return v
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil
		}
		next, ok := child(current, part)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func child(current any, part string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		v, ok := c[part]
		return v, ok
	case map[string]string:
		v, ok := c[part]
		return v, ok
	case []any:
		idx, ok := index(part, len(c))
		if !ok {
			return nil, false
		}
		return c[idx], true
	case []map[string]any:
		idx, ok := index(part, len(c))
		if !ok {
			return nil, false
		}
		return c[idx], true
	}

	rv := reflect.ValueOf(current)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		idx, ok := index(part, rv.Len())
		if !ok {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(part).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	}
	return nil, false
}

func index(part string, n int) (int, bool) {
	idx, err := strconv.Atoi(part)
	if err != nil || idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

// normalize converts typed documents into the generic shapes JMESPath
// expects ([]any / map[string]any).
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	}
	return v
}
