package workflow

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/BaSui01/modelgate/variables"
)

// evaluate 解析条件两侧并求值。Field 总是模板；Value 为字符串时同样解析。
func (c Condition) evaluate(scope *variables.Scope) bool {
	left := variables.ResolveValue(c.Field, scope)
	right := c.Value
	if s, ok := right.(string); ok {
		right = variables.ResolveValue(s, scope)
	}
	return compare(c.Operator, left, right)
}

// choose returns the action of the first matching condition, else the default.
func (c *Conditional) choose(scope *variables.Scope) (Action, int) {
	for i, cond := range c.Conditions {
		if cond.evaluate(scope) {
			return normalizeAction(cond.Action), i
		}
	}
	if c.Default != nil {
		return normalizeAction(*c.Default), -1
	}
	return Continue(), -1
}

func normalizeAction(a Action) Action {
	if a.Kind == "" {
		a.Kind = ActionContinue
	}
	return a
}

func compare(op Operator, left, right any) bool {
	switch op {
	case OpIsEmpty:
		return isEmpty(left)
	case OpIsNotEmpty:
		return !isEmpty(left)
	case OpContains:
		return contains(left, right)
	case OpEq:
		return equal(left, right)
	case OpNe:
		return !equal(left, right)
	case OpGt, OpGte, OpLt, OpLte:
		return ordered(op, left, right)
	}
	return false
}

func equal(left, right any) bool {
	// 缺失值与空字符串等价，与模板渲染保持一致
	if left == nil || right == nil {
		return variables.Render(left) == variables.Render(right)
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return lf == rf
	}
	lb, lbok := left.(bool)
	rb, rbok := right.(bool)
	if lbok && rbok {
		return lb == rb
	}
	return variables.Render(left) == variables.Render(right)
}

// ordered 优先数值比较，否则按字符串字典序；任一侧缺失时为 false
func ordered(op Operator, left, right any) bool {
	if left == nil || right == nil {
		return false
	}
	var cmp int
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(variables.Render(left), variables.Render(right))
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

// isEmpty: nil, blank strings, the literals "[]" "{}" "null", and empty
// slices or maps.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		switch strings.TrimSpace(t) {
		case "", "[]", "{}", "null":
			return true
		}
		return false
	case bool, json.Number:
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func contains(container, item any) bool {
	if container == nil || item == nil {
		return false
	}
	if s, ok := container.(string); ok {
		return strings.Contains(s, variables.Render(item))
	}
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
		return false
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return false
		}
		return rv.MapIndex(reflect.ValueOf(variables.Render(item)).Convert(rv.Type().Key())).IsValid()
	}
	return strings.Contains(variables.Render(container), variables.Render(item))
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			// "NaN"、"Inf" 等按普通字符串比较
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
