// Operator evaluation for the targeting expression language.
//
// This file contains the value model helpers and the logical, comparison,
// and arithmetic operator implementations.
//
// # Value Model
//
// Runtime values are: bool, float64, string, nil, []any, map[string]any, and
// Undefined. Undefined is falsy, equal only to itself, and rejected wherever
// a concrete number or string is required.
//
// # Truthiness
//
// false, nil, Undefined, 0, NaN, and "" are falsy; everything else is truthy.
// Empty arrays and maps are truthy, matching JavaScript rather than Python.
package jexl

import (
	"fmt"
	"math"
	"strings"
)

// truthy converts a value to its boolean interpretation.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil, Undefined:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	default:
		return true
	}
}

func isUndefined(v any) bool {
	_, ok := v.(Undefined)
	return ok
}

// asNumber coerces a value to float64. Bools and numeric strings do not
// coerce: targeting data is typed at the source and silent coercion hides
// catalog mistakes.
func asNumber(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %s", ErrEvaluation, typeName(v))
	}
}

func asString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: expected string, got %s", ErrEvaluation, typeName(v))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case Undefined:
		return "undefined"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// normalize folds host-supplied integer values into float64 so that custom
// attributes compare cleanly against numeric literals.
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

// valuesEqual implements == over the value model. Undefined equals only
// Undefined; comparisons across types are false, never errors.
func valuesEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if isUndefined(a) || isUndefined(b) {
		return isUndefined(a) && isUndefined(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !valuesEqual(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues implements the ordering operators over numbers and strings.
// Ordering requires concrete comparable types; anything else fails.
func compareValues(op string, a, b any) (bool, error) {
	a, b = normalize(a), normalize(b)
	an, aok := a.(float64)
	bn, bok := b.(float64)
	if aok && bok {
		return applyOrdering(op, compareFloats(an, bn)), nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return applyOrdering(op, strings.Compare(as, bs)), nil
	}
	return false, fmt.Errorf("%w: cannot order %s and %s", ErrEvaluation, typeName(a), typeName(b))
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyOrdering(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

// evalArithmetic implements + - * / // % ^. Plus doubles as string
// concatenation when both sides are strings.
func evalArithmetic(op string, a, b any) (any, error) {
	a, b = normalize(a), normalize(b)
	if op == "+" {
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
	}
	an, err := asNumber(a)
	if err != nil {
		return nil, err
	}
	bn, err := asNumber(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return an + bn, nil
	case "-":
		return an - bn, nil
	case "*":
		return an * bn, nil
	case "/":
		if bn == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return an / bn, nil
	case "//":
		if bn == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return math.Floor(an / bn), nil
	case "%":
		if bn == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrEvaluation)
		}
		return math.Mod(an, bn), nil
	case "^":
		return math.Pow(an, bn), nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrEvaluation, op)
}

// evalIn implements membership: element of an array, substring of a string,
// or key of an object. An undefined needle is simply not a member.
func evalIn(needle, haystack any) (bool, error) {
	needle, haystack = normalize(needle), normalize(haystack)
	switch hs := haystack.(type) {
	case []any:
		for _, item := range hs {
			if valuesEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		if isUndefined(needle) {
			return false, nil
		}
		ns, err := asString(needle)
		if err != nil {
			return false, err
		}
		return strings.Contains(hs, ns), nil
	case map[string]any:
		if isUndefined(needle) {
			return false, nil
		}
		ns, err := asString(needle)
		if err != nil {
			return false, err
		}
		_, ok := hs[ns]
		return ok, nil
	case Undefined:
		return false, nil
	}
	return false, fmt.Errorf("%w: 'in' needs array, string, or object, got %s", ErrEvaluation, typeName(haystack))
}
