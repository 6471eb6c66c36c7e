// Package jexl - Tree-walking evaluator.
package jexl

import (
	"fmt"
	"math"
)

// Evaluate parses and evaluates a targeting expression, converting the result
// to a boolean by truthiness. Parse failures wrap ErrInvalidExpression,
// runtime failures wrap ErrEvaluation.
//
// Callers that gate enrollment must treat any error as non-match (fail
// closed) and keep processing other experiments; that policy lives in
// pkg/enrollment, not here.
func Evaluate(expr string, ctx *Context) (bool, error) {
	v, err := EvaluateValue(expr, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvaluateValue parses and evaluates an expression, returning the raw result
// value: bool, float64, string, nil, []any, map[string]any, or Undefined.
func EvaluateValue(expr string, ctx *Context) (any, error) {
	node, err := parse(expr)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = &Context{}
	}
	ev := &evaluator{ctx: ctx, steps: maxEvaluationSteps}
	return ev.eval(node)
}

type evaluator struct {
	ctx   *Context
	steps int
}

func (e *evaluator) eval(node Node) (any, error) {
	e.steps--
	if e.steps < 0 {
		return nil, fmt.Errorf("%w: step budget exceeded", ErrEvaluation)
	}

	switch n := node.(type) {
	case LiteralNode:
		return n.Value, nil

	case IdentNode:
		return e.lookup(n.Name), nil

	case ArrayNode:
		items := make([]any, len(n.Items))
		for i, item := range n.Items {
			v, err := e.eval(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case MemberNode:
		obj, err := e.eval(n.Object)
		if err != nil {
			return nil, err
		}
		return member(obj, n.Property), nil

	case IndexNode:
		obj, err := e.eval(n.Object)
		if err != nil {
			return nil, err
		}
		idx, err := e.eval(n.Index)
		if err != nil {
			return nil, err
		}
		return index(obj, idx)

	case UnaryNode:
		operand, err := e.eval(n.Operand)
		if err != nil {
			return nil, err
		}
		if n.Op == "!" {
			return !truthy(operand), nil
		}
		num, err := asNumber(normalize(operand))
		if err != nil {
			return nil, err
		}
		return -num, nil

	case BinaryNode:
		return e.evalBinary(n)

	case ConditionalNode:
		cond, err := e.eval(n.Cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return e.eval(n.Then)
		}
		return e.eval(n.Else)

	case CallNode:
		return e.call(n.Name, n.Args)

	case TransformNode:
		subject, err := e.eval(n.Subject)
		if err != nil {
			return nil, err
		}
		return e.transform(n.Name, subject, n.Args)
	}
	return nil, fmt.Errorf("%w: unknown node %T", ErrEvaluation, node)
}

func (e *evaluator) evalBinary(n BinaryNode) (any, error) {
	// && and || short-circuit and return the deciding operand, JS-style.
	if n.Op == "&&" || n.Op == "||" {
		left, err := e.eval(n.Left)
		if err != nil {
			return nil, err
		}
		if n.Op == "&&" && !truthy(left) {
			return left, nil
		}
		if n.Op == "||" && truthy(left) {
			return left, nil
		}
		return e.eval(n.Right)
	}

	left, err := e.eval(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return compareValues(n.Op, left, right)
	case "in":
		return evalIn(left, right)
	default:
		return evalArithmetic(n.Op, left, right)
	}
}

// lookup resolves an identifier against the context. Resolution order: Extra,
// custom attributes, well-known names. Anything unknown is Undefined.
func (e *evaluator) lookup(name string) any {
	if v, ok := e.ctx.Extra[name]; ok {
		return normalize(v)
	}
	if v, ok := e.ctx.AppContext.Custom[name]; ok {
		return normalize(v)
	}

	app := e.ctx.AppContext
	calc := e.ctx.Calculated
	switch name {
	case "app_name":
		return app.AppName
	case "app_id":
		return app.AppID
	case "channel":
		return app.Channel
	case "app_version":
		return app.AppVersion
	case "app_build":
		return app.AppBuild
	case "architecture":
		return app.Architecture
	case "device_model":
		return app.DeviceModel
	case "device_manufacturer":
		return app.DeviceVendor
	case "locale":
		return app.Locale
	case "os":
		return app.OS
	case "os_version":
		return app.OSVersion
	case "days_since_install":
		return optionalInt(calc.DaysSinceInstall)
	case "days_since_update":
		return optionalInt(calc.DaysSinceUpdate)
	case "language":
		return optionalString(calc.Language)
	case "region":
		return optionalString(calc.Region)
	case "client_id":
		return e.ctx.RandomizationID
	case "active_experiments":
		out := make([]any, len(e.ctx.ActiveExperiments))
		for i, slug := range e.ctx.ActiveExperiments {
			out[i] = slug
		}
		return out
	}
	return Undefined{}
}

func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return float64(*v)
}

func optionalString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func member(obj any, prop string) any {
	switch o := obj.(type) {
	case map[string]any:
		if v, ok := o[prop]; ok {
			return normalize(v)
		}
	}
	return Undefined{}
}

func index(obj, idx any) (any, error) {
	switch o := obj.(type) {
	case []any:
		n, err := asNumber(normalize(idx))
		if err != nil {
			return nil, err
		}
		i := int(n)
		if i < 0 || i >= len(o) || n != math.Trunc(n) {
			return Undefined{}, nil
		}
		return normalize(o[i]), nil
	case map[string]any:
		key, err := asString(idx)
		if err != nil {
			return nil, err
		}
		if v, ok := o[key]; ok {
			return normalize(v), nil
		}
		return Undefined{}, nil
	case Undefined:
		return Undefined{}, nil
	}
	return nil, fmt.Errorf("%w: cannot index %s", ErrEvaluation, typeName(obj))
}
