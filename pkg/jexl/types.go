// Package jexl implements the restricted expression language used by
// targeting predicates.
//
// The language is a small JEXL dialect over booleans, numbers, strings,
// arrays, and the client context, with transforms that reach into the event
// store. It is evaluated by a tree-walking interpreter that is:
//
//   - Side-effect free: evaluation never mutates the context or the event store
//   - Total: a fixed step budget bounds every evaluation; expressions that do
//     not finish in budget fail with an evaluation error instead of hanging
//   - Undefined-tolerant: unknown identifiers resolve to a typed undefined
//     value rather than failing, except where a concrete type is required
//     (arithmetic, ordering), in which case evaluation fails
//
// Grammar (informal):
//
//	expr     := ternary
//	ternary  := or ("?" expr ":" expr)?
//	or       := and ("||" and)*
//	and      := cmp ("&&" cmp)*
//	cmp      := add (("=="|"!="|"<"|"<="|">"|">="|"in") add)*
//	add      := mul (("+"|"-") mul)*
//	mul      := pow (("*"|"/"|"//"|"%") pow)*
//	pow      := unary ("^" pow)?
//	unary    := ("!"|"-") unary | postfix
//	postfix  := primary ("." ident | "[" expr "]" | "|" ident args?)*
//	primary  := number | string | ident | ident args | array | "(" expr ")"
//
// Example Usage:
//
//	ok, err := jexl.Evaluate(`app_id == 'org.mozilla.fenix' && days_since_install < 7`, ctx)
//
// Transforms:
//
//	'app_launched'|eventSum(28) >= 3
//	app_version|versionCompare('100.0') >= 0
//	client_id|bucketSample(0, 1000, 10000)
package jexl

import (
	"errors"
	"time"

	"github.com/orneryd/skuld/pkg/events"
	"github.com/orneryd/skuld/pkg/targeting"
)

// Common errors
var (
	// ErrInvalidExpression reports a syntax error found while parsing.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrEvaluation reports a runtime failure: a type mismatch, an unknown
	// transform, or an exceeded step budget.
	ErrEvaluation = errors.New("evaluation error")
)

// maxEvaluationSteps bounds the work a single Evaluate call may perform.
// Each AST node visit consumes one step.
const maxEvaluationSteps = 100_000

// maxParseDepth bounds expression nesting so adversarial inputs cannot
// overflow the stack during parsing or evaluation.
const maxParseDepth = 64

// Undefined is the typed value unknown identifiers resolve to. It compares
// equal only to itself, is falsy, and poisons member and index access
// (yielding Undefined again). Using it where a concrete number or string is
// required fails evaluation.
type Undefined struct{}

// Context supplies everything an expression may reference.
//
// Identifier resolution order: Extra, then AppContext.Custom, then the
// well-known attribute names (app_id, channel, locale, days_since_install,
// language, region, active_experiments, ...). First hit wins, so hosts can
// shadow built-ins through Extra for testing.
type Context struct {
	AppContext targeting.AppContext
	Calculated targeting.CalculatedAttributes

	// Events backs the event transforms. Nil disables them (they fail).
	Events *events.Store

	// ActiveExperiments is the list of currently enrolled experiment slugs,
	// exposed as the active_experiments identifier.
	ActiveExperiments []string

	// RandomizationID feeds the client_id identifier and bucketSample.
	RandomizationID string

	// Now anchors the date functions. Zero means time.Now at call time.
	Now time.Time

	// Extra carries caller-supplied values layered over everything else.
	Extra map[string]any
}

// Node is an AST node produced by the parser.
type Node interface{ node() }

// LiteralNode holds a constant: float64, string, bool, or nil.
type LiteralNode struct{ Value any }

// IdentNode references a context attribute by name.
type IdentNode struct{ Name string }

// ArrayNode is an array literal.
type ArrayNode struct{ Items []Node }

// MemberNode is dotted access, obj.prop.
type MemberNode struct {
	Object   Node
	Property string
}

// IndexNode is bracketed access, obj[expr].
type IndexNode struct {
	Object Node
	Index  Node
}

// UnaryNode is prefix ! or -.
type UnaryNode struct {
	Op      string
	Operand Node
}

// BinaryNode is an infix operator application.
type BinaryNode struct {
	Op          string
	Left, Right Node
}

// ConditionalNode is cond ? then : else.
type ConditionalNode struct {
	Cond, Then, Else Node
}

// CallNode is a function call, name(args...).
type CallNode struct {
	Name string
	Args []Node
}

// TransformNode is a piped transform, subject|name(args...).
type TransformNode struct {
	Subject Node
	Name    string
	Args    []Node
}

func (LiteralNode) node()     {}
func (IdentNode) node()       {}
func (ArrayNode) node()       {}
func (MemberNode) node()      {}
func (IndexNode) node()       {}
func (UnaryNode) node()       {}
func (BinaryNode) node()      {}
func (ConditionalNode) node() {}
func (CallNode) node()        {}
func (TransformNode) node()   {}
