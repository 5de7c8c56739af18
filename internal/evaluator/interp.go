// Package evaluator implements the reference tree-walking evaluator for
// the rewritten agent-script AST. No repository in the reference corpus
// this project was built from embeds a general-purpose JavaScript engine
// (goja, v8go, otto and similar were all absent); the specification
// treats the execution engine as a pluggable boundary ("any embedded
// JavaScript-subset evaluator satisfying the execution contract"), so
// this package supplies a from-scratch implementation of that contract
// rather than vendoring or fabricating a third-party VM dependency.
//
// The interpreter runs entirely on the goroutine returned by Run: when
// the script calls a blocking host primitive (__safe_callTool), that
// call parks the goroutine on a channel until the session resolves it.
// There is no Promise object or microtask queue — "await" is therefore
// simply pass-through, since the value it awaits is already resolved by
// the time the underlying call returns control to the interpreter.
package evaluator

import (
	"context"
	"fmt"
	"math"

	"github.com/haasonsaas/agentscript/internal/script/ast"
)

// Globals is the set of host-provided bindings the interpreter wires
// into the top-level scope before running a program: the __safe_*
// capability surface plus the pure builtins a preset allows.
type Globals struct {
	Values map[string]Value
}

// ThrownValue wraps a JS-level `throw` so callers can distinguish script
// exceptions from host/runtime faults (budget exceeded, context
// cancelled, interpreter limitation).
type ThrownValue struct{ Value Value }

func (t *ThrownValue) Error() string { return "uncaught exception: " + ToDisplayString(t.Value) }

// completionKind distinguishes how a statement finished executing.
type completionKind int

const (
	completionNormal completionKind = iota
	completionReturn
	completionBreak
	completionContinue
)

type completion struct {
	kind  completionKind
	value Value
}

var normalCompletion = completion{kind: completionNormal}

// Interp runs one program to completion on the calling goroutine.
type Interp struct {
	ctx context.Context
	// OnStep, if set, is invoked once per loop-body iteration across all
	// loop kinds (for, while, do-while, for-of). This is the single,
	// loop-kind-independent point the session uses to advance the
	// canonical stats.iterationCount counter and check the abort flag,
	// regardless of whether a given loop kind also carries the
	// rewriter's own textual __safe_iterN safety net.
	OnStep func() error
}

// New creates an interpreter bound to ctx; every evaluation step checks
// ctx so a cancelled session unwinds promptly even mid-loop.
func New(ctx context.Context) *Interp { return &Interp{ctx: ctx} }

func (i *Interp) step() error {
	if err := i.checkCtx(); err != nil {
		return err
	}
	if i.OnStep != nil {
		return i.OnStep()
	}
	return nil
}

// Run executes the rewritten program's single async function
// (`__ag_main`) to completion and returns its resolved value.
func (i *Interp) Run(tree *ast.Tree, globals Globals) (Value, error) {
	root := tree.Root()
	var main ast.Node
	root.Walk(func(n ast.Node) bool {
		if n.Kind() == "function_declaration" {
			main = n
			return false
		}
		return true
	})
	if main.IsZero() {
		return nil, fmt.Errorf("evaluator: no __ag_main function found in rewritten program")
	}
	body := main.FieldChild("body")
	if body.IsZero() {
		return nil, fmt.Errorf("evaluator: __ag_main has no body")
	}

	env := NewEnv()
	for name, v := range globals.Values {
		env.Declare(name, v, true)
	}

	c, err := i.execBlock(body, env)
	if err != nil {
		return nil, err
	}
	if c.kind == completionReturn {
		return c.value, nil
	}
	return Undefined, nil
}

func (i *Interp) checkCtx() error {
	select {
	case <-i.ctx.Done():
		return i.ctx.Err()
	default:
		return nil
	}
}

// execBlock executes a statement_block's children in a fresh child scope.
func (i *Interp) execBlock(block ast.Node, env *Env) (completion, error) {
	scope := env.Child()
	for _, stmt := range block.Children() {
		c, err := i.execStatement(stmt, scope)
		if err != nil {
			return completion{}, err
		}
		if c.kind != completionNormal {
			return c, nil
		}
	}
	return normalCompletion, nil
}

func (i *Interp) execStatement(n ast.Node, env *Env) (completion, error) {
	if err := i.checkCtx(); err != nil {
		return completion{}, err
	}
	switch n.Kind() {
	case "statement_block":
		return i.execBlock(n, env)

	case "expression_statement":
		if n.ChildCount() == 0 {
			return normalCompletion, nil
		}
		_, err := i.eval(n.Child(0), env)
		return normalCompletion, err

	case "lexical_declaration", "variable_declaration":
		isConst := len(n.Text()) >= 5 && n.Text()[:5] == "const"
		for _, child := range n.Children() {
			if child.Kind() != "variable_declarator" {
				continue
			}
			nameNode := child.FieldChild("name")
			var val Value = Undefined
			if valueNode := child.FieldChild("value"); !valueNode.IsZero() {
				v, err := i.eval(valueNode, env)
				if err != nil {
					return completion{}, err
				}
				val = v
			}
			if nameNode.Kind() == "identifier" {
				env.Declare(nameNode.Text(), val, isConst)
			}
		}
		return normalCompletion, nil

	case "return_statement":
		if n.ChildCount() == 0 {
			return completion{kind: completionReturn, value: Undefined}, nil
		}
		v, err := i.eval(n.Child(0), env)
		if err != nil {
			return completion{}, err
		}
		return completion{kind: completionReturn, value: v}, nil

	case "throw_statement":
		if n.ChildCount() == 0 {
			return completion{}, &ThrownValue{Value: Undefined}
		}
		v, err := i.eval(n.Child(0), env)
		if err != nil {
			return completion{}, err
		}
		return completion{}, &ThrownValue{Value: v}

	case "break_statement":
		return completion{kind: completionBreak}, nil

	case "continue_statement":
		return completion{kind: completionContinue}, nil

	case "if_statement":
		cond, err := i.eval(n.FieldChild("condition"), env)
		if err != nil {
			return completion{}, err
		}
		if ToBoolean(cond) {
			return i.execStatement(n.FieldChild("consequence"), env)
		}
		if alt := n.FieldChild("alternative"); !alt.IsZero() {
			body := alt
			if body.Kind() == "else_clause" && body.ChildCount() > 0 {
				body = body.Child(0)
			}
			return i.execStatement(body, env)
		}
		return normalCompletion, nil

	case "for_statement":
		return i.execForStatement(n, env)
	case "while_statement":
		return i.execWhileStatement(n, env)
	case "do_statement":
		return i.execDoStatement(n, env)
	case "for_in_statement":
		return i.execForOfStatement(n, env)

	case "empty_statement", ";":
		return normalCompletion, nil

	default:
		// Any other expression appearing as a bare statement (e.g. an
		// update_expression used as a statement without the
		// expression_statement wrapper some grammars emit).
		_, err := i.eval(n, env)
		return normalCompletion, err
	}
}

func (i *Interp) execForStatement(n ast.Node, env *Env) (completion, error) {
	scope := env.Child()
	if init := n.FieldChild("initializer"); !init.IsZero() {
		if _, err := i.execStatement(init, scope); err != nil {
			return completion{}, err
		}
	}
	for {
		if err := i.step(); err != nil {
			return completion{}, err
		}
		if cond := n.FieldChild("condition"); !cond.IsZero() {
			v, err := i.eval(cond, scope)
			if err != nil {
				return completion{}, err
			}
			if !ToBoolean(v) {
				break
			}
		}
		c, err := i.execStatement(n.FieldChild("body"), scope)
		if err != nil {
			return completion{}, err
		}
		if c.kind == completionBreak {
			break
		}
		if c.kind == completionReturn {
			return c, nil
		}
		if upd := n.FieldChild("increment"); !upd.IsZero() {
			if _, err := i.eval(upd, scope); err != nil {
				return completion{}, err
			}
		}
	}
	return normalCompletion, nil
}

func (i *Interp) execWhileStatement(n ast.Node, env *Env) (completion, error) {
	for {
		if err := i.step(); err != nil {
			return completion{}, err
		}
		v, err := i.eval(n.FieldChild("condition"), env)
		if err != nil {
			return completion{}, err
		}
		if !ToBoolean(v) {
			break
		}
		c, err := i.execStatement(n.FieldChild("body"), env.Child())
		if err != nil {
			return completion{}, err
		}
		if c.kind == completionBreak {
			break
		}
		if c.kind == completionReturn {
			return c, nil
		}
	}
	return normalCompletion, nil
}

func (i *Interp) execDoStatement(n ast.Node, env *Env) (completion, error) {
	for {
		if err := i.step(); err != nil {
			return completion{}, err
		}
		c, err := i.execStatement(n.FieldChild("body"), env.Child())
		if err != nil {
			return completion{}, err
		}
		if c.kind == completionBreak {
			break
		}
		if c.kind == completionReturn {
			return c, nil
		}
		v, err := i.eval(n.FieldChild("condition"), env)
		if err != nil {
			return completion{}, err
		}
		if !ToBoolean(v) {
			break
		}
	}
	return normalCompletion, nil
}

func (i *Interp) execForOfStatement(n ast.Node, env *Env) (completion, error) {
	left := n.FieldChild("left")
	iterExpr := n.FieldChild("right")
	if left.IsZero() || iterExpr.IsZero() {
		return normalCompletion, nil
	}
	varName := left.Text()
	if left.Kind() != "identifier" && left.ChildCount() > 0 {
		varName = left.Child(left.ChildCount() - 1).Text()
	}

	iterVal, err := i.eval(iterExpr, env)
	if err != nil {
		return completion{}, err
	}
	arr, ok := iterVal.(*Array)
	if !ok {
		return completion{}, fmt.Errorf("evaluator: for-of target is not iterable")
	}
	for _, elem := range arr.Elements {
		if err := i.step(); err != nil {
			return completion{}, err
		}
		scope := env.Child()
		scope.Declare(varName, elem, false)
		c, err := i.execStatement(n.FieldChild("body"), scope)
		if err != nil {
			return completion{}, err
		}
		if c.kind == completionBreak {
			break
		}
		if c.kind == completionReturn {
			return c, nil
		}
	}
	return normalCompletion, nil
}

func (i *Interp) eval(n ast.Node, env *Env) (Value, error) {
	if err := i.checkCtx(); err != nil {
		return nil, err
	}
	switch n.Kind() {
	case "parenthesized_expression":
		return i.eval(n.Child(0), env)

	case "identifier":
		name := n.Text()
		switch name {
		case "undefined":
			return Undefined, nil
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		}
		v, ok := env.Get(name)
		if !ok {
			return nil, fmt.Errorf("evaluator: reference to undeclared identifier %q", name)
		}
		return v, nil

	case "this":
		return Undefined, nil

	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil

	case "number":
		return parseNumberLiteral(n.Text()), nil

	case "string":
		return unquote(n.Text()), nil

	case "template_string":
		return i.evalTemplateString(n, env)

	case "array":
		return i.evalArrayLiteral(n, env)

	case "object":
		return i.evalObjectLiteral(n, env)

	case "arrow_function":
		return i.evalArrowFunction(n, env)

	case "call_expression":
		return i.evalCall(n, env)

	case "member_expression":
		return i.evalMemberExpression(n, env)

	case "subscript_expression":
		return i.evalSubscriptExpression(n, env)

	case "unary_expression":
		return i.evalUnary(n, env)

	case "update_expression":
		return i.evalUpdate(n, env)

	case "binary_expression":
		return i.evalBinary(n, env)

	case "logical_expression":
		return i.evalLogical(n, env)

	case "ternary_expression":
		cond, err := i.eval(n.FieldChild("condition"), env)
		if err != nil {
			return nil, err
		}
		if ToBoolean(cond) {
			return i.eval(n.FieldChild("consequence"), env)
		}
		return i.eval(n.FieldChild("alternative"), env)

	case "assignment_expression":
		return i.evalAssignment(n, env)

	case "sequence_expression":
		left, err := i.eval(n.FieldChild("left"), env)
		if err != nil {
			return nil, err
		}
		right := n.FieldChild("right")
		if right.IsZero() {
			return left, nil
		}
		return i.eval(right, env)

	case "await_expression":
		// No Promise representation exists: __safe_callTool already
		// blocks the goroutine until resolution, so the awaited
		// expression's value is already the resolved value.
		return i.eval(n.Child(0), env)

	case "spread_element":
		return i.eval(n.Child(0), env)

	default:
		return nil, fmt.Errorf("evaluator: unsupported expression kind %q", n.Kind())
	}
}

func parseNumberLiteral(text string) Value {
	var f float64
	_, err := fmt.Sscanf(text, "%g", &f)
	if err != nil {
		return math.NaN()
	}
	return f
}

func unquote(raw string) string {
	if len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	return raw
}
