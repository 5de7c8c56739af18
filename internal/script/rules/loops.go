package rules

import "github.com/haasonsaas/agentscript/internal/script/ast"

// ForbiddenLoop rejects whichever loop kinds the preset does not permit.
// for-of and for-in share a grammar node (for_in_statement) distinguished
// by the "of"/"in" keyword token.
var ForbiddenLoop = Rule{
	Code: "FORBIDDEN_LOOP", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			kind, ok := classifyLoop(n)
			if !ok {
				return true
			}
			if !ctx.Opts.AllowedLoops[kind] {
				ctx.Issue("FORBIDDEN_LOOP", SeverityError, kind+" loops are not permitted at this security level", n, map[string]any{"loopKind": kind})
			}
			return true
		})
	},
}

// classifyLoop returns the spec's loop-kind name for n ("for", "while",
// "do-while", "for-in", "for-of"), or ok=false if n is not a loop.
func classifyLoop(n ast.Node) (string, bool) {
	switch n.Kind() {
	case "for_statement":
		return "for", true
	case "while_statement":
		return "while", true
	case "do_statement":
		return "do-while", true
	case "for_in_statement":
		if isForOf(n) {
			return "for-of", true
		}
		return "for-in", true
	}
	return "", false
}

// isForOf inspects the raw text of a for_in_statement header for the "of"
// keyword, since tree-sitter-javascript models `for (x of y)` and
// `for (x in y)` with the same node kind.
func isForOf(n ast.Node) bool {
	text := n.Text()
	depth := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			if depth == 1 {
				return false
			}
			depth--
		}
		if depth == 1 && i+2 <= len(text) && text[i:i+2] == "of" {
			before := i == 0 || isWordBoundary(text[i-1])
			after := i+2 == len(text) || isWordBoundary(text[i+2])
			if before && after {
				return true
			}
		}
	}
	return false
}

func isWordBoundary(b byte) bool {
	return !(b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9'))
}

// InfiniteLoop flags loops whose test expression is statically truthy:
// for(;;), for(;true;), while(true), while(1), do...while(true), via
// truthiness analysis of literals, unary negation, and the Infinity /
// undefined / NaN identifiers.
var InfiniteLoop = Rule{
	Code: "INFINITE_LOOP", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "for_statement":
				cond := n.FieldChild("condition")
				if cond.IsZero() || isStaticallyTruthy(cond) {
					ctx.Issue("INFINITE_LOOP", SeverityError, "for loop has no bounding condition", n, nil)
				}
			case "while_statement":
				cond := n.FieldChild("condition")
				if cond.IsZero() && n.ChildCount() > 0 {
					cond = n.Child(0)
				}
				if isStaticallyTruthy(cond) {
					ctx.Issue("INFINITE_LOOP", SeverityError, "while loop condition is always truthy", n, nil)
				}
			case "do_statement":
				cond := n.FieldChild("condition")
				if cond.IsZero() && n.ChildCount() > 0 {
					cond = n.Child(n.ChildCount() - 1)
				}
				if isStaticallyTruthy(cond) {
					ctx.Issue("INFINITE_LOOP", SeverityError, "do-while condition is always truthy", n, nil)
				}
			}
			return true
		})
	},
}

// isStaticallyTruthy decides whether a condition expression is
// unconditionally truthy by structural analysis only (never evaluates the
// program): numeric/boolean/string literal truthiness, !/!! of a known
// falsy/truthy value, and the well-known identifiers Infinity (truthy)
// vs. undefined/NaN (falsy).
func isStaticallyTruthy(n ast.Node) bool {
	switch n.Kind() {
	case "true":
		return true
	case "false", "null", "undefined":
		return false
	case "number":
		return n.Text() != "0" && n.Text() != "0.0" && n.Text() != "NaN"
	case "identifier":
		switch n.Text() {
		case "Infinity":
			return true
		case "undefined", "NaN":
			return false
		}
		return false
	case "unary_expression":
		op := n.FieldChild("operator")
		opText := op.Text()
		if opText == "" {
			opText = "!"
		}
		if opText == "!" && n.ChildCount() == 1 {
			return !isStaticallyTruthy(n.Child(0)) && isStaticallyFalsy(n.Child(0))
		}
		return false
	case "array", "object":
		// Empty array/object literals are truthy in JS, same as non-empty.
		return true
	case "parenthesized_expression":
		if n.ChildCount() == 1 {
			return isStaticallyTruthy(n.Child(0))
		}
	}
	return false
}

func isStaticallyFalsy(n ast.Node) bool {
	switch n.Kind() {
	case "false", "null", "undefined":
		return true
	case "number":
		return n.Text() == "0" || n.Text() == "NaN"
	case "identifier":
		return n.Text() == "undefined" || n.Text() == "NaN"
	}
	return false
}
