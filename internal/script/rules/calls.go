package rules

import (
	"strconv"

	"github.com/haasonsaas/agentscript/internal/script/ast"
)

// NoUserDefinedFunctions rejects function declarations and expressions;
// arrow functions are allowed when the preset opts in. The synthetic
// __ag_main wrapper (injected by the rewriter, never present in the
// source the guard validates) is not a concern here.
var NoUserDefinedFunctions = Rule{
	Code: "NO_USER_DEFINED_FUNCTIONS", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "function_declaration", "function":
				ctx.Issue("USER_DEFINED_FUNCTION", SeverityError, "function declarations are forbidden", n, nil)
			case "arrow_function":
				if !ctx.Opts.AllowArrowFunctions {
					ctx.Issue("USER_DEFINED_FUNCTION", SeverityError, "arrow functions are forbidden at this security level", n, nil)
				}
			}
			return true
		})
	},
}

// StaticCallTarget requires callTool's first argument to be a string
// literal, optionally restricted to an allowlist of tool names.
var StaticCallTarget = Rule{
	Code: "STATIC_CALL_TARGET", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "call_expression" {
				return true
			}
			callee := n.FieldChild("function")
			if callee.IsZero() && n.ChildCount() > 0 {
				callee = n.Child(0)
			}
			if callee.Kind() != "identifier" || callee.Text() != "callTool" {
				return true
			}
			args := n.FieldChild("arguments")
			if args.IsZero() && n.ChildCount() > 1 {
				args = n.Child(n.ChildCount() - 1)
			}
			argList := args.Children()
			if len(argList) == 0 || argList[0].Kind() != "string" {
				ctx.Issue("STATIC_CALL_TARGET", SeverityError, "callTool's tool name must be a string literal", n, nil)
				return true
			}
			if len(ctx.Opts.ToolNameAllowlist) > 0 {
				name, _ := resolveStaticString(argList[0])
				if !toolNameAllowed(name, ctx.Opts.ToolNameAllowlist) {
					ctx.Issue("STATIC_CALL_TARGET", SeverityError, "tool "+name+" is not in the allowed tool list", n, map[string]any{"toolName": name})
				}
			}
			return true
		})
	},
}

func toolNameAllowed(name string, allow []string) bool {
	for _, a := range allow {
		if a == name {
			return true
		}
	}
	return false
}

// CallArgValidation checks callTool's arity and that the second argument,
// when present, is an object literal rather than an array or primitive
// (the args parameter must be a plain key/value bag).
var CallArgValidation = Rule{
	Code: "CALL_ARG_VALIDATION", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "call_expression" {
				return true
			}
			callee := n.FieldChild("function")
			if callee.IsZero() && n.ChildCount() > 0 {
				callee = n.Child(0)
			}
			if callee.Kind() != "identifier" || callee.Text() != "callTool" {
				return true
			}
			args := n.FieldChild("arguments")
			if args.IsZero() && n.ChildCount() > 1 {
				args = n.Child(n.ChildCount() - 1)
			}
			argList := args.Children()
			if len(argList) < 1 || len(argList) > 2 {
				ctx.Issue("CALL_ARG_VALIDATION", SeverityError, "callTool takes a tool name and an optional args object", n, nil)
				return true
			}
			if len(argList) == 2 {
				switch argList[1].Kind() {
				case "object", "identifier", "member_expression", "call_expression":
					// identifiers/member/call expressions are resolved at
					// runtime by __safe_callTool, which itself enforces the
					// object shape; only literal non-object shapes are
					// statically rejectable here.
				default:
					ctx.Issue("CALL_ARG_VALIDATION", SeverityError, "callTool's args must be an object", n, nil)
				}
			}
			return true
		})
	},
}

// NoComputedDestructuring rejects computed keys inside destructuring
// patterns, which would otherwise let a script construct a property name
// at runtime and read it through a binding instead of a subscript
// expression (sidestepping DISALLOWED_IDENTIFIER's subscript check).
var NoComputedDestructuring = Rule{
	Code: "NO_COMPUTED_DESTRUCTURING", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "object_pattern" {
				return true
			}
			for _, prop := range n.Children() {
				if prop.Kind() == "pair_pattern" || prop.Kind() == "pair" {
					key := prop.Child(0)
					if key.Kind() == "computed_property_name" {
						ctx.Issue("NO_COMPUTED_DESTRUCTURING", SeverityError, "computed keys are forbidden in destructuring patterns", prop, nil)
					}
				}
			}
			return true
		})
	},
}

// terminatingStatements are statements after which any sibling statement
// in the same block is unreachable.
var terminatingStatements = map[string]bool{
	"return_statement": true, "throw_statement": true,
	"break_statement": true, "continue_statement": true,
}

// UnreachableCode warns about statements following a return/throw/break/
// continue in the same block.
var UnreachableCode = Rule{
	Code: "UNREACHABLE_CODE", Severity: SeverityWarning, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "statement_block" && n.Kind() != "program" {
				return true
			}
			stmts := n.Children()
			terminated := false
			for _, s := range stmts {
				if terminated {
					ctx.Issue("UNREACHABLE_CODE", SeverityWarning, "unreachable statement", s, nil)
				}
				if terminatingStatements[s.Kind()] {
					terminated = true
				}
			}
			return true
		})
	},
}

// RequiredFunctionCall checks that the script contains at least the
// configured number of calls to each required function name. Disabled
// unless Options.RequiredCalls is non-empty.
var RequiredFunctionCall = Rule{
	Code: "REQUIRED_FUNCTION_CALL", Severity: SeverityError, DefaultEnabled: false,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		if len(ctx.Opts.RequiredCalls) == 0 {
			return
		}
		counts := map[string]int{}
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "call_expression" {
				return true
			}
			callee := n.FieldChild("function")
			if callee.IsZero() && n.ChildCount() > 0 {
				callee = n.Child(0)
			}
			if callee.Kind() == "identifier" {
				counts[callee.Text()]++
			}
			return true
		})
		for name, min := range ctx.Opts.RequiredCalls {
			if counts[name] < min {
				ctx.Issue("REQUIRED_FUNCTION_CALL", SeverityError, "script must call "+name+" at least "+strconv.Itoa(min)+" time(s)", root, map[string]any{"function": name, "required": min, "found": counts[name]})
			}
		}
	},
}
