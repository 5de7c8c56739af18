package rules

import (
	"strconv"
	"strings"

	"github.com/haasonsaas/agentscript/internal/script/ast"
)

// stringMethodsRejected are String.prototype / RegExp.prototype methods
// that either run a regex or accept one, all forbidden by
// NO_REGEX_METHODS regardless of whether a regex literal is present.
var stringMethodsRejected = map[string]bool{
	"match": true, "matchAll": true, "test": true, "exec": true,
	"replace": true, "search": true, "split": true,
}

// ResourceExhaustion rejects constructs that can allocate or compute an
// unbounded amount of work in a single synchronous step: BigInt
// exponentiation past a threshold, new Array(n) past a threshold,
// 'x'.repeat(n) past a threshold, (new Array(n)).join(...), and any
// access to `constructor` (already covered for simple cases by
// DISALLOWED_IDENTIFIER; this rule additionally catches the
// resource-exhaustion-flavored guard-coverage cases that route through
// statically-resolvable string concatenation).
var ResourceExhaustion = Rule{
	Code: "RESOURCE_EXHAUSTION", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		th := ctx.Opts.Resource
		if th == (ResourceThresholds{}) {
			th = DefaultResourceThresholds()
		}

		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "binary_expression":
				if binaryOperator(n) == "**" && n.ChildCount() == 2 {
					if exp, ok := bigIntValue(n.Child(1)); ok && exp > th.MaxBigIntExponent {
						ctx.Issue("RESOURCE_EXHAUSTION", SeverityError, "BigInt exponent exceeds the allowed maximum", n, map[string]any{"exponent": exp})
					}
				}
			case "new_expression":
				callee := n.FieldChild("constructor")
				if callee.IsZero() && n.ChildCount() > 0 {
					callee = n.Child(0)
				}
				if callee.Kind() == "identifier" && callee.Text() == "Array" {
					args := firstArgValue(n)
					if args >= 0 && args > th.MaxArrayLength {
						ctx.Issue("RESOURCE_EXHAUSTION", SeverityError, "Array length exceeds the allowed maximum", n, map[string]any{"length": args})
					}
				}
			case "call_expression":
				if name, ok := methodCallName(n); ok && name == "repeat" {
					if count := firstArgValue(n); count >= 0 && count > th.MaxRepeatCount {
						ctx.Issue("RESOURCE_EXHAUSTION", SeverityError, "repeat count exceeds the allowed maximum", n, map[string]any{"count": count})
					}
				}
			case "subscript_expression", "member_expression":
				for _, v := range resolveStaticStrings(n) {
					if v == "constructor" {
						ctx.Issue("RESOURCE_EXHAUSTION", SeverityError, "access to constructor is forbidden", n, nil)
						break
					}
				}
			}
			return true
		})
	},
}

func bigIntValue(n ast.Node) (int64, bool) {
	if n.Kind() != "number" {
		return 0, false
	}
	text := strings.TrimSuffix(n.Text(), "n")
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func firstArgValue(n ast.Node) int64 {
	args := n.FieldChild("arguments")
	if args.IsZero() && n.ChildCount() > 1 {
		args = n.Child(n.ChildCount() - 1)
	}
	if args.ChildCount() == 0 {
		return -1
	}
	arg := args.Child(0)
	if arg.Kind() != "number" {
		return -1
	}
	v, err := strconv.ParseInt(arg.Text(), 10, 64)
	if err != nil {
		return -1
	}
	return v
}

func methodCallName(n ast.Node) (string, bool) {
	callee := n.FieldChild("function")
	if callee.IsZero() && n.ChildCount() > 0 {
		callee = n.Child(0)
	}
	if callee.Kind() != "member_expression" {
		return "", false
	}
	prop := callee.FieldChild("property")
	if prop.IsZero() && callee.ChildCount() > 1 {
		prop = callee.Child(1)
	}
	if prop.Kind() != "property_identifier" {
		return "", false
	}
	return prop.Text(), true
}

// maybeCallable reports whether n could evaluate to a function: function
// expressions/declarations, arrow functions, bare identifiers, member
// expressions, call expressions, or a conditional/logical expression
// whose branches could be callable.
func maybeCallable(n ast.Node) bool {
	switch n.Kind() {
	case "function", "function_declaration", "arrow_function":
		return true
	case "identifier", "member_expression", "call_expression", "subscript_expression":
		return true
	case "ternary_expression":
		return n.ChildCount() == 3 && (maybeCallable(n.Child(1)) || maybeCallable(n.Child(2)))
	case "logical_expression":
		return n.ChildCount() == 2 && (maybeCallable(n.Child(0)) || maybeCallable(n.Child(1)))
	}
	return false
}

// NoJSONCallbacks rejects JSON.stringify(v, fn, ...) and JSON.parse(s,
// fn) wherever the callback-position argument could be a function. null
// and array allowlists are permitted for stringify's replacer.
var NoJSONCallbacks = Rule{
	Code: "NO_JSON_CALLBACKS", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "call_expression" {
				return true
			}
			callee := n.FieldChild("function")
			if callee.IsZero() && n.ChildCount() > 0 {
				callee = n.Child(0)
			}
			if callee.Kind() != "member_expression" {
				return true
			}
			obj := callee.FieldChild("object")
			if obj.IsZero() && callee.ChildCount() > 0 {
				obj = callee.Child(0)
			}
			prop := callee.FieldChild("property")
			if prop.IsZero() && callee.ChildCount() > 1 {
				prop = callee.Child(1)
			}
			if obj.Kind() != "identifier" || obj.Text() != "JSON" {
				return true
			}

			args := n.FieldChild("arguments")
			if args.IsZero() && n.ChildCount() > 1 {
				args = n.Child(n.ChildCount() - 1)
			}
			argList := args.Children()

			switch prop.Text() {
			case "stringify":
				if len(argList) >= 2 && argList[1].Kind() != "null" && argList[1].Kind() != "array" && maybeCallable(argList[1]) {
					ctx.Issue("JSON_CALLBACK_NOT_ALLOWED", SeverityError, "JSON.stringify replacer functions are forbidden", n, nil)
				}
			case "parse":
				if len(argList) >= 2 && maybeCallable(argList[1]) {
					ctx.Issue("JSON_CALLBACK_NOT_ALLOWED", SeverityError, "JSON.parse reviver functions are forbidden", n, nil)
				}
			}
			return true
		})
	},
}

// NoRegex rejects every regex literal and every string/regex method that
// runs or accepts a regular expression.
var NoRegex = Rule{
	Code: "NO_REGEX_LITERAL", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "regex":
				ctx.Issue("NO_REGEX_LITERAL", SeverityError, "regular expression literals are forbidden", n, nil)
			case "call_expression":
				if name, ok := methodCallName(n); ok && stringMethodsRejected[name] {
					ctx.Issue("NO_REGEX_METHODS", SeverityError, "the "+name+" method is forbidden", n, nil)
				}
			}
			return true
		})
	},
}
