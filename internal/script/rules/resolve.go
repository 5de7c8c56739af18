package rules

import (
	"strconv"
	"strings"

	"github.com/haasonsaas/agentscript/internal/script/ast"
)

// resolveStaticStrings returns every string value n could statically
// evaluate to, following the ECMAScript-ToPrimitive order the
// specification calls out for computed-key coercion detection: literals,
// templates with no expressions, both branches of a ternary, both sides
// of a logical expression, the last element of a sequence, the
// right-hand side of an assignment, single-element array coercion, and
// object coercion via a statically-resolvable toString/valueOf. Returns
// nil if n has no statically resolvable value (e.g. it depends on a
// runtime value or a disallowed call).
func resolveStaticStrings(n ast.Node) []string {
	if n.IsZero() {
		return nil
	}

	switch n.Kind() {
	case "string":
		return []string{unquoteJSString(n.Text())}

	case "number":
		return []string{n.Text()}

	case "template_string":
		if s, ok := staticTemplateString(n); ok {
			return []string{s}
		}
		return nil

	case "parenthesized_expression":
		if n.ChildCount() == 1 {
			return resolveStaticStrings(n.Child(0))
		}
		return nil

	case "ternary_expression":
		if n.ChildCount() != 3 {
			return nil
		}
		var out []string
		out = append(out, resolveStaticStrings(n.Child(1))...)
		out = append(out, resolveStaticStrings(n.Child(2))...)
		return out

	case "binary_expression":
		return resolveBinary(n)

	case "logical_expression":
		if n.ChildCount() != 2 {
			return nil
		}
		var out []string
		out = append(out, resolveStaticStrings(n.Child(0))...)
		out = append(out, resolveStaticStrings(n.Child(1))...)
		return out

	case "sequence_expression":
		kids := n.Children()
		if len(kids) == 0 {
			return nil
		}
		return resolveStaticStrings(kids[len(kids)-1])

	case "assignment_expression":
		if n.ChildCount() != 2 {
			return nil
		}
		return resolveStaticStrings(n.Child(1))

	case "array":
		kids := n.Children()
		if len(kids) == 1 {
			return resolveStaticStrings(kids[0])
		}
		return nil

	case "object":
		if s, ok := staticObjectCoercion(n); ok {
			return []string{s}
		}
		return nil
	}

	return nil
}

// resolveStaticString returns the single static value of n, if n is
// unambiguous (resolves to exactly one possible string).
func resolveStaticString(n ast.Node) (string, bool) {
	vals := resolveStaticStrings(n)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func resolveBinary(n ast.Node) []string {
	if n.ChildCount() != 2 {
		return nil
	}
	op := binaryOperator(n)
	if op != "+" {
		return nil
	}
	lefts := resolveStaticStrings(n.Child(0))
	rights := resolveStaticStrings(n.Child(1))
	if len(lefts) == 0 || len(rights) == 0 {
		return nil
	}
	out := make([]string, 0, len(lefts)*len(rights))
	for _, l := range lefts {
		for _, r := range rights {
			out = append(out, l+r)
		}
	}
	return out
}

// binaryOperator finds the operator token among a binary_expression's
// (unnamed) children, since tree-sitter exposes it as an anonymous token
// rather than a named child.
func binaryOperator(n ast.Node) string {
	field := n.FieldChild("operator")
	if !field.IsZero() {
		return field.Text()
	}
	// Fall back to scanning raw text between the two named children.
	if n.ChildCount() != 2 {
		return ""
	}
	left, right := n.Child(0), n.Child(1)
	gap := n.Text()[left.EndByte()-n.StartByte() : right.StartByte()-n.StartByte()]
	return strings.TrimSpace(gap)
}

func staticTemplateString(n ast.Node) (string, bool) {
	var sb strings.Builder
	for _, c := range n.Children() {
		switch c.Kind() {
		case "string_fragment":
			sb.WriteString(c.Text())
		case "template_substitution":
			// Any interpolated expression makes the template
			// non-statically-resolvable unless the inner expression is
			// itself statically resolvable.
			if c.ChildCount() != 1 {
				return "", false
			}
			sub, ok := resolveStaticString(c.Child(0))
			if !ok {
				return "", false
			}
			sb.WriteString(sub)
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// staticObjectCoercion recognizes `{toString(){ return <literal> }}` and
// `{valueOf(){ return <literal> }}` shapes (including arrow-function
// values), which is the ECMAScript-ToPrimitive fallback a computed key
// like `obj[{toString:()=>'constructor'}]` exercises.
func staticObjectCoercion(n ast.Node) (string, bool) {
	for _, prop := range n.Children() {
		name, fn, ok := objectMethodLike(prop)
		if !ok || (name != "toString" && name != "valueOf") {
			continue
		}
		if s, ok := staticFunctionReturnLiteral(fn); ok {
			return s, true
		}
	}
	return "", false
}

// objectMethodLike extracts (key, valueOrFunctionNode) from a "pair" or
// "method_definition" node inside an object literal.
func objectMethodLike(prop ast.Node) (string, ast.Node, bool) {
	switch prop.Kind() {
	case "pair":
		if prop.ChildCount() != 2 {
			return "", ast.Node{}, false
		}
		key := prop.Child(0)
		return propertyKeyName(key), prop.Child(1), true
	case "method_definition":
		name := prop.FieldChild("name")
		if name.IsZero() && prop.ChildCount() > 0 {
			name = prop.Child(0)
		}
		return propertyKeyName(name), prop, true
	}
	return "", ast.Node{}, false
}

func propertyKeyName(key ast.Node) string {
	switch key.Kind() {
	case "property_identifier", "identifier":
		return key.Text()
	case "string":
		return unquoteJSString(key.Text())
	}
	return key.Text()
}

// staticFunctionReturnLiteral recognizes arrow functions and methods whose
// entire body is (or reduces to) a single statically-resolvable
// expression: `() => 'x'`, `() => { return 'x' }`, or `toString(){ return
// 'x' }`.
func staticFunctionReturnLiteral(fn ast.Node) (string, bool) {
	switch fn.Kind() {
	case "arrow_function":
		body := fn.FieldChild("body")
		if body.IsZero() && fn.ChildCount() > 0 {
			body = fn.Child(fn.ChildCount() - 1)
		}
		if body.Kind() == "statement_block" {
			return returnValueOfBlock(body)
		}
		return resolveStaticString(body)
	case "method_definition", "function", "function_declaration":
		body := fn.FieldChild("body")
		if body.IsZero() {
			for _, c := range fn.Children() {
				if c.Kind() == "statement_block" {
					body = c
				}
			}
		}
		return returnValueOfBlock(body)
	}
	return "", false
}

func returnValueOfBlock(block ast.Node) (string, bool) {
	if block.IsZero() {
		return "", false
	}
	for _, stmt := range block.Children() {
		if stmt.Kind() == "return_statement" && stmt.ChildCount() == 1 {
			return resolveStaticString(stmt.Child(0))
		}
	}
	return "", false
}

func unquoteJSString(raw string) string {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			if s, err := strconv.Unquote(`"` + strings.ReplaceAll(raw[1:len(raw)-1], `"`, `\"`) + `"`); err == nil {
				return s
			}
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}
