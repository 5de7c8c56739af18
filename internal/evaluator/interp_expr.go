package evaluator

import (
	"fmt"
	"math"
	"strings"

	"github.com/haasonsaas/agentscript/internal/script/ast"
)

func (i *Interp) evalTemplateString(n ast.Node, env *Env) (Value, error) {
	var sb strings.Builder
	for _, child := range n.Children() {
		switch child.Kind() {
		case "string_fragment":
			sb.WriteString(child.Text())
		case "template_substitution":
			if child.ChildCount() == 0 {
				continue
			}
			v, err := i.eval(child.Child(0), env)
			if err != nil {
				return nil, err
			}
			if _, isRef := v.(ReferenceID); isRef {
				return nil, fmt.Errorf("evaluator: reference handles cannot be interpolated into a template string")
			}
			sb.WriteString(ToDisplayString(v))
		}
	}
	return sb.String(), nil
}

func (i *Interp) evalArrayLiteral(n ast.Node, env *Env) (Value, error) {
	var elems []Value
	for _, child := range n.Children() {
		v, err := i.eval(child, env)
		if err != nil {
			return nil, err
		}
		if child.Kind() == "spread_element" {
			if sub, ok := v.(*Array); ok {
				elems = append(elems, sub.Elements...)
				continue
			}
		}
		elems = append(elems, v)
	}
	return NewArray(elems), nil
}

func (i *Interp) evalObjectLiteral(n ast.Node, env *Env) (Value, error) {
	obj := NewObject()
	for _, prop := range n.Children() {
		switch prop.Kind() {
		case "pair":
			keyNode := prop.FieldChild("key")
			if keyNode.IsZero() && prop.ChildCount() > 0 {
				keyNode = prop.Child(0)
			}
			key := propertyKeyText(keyNode)
			valueNode := prop.FieldChild("value")
			if valueNode.IsZero() && prop.ChildCount() > 1 {
				valueNode = prop.Child(1)
			}
			v, err := i.eval(valueNode, env)
			if err != nil {
				return nil, err
			}
			obj.Set(key, v)
		case "shorthand_property_identifier":
			name := prop.Text()
			v, ok := env.Get(name)
			if !ok {
				return nil, fmt.Errorf("evaluator: reference to undeclared identifier %q", name)
			}
			obj.Set(name, v)
		case "spread_element":
			v, err := i.eval(prop.Child(0), env)
			if err != nil {
				return nil, err
			}
			if src, ok := v.(*Object); ok {
				for _, k := range src.Keys() {
					val, _ := src.Get(k)
					obj.Set(k, val)
				}
			}
		}
	}
	return obj, nil
}

func propertyKeyText(key ast.Node) string {
	switch key.Kind() {
	case "string":
		return unquote(key.Text())
	default:
		return key.Text()
	}
}

// evalArrowFunction builds a closure capturing env by reference, the way
// JS arrow functions close over their defining scope. Used for
// __safe_parallel's function-list argument and for plain callback-free
// expressions (arrow functions cannot otherwise be invoked, since the
// guard rejects user-defined named functions entirely).
func (i *Interp) evalArrowFunction(n ast.Node, env *Env) (Value, error) {
	params := n.FieldChild("parameters")
	var paramNames []string
	if params.IsZero() {
		if p := n.FieldChild("parameter"); !p.IsZero() {
			paramNames = []string{p.Text()}
		}
	} else {
		for _, p := range params.Children() {
			if p.Kind() == "identifier" {
				paramNames = append(paramNames, p.Text())
			}
		}
	}
	body := n.FieldChild("body")

	fn := &Function{Name: "<arrow>"}
	fn.Call = func(args []Value) (Value, error) {
		scope := env.Child()
		for idx, name := range paramNames {
			var v Value = Undefined
			if idx < len(args) {
				v = args[idx]
			}
			scope.Declare(name, v, false)
		}
		if body.Kind() == "statement_block" {
			c, err := i.execBlock(body, scope)
			if err != nil {
				return nil, err
			}
			if c.kind == completionReturn {
				return c.value, nil
			}
			return Undefined, nil
		}
		return i.eval(body, scope)
	}
	return fn, nil
}

func (i *Interp) evalCall(n ast.Node, env *Env) (Value, error) {
	callee := n.FieldChild("function")
	if callee.IsZero() && n.ChildCount() > 0 {
		callee = n.Child(0)
	}
	argsNode := n.FieldChild("arguments")

	fnVal, err := i.eval(callee, env)
	if err != nil {
		return nil, err
	}
	fn, ok := fnVal.(*Function)
	if !ok {
		return nil, fmt.Errorf("evaluator: value is not callable")
	}

	var args []Value
	if !argsNode.IsZero() {
		for _, a := range argsNode.Children() {
			v, err := i.eval(a, env)
			if err != nil {
				return nil, err
			}
			if a.Kind() == "spread_element" {
				if sub, ok := v.(*Array); ok {
					args = append(args, sub.Elements...)
					continue
				}
			}
			args = append(args, v)
		}
	}
	return fn.Call(args)
}

// evalMemberExpression handles both dotted access (obj.prop) and, for
// convenience, calls routed through it when the callee itself is a
// member_expression (obj.method()). Numeric/bracket access is handled
// separately in evalSubscriptExpression.
func (i *Interp) evalMemberExpression(n ast.Node, env *Env) (Value, error) {
	objNode := n.FieldChild("object")
	propNode := n.FieldChild("property")
	if objNode.IsZero() || propNode.IsZero() {
		return nil, fmt.Errorf("evaluator: malformed member expression")
	}
	obj, err := i.eval(objNode, env)
	if err != nil {
		return nil, err
	}
	return memberGet(obj, propNode.Text())
}

func (i *Interp) evalSubscriptExpression(n ast.Node, env *Env) (Value, error) {
	objNode := n.FieldChild("object")
	idxNode := n.FieldChild("index")
	if objNode.IsZero() || idxNode.IsZero() {
		return nil, fmt.Errorf("evaluator: malformed subscript expression")
	}
	obj, err := i.eval(objNode, env)
	if err != nil {
		return nil, err
	}
	idx, err := i.eval(idxNode, env)
	if err != nil {
		return nil, err
	}
	if key, ok := idx.(string); ok {
		return memberGet(obj, key)
	}
	if arr, ok := obj.(*Array); ok {
		n := int(ToNumber(idx))
		if n < 0 || n >= len(arr.Elements) {
			return Undefined, nil
		}
		return arr.Elements[n], nil
	}
	return memberGet(obj, ToDisplayString(idx))
}

func memberGet(obj Value, prop string) (Value, error) {
	switch x := obj.(type) {
	case *Object:
		if v, ok := x.Get(prop); ok {
			return v, nil
		}
		return Undefined, nil
	case *Function:
		if x.Props != nil {
			if v, ok := x.Props[prop]; ok {
				return v, nil
			}
		}
		if prop == "name" {
			return x.Name, nil
		}
		return Undefined, nil
	case *Array:
		return arrayMember(x, prop)
	case string:
		return stringMember(x, prop)
	case nil:
		return nil, fmt.Errorf("evaluator: cannot read property %q of null", prop)
	case undefinedType:
		return nil, fmt.Errorf("evaluator: cannot read property %q of undefined", prop)
	default:
		return Undefined, nil
	}
}

func (i *Interp) evalUnary(n ast.Node, env *Env) (Value, error) {
	op := operatorText(n)
	argNode := n.FieldChild("argument")
	if argNode.IsZero() && n.ChildCount() > 0 {
		argNode = n.Child(n.ChildCount() - 1)
	}
	if op == "typeof" {
		v, err := i.eval(argNode, env)
		if err != nil {
			return "undefined", nil //nolint: nilerr // typeof on an unresolved ref is "undefined" in JS
		}
		return typeOf(v), nil
	}
	v, err := i.eval(argNode, env)
	if err != nil {
		return nil, err
	}
	switch op {
	case "!":
		return !ToBoolean(v), nil
	case "-":
		return -ToNumber(v), nil
	case "+":
		return ToNumber(v), nil
	case "void":
		return Undefined, nil
	default:
		return nil, fmt.Errorf("evaluator: unsupported unary operator %q", op)
	}
}

func typeOf(v Value) string {
	switch v.(type) {
	case nil:
		return "object"
	case undefinedType:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string, ReferenceID:
		return "string"
	case *Function:
		return "function"
	default:
		return "object"
	}
}

// evalUpdate handles ++/-- in both prefix and postfix position.
// update_expression has no "operator" field in tree-sitter-javascript:
// the token sits before or after the lone "argument" field, so prefix
// vs. postfix is determined by comparing their byte offsets.
func (i *Interp) evalUpdate(n ast.Node, env *Env) (Value, error) {
	argNode := n.FieldChild("argument")
	if argNode.IsZero() && n.ChildCount() > 0 {
		argNode = n.Child(0)
	}
	text := n.Text()
	prefix := argNode.StartByte() > n.StartByte()
	op := "++"
	if strings.Contains(text, "--") {
		op = "--"
	}

	old, err := i.eval(argNode, env)
	if err != nil {
		return nil, err
	}
	oldNum := ToNumber(old)
	newNum := oldNum + 1
	if op == "--" {
		newNum = oldNum - 1
	}
	if err := i.assign(argNode, newNum, env); err != nil {
		return nil, err
	}
	if prefix {
		return newNum, nil
	}
	return oldNum, nil
}

func operatorText(n ast.Node) string {
	if op := n.FieldChild("operator"); !op.IsZero() {
		return op.Text()
	}
	text := n.Text()
	if strings.HasPrefix(text, "typeof") {
		return "typeof"
	}
	if strings.HasPrefix(text, "void") {
		return "void"
	}
	if len(text) > 0 {
		return text[:1]
	}
	return ""
}

func (i *Interp) evalBinary(n ast.Node, env *Env) (Value, error) {
	op := operatorTextBetween(n)
	leftNode := n.FieldChild("left")
	rightNode := n.FieldChild("right")
	left, err := i.eval(leftNode, env)
	if err != nil {
		return nil, err
	}
	right, err := i.eval(rightNode, env)
	if err != nil {
		return nil, err
	}
	return applyBinaryOp(op, left, right)
}

func operatorTextBetween(n ast.Node) string {
	if op := n.FieldChild("operator"); !op.IsZero() {
		return op.Text()
	}
	// Fall back to slicing the raw text between the left and right
	// operand nodes, mirroring rules.binaryOperator's approach for
	// grammars that don't expose an "operator" field.
	left := n.FieldChild("left")
	right := n.FieldChild("right")
	text := n.Text()
	if left.IsZero() || right.IsZero() {
		return strings.TrimSpace(text)
	}
	start := left.EndByte() - n.StartByte()
	end := right.StartByte() - n.StartByte()
	if start < 0 || end > len(text) || start > end {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[start:end])
}

func applyBinaryOp(op string, left, right Value) (Value, error) {
	switch op {
	case "+":
		_, lRef := left.(ReferenceID)
		_, rRef := right.(ReferenceID)
		if lRef || rRef {
			return nil, fmt.Errorf("evaluator: reference handles cannot be concatenated with +")
		}
		if ls, ok := left.(string); ok {
			return ls + ToDisplayString(right), nil
		}
		if rs, ok := right.(string); ok {
			return ToDisplayString(left) + rs, nil
		}
		return ToNumber(left) + ToNumber(right), nil
	case "-":
		return ToNumber(left) - ToNumber(right), nil
	case "*":
		return ToNumber(left) * ToNumber(right), nil
	case "/":
		return ToNumber(left) / ToNumber(right), nil
	case "%":
		return math.Mod(ToNumber(left), ToNumber(right)), nil
	case "**":
		return math.Pow(ToNumber(left), ToNumber(right)), nil
	case "<":
		return compare(left, right) < 0, nil
	case "<=":
		return compare(left, right) <= 0, nil
	case ">":
		return compare(left, right) > 0, nil
	case ">=":
		return compare(left, right) >= 0, nil
	case "==", "===":
		return StrictEquals(left, right), nil
	case "!=", "!==":
		return !StrictEquals(left, right), nil
	default:
		return nil, fmt.Errorf("evaluator: unsupported binary operator %q", op)
	}
}

func compare(a, b Value) int {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs)
	}
	an, bn := ToNumber(a), ToNumber(b)
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

func (i *Interp) evalLogical(n ast.Node, env *Env) (Value, error) {
	op := operatorTextBetween(n)
	left, err := i.eval(n.FieldChild("left"), env)
	if err != nil {
		return nil, err
	}
	switch op {
	case "&&":
		if !ToBoolean(left) {
			return left, nil
		}
		return i.eval(n.FieldChild("right"), env)
	case "||":
		if ToBoolean(left) {
			return left, nil
		}
		return i.eval(n.FieldChild("right"), env)
	case "??":
		if left != nil {
			if _, isUndef := left.(undefinedType); !isUndef {
				return left, nil
			}
		}
		return i.eval(n.FieldChild("right"), env)
	default:
		return nil, fmt.Errorf("evaluator: unsupported logical operator %q", op)
	}
}

func (i *Interp) evalAssignment(n ast.Node, env *Env) (Value, error) {
	left := n.FieldChild("left")
	right := n.FieldChild("right")
	op := operatorTextBetween(n)

	rhs, err := i.eval(right, env)
	if err != nil {
		return nil, err
	}
	if op != "=" {
		current, err := i.eval(left, env)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(op, "=")
		rhs, err = applyBinaryOp(base, current, rhs)
		if err != nil {
			return nil, err
		}
	}
	if err := i.assign(left, rhs, env); err != nil {
		return nil, err
	}
	return rhs, nil
}

// assign writes v to the lvalue described by target: a bare identifier,
// a member expression, or a subscript expression. Destructuring targets
// are rejected by the guard's NO_COMPUTED_DESTRUCTURING rule before
// reaching here.
func (i *Interp) assign(target ast.Node, v Value, env *Env) error {
	switch target.Kind() {
	case "identifier":
		return env.Set(target.Text(), v)
	case "member_expression":
		objNode := target.FieldChild("object")
		propNode := target.FieldChild("property")
		obj, err := i.eval(objNode, env)
		if err != nil {
			return err
		}
		return memberSet(obj, propNode.Text(), v)
	case "subscript_expression":
		objNode := target.FieldChild("object")
		idxNode := target.FieldChild("index")
		obj, err := i.eval(objNode, env)
		if err != nil {
			return err
		}
		idx, err := i.eval(idxNode, env)
		if err != nil {
			return err
		}
		return subscriptSet(obj, idx, v)
	default:
		return fmt.Errorf("evaluator: unsupported assignment target kind %q", target.Kind())
	}
}

func memberSet(obj Value, prop string, v Value) error {
	o, ok := obj.(*Object)
	if !ok {
		return fmt.Errorf("evaluator: cannot set property %q on non-object value", prop)
	}
	o.Set(prop, v)
	return nil
}

func subscriptSet(obj Value, idx Value, v Value) error {
	if key, ok := idx.(string); ok {
		return memberSet(obj, key, v)
	}
	arr, ok := obj.(*Array)
	if !ok {
		return fmt.Errorf("evaluator: cannot index-assign on a non-array value")
	}
	n := int(ToNumber(idx))
	if n < 0 {
		return fmt.Errorf("evaluator: negative array index")
	}
	for len(arr.Elements) <= n {
		arr.Elements = append(arr.Elements, Undefined)
	}
	arr.Elements[n] = v
	return nil
}
