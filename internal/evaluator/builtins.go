package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

func Builtin(name string, call func(args []Value) (Value, error)) *Function {
	return &Function{Name: name, Call: call}
}

// Arg returns args[i], or Undefined if the call site omitted it —
// JS's implicit "missing parameters are undefined" semantics.
func Arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// MathNamespace builds the Math global: a callable-less namespace object
// exposing the pure numeric functions the STRICT..PERMISSIVE presets all
// allow unconditionally.
func MathNamespace() *Object {
	m := NewObject()
	one := func(f func(float64) float64) func([]Value) (Value, error) {
		return func(args []Value) (Value, error) { return f(ToNumber(Arg(args, 0))), nil }
	}
	m.Set("floor", Builtin("floor", one(math.Floor)))
	m.Set("ceil", Builtin("ceil", one(math.Ceil)))
	m.Set("round", Builtin("round", one(math.Round)))
	m.Set("trunc", Builtin("trunc", one(math.Trunc)))
	m.Set("abs", Builtin("abs", one(math.Abs)))
	m.Set("sqrt", Builtin("sqrt", one(math.Sqrt)))
	m.Set("sign", Builtin("sign", func(args []Value) (Value, error) {
		n := ToNumber(Arg(args, 0))
		switch {
		case n > 0:
			return 1.0, nil
		case n < 0:
			return -1.0, nil
		default:
			return n, nil
		}
	}))
	m.Set("max", Builtin("max", func(args []Value) (Value, error) {
		if len(args) == 0 {
			return math.Inf(-1), nil
		}
		best := ToNumber(args[0])
		for _, a := range args[1:] {
			if v := ToNumber(a); v > best {
				best = v
			}
		}
		return best, nil
	}))
	m.Set("min", Builtin("min", func(args []Value) (Value, error) {
		if len(args) == 0 {
			return math.Inf(1), nil
		}
		best := ToNumber(args[0])
		for _, a := range args[1:] {
			if v := ToNumber(a); v < best {
				best = v
			}
		}
		return best, nil
	}))
	m.Set("pow", Builtin("pow", func(args []Value) (Value, error) {
		return math.Pow(ToNumber(Arg(args, 0)), ToNumber(Arg(args, 1))), nil
	}))
	m.Set("random", Builtin("random", func(args []Value) (Value, error) {
		// Deterministic-by-construction: scripts are re-run for replay
		// and audit, so a non-deterministic RNG would be observable
		// nondeterminism the protocol has no way to record. Always
		// returns a fixed midpoint value.
		return 0.5, nil
	}))
	m.Set("PI", math.Pi)
	m.Set("E", math.E)
	return m
}

// JSONNamespace builds the JSON global: parse/stringify only, no
// reviver/replacer callback support (NO_JSON_CALLBACKS forbids the guard
// from ever admitting one).
func JSONNamespace() *Object {
	j := NewObject()
	j.Set("stringify", Builtin("stringify", func(args []Value) (Value, error) {
		v := Arg(args, 0)
		data, err := json.Marshal(ToJSONLike(v))
		if err != nil {
			return nil, fmt.Errorf("JSON.stringify: %w", err)
		}
		return string(data), nil
	}))
	j.Set("parse", Builtin("parse", func(args []Value) (Value, error) {
		s, ok := Arg(args, 0).(string)
		if !ok {
			return nil, fmt.Errorf("JSON.parse: argument must be a string")
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("JSON.parse: %w", err)
		}
		return Sanitize(decoded, 0), nil
	}))
	return j
}

// ToJSONLike converts an interpreter Value tree into plain
// any/map[string]any/[]any values encoding/json can marshal, the same
// conversion JSON.stringify uses internally.
func ToJSONLike(v Value) any {
	switch x := v.(type) {
	case *Array:
		out := make([]any, len(x.Elements))
		for i, e := range x.Elements {
			out[i] = ToJSONLike(e)
		}
		return out
	case *Object:
		out := make(map[string]any, len(x.keys))
		for _, k := range x.Keys() {
			val, _ := x.Get(k)
			out[k] = ToJSONLike(val)
		}
		return out
	case undefinedType:
		return nil
	case ReferenceID:
		return string(x)
	case *Function:
		return nil
	default:
		return x
	}
}

// ArrayNamespace builds the Array global: callable as a constructor
// (Array(n) / new Array(n), bounded by the guard's RESOURCE_EXHAUSTION
// rule) and as a namespace (Array.isArray).
func ArrayNamespace() *Function {
	fn := Builtin("Array", func(args []Value) (Value, error) {
		if len(args) == 1 {
			if n, ok := args[0].(float64); ok {
				elems := make([]Value, int(n))
				for i := range elems {
					elems[i] = Undefined
				}
				return NewArray(elems), nil
			}
		}
		return NewArray(args), nil
	})
	fn.Props = map[string]Value{
		"isArray": Builtin("isArray", func(args []Value) (Value, error) {
			_, ok := Arg(args, 0).(*Array)
			return ok, nil
		}),
		"from": Builtin("from", func(args []Value) (Value, error) {
			if arr, ok := Arg(args, 0).(*Array); ok {
				return NewArray(arr.Elements), nil
			}
			return NewArray(nil), nil
		}),
	}
	return fn
}

// ObjectNamespace builds the Object global.
func ObjectNamespace() *Function {
	fn := Builtin("Object", func(args []Value) (Value, error) {
		if o, ok := Arg(args, 0).(*Object); ok {
			return o, nil
		}
		return NewObject(), nil
	})
	fn.Props = map[string]Value{
		"keys": Builtin("keys", func(args []Value) (Value, error) {
			o, ok := Arg(args, 0).(*Object)
			if !ok {
				return NewArray(nil), nil
			}
			out := make([]Value, len(o.keys))
			for i, k := range o.Keys() {
				out[i] = k
			}
			return NewArray(out), nil
		}),
		"values": Builtin("values", func(args []Value) (Value, error) {
			o, ok := Arg(args, 0).(*Object)
			if !ok {
				return NewArray(nil), nil
			}
			out := make([]Value, 0, len(o.keys))
			for _, k := range o.Keys() {
				v, _ := o.Get(k)
				out = append(out, v)
			}
			return NewArray(out), nil
		}),
		"entries": Builtin("entries", func(args []Value) (Value, error) {
			o, ok := Arg(args, 0).(*Object)
			if !ok {
				return NewArray(nil), nil
			}
			out := make([]Value, 0, len(o.keys))
			for _, k := range o.Keys() {
				v, _ := o.Get(k)
				out = append(out, NewArray([]Value{k, v}))
			}
			return NewArray(out), nil
		}),
		"assign": Builtin("assign", func(args []Value) (Value, error) {
			target, ok := Arg(args, 0).(*Object)
			if !ok {
				target = NewObject()
			}
			for _, src := range args[1:] {
				if so, ok := src.(*Object); ok {
					for _, k := range so.Keys() {
						v, _ := so.Get(k)
						target.Set(k, v)
					}
				}
			}
			return target, nil
		}),
		"freeze": Builtin("freeze", func(args []Value) (Value, error) { return Arg(args, 0), nil }),
	}
	return fn
}

// StringNamespace builds the String conversion function.
func StringNamespace() *Function {
	return Builtin("String", func(args []Value) (Value, error) {
		return ToDisplayString(Arg(args, 0)), nil
	})
}

// NumberNamespace builds the Number conversion function plus its static
// constants.
func NumberNamespace() *Function {
	fn := Builtin("Number", func(args []Value) (Value, error) {
		return ToNumber(Arg(args, 0)), nil
	})
	fn.Props = map[string]Value{
		"isInteger": Builtin("isInteger", func(args []Value) (Value, error) {
			n, ok := Arg(args, 0).(float64)
			return ok && n == math.Trunc(n) && !math.IsInf(n, 0), nil
		}),
		"isFinite": Builtin("isFinite", func(args []Value) (Value, error) {
			n, ok := Arg(args, 0).(float64)
			return ok && !math.IsInf(n, 0) && !math.IsNaN(n), nil
		}),
		"parseFloat": Builtin("parseFloat", func(args []Value) (Value, error) {
			return ToNumber(Arg(args, 0)), nil
		}),
		"MAX_SAFE_INTEGER": float64(9007199254740991),
		"MIN_SAFE_INTEGER": float64(-9007199254740991),
	}
	return fn
}

// DateNamespace builds a minimal Date global. Real wall-clock access
// would make a script's output depend on when it happened to run, which
// the protocol has no field to record; Date.now is therefore pinned to
// the session's logical clock epoch rather than the host's real time.
func DateNamespace(nowMs func() int64) *Function {
	fn := Builtin("Date", func(args []Value) (Value, error) {
		return float64(nowMs()), nil
	})
	fn.Props = map[string]Value{
		"now": Builtin("now", func(args []Value) (Value, error) {
			return float64(nowMs()), nil
		}),
	}
	return fn
}

// ConsoleNamespace builds the console global PERMISSIVE presets expose;
// the log callback routes to the session's stdout event emitter so
// console output is still observed, not a free side channel. log can
// reject the write (e.g. the session's stdout budget is exhausted); that
// error propagates out of the builtin call exactly like any other host
// primitive failure, terminating the script rather than being silently
// dropped.
func ConsoleNamespace(log func(string) error) *Object {
	c := NewObject()
	emit := func(args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToDisplayString(a)
		}
		if log != nil {
			if err := log(strings.Join(parts, " ")); err != nil {
				return nil, err
			}
		}
		return Undefined, nil
	}
	c.Set("log", Builtin("log", emit))
	c.Set("warn", Builtin("warn", emit))
	c.Set("error", Builtin("error", emit))
	c.Set("info", Builtin("info", emit))
	return c
}

func arrayMember(arr *Array, prop string) (Value, error) {
	switch prop {
	case "length":
		return float64(len(arr.Elements)), nil
	case "push":
		return Builtin("push", func(args []Value) (Value, error) {
			arr.Elements = append(arr.Elements, args...)
			return float64(len(arr.Elements)), nil
		}), nil
	case "pop":
		return Builtin("pop", func(args []Value) (Value, error) {
			if len(arr.Elements) == 0 {
				return Undefined, nil
			}
			last := arr.Elements[len(arr.Elements)-1]
			arr.Elements = arr.Elements[:len(arr.Elements)-1]
			return last, nil
		}), nil
	case "includes":
		return Builtin("includes", func(args []Value) (Value, error) {
			target := Arg(args, 0)
			for _, e := range arr.Elements {
				if StrictEquals(e, target) {
					return true, nil
				}
			}
			return false, nil
		}), nil
	case "indexOf":
		return Builtin("indexOf", func(args []Value) (Value, error) {
			target := Arg(args, 0)
			for idx, e := range arr.Elements {
				if StrictEquals(e, target) {
					return float64(idx), nil
				}
			}
			return float64(-1), nil
		}), nil
	case "join":
		return Builtin("join", func(args []Value) (Value, error) {
			sep := ","
			if s, ok := Arg(args, 0).(string); ok {
				sep = s
			}
			parts := make([]string, len(arr.Elements))
			for i, e := range arr.Elements {
				parts[i] = ToDisplayString(e)
			}
			return strings.Join(parts, sep), nil
		}), nil
	case "slice":
		return Builtin("slice", func(args []Value) (Value, error) {
			start, end := sliceBounds(len(arr.Elements), args)
			return NewArray(arr.Elements[start:end]), nil
		}), nil
	case "concat":
		return Builtin("concat", func(args []Value) (Value, error) {
			out := append([]Value(nil), arr.Elements...)
			for _, a := range args {
				if sub, ok := a.(*Array); ok {
					out = append(out, sub.Elements...)
				} else {
					out = append(out, a)
				}
			}
			return NewArray(out), nil
		}), nil
	case "map":
		return Builtin("map", func(args []Value) (Value, error) {
			fn, ok := Arg(args, 0).(*Function)
			if !ok {
				return nil, fmt.Errorf("Array.prototype.map: argument is not callable")
			}
			out := make([]Value, len(arr.Elements))
			for idx, e := range arr.Elements {
				v, err := fn.Call([]Value{e, float64(idx)})
				if err != nil {
					return nil, err
				}
				out[idx] = v
			}
			return NewArray(out), nil
		}), nil
	case "filter":
		return Builtin("filter", func(args []Value) (Value, error) {
			fn, ok := Arg(args, 0).(*Function)
			if !ok {
				return nil, fmt.Errorf("Array.prototype.filter: argument is not callable")
			}
			var out []Value
			for idx, e := range arr.Elements {
				v, err := fn.Call([]Value{e, float64(idx)})
				if err != nil {
					return nil, err
				}
				if ToBoolean(v) {
					out = append(out, e)
				}
			}
			return NewArray(out), nil
		}), nil
	case "forEach":
		return Builtin("forEach", func(args []Value) (Value, error) {
			fn, ok := Arg(args, 0).(*Function)
			if !ok {
				return nil, fmt.Errorf("Array.prototype.forEach: argument is not callable")
			}
			for idx, e := range arr.Elements {
				if _, err := fn.Call([]Value{e, float64(idx)}); err != nil {
					return nil, err
				}
			}
			return Undefined, nil
		}), nil
	case "reduce":
		return Builtin("reduce", func(args []Value) (Value, error) {
			fn, ok := Arg(args, 0).(*Function)
			if !ok {
				return nil, fmt.Errorf("Array.prototype.reduce: argument is not callable")
			}
			items := arr.Elements
			var acc Value
			start := 0
			if len(args) > 1 {
				acc = args[1]
			} else {
				if len(items) == 0 {
					return nil, fmt.Errorf("Array.prototype.reduce: reduce of empty array with no initial value")
				}
				acc = items[0]
				start = 1
			}
			for idx := start; idx < len(items); idx++ {
				v, err := fn.Call([]Value{acc, items[idx], float64(idx)})
				if err != nil {
					return nil, err
				}
				acc = v
			}
			return acc, nil
		}), nil
	case "sort":
		return Builtin("sort", func(args []Value) (Value, error) {
			cmp, _ := Arg(args, 0).(*Function)
			sort.SliceStable(arr.Elements, func(a, b int) bool {
				if cmp != nil {
					v, err := cmp.Call([]Value{arr.Elements[a], arr.Elements[b]})
					if err == nil {
						return ToNumber(v) < 0
					}
				}
				return compare(arr.Elements[a], arr.Elements[b]) < 0
			})
			return arr, nil
		}), nil
	default:
		return Undefined, nil
	}
}

func sliceBounds(length int, args []Value) (int, int) {
	start, end := 0, length
	if len(args) > 0 {
		start = normalizeIndex(ToNumber(args[0]), length)
	}
	if len(args) > 1 {
		end = normalizeIndex(ToNumber(args[1]), length)
	}
	if end < start {
		end = start
	}
	return start, end
}

func normalizeIndex(n float64, length int) int {
	idx := int(n)
	if idx < 0 {
		idx += length
	}
	if idx < 0 {
		idx = 0
	}
	if idx > length {
		idx = length
	}
	return idx
}

func stringMember(s string, prop string) (Value, error) {
	switch prop {
	case "length":
		return float64(len(s)), nil
	case "toUpperCase":
		return Builtin("toUpperCase", func(args []Value) (Value, error) { return strings.ToUpper(s), nil }), nil
	case "toLowerCase":
		return Builtin("toLowerCase", func(args []Value) (Value, error) { return strings.ToLower(s), nil }), nil
	case "trim":
		return Builtin("trim", func(args []Value) (Value, error) { return strings.TrimSpace(s), nil }), nil
	case "includes":
		return Builtin("includes", func(args []Value) (Value, error) {
			sub, _ := Arg(args, 0).(string)
			return strings.Contains(s, sub), nil
		}), nil
	case "startsWith":
		return Builtin("startsWith", func(args []Value) (Value, error) {
			sub, _ := Arg(args, 0).(string)
			return strings.HasPrefix(s, sub), nil
		}), nil
	case "endsWith":
		return Builtin("endsWith", func(args []Value) (Value, error) {
			sub, _ := Arg(args, 0).(string)
			return strings.HasSuffix(s, sub), nil
		}), nil
	case "indexOf":
		return Builtin("indexOf", func(args []Value) (Value, error) {
			sub, _ := Arg(args, 0).(string)
			return float64(strings.Index(s, sub)), nil
		}), nil
	case "slice":
		return Builtin("slice", func(args []Value) (Value, error) {
			start, end := sliceBounds(len(s), args)
			return s[start:end], nil
		}), nil
	case "split":
		return Builtin("split", func(args []Value) (Value, error) {
			sep, _ := Arg(args, 0).(string)
			parts := strings.Split(s, sep)
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return NewArray(out), nil
		}), nil
	case "charAt":
		return Builtin("charAt", func(args []Value) (Value, error) {
			idx := int(ToNumber(Arg(args, 0)))
			if idx < 0 || idx >= len(s) {
				return "", nil
			}
			return string(s[idx]), nil
		}), nil
	case "concat":
		return Builtin("concat", func(args []Value) (Value, error) {
			var sb strings.Builder
			sb.WriteString(s)
			for _, a := range args {
				sb.WriteString(ToDisplayString(a))
			}
			return sb.String(), nil
		}), nil
	case "padStart":
		return Builtin("padStart", func(args []Value) (Value, error) {
			return padString(s, args, true), nil
		}), nil
	case "padEnd":
		return Builtin("padEnd", func(args []Value) (Value, error) {
			return padString(s, args, false), nil
		}), nil
	default:
		return Undefined, nil
	}
}

func padString(s string, args []Value, start bool) string {
	target := int(ToNumber(Arg(args, 0)))
	pad := " "
	if p, ok := Arg(args, 1).(string); ok && p != "" {
		pad = p
	}
	for len(s) < target {
		remaining := target - len(s)
		chunk := pad
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		if start {
			s = chunk + s
		} else {
			s = s + chunk
		}
	}
	return s
}
