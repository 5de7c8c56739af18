// Package saferuntime builds the capability surface a rewritten script can
// actually call: the __safe_* primitives injected as globals into the
// evaluator, each enforcing a budget and the session's abort flag. This is
// the only part of the runtime a validated, rewritten script can use to
// reach the outside world.
package saferuntime

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentscript/internal/evaluator"
	"github.com/haasonsaas/agentscript/internal/script/preset"
)

// Host is the session-provided implementation backing the primitives
// below. The evaluator package itself knows nothing about sessions,
// channels, or brokers; this interface is the only seam between the
// interpreter's global scope and a running session.
type Host interface {
	// CallTool resolves a tool invocation. It blocks the calling
	// goroutine until the session receives the matching
	// tool_result_submit (or the context is cancelled), which is how
	// `await __safe_callTool(...)` suspends without a Promise type.
	CallTool(ctx context.Context, name string, args evaluator.Value) (evaluator.Value, error)

	// Parallel runs up to len(fns) closures with bounded concurrency,
	// each in its own goroutine, and returns their results in order.
	Parallel(ctx context.Context, fns []*evaluator.Function, maxConcurrency int) ([]evaluator.Value, error)

	// Log routes console.* output (PERMISSIVE preset only) to the
	// session's stdout event stream. It returns an error once the
	// session's stdout budget is exhausted, which aborts the script the
	// same way any other primitive failure does.
	Log(line string) error

	// NowMs returns the session's logical clock, in milliseconds since
	// the session started — the value Date.now() resolves to.
	NowMs() int64
}

// BuildGlobals compiles the top-level scope a rewritten program runs
// against: the pure builtins the preset's allow-list names, plus the
// __safe_* capability surface bound to host.
func BuildGlobals(ctx context.Context, p preset.Preset, host Host) evaluator.Globals {
	values := map[string]evaluator.Value{
		"Math":            evaluator.MathNamespace(),
		"JSON":            evaluator.JSONNamespace(),
		"Array":           evaluator.ArrayNamespace(),
		"Object":          evaluator.ObjectNamespace(),
		"String":          evaluator.StringNamespace(),
		"Number":          evaluator.NumberNamespace(),
		"Date":            evaluator.DateNamespace(host.NowMs),
		"undefined":       evaluator.Undefined,
		"__maxIterations": float64(p.Limits.MaxIterations),
	}

	if p.RuleOpts.AllowedGlobals["console"] {
		values["console"] = evaluator.ConsoleNamespace(host.Log)
		values["__safe_console"] = values["console"]
	}

	values["__safe_callTool"] = evaluator.Builtin("__safe_callTool", func(args []evaluator.Value) (evaluator.Value, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("__safe_callTool: missing tool name")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("__safe_callTool: tool name must be a string")
		}
		var toolArgs evaluator.Value = evaluator.NewObject()
		if len(args) > 1 {
			toolArgs = args[1]
		}
		result, err := host.CallTool(ctx, name, toolArgs)
		if err != nil {
			return nil, err
		}
		return evaluator.Sanitize(result, 0), nil
	})

	values["__safe_forOf"] = evaluator.Builtin("__safe_forOf", func(args []evaluator.Value) (evaluator.Value, error) {
		v := evaluator.Arg(args, 0)
		if arr, ok := v.(*evaluator.Array); ok {
			return arr, nil
		}
		return nil, fmt.Errorf("__safe_forOf: value is not iterable")
	})

	values["__safe_concat"] = evaluator.Builtin("__safe_concat", func(args []evaluator.Value) (evaluator.Value, error) {
		var out string
		for _, a := range args {
			if _, isRef := a.(evaluator.ReferenceID); isRef {
				return nil, fmt.Errorf("__safe_concat: reference handles cannot be concatenated")
			}
			out += evaluator.ToDisplayString(a)
		}
		return out, nil
	})

	values["__safe_template"] = evaluator.Builtin("__safe_template", func(args []evaluator.Value) (evaluator.Value, error) {
		if len(args) == 0 {
			return "", nil
		}
		quasis, ok := args[0].(*evaluator.Array)
		if !ok {
			return nil, fmt.Errorf("__safe_template: first argument must be the quasi-literal array")
		}
		exprs := args[1:]
		var out string
		for i, q := range quasis.Elements {
			out += evaluator.ToDisplayString(q)
			if i < len(exprs) {
				if _, isRef := exprs[i].(evaluator.ReferenceID); isRef {
					return nil, fmt.Errorf("__safe_template: reference handles cannot be interpolated")
				}
				out += evaluator.ToDisplayString(exprs[i])
			}
		}
		return out, nil
	})

	values["__safe_parallel"] = evaluator.Builtin("__safe_parallel", func(args []evaluator.Value) (evaluator.Value, error) {
		arr, ok := evaluator.Arg(args, 0).(*evaluator.Array)
		if !ok {
			return nil, fmt.Errorf("__safe_parallel: first argument must be an array of functions")
		}
		maxConcurrency := len(arr.Elements)
		if n, ok := evaluator.Arg(args, 1).(float64); ok && n > 0 {
			maxConcurrency = int(n)
		}
		fns := make([]*evaluator.Function, 0, len(arr.Elements))
		for _, e := range arr.Elements {
			fn, ok := e.(*evaluator.Function)
			if !ok {
				return nil, fmt.Errorf("__safe_parallel: every element must be a function")
			}
			fns = append(fns, fn)
		}
		results, err := host.Parallel(ctx, fns, maxConcurrency)
		if err != nil {
			return nil, err
		}
		out := make([]evaluator.Value, len(results))
		copy(out, results)
		return evaluator.NewArray(out), nil
	})

	return evaluator.Globals{Values: values}
}
