package saferuntime

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentscript/internal/evaluator"
	"github.com/haasonsaas/agentscript/internal/script/ast"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/internal/script/rewrite"
)

type fakeHost struct {
	calls []string
	tool  func(name string, args evaluator.Value) (evaluator.Value, error)
	lines []string
}

func (h *fakeHost) CallTool(ctx context.Context, name string, args evaluator.Value) (evaluator.Value, error) {
	h.calls = append(h.calls, name)
	if h.tool != nil {
		return h.tool(name, args)
	}
	return evaluator.Undefined, nil
}

func (h *fakeHost) Parallel(ctx context.Context, fns []*evaluator.Function, maxConcurrency int) ([]evaluator.Value, error) {
	out := make([]evaluator.Value, len(fns))
	for i, fn := range fns {
		v, err := fn.Call(nil)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *fakeHost) Log(line string) error {
	h.lines = append(h.lines, line)
	return nil
}

func (h *fakeHost) NowMs() int64 { return 0 }

func runSource(t *testing.T, source string, p preset.Preset, host Host) (evaluator.Value, error) {
	t.Helper()
	tree, err := ast.Parse(context.Background(), []byte(source))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	defer tree.Close()

	res, err := rewrite.Rewrite(context.Background(), tree, p)
	if err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	defer res.Tree.Close()

	ctx := context.Background()
	globals := BuildGlobals(ctx, p, host)
	interp := evaluator.New(ctx)
	return interp.Run(res.Tree, globals)
}

func TestRunSimpleArithmetic(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStrict).Build()
	v, err := runSource(t, "return 2 + 2 * 10;", p, &fakeHost{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != float64(22) {
		t.Fatalf("expected 22, got %v", v)
	}
}

func TestRunForOfSumsArray(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStandard).Build()
	host := &fakeHost{tool: func(name string, args evaluator.Value) (evaluator.Value, error) {
		items := evaluator.NewArray([]evaluator.Value{
			objectWith(map[string]evaluator.Value{"value": float64(1)}),
			objectWith(map[string]evaluator.Value{"value": float64(2)}),
			objectWith(map[string]evaluator.Value{"value": float64(3)}),
		})
		return items, nil
	}}
	v, err := runSource(t, `
		const items = await callTool('listItems', {});
		let total = 0;
		for (const x of items) {
			total = total + x.value;
		}
		return total;
	`, p, host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != float64(6) {
		t.Fatalf("expected 6, got %v", v)
	}
	if len(host.calls) != 1 || host.calls[0] != "listItems" {
		t.Fatalf("expected exactly one listItems call, got %v", host.calls)
	}
}

func objectWith(fields map[string]evaluator.Value) *evaluator.Object {
	o := evaluator.NewObject()
	for k, v := range fields {
		o.Set(k, v)
	}
	return o
}

func TestRunCallToolPassesArgsAndSanitizesResult(t *testing.T) {
	p := preset.NewBuilder(preset.LevelSecure).Build()
	var seenArgs evaluator.Value
	host := &fakeHost{tool: func(name string, args evaluator.Value) (evaluator.Value, error) {
		seenArgs = args
		return map[string]any{"name": "Ada"}, nil
	}}
	v, err := runSource(t, `
		const u = await callTool('getUser', {id: 1});
		return u.name;
	`, p, host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "Ada" {
		t.Fatalf("expected Ada, got %v", v)
	}
	obj, ok := seenArgs.(*evaluator.Object)
	if !ok {
		t.Fatalf("expected tool args to be an object, got %T", seenArgs)
	}
	if id, _ := obj.Get("id"); id != float64(1) {
		t.Fatalf("expected id=1, got %v", id)
	}
}

func TestRunWhileLoopRespectsInjectedIterationLimit(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStandard).WithMaxIterations(3).Build()
	_, err := runSource(t, `
		let i = 0;
		while (true) {
			i = i + 1;
		}
		return i;
	`, p, &fakeHost{})
	if err == nil {
		t.Fatal("expected the injected iteration-limit check to throw")
	}
	thrown, ok := err.(*evaluator.ThrownValue)
	if !ok {
		t.Fatalf("expected a *evaluator.ThrownValue, got %T: %v", err, err)
	}
	if s, ok := thrown.Value.(string); !ok || s == "" {
		t.Fatalf("expected a non-empty thrown string message, got %v", thrown.Value)
	}
}

func TestRunConsoleLogRoutesToHostWhenPermissive(t *testing.T) {
	p := preset.NewBuilder(preset.LevelPermissive).Build()
	host := &fakeHost{}
	_, err := runSource(t, `console.log('hello', 42);`, p, host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(host.lines) != 1 || host.lines[0] != "hello 42" {
		t.Fatalf("expected one log line 'hello 42', got %v", host.lines)
	}
}

func TestRunTemplateLiteral(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStrict).Build()
	v, err := runSource(t, "const name = 'world'; return `hello ${name}!`;", p, &fakeHost{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "hello world!" {
		t.Fatalf("expected 'hello world!', got %v", v)
	}
}
