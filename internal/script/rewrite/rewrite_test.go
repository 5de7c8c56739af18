package rewrite

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentscript/internal/script/ast"
	"github.com/haasonsaas/agentscript/internal/script/preset"
)

func rewriteSource(t *testing.T, source string, p preset.Preset) *Result {
	t.Helper()
	tree, err := ast.Parse(context.Background(), []byte(source))
	if err != nil {
		t.Fatalf("parse(%q) failed: %v", source, err)
	}
	defer tree.Close()
	res, err := Rewrite(context.Background(), tree, p)
	if err != nil {
		t.Fatalf("rewrite(%q) failed: %v", source, err)
	}
	return res
}

func TestRewriterRoundTripHappyPath(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStrict).Build()
	res := rewriteSource(t, "return 2 + 2;", p)
	defer res.Tree.Close()

	if res.Tree.HasError() {
		t.Fatalf("rewritten source does not parse cleanly: %s", res.Source)
	}

	var fnNames []string
	res.Tree.Root().Walk(func(n ast.Node) bool {
		if n.Kind() == "function_declaration" {
			name := n.FieldChild("name")
			if name.IsZero() && n.ChildCount() > 0 {
				name = n.Child(0)
			}
			fnNames = append(fnNames, name.Text())
		}
		return true
	})
	if len(fnNames) != 1 || fnNames[0] != "__ag_main" {
		t.Fatalf("expected exactly one top-level function __ag_main, got %v", fnNames)
	}
}

func TestRewriterWhitelistCoverage(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStandard).Build()
	res := rewriteSource(t, `
		const items = getItems();
		let total = 0;
		for (const x of items) {
			total = total + x.value;
		}
		return total;
	`, p)
	defer res.Tree.Close()

	allow := p.AllowListNames()
	res.Tree.Root().Walk(func(n ast.Node) bool {
		if n.Kind() != "identifier" {
			return true
		}
		name := n.Text()
		if name == "__ag_main" || allow[name] || strings.HasPrefix(name, "__safe_") {
			return true
		}
		t.Errorf("identifier %q escaped the whitelist rename", name)
		return true
	})
}

func TestRewriterInstrumentsForOf(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStrict).Build()
	res := rewriteSource(t, `for (const x of items) { sink(x); }`, p)
	defer res.Tree.Close()
	if !strings.Contains(string(res.Source), "__safe_forOf(") {
		t.Fatalf("expected __safe_forOf wrapping, got: %s", res.Source)
	}
}

func TestRewriterInstrumentsWhileLoop(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStandard).Build()
	res := rewriteSource(t, `let i = 0; while (i < 10) { i = i + 1; }`, p)
	defer res.Tree.Close()
	src := string(res.Source)
	if !strings.Contains(src, "__maxIterations") {
		t.Fatalf("expected an iteration-limit check, got: %s", src)
	}
	if !strings.Contains(src, "__safe_iter1") {
		t.Fatalf("expected a per-loop counter, got: %s", src)
	}
}

func TestRewriterHandlesTopLevelAwait(t *testing.T) {
	p := preset.NewBuilder(preset.LevelStandard).Build()
	res := rewriteSource(t, `const u = await callTool('getUser', {id:1}); return u.name;`, p)
	defer res.Tree.Close()
	src := string(res.Source)
	if !strings.Contains(src, "__safe_callTool(") {
		t.Fatalf("expected callTool to be renamed to __safe_callTool, got: %s", src)
	}
	if strings.Count(src, "async function __ag_main") != 1 {
		t.Fatalf("expected exactly one __ag_main wrapper, got: %s", src)
	}
}
