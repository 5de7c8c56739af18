package preset

import "testing"

func TestStrictDefaults(t *testing.T) {
	p := NewBuilder(LevelStrict).Build()
	if p.Limits.MaxIterations != 1000 || p.Limits.TimeoutMs != 5000 {
		t.Fatalf("unexpected STRICT limits: %+v", p.Limits)
	}
	if p.RuleOpts.AllowedLoops["while"] {
		t.Fatal("STRICT must not allow while loops")
	}
	if !p.RuleOpts.AllowedLoops["for-of"] {
		t.Fatal("STRICT must allow for-of")
	}
}

func TestPermissiveAllowsConsole(t *testing.T) {
	p := NewBuilder(LevelPermissive).Build()
	if !p.RuleOpts.AllowedGlobals["console"] {
		t.Fatal("PERMISSIVE must allow console")
	}
	if p.Limits.MaxIterations != 100000 {
		t.Fatalf("unexpected PERMISSIVE maxIterations: %d", p.Limits.MaxIterations)
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	p := NewBuilder(LevelStandard).WithMaxIterations(42).WithTimeoutMs(99).Build()
	if p.Limits.MaxIterations != 42 || p.Limits.TimeoutMs != 99 {
		t.Fatalf("overrides not applied: %+v", p.Limits)
	}
}

func TestToolAllowlistPropagates(t *testing.T) {
	p := NewBuilder(LevelSecure).WithToolAllowlist("getUser", "listFiles").Build()
	if len(p.RuleOpts.ToolNameAllowlist) != 2 {
		t.Fatalf("expected 2 allowed tools, got %v", p.RuleOpts.ToolNameAllowlist)
	}
}

func TestBabelProfileSetsBudgets(t *testing.T) {
	p := NewBuilder(LevelSecure).WithProfile(ProfileBabel).Build()
	if p.BabelBytes == 0 || p.BabelFiles == 0 {
		t.Fatalf("expected non-zero Babel budgets, got %+v", p)
	}
}
