// Package rules implements the static AST guard: a rule engine that walks
// a parsed script once per rule and a library of rules that together
// define the allowed JavaScript subset. Any construct not explicitly
// allowed is rejected.
package rules

import (
	"github.com/haasonsaas/agentscript/internal/script/ast"
)

// Severity classifies a ValidationIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is a single finding reported by a rule.
type ValidationIssue struct {
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Location *ast.Position  `json:"location,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Report is the sink a rule's visit function writes issues to.
type Report interface {
	Issue(code string, severity Severity, message string, loc *ast.Position, data map[string]any)
}

// Options carries the preset-derived configuration a rule needs: allowed
// globals, loop policy, resource thresholds, and per-rule enable flags.
// Rules treat Options as read-only input; the same tree + same Options
// always produces the same reports.
type Options struct {
	// AllowedGlobals is the set of bare identifiers a script may reference
	// without triggering DISALLOWED_IDENTIFIER/NO_GLOBAL_ACCESS.
	AllowedGlobals map[string]bool
	// AllowedLoops enumerates which of for/while/do-while/for-in/for-of
	// the preset permits at all (FORBIDDEN_LOOP).
	AllowedLoops map[string]bool
	// UnboundedLoopsAllowed controls whether while/do-while/unbounded-for
	// are permitted when instrumented with a runtime counter (STANDARD and
	// above); STRICT and SECURE keep this false and additionally reject
	// any loop the rewriter cannot statically recognize as bounded.
	UnboundedLoopsAllowed bool
	// AllowArrowFunctions permits arrow function expressions even though
	// NO_USER_DEFINED_FUNCTIONS otherwise rejects function declarations
	// and expressions.
	AllowArrowFunctions bool
	// ToolNameAllowlist optionally restricts STATIC_CALL_TARGET's accepted
	// literal tool names to an exact-match or regex allowlist. Empty means
	// any string literal is accepted as a call target.
	ToolNameAllowlist []string
	// ResourceThresholds bounds the exponent/length checks in
	// RESOURCE_EXHAUSTION.
	Resource ResourceThresholds
	// RequiredCalls lists function names that must each be called at
	// least the given number of times (REQUIRED_FUNCTION_CALL).
	RequiredCalls map[string]int
	// DisabledRules turns off rules by code, for tests and for profiles
	// (e.g. Babel) that relax a specific check.
	DisabledRules map[string]bool
}

// ResourceThresholds bounds the values RESOURCE_EXHAUSTION treats as safe.
type ResourceThresholds struct {
	MaxBigIntExponent int64
	MaxArrayLength    int64
	MaxRepeatCount    int64
}

// DefaultResourceThresholds mirrors the guard-coverage examples in the
// specification (2n ** 100001n, new Array(2000001), 'x'.repeat(200000)).
func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{
		MaxBigIntExponent: 100000,
		MaxArrayLength:    2000000,
		MaxRepeatCount:    100000,
	}
}

// ValidationContext is passed to every rule's visit function.
type ValidationContext struct {
	Source []byte
	Opts   Options
	report Report
}

func (c *ValidationContext) Issue(code string, severity Severity, message string, n ast.Node, data map[string]any) {
	var loc *ast.Position
	if !n.IsZero() {
		p := n.Start()
		loc = &p
	}
	c.report.Issue(code, severity, message, loc, data)
}

// Rule is a named, pure predicate over the syntax tree. The same tree and
// the same Options always produce the same reports.
type Rule struct {
	Code           string
	Severity       Severity
	DefaultEnabled bool
	Visit          func(root ast.Node, ctx *ValidationContext)
}

// ValidationResult aggregates every rule's findings for one tree.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

type collectingReport struct {
	issues []ValidationIssue
}

func (r *collectingReport) Issue(code string, severity Severity, message string, loc *ast.Position, data map[string]any) {
	r.issues = append(r.issues, ValidationIssue{Code: code, Severity: severity, Message: message, Location: loc, Data: data})
}

// Engine walks the tree once per rule, in the rule set's declaration
// order, and aggregates the results.
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine from an ordered rule set.
func NewEngine(ruleSet []Rule) *Engine {
	// Declaration order is the contract; copy defensively so callers can't
	// mutate the engine's rule order after construction.
	cp := make([]Rule, len(ruleSet))
	copy(cp, ruleSet)
	return &Engine{rules: cp}
}

// Validate runs every enabled rule over root and returns the aggregated
// result. Issues are reported in rule-declaration order, and within a
// rule, in tree-traversal order (guaranteed by each rule visiting the
// tree top-down).
func (e *Engine) Validate(root ast.Node, source []byte, opts Options) ValidationResult {
	rep := &collectingReport{}
	ctx := &ValidationContext{Source: source, Opts: opts, report: rep}

	for _, r := range e.rules {
		if opts.DisabledRules[r.Code] {
			continue
		}
		if !r.DefaultEnabled && !isExplicitlyEnabled(opts, r.Code) {
			continue
		}
		r.Visit(root, ctx)
	}

	valid := true
	for _, iss := range rep.issues {
		if iss.Severity == SeverityError {
			valid = false
			break
		}
	}

	return ValidationResult{Valid: valid, Issues: rep.issues}
}

func isExplicitlyEnabled(opts Options, code string) bool {
	// Non-default rules (currently only REQUIRED_FUNCTION_CALL) are enabled
	// by supplying configuration for them.
	if code == "REQUIRED_FUNCTION_CALL" {
		return len(opts.RequiredCalls) > 0
	}
	return false
}
