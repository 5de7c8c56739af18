// Package preset builds a rule-engine Options and rewriter allow-list per
// security level (STRICT/SECURE/STANDARD/PERMISSIVE) and per profile
// (AgentScript, Babel), using an explicit builder rather than implicit
// global state, as the specification's design notes require.
package preset

import "github.com/haasonsaas/agentscript/internal/script/rules"

// Level is one of the four security levels.
type Level string

const (
	LevelStrict     Level = "STRICT"
	LevelSecure     Level = "SECURE"
	LevelStandard   Level = "STANDARD"
	LevelPermissive Level = "PERMISSIVE"
)

// Profile distinguishes the plain AgentScript subset from the Babel
// profile, which additionally budgets transform input size.
type Profile string

const (
	ProfileAgentScript Profile = "agentscript"
	ProfileBabel       Profile = "babel"
)

// Limits are the per-level defaults for the session's resource budget
// (spec.md §6's defaults table).
type Limits struct {
	MaxIterations int64
	TimeoutMs     int64
}

// Preset is the compiled, immutable configuration for one (level,
// profile) pair: the rule-engine Options it hands to the guard, the
// rewriter allow-list, and the session's default Limits.
type Preset struct {
	Level      Level
	Profile    Profile
	RuleOpts   rules.Options
	Limits     Limits
	BabelBytes int64 // 0 unless Profile == ProfileBabel
	BabelFiles int
}

// corePureGlobals are allowed at every security level: pure, side-effect
// free builtins plus the runtime's own safe-primitive/loop-budget names.
// callTool is deliberately absent: it is not a JS builtin, so the
// rewriter's whitelist-mode rename turns every reference to it into
// __safe_callTool, the only name the runtime actually defines.
var corePureGlobals = []string{
	"Math", "JSON", "Array", "Object", "String", "Number", "Date",
	"NaN", "Infinity", "undefined",
	"__maxIterations",
}

// Builder composes a Preset explicitly; no field is implied by package
// state, matching the specification's "builders over variadic config"
// design note.
type Builder struct {
	level               Level
	profile             Profile
	extraGlobals        []string
	toolAllowlist       []string
	requiredCalls       map[string]int
	maxIterationsOverride int64
	timeoutMsOverride     int64
}

// NewBuilder starts a Preset builder for the given level.
func NewBuilder(level Level) *Builder {
	return &Builder{level: level, profile: ProfileAgentScript}
}

// WithProfile sets the profile (AgentScript or Babel).
func (b *Builder) WithProfile(p Profile) *Builder { b.profile = p; return b }

// WithExtraGlobals allows additional bare identifiers beyond the level's
// defaults (e.g. "console" for PERMISSIVE callers that want it even
// though PERMISSIVE's own default already includes it).
func (b *Builder) WithExtraGlobals(names ...string) *Builder {
	b.extraGlobals = append(b.extraGlobals, names...)
	return b
}

// WithToolAllowlist restricts STATIC_CALL_TARGET's accepted literal tool
// names.
func (b *Builder) WithToolAllowlist(names ...string) *Builder {
	b.toolAllowlist = append(b.toolAllowlist, names...)
	return b
}

// WithRequiredCall enables REQUIRED_FUNCTION_CALL for the given function
// name and minimum call count.
func (b *Builder) WithRequiredCall(name string, min int) *Builder {
	if b.requiredCalls == nil {
		b.requiredCalls = map[string]int{}
	}
	b.requiredCalls[name] = min
	return b
}

// WithMaxIterations overrides the level's default maxIterations.
func (b *Builder) WithMaxIterations(n int64) *Builder { b.maxIterationsOverride = n; return b }

// WithTimeoutMs overrides the level's default timeoutMs.
func (b *Builder) WithTimeoutMs(ms int64) *Builder { b.timeoutMsOverride = ms; return b }

// Build compiles the Preset.
func (b *Builder) Build() Preset {
	globals := map[string]bool{}
	for _, g := range corePureGlobals {
		globals[g] = true
	}

	var allowedLoops map[string]bool
	var unbounded bool
	var limits Limits
	allowArrows := true

	switch b.level {
	case LevelStrict:
		allowedLoops = map[string]bool{"for-of": true}
		unbounded = false
		limits = Limits{MaxIterations: 1000, TimeoutMs: 5000}
	case LevelSecure:
		allowedLoops = map[string]bool{"for-of": true, "for": true}
		unbounded = false
		limits = Limits{MaxIterations: 5000, TimeoutMs: 15000}
	case LevelStandard:
		allowedLoops = map[string]bool{"for-of": true, "for": true, "while": true, "do-while": true}
		unbounded = true
		limits = Limits{MaxIterations: 10000, TimeoutMs: 30000}
	case LevelPermissive:
		allowedLoops = map[string]bool{"for-of": true, "for": true, "while": true, "do-while": true, "for-in": true}
		unbounded = true
		limits = Limits{MaxIterations: 100000, TimeoutMs: 60000}
		globals["console"] = true
		globals["__safe_console"] = true
	default:
		allowedLoops = map[string]bool{"for-of": true}
		limits = Limits{MaxIterations: 1000, TimeoutMs: 5000}
	}

	for _, g := range b.extraGlobals {
		globals[g] = true
	}

	if b.maxIterationsOverride > 0 {
		limits.MaxIterations = b.maxIterationsOverride
	}
	if b.timeoutMsOverride > 0 {
		limits.TimeoutMs = b.timeoutMsOverride
	}

	p := Preset{
		Level:   b.level,
		Profile: b.profile,
		RuleOpts: rules.Options{
			AllowedGlobals:        globals,
			AllowedLoops:          allowedLoops,
			UnboundedLoopsAllowed: unbounded,
			AllowArrowFunctions:   allowArrows,
			ToolNameAllowlist:     b.toolAllowlist,
			Resource:              rules.DefaultResourceThresholds(),
			RequiredCalls:         b.requiredCalls,
		},
		Limits: limits,
	}

	if b.profile == ProfileBabel {
		p.BabelBytes = babelByteBudget(b.level)
		p.BabelFiles = babelFileBudget(b.level)
	}

	return p
}

func babelByteBudget(level Level) int64 {
	switch level {
	case LevelStrict:
		return 64 * 1024
	case LevelSecure:
		return 256 * 1024
	case LevelStandard:
		return 1024 * 1024
	default:
		return 4 * 1024 * 1024
	}
}

func babelFileBudget(level Level) int {
	switch level {
	case LevelStrict:
		return 1
	case LevelSecure:
		return 4
	case LevelStandard:
		return 16
	default:
		return 64
	}
}

// AllowListNames returns the compiled allow-list as a slice, used by the
// rewriter's whitelist-mode identifier rename pass.
func (p Preset) AllowListNames() map[string]bool { return p.RuleOpts.AllowedGlobals }
