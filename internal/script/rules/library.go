package rules

// DefaultRuleSet returns the full rule library in a fixed declaration
// order. Preset profiles disable individual rules via Options rather than
// reordering or omitting them from the engine, so that issue ordering is
// stable across presets.
func DefaultRuleSet() []Rule {
	return []Rule{
		NoEval,
		DisallowedIdentifier,
		NoGlobalAccess,
		ForbiddenLoop,
		InfiniteLoop,
		ResourceExhaustion,
		NoJSONCallbacks,
		NoRegex,
		NoUserDefinedFunctions,
		ReservedPrefix,
		StaticCallTarget,
		CallArgValidation,
		NoComputedDestructuring,
		UnreachableCode,
		RequiredFunctionCall,
	}
}
