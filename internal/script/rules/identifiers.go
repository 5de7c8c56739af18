package rules

import "github.com/haasonsaas/agentscript/internal/script/ast"

// evalIdentifiers are names that, when referenced, grant arbitrary code
// execution or string-to-code evaluation.
var evalIdentifiers = map[string]bool{
	"eval": true, "Function": true, "AsyncFunction": true, "GeneratorFunction": true,
}

// blacklistedIdentifiers is the DISALLOWED_IDENTIFIER blacklist: host
// capabilities, prototype-chain escapes, and anything that could reach
// them indirectly.
var blacklistedIdentifiers = map[string]bool{
	"process": true, "require": true, "module": true, "Buffer": true,
	"arguments": true, "RegExp": true, "Promise": true, "Symbol": true,
	"Reflect": true, "Proxy": true, "Error": true, "TypeError": true,
	"RangeError": true, "SyntaxError": true, "ReferenceError": true,
	"EvalError": true, "URIError": true, "fetch": true, "WebSocket": true,
	"localStorage": true, "sessionStorage": true, "crypto": true,
	"performance": true, "structuredClone": true, "AbortController": true,
	"MessageChannel": true, "MessagePort": true, "Intl": true,
	"setTimeout": true, "setInterval": true, "clearTimeout": true, "clearInterval": true,
	"WebAssembly": true, "Worker": true, "SharedWorker": true,
	"WeakMap": true, "WeakSet": true, "WeakRef": true,
	"FinalizationRegistry": true, "Map": true, "Set": true,
	"Atomics": true, "SharedArrayBuffer": true, "importScripts": true,
	"ShadowRealm": true, "Iterator": true, "AsyncIterator": true,
	"constructor": true, "__proto__": true, "prototype": true,
}

// globalObjectNames are the bare identifiers that denote the global
// object itself, rejected by NO_GLOBAL_ACCESS regardless of the
// allow-list (a script must never hold a reference to the global object).
var globalObjectNames = map[string]bool{
	"window": true, "globalThis": true, "self": true, "global": true, "this": true,
}

// NoEval rejects eval/Function-family identifiers and
// setTimeout/setInterval called with a string first argument.
var NoEval = Rule{
	Code: "NO_EVAL", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "identifier":
				if evalIdentifiers[n.Text()] {
					ctx.Issue("NO_EVAL", SeverityError, "reference to "+n.Text()+" is forbidden", n, nil)
				}
			case "call_expression":
				callee := n.FieldChild("function")
				if callee.IsZero() && n.ChildCount() > 0 {
					callee = n.Child(0)
				}
				name := calleeName(callee)
				if name == "setTimeout" || name == "setInterval" {
					args := n.FieldChild("arguments")
					if args.IsZero() && n.ChildCount() > 1 {
						args = n.Child(1)
					}
					if args.ChildCount() > 0 && args.Child(0).Kind() == "string" {
						ctx.Issue("NO_EVAL", SeverityError, name+" called with a string body is forbidden", n, nil)
					}
				}
			}
			return true
		})
	},
}

func calleeName(n ast.Node) string {
	if n.Kind() == "identifier" {
		return n.Text()
	}
	return ""
}

// DisallowedIdentifier rejects references to the host-capability
// blacklist: bare identifiers, static member names, and computed keys
// whose string value is statically resolvable.
var DisallowedIdentifier = Rule{
	Code: "DISALLOWED_IDENTIFIER", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "identifier":
				if blacklistedIdentifiers[n.Text()] {
					ctx.Issue("DISALLOWED_IDENTIFIER", SeverityError, "reference to "+n.Text()+" is forbidden", n, nil)
				}
			case "member_expression":
				prop := n.FieldChild("property")
				if prop.IsZero() && n.ChildCount() > 1 {
					prop = n.Child(1)
				}
				if prop.Kind() == "property_identifier" && blacklistedIdentifiers[prop.Text()] {
					ctx.Issue("DISALLOWED_IDENTIFIER", SeverityError, "access to property "+prop.Text()+" is forbidden", n, nil)
				}
			case "subscript_expression":
				index := n.FieldChild("index")
				if index.IsZero() && n.ChildCount() > 1 {
					index = n.Child(1)
				}
				for _, v := range resolveStaticStrings(index) {
					if blacklistedIdentifiers[v] {
						ctx.Issue("DISALLOWED_IDENTIFIER", SeverityError, "computed access to "+v+" is forbidden", n, map[string]any{"resolved": v})
						break
					}
				}
			}
			return true
		})
	},
}

// NoGlobalAccess rejects bare references and member/computed access on
// the global object under any of its names.
var NoGlobalAccess = Rule{
	Code: "NO_GLOBAL_ACCESS", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			switch n.Kind() {
			case "identifier", "this":
				name := n.Text()
				if n.Kind() == "this" {
					name = "this"
				}
				if globalObjectNames[name] {
					ctx.Issue("NO_GLOBAL_ACCESS", SeverityError, "reference to "+name+" is forbidden", n, nil)
				}
			}
			return true
		})
	},
}

// ReservedPrefix rejects user identifiers starting with the rewriter's
// and runtime's reserved prefixes.
var ReservedPrefix = Rule{
	Code: "RESERVED_PREFIX", Severity: SeverityError, DefaultEnabled: true,
	Visit: func(root ast.Node, ctx *ValidationContext) {
		root.Walk(func(n ast.Node) bool {
			if n.Kind() != "identifier" {
				return true
			}
			name := n.Text()
			if name == "__ag_main" {
				return true
			}
			if hasReservedPrefix(name) {
				ctx.Issue("RESERVED_PREFIX", SeverityError, "identifier "+name+" uses a reserved prefix", n, nil)
			}
			return true
		})
	},
}

func hasReservedPrefix(name string) bool {
	return len(name) >= 5 && (name[:5] == "__ag_" || (len(name) >= 7 && name[:7] == "__safe_"))
}
