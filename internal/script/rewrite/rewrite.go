// Package rewrite implements the source-to-safe rewriter: three passes
// over a validated tree that together produce source calling only
// runtime-provided __safe_* primitives, wrapped in a single async entry
// point.
package rewrite

import (
	"context"
	"fmt"
	"sort"

	"github.com/haasonsaas/agentscript/internal/script/ast"
	"github.com/haasonsaas/agentscript/internal/script/preset"
)

// Result is the rewriter's output: the rewritten source text and the new
// parsed tree it produces (callers should Close the tree when done).
type Result struct {
	Source []byte
	Tree   *ast.Tree
}

// edit is a single byte-range replacement. Edits are collected during a
// single top-down walk and applied in one pass, back to front, so earlier
// byte offsets stay valid.
type edit struct {
	start, end int
	text       string
}

// Rewrite runs all three passes over tree and returns the new source and
// its freshly-parsed tree. tree must already have passed validation under
// p; Rewrite does not re-validate.
func Rewrite(ctx context.Context, tree *ast.Tree, p preset.Preset) (*Result, error) {
	edits := identifierRenameEdits(tree.Root(), p.AllowListNames())
	edits = append(edits, loopInstrumentationEdits(tree.Root())...)
	edits = append(edits, trailingReturnEdit(tree)...)

	instrumented := applyEdits(tree.Source, edits)
	wrapped := wrapMain(instrumented, tree)

	newTree, err := ast.Parse(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("rewrite produced unparseable source: %w", err)
	}
	return &Result{Source: wrapped, Tree: newTree}, nil
}

// identifierRenameEdits implements pass 1: whitelist-mode identifier
// rename. Every "identifier" node (not a property name) whose text is not
// in allow is renamed to "__safe_" + name.
func identifierRenameEdits(root ast.Node, allow map[string]bool) []edit {
	var edits []edit
	root.Walk(func(n ast.Node) bool {
		if n.Kind() != "identifier" {
			return true
		}
		name := n.Text()
		if allow[name] || hasSafePrefix(name) || name == "__tmp" || name == "__ag_main" {
			return true
		}
		edits = append(edits, edit{start: n.StartByte(), end: n.EndByte(), text: "__safe_" + name})
		return true
	})
	return edits
}

func hasSafePrefix(name string) bool {
	return len(name) >= 7 && name[:7] == "__safe_"
}

// loopInstrumentationEdits implements pass 2: for-of iterables are
// wrapped in __safe_forOf(...); for/while/do-while loops get a fresh
// per-loop counter declared before the loop and an over-limit check
// injected as the body's first statement.
func loopInstrumentationEdits(root ast.Node) []edit {
	var edits []edit
	counter := 0

	root.Walk(func(n ast.Node) bool {
		switch n.Kind() {
		case "for_in_statement":
			if isForOfNode(n) {
				if iterable := forOfIterable(n); !iterable.IsZero() {
					edits = append(edits,
						edit{start: iterable.StartByte(), end: iterable.StartByte(), text: "__safe_forOf("},
						edit{start: iterable.EndByte(), end: iterable.EndByte(), text: ")"},
					)
				}
			}
			return true

		case "for_statement", "while_statement", "do_statement":
			counter++
			name := fmt.Sprintf("__safe_iter%d", counter)
			edits = append(edits, edit{start: n.StartByte(), end: n.StartByte(), text: "let " + name + " = 0;\n"})

			body := loopBody(n)
			check := fmt.Sprintf("if (++%s > __maxIterations) throw 'Maximum iteration limit exceeded for loop %d';", name, counter)
			if body.Kind() == "statement_block" {
				insertAt := body.StartByte() + 1 // just after "{"
				edits = append(edits, edit{start: insertAt, end: insertAt, text: "\n" + check})
			} else if !body.IsZero() {
				edits = append(edits,
					edit{start: body.StartByte(), end: body.StartByte(), text: "{\n" + check + "\n"},
					edit{start: body.EndByte(), end: body.EndByte(), text: "\n}"},
				)
			}
		}
		return true
	})
	return edits
}

func loopBody(n ast.Node) ast.Node {
	if b := n.FieldChild("body"); !b.IsZero() {
		return b
	}
	if n.ChildCount() > 0 {
		return n.Child(n.ChildCount() - 1)
	}
	return ast.Node{}
}

func forOfIterable(n ast.Node) ast.Node {
	if r := n.FieldChild("right"); !r.IsZero() {
		return r
	}
	if n.ChildCount() >= 2 {
		return n.Child(1)
	}
	return ast.Node{}
}

func isForOfNode(n ast.Node) bool {
	// Mirrors rules.classifyLoop's approach: scan the header text for a
	// standalone "of" keyword, since for-in and for-of share one grammar
	// node in tree-sitter-javascript.
	text := n.Text()
	depth := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 1 && i+2 <= len(text) && text[i:i+2] == "of" {
			before := i == 0 || isWordByte(text[i-1])
			after := i+2 >= len(text) || isWordByte(text[i+2])
			if !before && !after {
				return true
			}
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// trailingReturnEdit produces the byte-range edit that turns a trailing
// top-level expression statement into a return statement, preserving
// implicit-return semantics. Folded into the same edit list as the
// renamer and loop instrumentation so offsets stay consistent with the
// original tree throughout a single applyEdits pass.
func trailingReturnEdit(tree *ast.Tree) []edit {
	stmts := topLevelStatements(tree)
	if len(stmts) == 0 {
		return nil
	}
	last := stmts[len(stmts)-1]
	if last.Kind() != "expression_statement" {
		return nil
	}
	return []edit{{start: last.StartByte(), end: last.StartByte(), text: "return "}}
}

// wrapMain implements the second half of pass 3: wrap the (already
// trailing-return-adjusted) program in "async function __ag_main() {
// ... }". tree.Wrapped tells us whether instrumented already carries the
// parser's own "async function __tmp(){...}" wrap, in which case only the
// synthetic name needs renaming.
func wrapMain(instrumented []byte, tree *ast.Tree) []byte {
	if tree.Wrapped == ast.SourceWrapped {
		// instrumented already reads "async function __tmp(){ <body> }";
		// just rename the synthetic wrapper to __ag_main.
		return renameTmpToMain(instrumented)
	}

	out := make([]byte, 0, len(instrumented)+40)
	out = append(out, "async function __ag_main() {\n"...)
	out = append(out, instrumented...)
	out = append(out, "\n}\n"...)
	return out
}

func renameTmpToMain(src []byte) []byte {
	const old = "__tmp"
	const replacement = "__ag_main"
	out := make([]byte, 0, len(src)+len(replacement))
	i := 0
	for i < len(src) {
		if i+len(old) <= len(src) && string(src[i:i+len(old)]) == old {
			out = append(out, replacement...)
			i += len(old)
			continue
		}
		out = append(out, src[i])
		i++
	}
	return out
}

// topLevelStatements returns the program's top-level statement list: the
// root's children directly for an unwrapped script, or the synthetic
// wrapper function's body statements when the parser fell back to
// wrapping the source.
func topLevelStatements(tree *ast.Tree) []ast.Node {
	root := tree.Root()
	if tree.Wrapped == ast.SourceScript {
		return root.Children()
	}
	var fn ast.Node
	root.Walk(func(n ast.Node) bool {
		if n.Kind() == "function_declaration" {
			fn = n
			return false
		}
		return true
	})
	if fn.IsZero() {
		return nil
	}
	body := fn.FieldChild("body")
	if body.IsZero() {
		return nil
	}
	return body.Children()
}

func applyEdits(src []byte, edits []edit) []byte {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].end < edits[j].end
	})

	out := make([]byte, 0, len(src)+64)
	cursor := 0
	for _, e := range edits {
		if e.start < cursor {
			// Overlapping edits should not occur (identifier rename and
			// loop instrumentation target disjoint byte ranges); skip
			// defensively rather than corrupt output.
			continue
		}
		out = append(out, src[cursor:e.start]...)
		out = append(out, e.text...)
		cursor = e.end
	}
	out = append(out, src[cursor:]...)
	return out
}
