// Package ast adapts tree-sitter's JavaScript grammar into the typed
// syntax tree the rule engine and rewriter operate over: an arena of
// Nodes referenced by index, with parent pointers kept out-of-band,
// produced once by the parser and read many times.
package ast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Position is a source location: line and column are 1-based, byte is a
// 0-based offset into Tree.Source.
type Position struct {
	Line   int
	Column int
	Byte   int
}

// Node is a read-only facade over one tree-sitter node. Node values are
// indices into Tree.nodes; copying a Node is cheap and never aliases
// mutable state.
type Node struct {
	tree *Tree
	n    *sitter.Node
}

// Kind returns the grammar's node type, e.g. "call_expression",
// "for_statement", "identifier".
func (nd Node) Kind() string {
	if nd.n == nil {
		return ""
	}
	return nd.n.Type()
}

// IsNamed reports whether the node is a named grammar production rather
// than an anonymous token (punctuation, keywords).
func (nd Node) IsNamed() bool { return nd.n != nil && nd.n.IsNamed() }

// Text returns the node's source text.
func (nd Node) Text() string {
	if nd.n == nil {
		return ""
	}
	return nd.n.Content(nd.tree.Source)
}

// Start returns the node's starting position.
func (nd Node) Start() Position { return pointToPosition(nd.n.StartPoint(), int(nd.n.StartByte())) }

// End returns the node's ending position.
func (nd Node) End() Position { return pointToPosition(nd.n.EndPoint(), int(nd.n.EndByte())) }

// StartByte returns the node's starting byte offset into Tree.Source.
func (nd Node) StartByte() int {
	if nd.n == nil {
		return 0
	}
	return int(nd.n.StartByte())
}

// EndByte returns the node's ending byte offset into Tree.Source.
func (nd Node) EndByte() int {
	if nd.n == nil {
		return 0
	}
	return int(nd.n.EndByte())
}

// ChildCount returns the number of named children.
func (nd Node) ChildCount() int {
	if nd.n == nil {
		return 0
	}
	return int(nd.n.NamedChildCount())
}

// Child returns the i'th named child.
func (nd Node) Child(i int) Node {
	return Node{tree: nd.tree, n: nd.n.NamedChild(i)}
}

// Children returns all named children.
func (nd Node) Children() []Node {
	out := make([]Node, 0, nd.ChildCount())
	for i := 0; i < nd.ChildCount(); i++ {
		out = append(out, nd.Child(i))
	}
	return out
}

// FieldChild returns the child bound to the given grammar field name (for
// example "function", "arguments", "left", "right"), or the zero Node if
// the field is absent.
func (nd Node) FieldChild(field string) Node {
	if nd.n == nil {
		return Node{}
	}
	return Node{tree: nd.tree, n: nd.n.ChildByFieldName(field)}
}

// IsZero reports whether the Node is the absent/zero value.
func (nd Node) IsZero() bool { return nd.n == nil }

// Parent returns the node's parent, or the zero Node at the root.
func (nd Node) Parent() Node {
	if nd.n == nil {
		return Node{}
	}
	return Node{tree: nd.tree, n: nd.n.Parent()}
}

// Walk calls visit for every node in the subtree rooted at nd, in
// pre-order, depth first. Returning false from visit skips that node's
// children.
func (nd Node) Walk(visit func(Node) bool) {
	if nd.n == nil {
		return
	}
	if !visit(nd) {
		return
	}
	for i := 0; i < nd.ChildCount(); i++ {
		nd.Child(i).Walk(visit)
	}
}

func pointToPosition(p sitter.Point, byteOffset int) Position {
	return Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Byte: byteOffset}
}

// SourceKind distinguishes a classic script body from one wrapped for
// parsing purposes (see ParseResult.Wrapped).
type SourceKind int

const (
	// SourceScript is the source as submitted by the caller.
	SourceScript SourceKind = iota
	// SourceWrapped indicates the source was wrapped in
	// "async function __tmp(){ <src> }" to accept top-level return/await.
	SourceWrapped
)

// Tree is a parsed program: the immutable source text plus its syntax
// tree. Tree values are produced by Parse, borrowed read-only by the rule
// engine, and consumed (never mutated in place) by the rewriter, which
// produces new source text and a new Tree via a second Parse call.
type Tree struct {
	Source  []byte
	Wrapped SourceKind
	raw     *sitter.Tree
}

// Root returns the tree's root node (the "program" node, or the wrapper
// function's body if Wrapped == SourceWrapped).
func (t *Tree) Root() Node {
	if t == nil || t.raw == nil {
		return Node{}
	}
	return Node{tree: t, n: t.raw.RootNode()}
}

// HasError reports whether tree-sitter's error-recovery inserted any ERROR
// or MISSING nodes, which the caller should treat as a parse failure for
// this pipeline's purposes (we do not want to execute error-recovered
// guesses as if they were valid programs).
func (t *Tree) HasError() bool {
	if t == nil || t.raw == nil {
		return true
	}
	return t.raw.RootNode().HasError()
}

// Close releases the underlying tree-sitter tree. Safe to call on a nil
// Tree.
func (t *Tree) Close() {
	if t != nil && t.raw != nil {
		t.raw.Close()
		t.raw = nil
	}
}

const wrapPrefix = "async function __tmp(){ "
const wrapSuffix = " }"

// ParseError reports a parse failure with the original source location.
type ParseError struct {
	Message string
	Pos     Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Parse produces a Tree from source. On direct parse failure (tree-sitter
// reports a syntax error), it retries once with the source wrapped in
// "async function __tmp(){ <src> }" so that scripts consisting of
// top-level return/await statements — which are not valid top-level
// JavaScript but are exactly what an agent script looks like — parse
// successfully. If the wrapped parse also fails, Parse surfaces a
// ParseError anchored at the original (unwrapped) failure location.
func Parse(ctx context.Context, source []byte) (*Tree, error) {
	tree, err := parseOnce(ctx, source)
	if err == nil {
		tree.Wrapped = SourceScript
		return tree, nil
	}
	firstErr := err

	wrapped := make([]byte, 0, len(wrapPrefix)+len(source)+len(wrapSuffix))
	wrapped = append(wrapped, wrapPrefix...)
	wrapped = append(wrapped, source...)
	wrapped = append(wrapped, wrapSuffix...)

	tree2, err2 := parseOnce(ctx, wrapped)
	if err2 != nil {
		return nil, firstErr
	}
	tree2.Wrapped = SourceWrapped
	return tree2, nil
}

func parseOnce(ctx context.Context, source []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	raw, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, &ParseError{Message: err.Error()}
	}
	t := &Tree{Source: source, raw: raw}
	if t.HasError() {
		pos := firstErrorPosition(t.Root())
		t.Close()
		return nil, &ParseError{Message: "unexpected token", Pos: pos}
	}
	return t, nil
}

func firstErrorPosition(n Node) Position {
	var found Position
	n.Walk(func(nd Node) bool {
		if nd.Kind() == "ERROR" && found == (Position{}) {
			found = nd.Start()
			return false
		}
		return true
	})
	return found
}
