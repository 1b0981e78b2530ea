package parse

import (
	"regexp"
	"strings"
)

// NodeType identifies the type of a parse tree node.
type NodeType int

const (
	NodeText NodeType = iota
	NodeDirective
	NodeSubstitution
)

// Node is an element of the parse tree.
type Node interface {
	Type() NodeType
}

// TextNode holds literal markup.
type TextNode struct {
	Text string
}

func (*TextNode) Type() NodeType { return NodeText }

// DirectiveNode is a {{name content}} marker. Block directives own the nodes
// up to their close marker as Children. The root of a tree is a directive
// with an empty name.
type DirectiveNode struct {
	Name     string
	Content  string
	Children []Node
	// Span is the position of the open marker in the parsed source.
	Span Span
}

func (*DirectiveNode) Type() NodeType { return NodeDirective }

// SubstitutionNode is ${expr} or {{=expr}}. Pipes names the post-processing
// stages from a trailing =>name chain, applied in order, so "x=>f=>g"
// yields g(f(x)).
type SubstitutionNode struct {
	Expr  string
	Pipes []string
}

func (*SubstitutionNode) Type() NodeType { return NodeSubstitution }

// Name reports the directive name substitutions share.
func (*SubstitutionNode) Name() string { return "=" }

// Source returns the expression with its pipe chain re-attached.
func (n *SubstitutionNode) Source() string {
	if len(n.Pipes) == 0 {
		return n.Expr
	}
	return n.Expr + "=>" + strings.Join(n.Pipes, "=>")
}

var pipeSuffix = regexp.MustCompile(`(?:=>\w+)+$`)

// NewSubstitution splits the trailing pipe chain off content.
func NewSubstitution(content string) *SubstitutionNode {
	loc := pipeSuffix.FindStringIndex(content)
	if loc == nil {
		return &SubstitutionNode{Expr: content}
	}
	return &SubstitutionNode{
		Expr:  content[:loc[0]],
		Pipes: strings.Split(content[loc[0]+2:], "=>"),
	}
}

// Tree is a parsed template.
type Tree struct {
	Name string
	Root *DirectiveNode
	// Autoescaped is set once the autoescape pass has rewritten the tree.
	Autoescaped bool
}

// Walk calls fn for every node below root in document order. Children of a
// directive are visited only if fn returns true for it.
func Walk(root *DirectiveNode, fn func(Node) bool) {
	for _, n := range root.Children {
		if !fn(n) {
			continue
		}
		if d, ok := n.(*DirectiveNode); ok {
			Walk(d, fn)
		}
	}
}

// DirectiveSet is a set of directive names, typically those that take a
// close marker.
type DirectiveSet map[string]struct{}

// NewDirectiveSet returns a set containing names.
func NewDirectiveSet(names ...string) DirectiveSet {
	s := make(DirectiveSet, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

// DefaultBlockDirectives returns the directives that are always blocks.
func DefaultBlockDirectives() DirectiveSet {
	return NewDirectiveSet("each", "if", "wrap")
}

func (s DirectiveSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Union returns a new set with the members of both s and other.
func (s DirectiveSet) Union(other DirectiveSet) DirectiveSet {
	out := make(DirectiveSet, len(s)+len(other))
	for name := range s {
		out[name] = struct{}{}
	}
	for name := range other {
		out[name] = struct{}{}
	}
	return out
}
