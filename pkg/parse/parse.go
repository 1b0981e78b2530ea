package parse

import (
	"fmt"
	"strings"
)

// Span is a half-open range of byte offsets into template source.
type Span struct {
	Start int
	End   int
}

// StructureError reports mismatched or unclosed markers and misplaced
// branches. It is never recovered from.
type StructureError struct {
	Msg  string
	Span Span
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Span.Start)
}

// ExpressionSyntaxError reports an embedded expression rejected by the
// syntax checker in strict mode.
type ExpressionSyntaxError struct {
	Expr string
	Span Span
	Err  error
}

func (e *ExpressionSyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q at offset %d: %v", e.Expr, e.Span.Start, e.Err)
}

func (e *ExpressionSyntaxError) Unwrap() error { return e.Err }

// SyntaxChecker validates expression text without evaluating it.
type SyntaxChecker interface {
	Check(expr string) error
}

// SyntaxCheckerFunc adapts a function to SyntaxChecker.
type SyntaxCheckerFunc func(expr string) error

func (f SyntaxCheckerFunc) Check(expr string) error { return f(expr) }

// Mode selects how much validation Parse performs.
type Mode int

const (
	// Strict probes every substitution and {{tmpl}} argument list with the
	// configured SyntaxChecker.
	Strict Mode = iota
	// Fast skips expression probing, for trusted templates.
	Fast
)

type options struct {
	mode    Mode
	checker SyntaxChecker
}

// Option configures Parse.
type Option func(*options)

// WithMode sets the validation mode. The default is Strict.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithChecker sets the syntax checker used in strict mode. Without one no
// expressions are probed.
func WithChecker(c SyntaxChecker) Option {
	return func(o *options) { o.checker = c }
}

func (o *options) probe(expr string, tok Token) error {
	if o.mode != Strict || o.checker == nil {
		return nil
	}
	if err := o.checker.Check(expr); err != nil {
		return &ExpressionSyntaxError{Expr: expr, Span: Span{tok.Pos, tok.End}, Err: err}
	}
	return nil
}

func (o *options) probeTmpl(tok Token) error {
	if o.mode != Strict || o.checker == nil {
		return nil
	}
	clause, ok := DecomposeTmpl(tok.Content)
	if !ok {
		return &ExpressionSyntaxError{
			Expr: tok.Content,
			Span: Span{tok.Pos, tok.End},
			Err:  fmt.Errorf("malformed {{%s}} content", tok.Name),
		}
	}
	if err := o.probe("["+clause.Args+"]", tok); err != nil {
		return err
	}
	return o.probe(clause.Selector, tok)
}

// GuessBlockDirectives returns the names of every directive that has a close
// marker somewhere in source. For well-formed templates this is exactly the
// set of block directives used.
func GuessBlockDirectives(source string) DirectiveSet {
	blocks := make(DirectiveSet)
	for _, tok := range Tokenize(source) {
		if tok.Close {
			blocks[tok.Name] = struct{}{}
		}
	}
	return blocks
}

// Parse builds the parse tree for source. Directives named in blocks push a
// new level that their close marker pops; a nil blocks uses the default
// block directives plus any guessed from source. No partial tree is
// returned on error.
func Parse(source string, blocks DirectiveSet, opts ...Option) (*Tree, error) {
	o := options{mode: Strict}
	for _, opt := range opts {
		opt(&o)
	}
	if blocks == nil {
		blocks = DefaultBlockDirectives().Union(GuessBlockDirectives(source))
	}

	root := &DirectiveNode{}
	stack := []*DirectiveNode{root}
	opened := []Token{{}}
	for _, tok := range Tokenize(source) {
		top := stack[len(stack)-1]
		switch {
		case tok.Kind == TokenText:
			top.Children = append(top.Children, &TextNode{Text: tok.Val})

		case tok.Kind == TokenSubst:
			node := NewSubstitution(tok.Content)
			if err := o.probe(node.Expr, tok); err != nil {
				return nil, err
			}
			top.Children = append(top.Children, node)

		case tok.Close:
			if len(stack) == 1 || top.Name != tok.Name {
				return nil, &StructureError{
					Msg:  "misplaced close marker " + tok.Val,
					Span: Span{tok.Pos, tok.End},
				}
			}
			stack = stack[:len(stack)-1]
			opened = opened[:len(opened)-1]

		default:
			if tok.Name == "tmpl" {
				if err := o.probeTmpl(tok); err != nil {
					return nil, err
				}
			}
			node := &DirectiveNode{Name: tok.Name, Content: tok.Content, Span: Span{tok.Pos, tok.End}}
			top.Children = append(top.Children, node)
			if blocks.Has(tok.Name) {
				stack = append(stack, node)
				opened = append(opened, tok)
			}
		}
	}

	if len(stack) > 1 {
		names := make([]string, 0, len(stack)-1)
		for _, d := range stack[1:] {
			names = append(names, d.Name)
		}
		return nil, &StructureError{
			Msg:  "unclosed directives " + strings.Join(names, ", "),
			Span: Span{opened[1].Pos, opened[1].End},
		}
	}
	return &Tree{Root: root}, nil
}
