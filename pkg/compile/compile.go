// Package compile turns parse trees into renderers. Each node becomes a
// closure; expressions are handed to an injected Evaluator and other
// templates are looked up through a Resolver at render time.
package compile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CTAG07/safetmpl/pkg/escape"
	"github.com/CTAG07/safetmpl/pkg/parse"
)

// DefaultMaxDepth bounds {{tmpl}} nesting when Env.MaxDepth is unset.
const DefaultMaxDepth = 64

// Evaluator evaluates expression text against a scope of names.
type Evaluator interface {
	Eval(expr string, scope map[string]any) (any, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(expr string, scope map[string]any) (any, error)

func (f EvaluatorFunc) Eval(expr string, scope map[string]any) (any, error) { return f(expr, scope) }

// Resolver finds the renderer for a {{tmpl}} selector.
type Resolver interface {
	Resolve(name string) (*Template, error)
}

// Env holds the collaborators a compiled template uses.
type Env struct {
	Evaluator Evaluator
	Resolver  Resolver
	// Funcs are the pipe stages; nil means escape.Funcs().
	Funcs    map[string]func(any) any
	MaxDepth int
}

// Template is a compiled, reusable renderer. It is safe for concurrent use
// as long as its Evaluator and Resolver are.
type Template struct {
	name string
	env  Env
	body renderFunc
}

// Name returns the name of the tree the template was compiled from.
func (t *Template) Name() string { return t.name }

// Render produces the template's output for data. options is exposed to
// expressions as $item and forwarded to included templates.
func (t *Template) Render(data, options any) (string, error) {
	return t.render(data, options, 0)
}

func (t *Template) render(data, options any, depth int) (string, error) {
	vars := ToScope(data)
	vars["$data"] = data
	vars["$item"] = options
	st := &state{vars: vars, data: data, options: options, depth: depth}
	var b strings.Builder
	if err := t.body(st, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// state is the scope of one render call. Loop bodies get a copy.
type state struct {
	vars     map[string]any
	data     any
	options  any
	loopVars []string // names bound by enclosing {{each}}, outermost first
	depth    int
}

func (st *state) withLoop(keyVar string, key any, valueVar string, value any) *state {
	vars := Merge(st.vars)
	vars[keyVar] = key
	vars[valueVar] = value
	loopVars := make([]string, len(st.loopVars), len(st.loopVars)+2)
	copy(loopVars, st.loopVars)
	return &state{
		vars:     vars,
		data:     st.data,
		options:  st.options,
		loopVars: append(loopVars, keyVar, valueVar),
		depth:    st.depth,
	}
}

// loopData is the caller's data with the loop bindings in scope laid over it.
func (st *state) loopData() map[string]any {
	out := ToScope(st.data)
	for _, name := range st.loopVars {
		out[name] = st.vars[name]
	}
	return out
}

type renderFunc func(st *state, b *strings.Builder) error

type compiler struct {
	name string
	env  Env
}

// Compile builds a renderer for tree. Structural problems the parser cannot
// see, such as an {{if}} without a condition, are reported here as
// *parse.StructureError.
func Compile(tree *parse.Tree, env Env) (*Template, error) {
	if env.Evaluator == nil {
		return nil, errors.New("compile: no evaluator configured")
	}
	if env.Funcs == nil {
		env.Funcs = escape.Funcs()
	}
	if env.MaxDepth <= 0 {
		env.MaxDepth = DefaultMaxDepth
	}
	c := &compiler{name: tree.Name, env: env}
	body, err := c.compileList(tree.Root.Children)
	if err != nil {
		return nil, err
	}
	return &Template{name: tree.Name, env: env, body: body}, nil
}

func (c *compiler) compileList(nodes []parse.Node) (renderFunc, error) {
	fns := make([]renderFunc, 0, len(nodes))
	for _, n := range nodes {
		fn, err := c.compileNode(n)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	if len(fns) == 1 {
		return fns[0], nil
	}
	return func(st *state, b *strings.Builder) error {
		for _, fn := range fns {
			if err := fn(st, b); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c *compiler) compileNode(n parse.Node) (renderFunc, error) {
	switch n := n.(type) {
	case *parse.TextNode:
		text := n.Text
		return func(_ *state, b *strings.Builder) error {
			b.WriteString(text)
			return nil
		}, nil
	case *parse.SubstitutionNode:
		return c.compileSubstitution(n)
	case *parse.DirectiveNode:
		switch n.Name {
		case "if":
			return c.compileIf(n)
		case "each":
			return c.compileEach(n)
		case "tmpl":
			return c.compileTmpl(n)
		case "else":
			return nil, &parse.StructureError{Msg: "misplaced {{else}}", Span: n.Span}
		}
		return nil, &UnsupportedDirectiveError{Name: n.Name}
	}
	return nil, fmt.Errorf("compile: unexpected node %T", n)
}

func (c *compiler) eval(expr string, st *state) (any, error) {
	v, err := c.env.Evaluator.Eval(expr, st.vars)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", c.name, err)
	}
	return v, nil
}

func (c *compiler) compileSubstitution(n *parse.SubstitutionNode) (renderFunc, error) {
	pipes := make([]func(any) any, len(n.Pipes))
	for i, name := range n.Pipes {
		fn, ok := c.env.Funcs[name]
		if !ok {
			return nil, &UnknownPipeError{Name: name}
		}
		pipes[i] = fn
	}
	expr := n.Expr
	return func(st *state, b *strings.Builder) error {
		v, err := c.eval(expr, st)
		if err != nil {
			return err
		}
		if v, err = dethunk(v); err != nil {
			return fmt.Errorf("template %q: calling %q: %w", c.name, expr, err)
		}
		for _, pipe := range pipes {
			v = pipe(v)
		}
		b.WriteString(escape.ToString(v))
		return nil
	}, nil
}

type branch struct {
	cond string // empty for an unconditional {{else}}
	body renderFunc
}

func (c *compiler) compileIf(n *parse.DirectiveNode) (renderFunc, error) {
	var branches []branch
	cond, start := n.Content, 0
	var last *parse.DirectiveNode // most recent {{else}}
	add := func(end int) error {
		body, err := c.compileList(n.Children[start:end])
		if err != nil {
			return err
		}
		if strings.TrimSpace(cond) == "" {
			if len(branches) == 0 {
				return &parse.StructureError{Msg: "{{if}} missing condition", Span: n.Span}
			}
			cond = ""
		}
		branches = append(branches, branch{cond: cond, body: body})
		return nil
	}
	for i, child := range n.Children {
		d, ok := child.(*parse.DirectiveNode)
		if !ok || d.Name != "else" {
			continue
		}
		if len(branches) > 0 && branches[len(branches)-1].cond == "" {
			return nil, &parse.StructureError{Msg: "{{else}} without condition must be last", Span: d.Span}
		}
		if err := add(i); err != nil {
			return nil, err
		}
		cond, start, last = d.Content, i+1, d
	}
	if len(branches) > 0 && branches[len(branches)-1].cond == "" {
		return nil, &parse.StructureError{Msg: "{{else}} without condition must be last", Span: last.Span}
	}
	if err := add(len(n.Children)); err != nil {
		return nil, err
	}

	return func(st *state, b *strings.Builder) error {
		for _, br := range branches {
			if br.cond != "" {
				v, err := c.eval(br.cond, st)
				if err != nil {
					return err
				}
				if !Truthy(v) {
					continue
				}
			}
			return br.body(st, b)
		}
		return nil
	}, nil
}

func (c *compiler) compileEach(n *parse.DirectiveNode) (renderFunc, error) {
	clause, ok := parse.DecomposeEach(n.Content)
	if !ok {
		return nil, &parse.StructureError{Msg: "malformed {{each}} content: " + n.Content, Span: n.Span}
	}
	body, err := c.compileList(n.Children)
	if err != nil {
		return nil, err
	}
	return func(st *state, b *strings.Builder) error {
		container, err := c.eval(clause.Container, st)
		if err != nil {
			return err
		}
		var parts []string
		err = Iterate(container, func(key, value any) error {
			var iter strings.Builder
			if err := body(st.withLoop(clause.KeyVar, key, clause.ValueVar, value), &iter); err != nil {
				return err
			}
			parts = append(parts, iter.String())
			return nil
		})
		if err != nil {
			return fmt.Errorf("template %q: {{each%s}}: %w", c.name, n.Content, err)
		}
		b.WriteString(strings.Join(parts, ""))
		return nil
	}, nil
}

func (c *compiler) compileTmpl(n *parse.DirectiveNode) (renderFunc, error) {
	clause, ok := parse.DecomposeTmpl(n.Content)
	if !ok {
		return nil, &parse.StructureError{Msg: "malformed {{tmpl}} content: " + n.Content, Span: n.Span}
	}
	return func(st *state, b *strings.Builder) error {
		data, options := st.data, st.options
		switch {
		case clause.HasArgs:
			v, err := c.eval("["+clause.Args+"]", st)
			if err != nil {
				return err
			}
			args, _ := v.([]any)
			if len(args) > 0 {
				data = args[0]
			}
			if len(args) > 1 {
				options = args[1]
			}
		case len(st.loopVars) > 0:
			data = st.loopData()
		}

		sel, err := c.eval(clause.Selector, st)
		if err != nil {
			return err
		}
		target, ok := sel.(*Template)
		if !ok {
			if c.env.Resolver == nil {
				return fmt.Errorf("template %q: no resolver for {{tmpl%s}}", c.name, n.Content)
			}
			name := escape.ToString(sel)
			if target, err = c.env.Resolver.Resolve(name); err != nil {
				return fmt.Errorf("template %q: {{tmpl}} %q: %w", c.name, name, err)
			}
		}
		if st.depth+1 > c.env.MaxDepth {
			return fmt.Errorf("template %q: including %q: %w", c.name, target.name, ErrIncludeDepth)
		}
		out, err := target.render(data, options, st.depth+1)
		if err != nil {
			return err
		}
		b.WriteString(out)
		return nil
	}, nil
}
