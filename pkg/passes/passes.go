// Package passes rewrites parse trees between parsing and compilation.
//
// Passes run over a Bundle, every tree that will be compiled together, so a
// pass can look across template boundaries. Later passes receive a Prepass
// that re-runs all passes registered before them, letting a pass process
// trees it adds or asks to be reconsidered.
package passes

import (
	"github.com/CTAG07/safetmpl/pkg/escape"
	"github.com/CTAG07/safetmpl/pkg/parse"
)

// Bundle maps template names to the trees being compiled together.
type Bundle map[string]*parse.Tree

// Prepass runs the passes that precede the current one.
type Prepass func(Bundle) (Bundle, error)

// Pass transforms a bundle. prior re-runs every earlier pass.
type Pass func(bundle Bundle, prior Prepass) (Bundle, error)

// Pipeline is an ordered list of passes.
type Pipeline struct {
	passes []Pass
}

// NewPipeline returns a pipeline running passes in order.
func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes}
}

// DefaultPipeline returns a pipeline with only Autoescape.
func DefaultPipeline() *Pipeline {
	return NewPipeline(Autoescape)
}

// Add appends a pass.
func (p *Pipeline) Add(pass Pass) {
	p.passes = append(p.passes, pass)
}

// Len returns the number of passes.
func (p *Pipeline) Len() int { return len(p.passes) }

// Run applies every pass to bundle.
func (p *Pipeline) Run(bundle Bundle) (Bundle, error) {
	return p.prepass(len(p.passes))(bundle)
}

// prepass returns a function applying the first n passes.
func (p *Pipeline) prepass(n int) Prepass {
	return func(bundle Bundle) (Bundle, error) {
		var err error
		for i := 0; i < n; i++ {
			if bundle, err = p.passes[i](bundle, p.prepass(i)); err != nil {
				return nil, err
			}
		}
		return bundle, nil
	}
}

// Autoescape makes every substitution without a pipe chain HTML-escaped and
// turns {{html expr}} into an unescaped substitution. It assumes all
// substitutions sit in HTML text. Trees are rewritten in place and marked so
// a second run leaves them unchanged.
func Autoescape(bundle Bundle, _ Prepass) (Bundle, error) {
	for _, tree := range bundle {
		if tree == nil || tree.Autoescaped {
			continue
		}
		autoescapeNode(tree.Root)
		tree.Autoescaped = true
	}
	return bundle, nil
}

func autoescapeNode(d *parse.DirectiveNode) {
	children := make([]parse.Node, 0, len(d.Children))
	for _, child := range d.Children {
		switch n := child.(type) {
		case *parse.SubstitutionNode:
			if len(n.Pipes) == 0 {
				n.Pipes = []string{escape.DefaultPipe}
			}
		case *parse.DirectiveNode:
			if n.Name == "html" {
				children = append(children, parse.NewSubstitution(n.Content))
				if len(n.Children) == 0 {
					continue
				}
				// A block {{html}} keeps its body after the raw value.
				autoescapeNode(n)
				children = append(children, n.Children...)
				continue
			}
			autoescapeNode(n)
		}
		children = append(children, child)
	}
	d.Children = children
}
