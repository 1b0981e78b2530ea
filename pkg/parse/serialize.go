package parse

import (
	"strings"
)

// Serialize renders t back to template source that parses to an equal tree
// with the same block directives. Comments are not preserved. A directive
// gets a close marker when it has children or is named in blocks.
func Serialize(t *Tree, blocks DirectiveSet) string {
	var b strings.Builder
	for _, n := range t.Root.Children {
		writeNode(&b, n, blocks)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n Node, blocks DirectiveSet) {
	switch n := n.(type) {
	case *TextNode:
		b.WriteString(n.Text)
	case *SubstitutionNode:
		src := n.Source()
		if strings.Contains(src, "}") {
			b.WriteString("{{=")
			b.WriteString(src)
			b.WriteString("}}")
			return
		}
		b.WriteString("${")
		b.WriteString(src)
		b.WriteString("}")
	case *DirectiveNode:
		b.WriteString("{{")
		b.WriteString(n.Name)
		b.WriteString(n.Content)
		b.WriteString("}}")
		for _, c := range n.Children {
			writeNode(b, c, blocks)
		}
		if len(n.Children) > 0 || blocks.Has(n.Name) {
			b.WriteString("{{/")
			b.WriteString(n.Name)
			b.WriteString("}}")
		}
	}
}
