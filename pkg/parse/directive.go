package parse

import (
	"regexp"
	"strings"
)

// Loop variable names used when {{each}} has no binder.
const (
	DefaultKeyVar   = "$index"
	DefaultValueVar = "$value"
)

var (
	eachContent = regexp.MustCompile(`(?i)^\s*(?:\(\s*([a-z_$]\w*)\s*(?:,\s*([a-z_$]\w*)\s*)?\)\s*)?(\S(?:[\s\S]*\S)?)\s*$`)
	tmplContent = regexp.MustCompile(`^\s*(?:\(([\s\S]*)\)\s*)?([^\s()](?:[^()]*[^\s()])?)\s*$`)
)

// EachClause is the decomposed content of {{each (key, value) container}}.
type EachClause struct {
	KeyVar    string
	ValueVar  string
	Container string
}

// DecomposeEach splits {{each}} content into its optional loop variable
// binder and the container expression. It reports false when there is no
// container expression.
func DecomposeEach(content string) (EachClause, bool) {
	m := eachContent.FindStringSubmatch(content)
	if m == nil {
		return EachClause{}, false
	}
	c := EachClause{KeyVar: m[1], ValueVar: m[2], Container: m[3]}
	if c.KeyVar == "" {
		c.KeyVar = DefaultKeyVar
	}
	if c.ValueVar == "" {
		c.ValueVar = DefaultValueVar
	}
	return c, true
}

// TmplClause is the decomposed content of {{tmpl(data, options) selector}}.
type TmplClause struct {
	// Args is the comma separated data and options expressions. It is only
	// meaningful when HasArgs is set.
	Args     string
	HasArgs  bool
	Selector string
}

// DecomposeTmpl splits {{tmpl}} content into its optional parenthesized
// arguments and the template selector expression. Empty parentheses count
// as no arguments.
func DecomposeTmpl(content string) (TmplClause, bool) {
	m := tmplContent.FindStringSubmatch(content)
	if m == nil {
		return TmplClause{}, false
	}
	return TmplClause{
		Args:     m[1],
		HasArgs:  strings.TrimSpace(m[1]) != "",
		Selector: m[2],
	}, true
}

// StaticName returns the template name when the selector is a plain quoted
// string literal.
func (c TmplClause) StaticName() (string, bool) {
	s := c.Selector
	if len(s) < 2 || (s[0] != '"' && s[0] != '\'') || s[len(s)-1] != s[0] {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if strings.ContainsAny(inner, "\\\"'") {
		return "", false
	}
	return inner, true
}
