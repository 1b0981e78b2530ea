package templating

import "github.com/CTAG07/safetmpl/pkg/parse"

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// Strict makes the parser probe every substitution and {{tmpl}} clause
	// with the expression engine, so syntax errors surface at registration
	// instead of at render time.
	Strict bool `json:"strict" yaml:"strict"`

	// Autoescape runs the autoescape pass before compiling. Substitutions
	// without an explicit pipe chain are HTML-escaped and {{html}} becomes
	// available for raw output.
	Autoescape bool `json:"autoescape" yaml:"autoescape"`

	// MaxIncludeDepth caps how deeply {{tmpl}} may nest during one render.
	MaxIncludeDepth int `json:"max_include_depth" yaml:"max_include_depth"`

	// BlockDirectives names extra directives that take a body and a close
	// marker, on top of each, if and wrap.
	BlockDirectives []string `json:"block_directives" yaml:"block_directives"`

	// TemplateSuffix and PartialSuffix select the files loaded from the
	// templates directory. The suffix is stripped to form the template name.
	TemplateSuffix string `json:"template_suffix" yaml:"template_suffix"`
	PartialSuffix  string `json:"partial_suffix" yaml:"partial_suffix"`
}

// DefaultConfig returns a TemplateConfig with safe default values.
func DefaultConfig() TemplateConfig {
	return TemplateConfig{
		Strict:          true,
		Autoescape:      true,
		MaxIncludeDepth: 32,
		BlockDirectives: []string{},
		TemplateSuffix:  ".tmpl.html",
		PartialSuffix:   ".part.html",
	}
}

// Blocks returns the configured block directives including the defaults.
func (c *TemplateConfig) Blocks() parse.DirectiveSet {
	return parse.DefaultBlockDirectives().Union(parse.NewDirectiveSet(c.BlockDirectives...))
}

// Mode returns the parser mode for c.
func (c *TemplateConfig) Mode() parse.Mode {
	if c.Strict {
		return parse.Strict
	}
	return parse.Fast
}

// clone returns a deep copy of c.
func (c *TemplateConfig) clone() TemplateConfig {
	cp := *c
	cp.BlockDirectives = append([]string{}, c.BlockDirectives...)
	return cp
}
