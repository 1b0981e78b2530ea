/*
Package templating loads, registers and renders templates.

A Registry maps names to parsed templates and compiles each one on first
use, running the configured passes (autoescape by default) over the
template and every template it includes by name. TemplateManager builds a
Registry from the files in a templates directory plus any sources kept in a
store, and rebuilds it on Refresh so templates can be changed while the
application runs.

Template markup:

	${expr}                 substitution, escaped when autoescape is on
	${expr=>pipe=>pipe}     substitution through explicit pipe stages
	{{html expr}}           unescaped substitution (autoescape only)
	{{if expr}}...{{else expr}}...{{else}}...{{/if}}
	{{each (k, v) expr}}...{{/each}}
	{{tmpl(data, options) "name"}}
	{# comment #}  {{! nesting comment }}
*/
package templating
