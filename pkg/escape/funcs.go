package escape

// DefaultPipe is the stage appended to bare substitutions by autoescaping.
const DefaultPipe = "escapeHtml"

// Funcs returns the pipe stages available to templates, keyed by the name
// used after "=>" in a substitution. The map is freshly allocated so callers
// may add their own stages.
func Funcs() map[string]func(any) any {
	return map[string]func(any) any{
		"escapeHtml":                 func(v any) any { return EscapeHTML(v) },
		"escapeHtmlRcdata":           func(v any) any { return EscapeHTMLRcdata(v) },
		"stripHtmlTags":              func(v any) any { return StripHTMLTags(v) },
		"escapeHtmlAttribute":        func(v any) any { return EscapeHTMLAttribute(v) },
		"escapeHtmlAttributeNospace": func(v any) any { return EscapeHTMLAttributeNospace(v) },
		"filterHtmlAttribute":        func(v any) any { return FilterHTMLAttribute(v) },
		"filterHtmlElementName":      func(v any) any { return FilterHTMLElementName(v) },
		"escapeJsString":             func(v any) any { return EscapeJSString(v) },
		"escapeJsValue":              func(v any) any { return EscapeJSValue(v) },
		"escapeJsRegex":              func(v any) any { return EscapeJSRegex(v) },
		"escapeUri":                  func(v any) any { return EscapeURI(v) },
		"normalizeUri":               func(v any) any { return NormalizeURI(v) },
		"filterNormalizeUri":         func(v any) any { return FilterNormalizeURI(v) },
		"escapeCssString":            func(v any) any { return EscapeCSSString(v) },
		"filterCssValue":             func(v any) any { return FilterCSSValue(v) },
		"sanitizeHtml":               func(v any) any { return SanitizeHTML(v) },
	}
}
