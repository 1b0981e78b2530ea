package escape

import (
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// InnocuousOutput is returned by filters in place of a rejected value. It is
// chosen so that it is visible in output and harmless in every context.
const InnocuousOutput = "zSafehtmlz"

func htmlEntity(r rune) string {
	switch r {
	case '"':
		return "&quot;"
	case '&':
		return "&amp;"
	case '<':
		return "&lt;"
	case '>':
		return "&gt;"
	}
	return "&#" + strconv.Itoa(int(r)) + ";"
}

func matchEscapeHTML(r rune) bool {
	switch r {
	case 0, '"', '&', '\'', '<', '>':
		return true
	}
	return false
}

// normalization leaves existing entities alone.
func matchNormalizeHTML(r rune) bool {
	return r != '&' && matchEscapeHTML(r)
}

func matchEscapeHTMLNospace(r rune) bool {
	switch {
	case r == 0, r >= '\t' && r <= '\r', r == ' ', r == '"', r == '&', r == '\'', r == '-', r == '/',
		r >= '<' && r <= '>', r == '`', r == 0x85, r == 0xa0, r == 0x2028, r == 0x2029:
		return true
	}
	return false
}

func matchNormalizeHTMLNospace(r rune) bool {
	return r != '&' && matchEscapeHTMLNospace(r)
}

func escapeHTMLHelper(v any) string {
	return replaceMatching(ToString(v), matchEscapeHTML, htmlEntity)
}

func normalizeHTMLHelper(s string) string {
	return replaceMatching(s, matchNormalizeHTML, htmlEntity)
}

func escapeHTMLNospaceHelper(v any) string {
	return replaceMatching(ToString(v), matchEscapeHTMLNospace, htmlEntity)
}

func normalizeHTMLNospaceHelper(s string) string {
	return replaceMatching(s, matchNormalizeHTMLNospace, htmlEntity)
}

// EscapeHTML escapes HTML special characters so that v can be embedded in
// HTML text or a double quoted attribute value. Known safe HTML is emitted
// as-is, and slices have each element escaped and concatenated.
func EscapeHTML(v any) string {
	if content, ok := asSafe(v, ContentHTML); ok {
		return content
	}
	if v == nil {
		return ""
	}
	if _, isBytes := v.([]byte); !isBytes {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			var b strings.Builder
			for i := 0; i < rv.Len(); i++ {
				b.WriteString(EscapeHTML(rv.Index(i).Interface()))
			}
			return b.String()
		}
	}
	return escapeHTMLHelper(v)
}

// EscapeHTMLRcdata escapes v for the body of an RCDATA element such as
// <textarea> or <title>. Known safe HTML is normalized rather than passed
// through since RCDATA cannot contain tags, and an innocuous </textarea>
// inside sanitized HTML would otherwise end the element early.
func EscapeHTMLRcdata(v any) string {
	if content, ok := asSafe(v, ContentHTML); ok {
		return normalizeHTMLHelper(content)
	}
	return escapeHTMLHelper(v)
}

// StripHTMLTags removes tags, comments and doctypes from v, keeping text
// exactly as written (entities are not decoded). Bodies of raw text elements
// such as textarea and script are tokenized as markup too, so no tag
// survives inside them.
func StripHTMLTags(v any) string {
	s := ToString(v)
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.SelfClosingTagToken:
			z.NextIsNotRawText()
		case html.TextToken:
			b.Write(z.Raw())
		}
	}
}

// EscapeHTMLAttribute escapes v for a quoted HTML attribute value. Known
// safe HTML loses its tags and is normalized.
func EscapeHTMLAttribute(v any) string {
	if content, ok := asSafe(v, ContentHTML); ok {
		return normalizeHTMLHelper(StripHTMLTags(content))
	}
	return escapeHTMLHelper(v)
}

// EscapeHTMLAttributeNospace escapes v for an unquoted HTML attribute value,
// which additionally requires escaping whitespace and the other characters
// that can end such a value.
func EscapeHTMLAttributeNospace(v any) string {
	if content, ok := asSafe(v, ContentHTML); ok {
		return normalizeHTMLNospaceHelper(StripHTMLTags(content))
	}
	return escapeHTMLNospaceHelper(v)
}

// Attribute names that can carry script or fetch a resource. Matched as
// case-insensitive prefixes, so "on" covers every event handler.
var unsafeAttributePrefixes = []string{
	"style", "on", "action", "archive", "background", "cite", "classid", "codebase",
	"data", "dsync", "href", "longdesc", "src", "usemap",
}

// Elements whose content is not parsed as normal HTML. "no" covers
// noscript, noembed and noframes.
var unsafeElementPrefixes = []string{"script", "style", "title", "textarea", "xmp", "no"}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// isNamePart reports whether s only contains [a-z0-9_$:-], ignoring case.
func isNamePart(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		switch {
		case c >= 'a' && c <= 'z', s[i] >= '0' && s[i] <= '9':
		case s[i] == '_', s[i] == '$', s[i] == ':', s[i] == '-':
		default:
			return false
		}
	}
	return true
}

// FilterHTMLAttribute vets v as an attribute name, or the literal pairs
// dir=ltr and dir=rtl. Attribute names that could introduce script or load
// a resource are replaced with InnocuousOutput. An accepted value containing
// '=' gets its value part quoted so that a following ={...} in the template
// cannot attach a second value to it.
func FilterHTMLAttribute(v any) string {
	s := ToString(v)
	lower := strings.ToLower(s)
	if hasAnyPrefix(lower, unsafeAttributePrefixes) {
		return InnocuousOutput
	}
	if !isNamePart(s) && lower != "dir=ltr" && lower != "dir=rtl" {
		return InnocuousOutput
	}
	return quoteAttributeValue(s)
}

// quoteAttributeValue quotes everything after the first '=' unless s already
// ends in a quote character.
func quoteAttributeValue(s string) string {
	eq := strings.IndexByte(s, '=')
	if eq < 0 || strings.HasSuffix(s, `"`) || strings.HasSuffix(s, "'") {
		return s
	}
	return s[:eq+1] + `"` + s[eq+1:] + `"`
}

// FilterHTMLElementName vets v as an element name, rejecting elements whose
// bodies are script, style or raw text.
func FilterHTMLElementName(v any) string {
	s := ToString(v)
	if hasAnyPrefix(strings.ToLower(s), unsafeElementPrefixes) || !isNamePart(s) {
		return InnocuousOutput
	}
	return s
}
