package escape

import (
	"regexp"
	"strconv"
	"strings"
)

func matchEscapeCSSString(r rune) bool {
	switch {
	case r == 0, r >= 0x08 && r <= 0x0d, r == '"', r >= '&' && r <= '*', r == '/',
		r >= ':' && r <= '>', r == '@', r == '\\', r == '{', r == '}',
		r == 0x85, r == 0xa0, r == 0x2028, r == 0x2029:
		return true
	}
	return false
}

// The trailing space ends the hex escape so a following hex digit is not
// absorbed into it.
func escapeCSSChar(r rune) string {
	return `\` + strconv.FormatInt(int64(r), 16) + " "
}

// EscapeCSSString escapes v so it can be included inside a quoted CSS string.
func EscapeCSSString(v any) string {
	return replaceMatching(ToString(v), matchEscapeCSSString, escapeCSSChar)
}

// An identifier part, keyword, quantity, !important or the empty string.
var cssValuePattern = regexp.MustCompile(`(?i)^(?:[.#]?-?(?:[_a-z0-9][_a-z0-9-]*)(?:-[_a-z][_a-z0-9-]*)*-?|-?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9])(?:[a-z]{1,2}|%)?|!important|)$`)

// FilterCSSValue vets v as a CSS identifier part, keyword or quantity. Values
// that could run script in old browsers (expression(), -moz-binding) are
// rejected wherever they appear. nil renders as the empty string.
func FilterCSSValue(v any) string {
	if v == nil {
		return ""
	}
	s := ToString(v)
	lower := strings.ToLower(s)
	if strings.Contains(lower, "expression") || strings.Contains(lower, "moz-binding") ||
		strings.HasPrefix(strings.TrimLeft(lower, "-"), "binding") {
		return InnocuousOutput
	}
	if !cssValuePattern.MatchString(s) {
		return InnocuousOutput
	}
	return s
}
