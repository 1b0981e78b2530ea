package escape

import (
	"strconv"
	"strings"
)

// escapeJSChar renders r as a JS escape sequence. \b is deliberately not used
// since it means word-break inside a RegExp.
func escapeJSChar(r rune) string {
	switch r {
	case '\t':
		return `\t`
	case '\n':
		return `\n`
	case '\f':
		return `\f`
	case '\r':
		return `\r`
	case '/':
		return `\/`
	case '\\':
		return `\\`
	}
	hex := strconv.FormatInt(int64(r), 16)
	if len(hex) <= 2 {
		return `\x` + strings.Repeat("0", 2-len(hex)) + hex
	}
	return `\u` + strings.Repeat("0", 4-len(hex)) + hex
}

func matchEscapeJSString(r rune) bool {
	switch {
	case r == 0, r >= 0x08 && r <= 0x0d, r == '"', r == '&', r == '\'', r == '/',
		r >= '<' && r <= '>', r == '\\', r == 0x85, r == 0x2028, r == 0x2029:
		return true
	}
	return false
}

func matchEscapeJSRegex(r rune) bool {
	switch {
	case r == 0, r >= 0x08 && r <= 0x0d, r == '"', r == '$', r >= '&' && r <= '/', r == ':',
		r >= '<' && r <= '?', r >= '[' && r <= '^', r >= '{' && r <= '}',
		r == 0x85, r == 0x2028, r == 0x2029:
		return true
	}
	return false
}

// EscapeJSString escapes v so it can be placed between the quotes of a JS
// string literal. Known safe string characters pass through.
func EscapeJSString(v any) string {
	if content, ok := asSafe(v, ContentJSStrChars); ok {
		return content
	}
	return replaceMatching(ToString(v), matchEscapeJSString, escapeJSChar)
}

// EscapeJSValue encodes v as a JS expression. Booleans and numbers are emitted
// bare, nil becomes null (there is no separate undefined, for parity with
// server side renderers), and everything else is a single quoted string.
// Values are padded with spaces so they cannot merge with adjacent tokens.
func EscapeJSValue(v any) string {
	switch x := v.(type) {
	case nil:
		return " null "
	case bool:
		return " " + strconv.FormatBool(x) + " "
	}
	if isNumber(v) {
		return " " + ToString(v) + " "
	}
	return "'" + EscapeJSString(v) + "'"
}

// EscapeJSRegex escapes v for embedding in a JS regular expression literal.
func EscapeJSRegex(v any) string {
	return replaceMatching(ToString(v), matchEscapeJSRegex, escapeJSChar)
}
