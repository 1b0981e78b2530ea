package escape

import (
	"regexp"
	"strings"
)

// InnocuousURI replaces a rejected URI. It is a same-page fragment.
const InnocuousURI = "#" + InnocuousOutput

const upperHex = "0123456789ABCDEF"

// encodeURIComponent percent-encodes everything except the RFC 3986
// unreserved set plus the marks !~*'(), matching the JS builtin. net/url has
// no function with this exact unreserved set.
func encodeURIComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte("-_.!~*'()", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
		}
	}
	return b.String()
}

// Apostrophes and parentheses only appear in the obsolete mark production of
// RFC 3986 so they can be encoded without changing meaning; they conflict
// with HTML attribute and CSS url() delimiters.
var problematicURIMarks = strings.NewReplacer("'", "%27", "(", "%28", ")", "%29")

// EscapeURI percent-encodes v so it can be included in a URI as a query
// parameter or path segment. Known safe URI parts are normalized instead.
func EscapeURI(v any) string {
	if content, ok := asSafe(v, ContentURI); ok {
		return NormalizeURI(content)
	}
	return problematicURIMarks.Replace(encodeURIComponent(ToString(v)))
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isPctEscape(s string, i int) bool {
	return i+2 < len(s) && s[i] == '%' && isHex(s[i+1]) && isHex(s[i+2])
}

// needsNormalization reports whether s contains characters that are invalid
// in a URI or a '%' that does not start an escape sequence.
func needsNormalization(s string) bool {
	for i, r := range s {
		switch {
		case r <= ' ', r == '"', r == '<', r == '>', r == '\\', r == '{', r == '}',
			r == 0x7f, r == 0x85, r == 0xa0, r == 0x2028, r == 0x2029, r >= 0xff00:
			return true
		case r == '%' && !isPctEscape(s, i):
			return true
		}
	}
	return false
}

const uriDelimiters = "#$&+,/:;=?@[]"

// NormalizeURI re-encodes only what is not already valid in a URI: existing
// percent escapes and structural delimiters are preserved, every other run
// is encoded as a URI component.
func NormalizeURI(v any) string {
	s := ToString(v)
	if needsNormalization(s) {
		var b strings.Builder
		start := 0
		flush := func(end int) {
			b.WriteString(encodeURIComponent(s[start:end]))
		}
		for i := 0; i < len(s); {
			switch {
			case isPctEscape(s, i):
				flush(i)
				b.WriteString(s[i : i+3])
				i += 3
				start = i
			case strings.IndexByte(uriDelimiters, s[i]) >= 0:
				flush(i)
				b.WriteByte(s[i])
				i++
				start = i
			default:
				i++
			}
		}
		flush(len(s))
		s = b.String()
	}
	return problematicURIMarks.Replace(s)
}

// Accepts http, https and mailto, or a reference with no scheme at all:
// anything whose first ':' (if any) comes after a '/', '?' or '#'.
var safeURIPattern = regexp.MustCompile(`(?i)^(?:(?:https?|mailto):|[^&:/?#]*(?:[/?#]|$))`)

// FilterNormalizeURI vets the scheme of v, returning InnocuousURI for schemes
// such as javascript:, then normalizes it.
func FilterNormalizeURI(v any) string {
	s := ToString(v)
	if !safeURIPattern.MatchString(s) {
		return InnocuousURI
	}
	return NormalizeURI(s)
}
