package escape

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ContentKind identifies the output context a piece of SafeContent was vetted for.
type ContentKind int

const (
	// ContentHTML is a snippet of HTML that does not start or end inside a tag,
	// comment, entity or DOCTYPE, and contains no executable code from another
	// trust domain.
	ContentHTML ContentKind = iota
	// ContentJSStrChars is a run of code units that can appear between quotes
	// of either kind in a JS program without ending the string or leaving a
	// partial escape sequence.
	ContentJSStrChars
	// ContentURI is a properly encoded portion of a URI.
	ContentURI
)

func (k ContentKind) String() string {
	switch k {
	case ContentHTML:
		return "html"
	case ContentJSStrChars:
		return "js_str_chars"
	case ContentURI:
		return "uri"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

// SafeContent asserts that its content is already safe for the context named
// by its kind. Escapers for that context pass it through instead of escaping
// it again. The zero value is empty HTML.
type SafeContent struct {
	kind    ContentKind
	content string
}

// HTML wraps s as known-safe HTML. Only use it for trusted markup.
func HTML(s string) SafeContent { return SafeContent{kind: ContentHTML, content: s} }

// JSStrChars wraps s as characters that are safe inside a quoted JS string.
func JSStrChars(s string) SafeContent { return SafeContent{kind: ContentJSStrChars, content: s} }

// URI wraps s as an already encoded URI part.
func URI(s string) SafeContent { return SafeContent{kind: ContentURI, content: s} }

// Kind returns the context the content was vetted for.
func (c SafeContent) Kind() ContentKind { return c.kind }

// String returns the raw content.
func (c SafeContent) String() string { return c.content }

// asSafe reports whether v carries a SafeContent tag of the given kind.
func asSafe(v any, kind ContentKind) (string, bool) {
	switch sc := v.(type) {
	case SafeContent:
		return sc.content, sc.kind == kind
	case *SafeContent:
		if sc == nil {
			return "", false
		}
		return sc.content, sc.kind == kind
	}
	return "", false
}

// ToString coerces a template value to text. nil renders as the empty string,
// numbers use the shortest representation that round-trips, and slices are
// joined with commas like a JS array.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case SafeContent:
		return x.content
	case *SafeContent:
		if x == nil {
			return ""
		}
		return x.content
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case []byte:
		return string(x)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return ToString(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = ToString(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// isNumber reports whether v is one of Go's numeric kinds.
func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// replaceMatching rewrites every rune for which match returns true using
// replace, copying runs of untouched text in one go.
func replaceMatching(s string, match func(rune) bool, replace func(rune) string) string {
	var b strings.Builder
	changed := false
	last := 0
	for i := 0; i < len(s); {
		r, width := utf8.DecodeRuneInString(s[i:])
		if match(r) {
			if !changed {
				b.Grow(len(s) + 16)
				changed = true
			}
			b.WriteString(s[last:i])
			b.WriteString(replace(r))
			last = i + width
		}
		i += width
	}
	if !changed {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}
