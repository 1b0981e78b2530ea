package escape

import (
	"math"
	"testing"
)

type escapeCase struct {
	name string
	in   any
	want string
}

func runEscapeCases(t *testing.T, fn func(any) string, cases []escapeCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fn(tc.in); got != tc.want {
				t.Errorf("got '%s', expected '%s'", got, tc.want)
			}
		})
	}
}

func TestToString(t *testing.T) {
	runEscapeCases(t, ToString, []escapeCase{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"int", 42, "42"},
		{"whole float", 1.0, "1"},
		{"fraction", 1.5, "1.5"},
		{"nan", math.NaN(), "NaN"},
		{"bool", true, "true"},
		{"slice", []int{1, 2}, "1,2"},
		{"safe", HTML("<b>"), "<b>"},
		{"uint8", uint8(7), "7"},
	})
}

func TestEscapeHTML(t *testing.T) {
	runEscapeCases(t, EscapeHTML, []escapeCase{
		{"tags", "<b>", "&lt;b&gt;"},
		{"quotes", `"'&`, "&quot;&#39;&amp;"},
		{"nul", "a\x00b", "a&#0;b"},
		{"safe html passes", HTML("<b>"), "<b>"},
		{"other kind escaped", URI("<b>"), "&lt;b&gt;"},
		{"nil", nil, ""},
		{"number", 42, "42"},
		{"slice", []any{"<", HTML("<i>")}, "&lt;<i>"},
	})
}

func TestEscapeHTMLRcdata(t *testing.T) {
	runEscapeCases(t, EscapeHTMLRcdata, []escapeCase{
		{"plain", "<x>", "&lt;x&gt;"},
		{"safe html normalized", HTML("<b>&amp;</b>"), "&lt;b&gt;&amp;&lt;/b&gt;"},
	})
}

func TestStripHTMLTags(t *testing.T) {
	runEscapeCases(t, StripHTMLTags, []escapeCase{
		{"no tags", "a & b", "a & b"},
		{"tags and comments", "a<b>c</b><!-- x -->d", "acd"},
		{"textarea body", "<textarea><b>x</b></textarea>", "x"},
		{"textarea hides handler", "<textarea><img src=x onerror=alert(1)></textarea>", ""},
		{"title body", "<title>a<i>b</i></title>", "ab"},
		{"script body", "<script>a<b>c</b></script>", "ac"},
		{"plaintext body", "<plaintext><b>x</b>", "x"},
		{"self-closing textarea", "<textarea/><b>x</b>", "x"},
	})
}

func TestEscapeHTMLAttribute(t *testing.T) {
	runEscapeCases(t, EscapeHTMLAttribute, []escapeCase{
		{"plain", `a"b`, "a&quot;b"},
		{"safe html stripped", HTML(`<i>a"b</i>`), "a&quot;b"},
		{"entities kept", HTML("a&amp;b"), "a&amp;b"},
	})
	runEscapeCases(t, EscapeHTMLAttributeNospace, []escapeCase{
		{"space", "a b", "a&#32;b"},
		{"equals and backtick", "=`", "&#61;&#96;"},
		{"safe html", HTML("<i>x y</i>"), "x&#32;y"},
	})
}

func TestFilterHTMLAttribute(t *testing.T) {
	runEscapeCases(t, FilterHTMLAttribute, []escapeCase{
		{"event handler", "onclick", InnocuousOutput},
		{"href", "href", InnocuousOutput},
		{"style any case", "STYLE", InnocuousOutput},
		{"plain name", "title", "title"},
		{"dir ltr", "dir=ltr", `dir="ltr"`},
		{"dir rtl upper", "DIR=RTL", `DIR="RTL"`},
		{"other pair", "x=y", InnocuousOutput},
		{"space", "a b", InnocuousOutput},
	})
}

// The value part is quoted whenever the string does not end in a quote, even
// when it already starts with one.
func TestQuoteAttributeValue(t *testing.T) {
	cases := map[string]string{
		"a":       "a",
		"a=b":     `a="b"`,
		`a="b"`:   `a="b"`,
		"a='b'":   "a='b'",
		"a='b'c":  `a="'b'c"`,
		"a=b=c":   `a="b=c"`,
		"a=":      `a=""`,
		`"a"=b"`:  `"a"=b"`,
		"dir=rtl": `dir="rtl"`,
	}
	for in, want := range cases {
		if got := quoteAttributeValue(in); got != want {
			t.Errorf("quoteAttributeValue(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestFilterHTMLElementName(t *testing.T) {
	runEscapeCases(t, FilterHTMLElementName, []escapeCase{
		{"div", "div", "div"},
		{"custom", "my-widget", "my-widget"},
		{"script", "Script", InnocuousOutput},
		{"noscript", "noscript", InnocuousOutput},
		{"textarea", "textarea", InnocuousOutput},
		{"bad chars", "a>b", InnocuousOutput},
	})
}

func TestEscapeJS(t *testing.T) {
	runEscapeCases(t, EscapeJSString, []escapeCase{
		{"quotes and tags", `a'b"</`, `a\x27b\x22\x3c\/`},
		{"newline", "a\nb", `a\nb`},
		{"backslash", `\`, `\\`},
		{"line separator", "\u2028", `\u2028`},
		{"safe passes", JSStrChars(`\x27`), `\x27`},
	})
	runEscapeCases(t, EscapeJSValue, []escapeCase{
		{"nil", nil, " null "},
		{"bool", true, " true "},
		{"int", 3, " 3 "},
		{"float", 3.5, " 3.5 "},
		{"string", "a'", `'a\x27'`},
	})
	runEscapeCases(t, EscapeJSRegex, []escapeCase{
		{"dot", "a.b", `a\x2eb`},
		{"class", "[x]", `\x5bx\x5d`},
		{"dollar", "$", `\x24`},
	})
}

func TestEscapeURI(t *testing.T) {
	runEscapeCases(t, EscapeURI, []escapeCase{
		{"space and marks", "a b'(", "a%20b%27%28"},
		{"utf8", "é", "%C3%A9"},
		{"reserved", "a/b?c", "a%2Fb%3Fc"},
		{"safe uri normalized", URI("a b"), "a%20b"},
		{"safe uri kept", URI("a%2Fb"), "a%2Fb"},
	})
}

func TestNormalizeURI(t *testing.T) {
	runEscapeCases(t, NormalizeURI, []escapeCase{
		{"already valid", "/path?a=b", "/path?a=b"},
		{"mixed", "/a b?x=%20&y=%zz", "/a%20b?x=%20&y=%25zz"},
		{"apostrophe", "it's", "it%27s"},
		{"brackets kept", "http://[::1]/", "http://[::1]/"},
	})
}

func TestFilterNormalizeURI(t *testing.T) {
	runEscapeCases(t, FilterNormalizeURI, []escapeCase{
		{"javascript", "javascript:alert(1)", InnocuousURI},
		{"javascript upper", "JavaScript:x", InnocuousURI},
		{"data", "data:text/html,x", InnocuousURI},
		{"relative", "/path?a=b", "/path?a=b"},
		{"https", "HTTPS://example.com/a b", "HTTPS://example.com/a%20b"},
		{"mailto", "mailto:a@b.c", "mailto:a@b.c"},
		{"colon after slash", "foo/bar:baz", "foo/bar:baz"},
		{"fragment", "#top", "#top"},
		{"empty", "", ""},
	})
}

func TestCSS(t *testing.T) {
	runEscapeCases(t, EscapeCSSString, []escapeCase{
		{"quote", `a"b`, `a\22 b`},
		{"tag end", "</", `\3c \2f `},
		{"plain", "abc", "abc"},
	})
	runEscapeCases(t, FilterCSSValue, []escapeCase{
		{"keyword", "red", "red"},
		{"quantity", "10px", "10px"},
		{"negative", "-1.5em", "-1.5em"},
		{"percent", "50%", "50%"},
		{"important", "!important", "!important"},
		{"id", "#main", "#main"},
		{"empty", "", ""},
		{"nil", nil, ""},
		{"expression", "expression(alert(1))", InnocuousOutput},
		{"expression inside", "foo-expression", InnocuousOutput},
		{"moz binding", "-moz-binding", InnocuousOutput},
		{"binding", "--binding", InnocuousOutput},
		{"semicolon", "a;b", InnocuousOutput},
		{"url", "url(x)", InnocuousOutput},
	})
}

func TestSanitizeHTML(t *testing.T) {
	got := SanitizeHTML(`<b>hi</b><script>alert(1)</script>`)
	if got.Kind() != ContentHTML {
		t.Fatalf("expected kind html, got %s", got.Kind())
	}
	if got.String() != "<b>hi</b>" {
		t.Errorf("got '%s', expected '<b>hi</b>'", got)
	}
	if out := EscapeHTML(got); out != "<b>hi</b>" {
		t.Errorf("sanitized content was escaped again: '%s'", out)
	}
	if trusted := SanitizeHTML(HTML("<script></script>")); trusted.String() != "<script></script>" {
		t.Errorf("trusted html should pass through, got '%s'", trusted)
	}
}

func TestFuncs(t *testing.T) {
	funcs := Funcs()
	names := []string{
		"escapeHtml", "escapeHtmlRcdata", "stripHtmlTags", "escapeHtmlAttribute",
		"escapeHtmlAttributeNospace", "filterHtmlAttribute", "filterHtmlElementName",
		"escapeJsString", "escapeJsValue", "escapeJsRegex", "escapeUri", "normalizeUri",
		"filterNormalizeUri", "escapeCssString", "filterCssValue", "sanitizeHtml",
	}
	if len(funcs) != len(names) {
		t.Errorf("expected %d funcs, got %d", len(names), len(funcs))
	}
	for _, name := range names {
		if funcs[name] == nil {
			t.Errorf("missing func '%s'", name)
		}
	}
	if got := funcs[DefaultPipe]("<"); got != "&lt;" {
		t.Errorf("default pipe returned '%v'", got)
	}
}
