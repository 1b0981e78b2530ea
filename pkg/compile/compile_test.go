package compile

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/CTAG07/safetmpl/pkg/expression"
	"github.com/CTAG07/safetmpl/pkg/parse"
)

// templateSet resolves {{tmpl}} selectors from a fixed map.
type templateSet map[string]*Template

func (s templateSet) Resolve(name string) (*Template, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return t, nil
}

func testEnv(set templateSet) Env {
	return Env{Evaluator: expression.New(), Resolver: set}
}

func mustCompile(tb testing.TB, name, source string, env Env) *Template {
	tb.Helper()
	tree, err := parse.Parse(source, nil)
	if err != nil {
		tb.Fatalf("Parse(%q) failed: %v", source, err)
	}
	tree.Name = name
	tmpl, err := Compile(tree, env)
	if err != nil {
		tb.Fatalf("Compile(%q) failed: %v", source, err)
	}
	return tmpl
}

func mustRender(tb testing.TB, tmpl *Template, data, options any) string {
	tb.Helper()
	out, err := tmpl.Render(data, options)
	if err != nil {
		tb.Fatalf("Render failed: %v", err)
	}
	return out
}

func TestRender_Each(t *testing.T) {
	tmpl := mustCompile(t, "each", "{{each (i, v) [10,20]}}${i}:${v};{{/each}}", testEnv(nil))
	if got := mustRender(t, tmpl, nil, nil); got != "0:10;1:20;" {
		t.Errorf("expected '0:10;1:20;', got '%s'", got)
	}
}

func TestRender_EachDefaultsAndNesting(t *testing.T) {
	src := "{{each rows}}[{{each (j, c) $value}}${$index}.${j}=${c} {{/each}}]{{/each}}"
	tmpl := mustCompile(t, "nested", src, testEnv(nil))
	data := map[string]any{"rows": [][]string{{"a", "b"}, {"c"}}}
	want := "[0.0=a 0.1=b ][1.0=c ]"
	if got := mustRender(t, tmpl, data, nil); got != want {
		t.Errorf("expected '%s', got '%s'", want, got)
	}
}

func TestRender_EachMapOrder(t *testing.T) {
	tmpl := mustCompile(t, "map", "{{each (k, v) m}}${k}=${v},{{/each}}", testEnv(nil))
	data := map[string]any{"m": map[string]int{"b": 2, "a": 1, "c": 3}}
	if got := mustRender(t, tmpl, data, nil); got != "a=1,b=2,c=3," {
		t.Errorf("unexpected output '%s'", got)
	}
}

func TestRender_Escaping(t *testing.T) {
	data := map[string]any{"name": "<b>"}
	raw := mustCompile(t, "raw", "${name}", testEnv(nil))
	if got := mustRender(t, raw, data, nil); got != "<b>" {
		t.Errorf("expected raw output '<b>', got '%s'", got)
	}
	escaped := mustCompile(t, "escaped", "${name=>escapeHtml}", testEnv(nil))
	if got := mustRender(t, escaped, data, nil); got != "&lt;b&gt;" {
		t.Errorf("expected '&lt;b&gt;', got '%s'", got)
	}
	chained := mustCompile(t, "chained", "${name=>escapeHtml=>escapeUri}", testEnv(nil))
	if got := mustRender(t, chained, data, nil); got != "%26lt%3Bb%26gt%3B" {
		t.Errorf("pipes applied in wrong order, got '%s'", got)
	}
}

func TestRender_IfChain(t *testing.T) {
	tmpl := mustCompile(t, "if", "{{if n > 1}}big{{else n > 0}}small{{else}}none{{/if}}", testEnv(nil))
	for n, want := range map[int]string{2: "big", 1: "small", 0: "none"} {
		if got := mustRender(t, tmpl, map[string]any{"n": n}, nil); got != want {
			t.Errorf("n=%d: expected '%s', got '%s'", n, want, got)
		}
	}
	noElse := mustCompile(t, "noelse", "a{{if flag}}b{{/if}}c", testEnv(nil))
	if got := mustRender(t, noElse, nil, nil); got != "ac" {
		t.Errorf("expected 'ac', got '%s'", got)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		check  func(error) bool
	}{
		{"if without condition", "{{if}}x{{/if}}", isStructureError},
		{"unconditional else not last", "{{if a}}x{{else}}y{{else b}}z{{/if}}", isStructureError},
		{"misplaced else", "x{{else}}y", isStructureError},
		{"malformed each", "{{each}}x{{/each}}", isStructureError},
		{"wrap", `{{wrap "w"}}x{{/wrap}}`, isUnsupported("wrap")},
		{"html without autoescape", "{{html x}}", isUnsupported("html")},
		{"unknown directive", "{{foo bar}}", isUnsupported("foo")},
		{"unknown pipe", "${x=>shout}", func(err error) bool {
			var perr *UnknownPipeError
			return errors.As(err, &perr) && perr.Name == "shout"
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := parse.Parse(tc.source, nil)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tmpl, err := Compile(tree, testEnv(nil))
			if tmpl != nil || !tc.check(err) {
				t.Errorf("unexpected result: template %v, error %v", tmpl, err)
			}
		})
	}
}

func TestCompile_StructureErrorSpan(t *testing.T) {
	tests := []struct {
		name   string
		source string
		start  int
	}{
		{"if without condition", "ab{{if}}x{{/if}}", 2},
		{"misplaced else", "x{{else}}y", 1},
		{"unconditional else not last", "{{if a}}x{{else}}y{{else b}}z{{/if}}", 17},
		{"malformed each", "abc{{each}}x{{/each}}", 3},
		{"malformed tmpl", "{{if a}}{{tmpl}}{{/if}}", 8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := parse.Parse(tc.source, nil)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			_, err = Compile(tree, testEnv(nil))
			var serr *parse.StructureError
			if !errors.As(err, &serr) {
				t.Fatalf("expected StructureError, got %v", err)
			}
			if serr.Span.Start != tc.start {
				t.Errorf("expected span to start at %d, got %+v", tc.start, serr.Span)
			}
			if want := fmt.Sprintf("at offset %d", tc.start); !strings.Contains(err.Error(), want) {
				t.Errorf("error '%v' does not mention %s", err, want)
			}
		})
	}
}

func isStructureError(err error) bool {
	var serr *parse.StructureError
	return errors.As(err, &serr)
}

func isUnsupported(name string) func(error) bool {
	return func(err error) bool {
		var uerr *UnsupportedDirectiveError
		return errors.As(err, &uerr) && uerr.Name == name
	}
}

func TestRender_TmplInsideEachSeesLoopBindings(t *testing.T) {
	set := templateSet{}
	env := testEnv(set)
	set["row"] = mustCompile(t, "row", "[${title}:${k}=${v}]", env)
	outer := mustCompile(t, "outer", `{{each (k, v) items}}{{tmpl "row"}}{{/each}}`, env)

	data := map[string]any{"title": "T", "items": []any{"a", "b"}}
	if got := mustRender(t, outer, data, nil); got != "[T:0=a][T:1=b]" {
		t.Errorf("expected '[T:0=a][T:1=b]', got '%s'", got)
	}
}

func TestRender_TmplDataAndOptions(t *testing.T) {
	set := templateSet{}
	env := testEnv(set)
	set["row"] = mustCompile(t, "row", "${title}|${$item.mode}", env)

	explicit := mustCompile(t, "explicit", `{{tmpl({"title": "X"}) "row"}}`, env)
	options := map[string]any{"mode": "m"}
	if got := mustRender(t, explicit, map[string]any{"title": "ignored"}, options); got != "X|m" {
		t.Errorf("explicit data: expected 'X|m', got '%s'", got)
	}

	both := mustCompile(t, "both", `{{tmpl({"title": "X"}, {"mode": "o"}) "row"}}`, env)
	if got := mustRender(t, both, nil, options); got != "X|o" {
		t.Errorf("explicit options: expected 'X|o', got '%s'", got)
	}

	forwarded := mustCompile(t, "forwarded", `{{tmpl "row"}}`, env)
	if got := mustRender(t, forwarded, map[string]any{"title": "Y"}, map[string]any{"mode": "z"}); got != "Y|z" {
		t.Errorf("forwarded: expected 'Y|z', got '%s'", got)
	}

	dynamic := mustCompile(t, "dynamic", `{{tmpl which}}`, env)
	if got := mustRender(t, dynamic, map[string]any{"which": "row", "title": "D"}, options); got != "D|m" {
		t.Errorf("dynamic selector: expected 'D|m', got '%s'", got)
	}
}

func TestRender_TmplEvaluationOrder(t *testing.T) {
	set := templateSet{}
	set["row"] = mustCompile(t, "row", "${title}|${$item.mode}", testEnv(set))

	var evaluated []string
	env := Env{Resolver: set, Evaluator: EvaluatorFunc(func(expr string, _ map[string]any) (any, error) {
		evaluated = append(evaluated, expr)
		switch expr {
		case "[d, o]":
			return []any{map[string]any{"title": "X"}, map[string]any{"mode": "o"}}, nil
		case "pick":
			return "row", nil
		}
		return nil, fmt.Errorf("unexpected expression %q", expr)
	})}

	tmpl := mustCompile(t, "order", "{{tmpl(d, o) pick}}", env)
	if got := mustRender(t, tmpl, nil, nil); got != "X|o" {
		t.Errorf("expected 'X|o', got '%s'", got)
	}
	if diff := cmp.Diff([]string{"[d, o]", "pick"}, evaluated); diff != "" {
		t.Errorf("evaluation order mismatch (-want +got):\n%s", diff)
	}

	evaluated = nil
	bare := mustCompile(t, "bare", "{{tmpl pick}}", env)
	if got := mustRender(t, bare, map[string]any{"title": "Y"}, map[string]any{"mode": "z"}); got != "Y|z" {
		t.Errorf("expected 'Y|z', got '%s'", got)
	}
	if diff := cmp.Diff([]string{"pick"}, evaluated); diff != "" {
		t.Errorf("selector-only evaluation mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_IncludeDepth(t *testing.T) {
	set := templateSet{}
	env := testEnv(set)
	env.MaxDepth = 3
	set["loop"] = mustCompile(t, "loop", `x{{tmpl "loop"}}`, env)

	_, err := set["loop"].Render(nil, nil)
	if !errors.Is(err, ErrIncludeDepth) {
		t.Fatalf("expected ErrIncludeDepth, got %v", err)
	}

	set["missing"] = mustCompile(t, "missing", `{{tmpl "nope"}}`, env)
	if _, err = set["missing"].Render(nil, nil); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("expected a resolve error naming the template, got %v", err)
	}
}

func TestRender_Dethunk(t *testing.T) {
	calls := 0
	values := map[string]any{
		"lazy":   func() string { return "<lazy>" },
		"failed": func() (int, error) { return 0, errors.New("boom") },
		"arg":    func(int) string { return "never" },
	}
	env := Env{Evaluator: EvaluatorFunc(func(expr string, _ map[string]any) (any, error) {
		calls++
		return values[expr], nil
	})}

	lazy := mustCompile(t, "lazy", "${lazy=>escapeHtml=>stripHtmlTags}", env)
	if got := mustRender(t, lazy, nil, nil); got != "&lt;lazy&gt;" {
		t.Errorf("expected '&lt;lazy&gt;', got '%s'", got)
	}
	if calls != 1 {
		t.Errorf("expected the expression to be evaluated once, got %d", calls)
	}

	failed := mustCompile(t, "failed", "${failed}", env)
	if _, err := failed.Render(nil, nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected thunk error to propagate, got %v", err)
	}

	arg := mustCompile(t, "arg", "${arg}", env)
	if got := mustRender(t, arg, nil, nil); got == "never" {
		t.Error("functions taking arguments must not be called")
	}
}

func TestRender_ScopeNames(t *testing.T) {
	type page struct {
		Title  string
		hidden string
	}
	tmpl := mustCompile(t, "scope", "${Title}/${hidden}/${$data.Title}/${$item}", testEnv(nil))
	if got := mustRender(t, tmpl, &page{Title: "t", hidden: "h"}, "opt"); got != "t//t/opt" {
		t.Errorf("unexpected output '%s'", got)
	}
}

func TestRender_EvalError(t *testing.T) {
	env := Env{Evaluator: EvaluatorFunc(func(string, map[string]any) (any, error) {
		return nil, errors.New("bad expression")
	})}
	tmpl := mustCompile(t, "broken", "a${x}b", env)
	if _, err := tmpl.Render(nil, nil); err == nil || !strings.Contains(err.Error(), `template "broken"`) {
		t.Errorf("expected wrapped evaluation error, got %v", err)
	}
}
