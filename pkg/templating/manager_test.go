package templating

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CTAG07/safetmpl/pkg/store"
)

// setupTestManager creates a TemplateManager for a single test's scope, with
// one template and one partial on disk and one template in the store.
func setupTestManager(tb testing.TB) (*TemplateManager, *store.Store) {
	tb.Helper()

	dataDir := tb.TempDir()
	templatesPath := filepath.Join(dataDir, "templates")
	if err := os.Mkdir(templatesPath, 0755); err != nil {
		tb.Fatalf("failed to create templates dir: %v", err)
	}
	writeTemplateFile(tb, templatesPath, "page.tmpl.html", `<h1>${title}</h1>{{tmpl "footer"}}`)
	writeTemplateFile(tb, templatesPath, "footer.part.html", `<footer>${year}</footer>`)

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", tb.Name()))
	if err != nil {
		tb.Fatalf("failed to open in-memory db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	if err = store.SetupSchema(db); err != nil {
		tb.Fatalf("failed to setup store schema: %v", err)
	}
	st, err := store.New(db)
	if err != nil {
		tb.Fatalf("failed to create store: %v", err)
	}
	tb.Cleanup(st.Close)
	if err = st.Put(context.Background(), "greeting", "Hello ${name}"); err != nil {
		tb.Fatalf("failed to store template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	config := DefaultConfig()
	tm, err := NewTemplateManager(logger, st, &config, dataDir)
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return tm, st
}

func writeTemplateFile(tb testing.TB, dir, name, content string) {
	tb.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		tb.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestNewTemplateManager(t *testing.T) {
	tm, _ := setupTestManager(t)
	if diff := cmp.Diff([]string{"greeting", "page"}, tm.GetTemplateNames()); diff != "" {
		t.Errorf("template names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"footer", "greeting", "page"}, tm.Registry().Names()); diff != "" {
		t.Errorf("registered names mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_HasTemplate(t *testing.T) {
	tm, _ := setupTestManager(t)
	for name, want := range map[string]bool{"page": true, "greeting": true, "footer": false, "missing": false} {
		if got := tm.HasTemplate(name); got != want {
			t.Errorf("HasTemplate(%q) = %v, expected %v", name, got, want)
		}
	}
}

func TestManager_Execute(t *testing.T) {
	tm, _ := setupTestManager(t)

	var buf bytes.Buffer
	data := map[string]any{"title": "<T>", "year": 2024}
	if err := tm.Execute(&buf, "page", data, nil); err != nil {
		t.Fatalf("Execute failed for valid template: %v", err)
	}
	if want := "<h1>&lt;T&gt;</h1><footer>2024</footer>"; buf.String() != want {
		t.Errorf("expected output '%s', got '%s'", want, buf.String())
	}

	buf.Reset()
	if err := tm.Execute(&buf, "", data, nil); err != nil || buf.Len() != 0 {
		t.Errorf("empty name should render nothing, got %q, %v", buf.String(), err)
	}

	if err := tm.Execute(&buf, "nonexistent", nil, nil); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestManager_Refresh(t *testing.T) {
	tm, st := setupTestManager(t)

	writeTemplateFile(t, tm.GetTemplateDir(), "new.tmpl.html", "New Content")
	if err := st.Put(context.Background(), "page", "stored ${title}"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if diff := cmp.Diff([]string{"greeting", "new", "page"}, tm.GetTemplateNames()); diff != "" {
		t.Errorf("template names mismatch (-want +got):\n%s", diff)
	}
	var buf bytes.Buffer
	if err := tm.Execute(&buf, "page", map[string]any{"title": "x"}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if buf.String() != "stored x" {
		t.Errorf("stored template should win over the file, got '%s'", buf.String())
	}
}

func TestManager_RefreshFailureKeepsRegistry(t *testing.T) {
	tm, _ := setupTestManager(t)
	before := tm.Registry()

	writeTemplateFile(t, tm.GetTemplateDir(), "broken.tmpl.html", "{{if x}}never closed")
	if err := tm.Refresh(); err == nil {
		t.Fatal("Refresh should fail on a malformed template")
	}
	if tm.Registry() != before {
		t.Error("failed Refresh must keep the previous registry")
	}
}

func TestManager_ExecuteTemplateString(t *testing.T) {
	tm, _ := setupTestManager(t)
	var buf bytes.Buffer
	err := tm.ExecuteTemplateString(&buf, `[${x}]{{tmpl "footer"}}`, map[string]any{"x": "<", "year": 1}, nil)
	if err != nil {
		t.Fatalf("ExecuteTemplateString failed: %v", err)
	}
	if want := "[&lt;]<footer>1</footer>"; buf.String() != want {
		t.Errorf("expected '%s', got '%s'", want, buf.String())
	}
	if tm.Registry().Has(anonymousName) {
		t.Error("string templates must not be registered")
	}
}

func TestManager_SetConfig(t *testing.T) {
	tm, _ := setupTestManager(t)

	newConfig := DefaultConfig()
	newConfig.Autoescape = false
	tm.SetConfig(&newConfig)
	if err := tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	var buf bytes.Buffer
	if err := tm.Execute(&buf, "greeting", map[string]any{"name": "<b>"}, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if buf.String() != "Hello <b>" {
		t.Errorf("expected unescaped output with autoescape off, got '%s'", buf.String())
	}

	got := tm.GetConfig()
	got.BlockDirectives = append(got.BlockDirectives, "mutated")
	if len(tm.GetConfig().BlockDirectives) != 0 {
		t.Error("GetConfig must return a copy")
	}
}

func TestManager_Check(t *testing.T) {
	tm, _ := setupTestManager(t)
	if err := tm.Check("${a}{{each xs}}${$value}{{/each}}"); err != nil {
		t.Errorf("Check rejected a valid template: %v", err)
	}
	if err := tm.Check("{{wrap x}}y{{/wrap}}"); err == nil {
		t.Error("Check should reject wrap")
	}
}

func BenchmarkExecute_Page(b *testing.B) {
	tm, _ := setupTestManager(b)
	data := map[string]any{"title": "<T>", "year": 2024}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tm.Execute(io.Discard, "page", data, nil); err != nil {
			b.Fatal(err)
		}
	}
}
