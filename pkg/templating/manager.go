package templating

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/CTAG07/safetmpl/pkg/expression"
	"github.com/CTAG07/safetmpl/pkg/store"
)

// SourceStore lists template sources kept outside the filesystem.
// *store.Store satisfies it.
type SourceStore interface {
	List(ctx context.Context) ([]store.Record, error)
}

// TemplateManager is the central controller for the templating engine.
// It owns the configuration and the current Registry, loads template
// sources from the templates directory and the optional store, and swaps in
// a freshly built registry on every Refresh.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	store         SourceStore
	engine        *expression.Engine
	registry      *Registry
	templateNames []string
	templateDir   string
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// The store may be nil, in which case only files under dataDir/templates
// are loaded. It performs an initial Refresh.
func NewTemplateManager(logger *slog.Logger, st SourceStore, config *TemplateConfig, dataDir string) (*TemplateManager, error) {
	if config == nil {
		def := DefaultConfig()
		config = &def
	}
	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		store:       st,
		engine:      expression.New(),
		templateDir: filepath.Join(dataDir, "templates"),
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized")
	return tm, nil
}

// SetConfig replaces the configuration. It takes effect on the next Refresh.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
}

// Refresh reloads every template from the filesystem and the store into a
// new registry. On error the previous registry stays in place.
func (tm *TemplateManager) Refresh() error {
	tm.mu.RLock()
	cfg := tm.config.clone()
	tm.mu.RUnlock()

	registry := NewRegistry(cfg, tm.engine)
	registry.SetLogger(tm.logger)

	tm.logger.Info("Loading template files...")
	names, err := tm.loadFiles(registry, cfg.TemplateSuffix)
	if err != nil {
		tm.logger.Error("failed to load template files", "error", err)
		return err
	}
	tm.logger.Info("Loading partial files...")
	if _, err = tm.loadFiles(registry, cfg.PartialSuffix); err != nil {
		tm.logger.Error("failed to load partial files", "error", err)
		return err
	}

	if tm.store != nil {
		var records []store.Record
		records, err = tm.store.List(context.Background())
		if err != nil {
			tm.logger.Error("failed to load stored templates", "error", err)
			return err
		}
		for _, rec := range records {
			if err = registry.RegisterTemplate(rec.Name, rec.Source); err != nil {
				tm.logger.Error("failed to parse stored template", "name", rec.Name, "error", err)
				return err
			}
			names = append(names, rec.Name)
		}
	}
	names = dedupe(names)

	if len(names) == 0 {
		tm.logger.Warn("No templates found", "dir", tm.templateDir, "suffix", cfg.TemplateSuffix)
	}

	tm.mu.Lock()
	tm.registry = registry
	tm.templateNames = names
	tm.mu.Unlock()

	tm.logger.Info("Loaded templates", "count", len(registry.Names()))
	return nil
}

// loadFiles registers every file in the templates directory ending in
// suffix and returns the names it registered.
func (tm *TemplateManager) loadFiles(registry *Registry, suffix string) ([]string, error) {
	if suffix == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(tm.templateDir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), suffix)
		if err = registry.RegisterTemplate(name, string(source)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		names = append(names, name)
	}
	return names, nil
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Registry returns the registry built by the last successful Refresh.
func (tm *TemplateManager) Registry() *Registry {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.registry
}

// Execute renders the template registered under name to w. options is
// visible to the template as $item. An empty name renders nothing.
func (tm *TemplateManager) Execute(w io.Writer, name string, data, options any) error {
	if name == "" {
		return nil
	}
	tmpl, err := tm.Registry().GetRenderer(name)
	if err != nil {
		return err
	}
	out, err := tmpl.Render(data, options)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// ExecuteTemplateString compiles content as an anonymous template and
// renders it to w. It can include registered templates but is not itself
// registered, which makes it suited to previews.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data, options any) error {
	tmpl, err := tm.Registry().Compile(content)
	if err != nil {
		return err
	}
	out, err := tmpl.Render(data, options)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Check parses and compiles source under the current configuration
// without registering it.
func (tm *TemplateManager) Check(source string) error {
	return tm.Registry().Check(source)
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.config.clone()
}

// GetTemplateNames returns the names of the loaded full templates and
// stored templates. Partials are registered but not listed.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return append([]string{}, tm.templateNames...)
}

// HasTemplate reports whether name is one of the listed templates. It is
// false for partials, which are only reachable through {{tmpl}}.
func (tm *TemplateManager) HasTemplate(name string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Contains(tm.templateNames, name)
}

// GetTemplateDir returns the template dir that the TemplateManager uses.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}
