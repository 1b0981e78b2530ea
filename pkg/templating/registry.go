package templating

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/CTAG07/safetmpl/pkg/compile"
	"github.com/CTAG07/safetmpl/pkg/escape"
	"github.com/CTAG07/safetmpl/pkg/parse"
	"github.com/CTAG07/safetmpl/pkg/passes"
)

// ErrTemplateNotFound is returned when a name has not been registered.
var ErrTemplateNotFound = errors.New("template not found")

// anonymousName is the tree name used for templates compiled from source.
const anonymousName = "_"

// maxInlineTemplates bounds the cache of inline {{tmpl}} selectors, which
// may come from render data.
const maxInlineTemplates = 256

// Evaluator both checks and evaluates template expressions.
// *expression.Engine satisfies it.
type Evaluator interface {
	compile.Evaluator
	parse.SyntaxChecker
}

// Registry maps template names to their parse trees and, once requested,
// their compiled renderers. Templates are compiled lazily, together with
// every statically referenced template that is not yet compiled, so passes
// see the whole bundle. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	trees    map[string]*parse.Tree
	sources  map[string]string
	compiled map[string]*compile.Template
	inline   *lru.Cache[string, *compile.Template]

	config    TemplateConfig
	evaluator Evaluator
	pipeline  *passes.Pipeline
	env       compile.Env
	logger    *slog.Logger
}

// NewRegistry returns an empty registry configured by config.
func NewRegistry(config TemplateConfig, evaluator Evaluator) *Registry {
	// Only fails for a non-positive size.
	inline, _ := lru.New[string, *compile.Template](maxInlineTemplates)
	r := &Registry{
		trees:     make(map[string]*parse.Tree),
		sources:   make(map[string]string),
		compiled:  make(map[string]*compile.Template),
		inline:    inline,
		config:    config.clone(),
		evaluator: evaluator,
		pipeline:  passes.NewPipeline(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if config.Autoescape {
		r.pipeline.Add(passes.Autoescape)
	}
	r.env = compile.Env{
		Evaluator: evaluator,
		Resolver:  r,
		Funcs:     escape.Funcs(),
		MaxDepth:  config.MaxIncludeDepth,
	}
	return r
}

// SetLogger sets the logger for the Registry. By default, all logs are discarded.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// AddPass appends a pass that runs after the built-in ones. It only affects
// templates compiled afterwards.
func (r *Registry) AddPass(pass passes.Pass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline.Add(pass)
}

func (r *Registry) parse(source string) (*parse.Tree, error) {
	blocks := r.config.Blocks().Union(parse.GuessBlockDirectives(source))
	return parse.Parse(source, blocks,
		parse.WithMode(r.config.Mode()),
		parse.WithChecker(r.evaluator),
	)
}

// RegisterTemplate parses source and stores it under name, replacing any
// previous template of that name. Compilation is deferred to GetRenderer.
func (r *Registry) RegisterTemplate(name, source string) error {
	tree, err := r.parse(source)
	if err != nil {
		return fmt.Errorf("template %q: %w", name, err)
	}
	tree.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trees[name] = tree
	r.sources[name] = source
	delete(r.compiled, name)
	return nil
}

// Remove drops the template registered under name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trees, name)
	delete(r.sources, name)
	delete(r.compiled, name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.trees[name]
	return ok
}

// Names returns the registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.trees))
	for name := range r.trees {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Source returns the text name was registered with. Passes rewrite the
// tree when it is compiled, so the tree is not serialized back.
func (r *Registry) Source(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return source, nil
}

// GetRenderer returns the compiled template registered under name.
func (r *Registry) GetRenderer(name string) (*compile.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.compiled[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have compiled it while we waited.
	if tmpl, ok = r.compiled[name]; ok {
		return tmpl, nil
	}
	tree, ok := r.trees[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return r.compileLocked(tree)
}

// Resolve implements compile.Resolver. A selector containing "<" is
// treated as inline template source rather than a name.
func (r *Registry) Resolve(name string) (*compile.Template, error) {
	if strings.Contains(name, "<") {
		return r.compileInline(name)
	}
	return r.GetRenderer(name)
}

func (r *Registry) compileInline(source string) (*compile.Template, error) {
	if tmpl, ok := r.inline.Get(source); ok {
		return tmpl, nil
	}
	tmpl, err := r.Compile(source)
	if err != nil {
		return nil, err
	}
	r.inline.Add(source, tmpl)
	return tmpl, nil
}

// Compile parses and compiles source as an anonymous template. The result
// is not registered, but templates it references are compiled and cached.
func (r *Registry) Compile(source string) (*compile.Template, error) {
	tree, err := r.parse(source)
	if err != nil {
		return nil, err
	}
	tree.Name = anonymousName

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compileLocked(tree)
}

// Check parses and compiles source without touching the registry.
func (r *Registry) Check(source string) error {
	tree, err := r.parse(source)
	if err != nil {
		return err
	}
	tree.Name = anonymousName

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, err = r.pipeline.Run(passes.Bundle{anonymousName: tree}); err != nil {
		return err
	}
	_, err = compile.Compile(tree, r.env)
	return err
}

// compileLocked compiles tree together with the uncompiled templates it
// references by name. The caller must hold the write lock.
func (r *Registry) compileLocked(tree *parse.Tree) (*compile.Template, error) {
	bundle := passes.Bundle{tree.Name: tree}
	r.collectDependencies(tree, bundle)

	bundle, err := r.pipeline.Run(bundle)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", tree.Name, err)
	}

	tmpl, err := compile.Compile(bundle[tree.Name], r.env)
	if err != nil {
		r.logger.Debug("Template failed to compile", "name", tree.Name, "error", err)
		return nil, fmt.Errorf("template %q: %w", tree.Name, err)
	}
	if tree.Name != anonymousName {
		r.compiled[tree.Name] = tmpl
	}

	for name, dep := range bundle {
		if name == tree.Name {
			continue
		}
		depTmpl, err := compile.Compile(dep, r.env)
		if err != nil {
			// Reported again when the dependency is rendered.
			r.logger.Debug("Dependency failed to compile", "name", name, "from", tree.Name, "error", err)
			continue
		}
		r.compiled[name] = depTmpl
	}
	return tmpl, nil
}

// collectDependencies adds every registered, uncompiled template reachable
// from tree through quoted {{tmpl}} selectors.
func (r *Registry) collectDependencies(tree *parse.Tree, bundle passes.Bundle) {
	parse.Walk(tree.Root, func(n parse.Node) bool {
		d, ok := n.(*parse.DirectiveNode)
		if !ok || d.Name != "tmpl" {
			return true
		}
		clause, ok := parse.DecomposeTmpl(d.Content)
		if !ok {
			return true
		}
		name, ok := clause.StaticName()
		if !ok {
			return true
		}
		if _, seen := bundle[name]; seen {
			return true
		}
		if _, done := r.compiled[name]; done {
			return true
		}
		dep, ok := r.trees[name]
		if !ok {
			return true
		}
		bundle[name] = dep
		r.collectDependencies(dep, bundle)
		return true
	})
}
