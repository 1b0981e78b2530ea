// Package expression evaluates the expressions embedded in templates. It
// wraps github.com/expr-lang/expr, caching one compiled program per distinct
// expression text.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Engine compiles and runs expressions against a scope of named values.
// Unknown names evaluate to nil. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
	options  []expr.Option
}

// New returns an Engine. Extra options, such as expr.Function, are applied
// to every compiled program.
func New(opts ...expr.Option) *Engine {
	return &Engine{
		programs: make(map[string]*vm.Program),
		options:  append([]expr.Option{expr.AllowUndefinedVariables()}, opts...),
	}
}

// Check reports whether src is syntactically valid without compiling it.
func (e *Engine) Check(src string) error {
	if _, err := parser.Parse(src); err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	return nil
}

// Eval runs src with scope as its environment.
func (e *Engine) Eval(src string, scope map[string]any) (any, error) {
	program, err := e.program(src)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		scope = map[string]any{}
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", src, err)
	}
	return out, nil
}

func (e *Engine) program(src string) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok = e.programs[src]; ok {
		return p, nil
	}
	p, err := expr.Compile(src, e.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", src, err)
	}
	e.programs[src] = p
	return p, nil
}

// Len returns the number of cached programs.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}
