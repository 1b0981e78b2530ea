package compile

import (
	"errors"
	"fmt"
)

// ErrIncludeDepth is returned when {{tmpl}} nesting exceeds Env.MaxDepth,
// which usually means a template includes itself.
var ErrIncludeDepth = errors.New("template include depth exceeded")

// UnsupportedDirectiveError names a directive the compiler has no rule for.
type UnsupportedDirectiveError struct {
	Name string
}

func (e *UnsupportedDirectiveError) Error() string {
	return fmt.Sprintf("unsupported directive {{%s}}", e.Name)
}

// UnknownPipeError names a =>stage that is not in Env.Funcs.
type UnknownPipeError struct {
	Name string
}

func (e *UnknownPipeError) Error() string {
	return fmt.Sprintf("unknown pipe stage %q", e.Name)
}
