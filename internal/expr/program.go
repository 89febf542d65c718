// Package expr implements the small predicate language used by custom
// assignment rules. Programs are parsed once and evaluated against a
// read-only environment under a step and time budget. There is no way to
// call functions, assign values or reach anything outside the environment.
//
//	priority == "urgent" or form_data.amount > 500
//	form_data.department in ["finance", "hr"] && not form_data.draft
package expr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrBudgetExceeded = errors.New("expr: evaluation budget exceeded")
	ErrType           = errors.New("expr: type mismatch")
)

// SyntaxError reports a parse failure at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: syntax error at offset %d: %s", e.Pos, e.Msg)
}

func typeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrType, fmt.Sprintf(format, args...))
}

// Limits bounds a single evaluation.
type Limits struct {
	MaxSteps int
	Timeout  time.Duration
}

// DefaultLimits is used when a caller passes the zero Limits.
var DefaultLimits = Limits{MaxSteps: 10000, Timeout: 50 * time.Millisecond}

// Program is a compiled predicate. It is safe for concurrent use.
type Program struct {
	source string
	root   node
}

// Compile parses source into a Program.
func Compile(source string) (*Program, error) {
	root, err := parse(source)
	if err != nil {
		return nil, err
	}
	return &Program{source: source, root: root}, nil
}

// Source returns the text the program was compiled from.
func (p *Program) Source() string {
	return p.source
}

// Eval runs the program. The result must be a boolean.
func (p *Program) Eval(ctx context.Context, env map[string]any, limits Limits) (bool, error) {
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}
	m := &machine{ctx: ctx, env: env, maxSteps: limits.MaxSteps}
	v, err := p.root.eval(m)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeErrorf("predicate evaluated to %T, want bool", v)
	}
	return b, nil
}

// StringLiterals lists the distinct string literals in source order.
func (p *Program) StringLiterals() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(n node)
	walk = func(n node) {
		switch x := n.(type) {
		case *literalNode:
			if s, ok := x.val.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		case *listNode:
			for _, item := range x.items {
				walk(item)
			}
		case *notNode:
			walk(x.x)
		case *logicalNode:
			walk(x.left)
			walk(x.right)
		case *compareNode:
			walk(x.left)
			walk(x.right)
		}
	}
	walk(p.root)
	return out
}
