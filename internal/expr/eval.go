package expr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type node interface {
	eval(m *machine) (any, error)
}

type machine struct {
	ctx      context.Context
	env      map[string]any
	steps    int
	maxSteps int
}

func (m *machine) step() error {
	m.steps++
	if m.maxSteps > 0 && m.steps > m.maxSteps {
		return fmt.Errorf("%w: more than %d steps", ErrBudgetExceeded, m.maxSteps)
	}
	if m.steps%32 == 1 {
		if err := m.ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
	}
	return nil
}

type literalNode struct {
	val any
}

func (n *literalNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	return n.val, nil
}

type pathNode struct {
	parts []string
}

func (n *pathNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	var cur any = m.env
	for _, part := range n.parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		cur = obj[part]
	}
	return normalize(cur), nil
}

type listNode struct {
	items []node
}

func (n *listNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type notNode struct {
	x node
}

func (n *notNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	v, err := n.x.eval(m)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, typeErrorf("not expects a boolean, got %T", v)
	}
	return !b, nil
}

type logicalNode struct {
	op          string
	left, right node
}

func (n *logicalNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	l, err := evalBool(m, n.left, n.op)
	if err != nil {
		return nil, err
	}
	if n.op == "and" && !l {
		return false, nil
	}
	if n.op == "or" && l {
		return true, nil
	}
	return evalBool(m, n.right, n.op)
}

func evalBool(m *machine, x node, op string) (bool, error) {
	v, err := x.eval(m)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeErrorf("%s expects booleans, got %T", op, v)
	}
	return b, nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(m *machine) (any, error) {
	if err := m.step(); err != nil {
		return nil, err
	}
	l, err := n.left.eval(m)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(m)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "===":
		return strictEqual(l, r), nil
	case "!==":
		return !strictEqual(l, r), nil
	case "in", "not in":
		found, err := contains(r, l)
		if err != nil {
			return nil, err
		}
		if n.op == "not in" {
			return !found, nil
		}
		return found, nil
	case "<", "<=", ">", ">=":
		c, err := order(l, r)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return nil, typeErrorf("unknown operator %s", n.op)
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	_, aNum := a.(float64)
	_, bNum := b.(float64)
	if aNum || bNum {
		af, aok := asNumber(a)
		bf, bok := asNumber(b)
		return aok && bok && af == bf
	}
	return strictEqual(a, b)
}

func strictEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, typeErrorf("in on a string expects a string, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case nil:
		return false, nil
	}
	return false, typeErrorf("in expects a list, got %T", haystack)
}

func order(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if !aok || !bok {
		return 0, typeErrorf("cannot order %T and %T", a, b)
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	}
	return 0, nil
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}
