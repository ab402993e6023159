package alert

import (
	"fmt"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/leaf"
)

// planNode is a compiled, AST-shape-independent evaluation step.
// Context is keyed by the leaf's position in the same left-to-right
// traversal order used to build it, not by module name: a composite
// may reference the same module twice with different parameters
// (e.g. "price > 5 300 & price < 1 60"), so each condition binds one
// specific listener instance.
type planNode interface {
	eval(ctx []map[string]struct{}) map[string]struct{}
}

// condPlan reads one leaf's matched set by its index in the
// composite's Leaves slice.
type condPlan struct {
	idx int
}

func (p condPlan) eval(ctx []map[string]struct{}) map[string]struct{} {
	if p.idx >= len(ctx) {
		return nil
	}
	return ctx[p.idx]
}

type andPlan struct {
	children []planNode
}

func (p andPlan) eval(ctx []map[string]struct{}) map[string]struct{} {
	if len(p.children) == 0 {
		return nil
	}
	result := cloneSet(p.children[0].eval(ctx))
	for _, child := range p.children[1:] {
		next := child.eval(ctx)
		for symbol := range result {
			if _, ok := next[symbol]; !ok {
				delete(result, symbol)
			}
		}
	}
	return result
}

type orPlan struct {
	children []planNode
}

func (p orPlan) eval(ctx []map[string]struct{}) map[string]struct{} {
	result := make(map[string]struct{})
	for _, child := range p.children {
		for symbol := range child.eval(ctx) {
			result[symbol] = struct{}{}
		}
	}
	return result
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

// compile walks node (with any root Cooldown already stripped),
// acquiring one leaf per Condition from mgr in traversal order and
// building the matching planNode tree. The returned leaves slice's
// index order is the contract condPlan.idx relies on.
func compile(node dsl.Node, mgr *leaf.Manager) (planNode, []leaf.Leaf, error) {
	var leaves []leaf.Leaf
	plan, err := compileInto(node, mgr, &leaves)
	if err != nil {
		releaseAll(mgr, leaves)
		return nil, nil, err
	}
	return plan, leaves, nil
}

func compileInto(node dsl.Node, mgr *leaf.Manager, leaves *[]leaf.Leaf) (planNode, error) {
	switch v := node.(type) {
	case dsl.Condition:
		l, err := mgr.Acquire(v)
		if err != nil {
			return nil, fmt.Errorf("alert: compile condition: %w", err)
		}
		idx := len(*leaves)
		*leaves = append(*leaves, l)
		return condPlan{idx: idx}, nil
	case dsl.And:
		children := make([]planNode, 0, len(v.Children))
		for _, c := range v.Children {
			cp, err := compileInto(c, mgr, leaves)
			if err != nil {
				return nil, err
			}
			children = append(children, cp)
		}
		return andPlan{children: children}, nil
	case dsl.Or:
		children := make([]planNode, 0, len(v.Children))
		for _, c := range v.Children {
			cp, err := compileInto(c, mgr, leaves)
			if err != nil {
				return nil, err
			}
			children = append(children, cp)
		}
		return orPlan{children: children}, nil
	default:
		return nil, fmt.Errorf("alert: compile: unexpected node type %T (cooldown must be stripped before compile)", node)
	}
}

func releaseAll(mgr *leaf.Manager, leaves []leaf.Leaf) {
	for _, l := range leaves {
		mgr.Release(l.Fingerprint())
	}
}

// minPollInterval returns the minimum poll interval among leaves,
// which becomes the composite's own tick period.
func minPollInterval(leaves []leaf.Leaf) time.Duration {
	var min time.Duration
	for i, l := range leaves {
		d := l.PollInterval()
		if i == 0 || d < min {
			min = d
		}
	}
	return min
}
