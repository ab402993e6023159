package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// Canonicalize renders a fixed textual form so that two expressions
// parsed from differently-whitespaced source produce identical text,
// and therefore identical fingerprints.
func Canonicalize(n Node) string {
	switch v := n.(type) {
	case Condition:
		parts := make([]string, 0, len(v.Params)+2)
		parts = append(parts, string(v.Module), string(v.Op))
		for _, p := range v.Params {
			parts = append(parts, formatNumber(p))
		}
		return strings.Join(parts, " ")
	case And:
		return joinChildren(v.Children, " & ")
	case Or:
		return joinChildren(v.Children, " | ")
	case Cooldown:
		return fmt.Sprintf("%s @%d", Canonicalize(v.Expr), v.Seconds)
	default:
		panic(fmt.Sprintf("dsl: canonicalize: unknown node type %T", n))
	}
}

func joinChildren(children []Node, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = wrapIfNeeded(c)
	}
	return strings.Join(parts, sep)
}

// wrapIfNeeded parenthesizes a child And/Or so that mixed And-of-Or /
// Or-of-And trees canonicalize unambiguously back to the same
// structure on re-parse.
func wrapIfNeeded(n Node) string {
	switch n.(type) {
	case Or, And:
		return "(" + Canonicalize(n) + ")"
	default:
		return Canonicalize(n)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Collect returns every leaf Condition in the tree, in left-to-right
// order.
func Collect(n Node) []Condition {
	var out []Condition
	var walk func(Node)
	walk = func(node Node) {
		switch v := node.(type) {
		case Condition:
			out = append(out, v)
		case And:
			for _, c := range v.Children {
				walk(c)
			}
		case Or:
			for _, c := range v.Children {
				walk(c)
			}
		case Cooldown:
			walk(v.Expr)
		}
	}
	walk(n)
	return out
}

// CooldownSeconds returns the root cooldown, if any.
func CooldownSeconds(n Node) (int, bool) {
	if cd, ok := n.(Cooldown); ok {
		return cd.Seconds, true
	}
	return 0, false
}

// StripCooldown returns the inner expression with any root Cooldown
// wrapper removed, for plan compilation.
func StripCooldown(n Node) Node {
	if cd, ok := n.(Cooldown); ok {
		return cd.Expr
	}
	return n
}
