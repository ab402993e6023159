package dsl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleCondition(t *testing.T) {
	n, err := Parse("price > 5 300")
	require.NoError(t, err)
	cond, ok := n.(Condition)
	require.True(t, ok)
	require.Equal(t, ModulePrice, cond.Module)
	require.Equal(t, OpGT, cond.Op)
	require.Equal(t, []float64{5, 300}, cond.Params)
}

func TestParseAndOrPrecedence(t *testing.T) {
	n, err := Parse("price > 5 300 & oi < 100 | funding > 0.1 600")
	require.NoError(t, err)
	or, ok := n.(Or)
	require.True(t, ok)
	require.Len(t, or.Children, 2)
	_, isAnd := or.Children[0].(And)
	require.True(t, isAnd)
}

func TestParseParenthesizedGroup(t *testing.T) {
	n, err := Parse("(price > 5 300 | oi < 100) & funding > 0.1 600")
	require.NoError(t, err)
	and, ok := n.(And)
	require.True(t, ok)
	_, isOr := and.Children[0].(Or)
	require.True(t, isOr)
}

func TestParseRootCooldown(t *testing.T) {
	n, err := Parse("price > 5 300 & oi < 100 @10")
	require.NoError(t, err)
	cd, ok := n.(Cooldown)
	require.True(t, ok)
	require.Equal(t, 10, cd.Seconds)
}

func TestParseCooldownInsideParensIsError(t *testing.T) {
	_, err := Parse("(price > 5 300 @10) & oi < 100")
	require.Error(t, err)
}

func TestParseUnknownModule(t *testing.T) {
	_, err := Parse("frobnicate > 5")
	require.Error(t, err)
}

func TestParseBadArity(t *testing.T) {
	_, err := Parse("funding > 0.1") // funding requires exactly 2 params
	require.Error(t, err)
}

func TestParseUnbalancedParens(t *testing.T) {
	_, err := Parse("(price > 5 300 & oi < 100")
	require.Error(t, err)
}

func TestParseMalformedNumber(t *testing.T) {
	_, err := Parse("price > foo")
	require.Error(t, err)
}

func TestCanonicalizationIgnoresWhitespace(t *testing.T) {
	a, err := Parse("price>5 300&oi<100")
	require.NoError(t, err)
	b, err := Parse("  price  >  5   300  &  oi  <  100  ")
	require.NoError(t, err)
	require.Equal(t, Canonicalize(a), Canonicalize(b))
	require.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintRoundTrip(t *testing.T) {
	original, err := Parse("price > 5 300 & (oi < 100 | funding > 0.1 600) @10")
	require.NoError(t, err)

	rendered := Canonicalize(original)
	reparsed, err := Parse(rendered)
	require.NoError(t, err)

	require.Equal(t, Fingerprint(original), Fingerprint(reparsed))
}

func TestCollectReturnsAllLeaves(t *testing.T) {
	n, err := Parse("price > 5 300 & oi < 100 | funding > 0.1 600")
	require.NoError(t, err)
	conds := Collect(n)
	require.Len(t, conds, 3)
}
