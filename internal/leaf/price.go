package leaf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// PriceLeaf implements the price-change predicate:
// |latest/past(window) - 1| * 100 compared to percent, with '>' firing
// beyond the band and '<' firing within it (symmetric-band semantics).
type PriceLeaf struct {
	base
	op      dsl.Op
	percent float64
	window  time.Duration
}

// NewPriceLeaf builds a price-change leaf from DSL params
// [percent, window_seconds, (poll_interval_seconds)].
func NewPriceLeaf(cond dsl.Condition) (*PriceLeaf, error) {
	if len(cond.Params) < 2 {
		return nil, fmt.Errorf("leaf: price requires percent and window params")
	}
	return &PriceLeaf{
		base:    newBase(pollIntervalFromParam(cond.Params, 2), fingerprintFor(cond)),
		op:      cond.Op,
		percent: cond.Params[0],
		window:  time.Duration(cond.Params[1]) * time.Second,
	}, nil
}

func (l *PriceLeaf) Update(ctx context.Context, st *store.Store) error {
	changes, err := st.QueryWindowChangePct(ctx, store.FamilyPrice, l.window)
	if err != nil {
		return fmt.Errorf("leaf: price update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, pct := range changes {
		if compare(math.Abs(pct), l.op, l.percent) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}
