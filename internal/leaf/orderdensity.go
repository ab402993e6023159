package leaf

import (
	"context"
	"fmt"
	"math"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// OrderDensityLeaf implements the order-density predicate: latest
// density records with current_size_usd >= threshold,
// |percent_from_market| <= max_pct, duration >= min_duration_sec.
type OrderDensityLeaf struct {
	base
	threshold      float64
	maxPercent     float64
	minDurationSec int64
}

// NewOrderDensityLeaf builds an order-density leaf (module "order")
// from DSL params [threshold_usd, max_percent_from_market, min_duration_sec].
// The operator is not used: the predicate is the fixed three-way AND
// described above, regardless of the comparison symbol written in the
// expression.
func NewOrderDensityLeaf(cond dsl.Condition) (*OrderDensityLeaf, error) {
	if len(cond.Params) != 3 {
		return nil, fmt.Errorf("leaf: order requires threshold, max_pct, and min_duration_sec params")
	}
	return &OrderDensityLeaf{
		base:           newBase(DefaultPollInterval, fingerprintFor(cond)),
		threshold:      cond.Params[0],
		maxPercent:     cond.Params[1],
		minDurationSec: int64(cond.Params[2]),
	}, nil
}

func (l *OrderDensityLeaf) Update(ctx context.Context, st *store.Store) error {
	rows, err := st.QueryDensityMatches(ctx, l.threshold, math.Abs(l.maxPercent), l.minDurationSec)
	if err != nil {
		return fmt.Errorf("leaf: order update: %w", err)
	}
	matched := make(map[string]struct{})
	for _, row := range rows {
		matched[row.Symbol] = struct{}{}
	}
	l.store(matched)
	return nil
}
