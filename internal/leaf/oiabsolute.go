package leaf

import (
	"context"
	"fmt"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// OIAbsoluteLeaf implements the OI-absolute predicate: latest OI
// value (in USD) compared to threshold_usd. Maps to the "oi_sum" DSL
// module (aggregate open interest, as opposed to "oi"'s
// deviation-from-median reading).
type OIAbsoluteLeaf struct {
	base
	op           dsl.Op
	thresholdUSD float64
}

// NewOIAbsoluteLeaf builds an OI-absolute leaf (module "oi_sum") from
// DSL params [threshold_usd, (poll_interval_seconds)].
func NewOIAbsoluteLeaf(cond dsl.Condition) (*OIAbsoluteLeaf, error) {
	if len(cond.Params) < 1 {
		return nil, fmt.Errorf("leaf: oi_sum requires a threshold param")
	}
	return &OIAbsoluteLeaf{
		base:         newBase(pollIntervalFromParam(cond.Params, 1), fingerprintFor(cond)),
		op:           cond.Op,
		thresholdUSD: cond.Params[0],
	}, nil
}

func (l *OIAbsoluteLeaf) Update(ctx context.Context, st *store.Store) error {
	latest, err := st.QueryLatestPerSymbol(ctx, store.FamilyOpenInterest)
	if err != nil {
		return fmt.Errorf("leaf: oi_sum update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, sample := range latest {
		if compare(sample.Value, l.op, l.thresholdUSD) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}
