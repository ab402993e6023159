package leaf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// oiMedianHistory is the fixed lookback for the OI-deviation median.
const oiMedianHistory = 24 * time.Hour

// OIDeviationLeaf implements the OI-deviation predicate:
// current_oi / median_oi(24h) - 1, as a percentage, compared to
// percent. '>' compares the signed deviation (OI risen beyond
// percent); only '<' compares the magnitude (OI within percent of its
// median), so a sharply falling OI never fires a '>' condition.
type OIDeviationLeaf struct {
	base
	op      dsl.Op
	percent float64
}

// NewOIDeviationLeaf builds an OI-deviation leaf (module "oi") from
// DSL params [percent, (poll_interval_seconds)].
func NewOIDeviationLeaf(cond dsl.Condition) (*OIDeviationLeaf, error) {
	if len(cond.Params) < 1 {
		return nil, fmt.Errorf("leaf: oi requires a percent param")
	}
	return &OIDeviationLeaf{
		base:    newBase(pollIntervalFromParam(cond.Params, 1), fingerprintFor(cond)),
		op:      cond.Op,
		percent: cond.Params[0],
	}, nil
}

func (l *OIDeviationLeaf) Update(ctx context.Context, st *store.Store) error {
	results, err := st.QueryMedian(ctx, store.FamilyOpenInterest, oiMedianHistory)
	if err != nil {
		return fmt.Errorf("leaf: oi update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, r := range results {
		if r.Median == 0 {
			continue
		}
		deviation := (r.Latest/r.Median - 1) * 100
		if oiDeviationTrigger(deviation, l.op, l.percent) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}

// oiDeviationTrigger applies the deviation semantics: '<' and '<='
// compare the magnitude of the deviation, every other operator the
// signed value.
func oiDeviationTrigger(pct float64, op dsl.Op, percent float64) bool {
	switch op {
	case dsl.OpLT, dsl.OpLE:
		return compare(math.Abs(pct), op, percent)
	default:
		return compare(pct, op, percent)
	}
}
