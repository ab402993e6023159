package leaf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// FundingLeaf implements the funding predicate: |rate| * 100 compared
// to percent AND next_settlement_ts - now <= time_threshold_sec.
// '<' means "small |rate|", not "signed below".
type FundingLeaf struct {
	base
	op             dsl.Op
	percent        float64
	timeThresholds time.Duration
	now            func() time.Time
}

// NewFundingLeaf builds a funding leaf from DSL params
// [percent, time_threshold_sec]. Funding has no optional trailing
// poll-interval override (exact arity 2, per the DSL arity table).
func NewFundingLeaf(cond dsl.Condition) (*FundingLeaf, error) {
	if len(cond.Params) != 2 {
		return nil, fmt.Errorf("leaf: funding requires exactly percent and time_threshold_sec params")
	}
	return &FundingLeaf{
		base:           newBase(DefaultPollInterval, fingerprintFor(cond)),
		op:             cond.Op,
		percent:        cond.Params[0],
		timeThresholds: time.Duration(cond.Params[1]) * time.Second,
		now:            time.Now,
	}, nil
}

func (l *FundingLeaf) Update(ctx context.Context, st *store.Store) error {
	now := l.now()
	rows, err := st.QueryFundingLatest(ctx, now)
	if err != nil {
		return fmt.Errorf("leaf: funding update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, row := range rows {
		if row.NextSettlement.Sub(now) > l.timeThresholds {
			continue
		}
		absRatePct := math.Abs(row.Rate) * 100
		if compare(absRatePct, l.op, l.percent) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}
