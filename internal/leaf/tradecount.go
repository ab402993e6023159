package leaf

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// TradeCountLeaf implements the trade-count predicate: the same
// two-window percent change as VolumeChangeLeaf, over trade counts
// instead of quote volume (the order_num module).
type TradeCountLeaf struct {
	base
	op      dsl.Op
	percent float64
	window  time.Duration
}

// NewTradeCountLeaf builds a trade-count leaf from DSL params
// [percent, window_seconds, (poll_interval_seconds)].
func NewTradeCountLeaf(cond dsl.Condition) (*TradeCountLeaf, error) {
	if len(cond.Params) < 2 {
		return nil, fmt.Errorf("leaf: order_num requires percent and window params")
	}
	return &TradeCountLeaf{
		base:    newBase(pollIntervalFromParam(cond.Params, 2), fingerprintFor(cond)),
		op:      cond.Op,
		percent: cond.Params[0],
		window:  time.Duration(cond.Params[1]) * time.Second,
	}, nil
}

func (l *TradeCountLeaf) Update(ctx context.Context, st *store.Store) error {
	windows, err := st.QueryTwoWindows(ctx, store.FamilyTradeCount, l.window)
	if err != nil {
		return fmt.Errorf("leaf: order_num update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, tw := range windows {
		if tw.Previous == 0 {
			continue
		}
		pct := (tw.Current/tw.Previous - 1) * 100
		if directionalTrigger(pct, l.op, l.percent) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}
