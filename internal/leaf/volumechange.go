package leaf

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// VolumeChangeLeaf implements the volume-change predicate: percentage
// change between the trailing window and the immediately preceding
// window of the same length. '<' uses directional-drop semantics
// (change <= -percent), not a symmetric band.
type VolumeChangeLeaf struct {
	base
	op      dsl.Op
	percent float64
	window  time.Duration
}

// NewVolumeChangeLeaf builds a volume-change leaf from DSL params
// [percent, window_seconds, (poll_interval_seconds)].
func NewVolumeChangeLeaf(cond dsl.Condition) (*VolumeChangeLeaf, error) {
	if len(cond.Params) < 2 {
		return nil, fmt.Errorf("leaf: volume_change requires percent and window params")
	}
	return &VolumeChangeLeaf{
		base:    newBase(pollIntervalFromParam(cond.Params, 2), fingerprintFor(cond)),
		op:      cond.Op,
		percent: cond.Params[0],
		window:  time.Duration(cond.Params[1]) * time.Second,
	}, nil
}

func (l *VolumeChangeLeaf) Update(ctx context.Context, st *store.Store) error {
	windows, err := st.QueryTwoWindows(ctx, store.FamilyVolume, l.window)
	if err != nil {
		return fmt.Errorf("leaf: volume_change update: %w", err)
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

// directionalTrigger applies the directional-drop semantics shared by
// volume-change and trade-count: '>' fires on a rise beyond percent,
// '<' fires on a drop of at least percent (change <= -percent), and
// the remaining operators compare the signed change directly.
func directionalTrigger(pct float64, op dsl.Op, percent float64) bool {
	switch op {
	case dsl.OpGT:
		return pct > percent
	case dsl.OpLT:
		return pct <= -percent
	default:
		return compare(pct, op, percent)
	}
}
