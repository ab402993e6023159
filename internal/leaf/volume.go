package leaf

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// VolumeLeaf implements the volume-absolute predicate: sum of quote
// volume over window compared to threshold_usd.
type VolumeLeaf struct {
	base
	op           dsl.Op
	thresholdUSD float64
	window       time.Duration
}

// NewVolumeLeaf builds a volume-absolute leaf from DSL params
// [threshold_usd, window_seconds, (poll_interval_seconds)].
func NewVolumeLeaf(cond dsl.Condition) (*VolumeLeaf, error) {
	if len(cond.Params) < 2 {
		return nil, fmt.Errorf("leaf: volume requires threshold and window params")
	}
	return &VolumeLeaf{
		base:         newBase(pollIntervalFromParam(cond.Params, 2), fingerprintFor(cond)),
		op:           cond.Op,
		thresholdUSD: cond.Params[0],
		window:       time.Duration(cond.Params[1]) * time.Second,
	}, nil
}

func (l *VolumeLeaf) Update(ctx context.Context, st *store.Store) error {
	sums, err := st.QueryWindowSum(ctx, store.FamilyVolume, l.window)
	if err != nil {
		return fmt.Errorf("leaf: volume update: %w", err)
	}
	matched := make(map[string]struct{})
	for symbol, total := range sums {
		if compare(total, l.op, l.thresholdUSD) {
			matched[symbol] = struct{}{}
		}
	}
	l.store(matched)
	return nil
}

// compare applies a DSL comparison operator, shared by every leaf
// variant whose predicate reduces to "value OP threshold".
func compare(value float64, op dsl.Op, threshold float64) bool {
	switch op {
	case dsl.OpGT:
		return value > threshold
	case dsl.OpLT:
		return value < threshold
	case dsl.OpGE:
		return value >= threshold
	case dsl.OpLE:
		return value <= threshold
	case dsl.OpEQ:
		return value == threshold
	case dsl.OpNE:
		return value != threshold
	default:
		return false
	}
}
