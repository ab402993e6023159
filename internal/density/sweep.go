package density

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/store"
)

// FlushEvery is the cadence of the typed-op buffer flush.
const FlushEvery = 5 * time.Second

// StaleSweepInterval is the cadence of the age-based sweep (30 min).
const StaleSweepInterval = 30 * time.Minute

// BandSweepInterval is the cadence of the out-of-band sweep (5 min).
const BandSweepInterval = 5 * time.Minute

// RunFlushLoop drains and persists the pending operation buffer every
// FlushEvery, grouping rows by operation kind.
func (t *Tracker) RunFlushLoop(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(FlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.flush(ctx, st)
		}
	}
}

func (t *Tracker) flush(ctx context.Context, st *store.Store) {
	ops := t.DrainPending()
	if len(ops) == 0 {
		return
	}

	var inserts, updates []store.DensityRow
	var deletes []store.DensityKey
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			inserts = append(inserts, toRow(op.Record))
		case OpUpdate:
			updates = append(updates, toRow(op.Record))
		case OpDelete:
			deletes = append(deletes, store.DensityKey{Symbol: op.Key.Symbol, Price: op.Key.Price})
		}
	}

	if err := st.InsertDensityBatch(ctx, inserts); err != nil {
		log.Warn().Err(err).Int("rows", len(inserts)).Msg("density: insert flush failed")
	}
	if err := st.UpdateDensityBatch(ctx, updates); err != nil {
		log.Warn().Err(err).Int("rows", len(updates)).Msg("density: update flush failed")
	}
	if err := st.DeleteDensityBatch(ctx, deletes); err != nil {
		log.Warn().Err(err).Int("rows", len(deletes)).Msg("density: delete flush failed")
	}
}

func toRow(r Record) store.DensityRow {
	return store.DensityRow{
		Symbol: r.Symbol, Price: r.Price, TS: r.LastUpdated, OrderType: string(r.Side),
		CurrentSizeUSD: r.CurrentSizeUSD, MaxSizeUSD: r.MaxSizeUSD, Touched: r.Touched,
		ReductionUSD: r.ReductionUSD, PercentFromMarket: r.PercentFromMarket,
		FirstSeen: r.FirstSeen, LastUpdated: r.LastUpdated,
	}
}

// RunStaleSweep periodically removes records whose last_updated exceeds
// StaleAgeThreshold.
func (t *Tracker) RunStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(StaleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepStale()
		}
	}
}

func (t *Tracker) sweepStale() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, rec := range t.records {
		if now.Sub(rec.LastUpdated) > StaleAgeThreshold {
			t.remove(key)
		}
	}
}

// MidPriceSource supplies the current reference mid-price for a symbol,
// used by the out-of-band sweep; ok is false if no fresh reference
// exists.
type MidPriceSource func(symbol string) (mid float64, ok bool)

// RunBandSweep periodically removes records now outside the ±10% band
// under the latest mid.
func (t *Tracker) RunBandSweep(ctx context.Context, mid MidPriceSource) {
	ticker := time.NewTicker(BandSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepOutOfBand(mid)
		}
	}
}

func (t *Tracker) sweepOutOfBand(mid MidPriceSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, rec := range t.records {
		m, ok := mid(rec.Symbol)
		if !ok {
			continue // no fresh reference; leave the record alone this pass
		}
		if math.Abs(percentFromMid(rec.Price, m)) > MaxPriceDeviationPercent {
			t.remove(key)
		}
	}
}
