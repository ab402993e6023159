package store

import (
	"context"
	"fmt"
	"time"
)

// DensityRow is the persisted shape of one order-density record,
// matching the order_density table in schema.go.
type DensityRow struct {
	Symbol            string
	Price             float64
	TS                time.Time
	OrderType         string // "LONG" or "SHORT"
	CurrentSizeUSD    float64
	MaxSizeUSD        float64
	Touched           bool
	ReductionUSD      float64
	PercentFromMarket float64
	FirstSeen         time.Time
	LastUpdated       time.Time
}

func (r DensityRow) durationSec() int64 {
	return int64(r.LastUpdated.Sub(r.FirstSeen).Seconds())
}

// InsertDensityBatch inserts new density records, doing nothing on a
// key collision (the record should have gone through UpdateDensityBatch
// instead, but a race between the in-memory map and the flush is
// harmless here).
func (s *Store) InsertDensityBatch(ctx context.Context, rows []DensityRow) error {
	if len(rows) == 0 {
		return nil
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin insert density: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const stmt = `INSERT INTO order_density
		(symbol, price, ts, order_type, current_size_usd, max_size_usd, touched, reduction_usd, percent_from_market, first_seen, last_updated, duration_sec)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (symbol, price) DO NOTHING`
	prepared, err := tx.PreparexContext(qctx, stmt)
	if err != nil {
		return fmt.Errorf("store: prepare insert density: %w", err)
	}
	defer prepared.Close()

	for _, r := range rows {
		if _, err := prepared.ExecContext(qctx, r.Symbol, r.Price, r.TS, r.OrderType,
			r.CurrentSizeUSD, r.MaxSizeUSD, r.Touched, r.ReductionUSD, r.PercentFromMarket,
			r.FirstSeen, r.LastUpdated, r.durationSec()); err != nil {
			return fmt.Errorf("store: insert density %s@%v: %w", r.Symbol, r.Price, err)
		}
	}
	return tx.Commit()
}

// UpdateDensityBatch updates existing density records in place.
func (s *Store) UpdateDensityBatch(ctx context.Context, rows []DensityRow) error {
	if len(rows) == 0 {
		return nil
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin update density: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const stmt = `UPDATE order_density SET
		ts = $3, current_size_usd = $4, max_size_usd = $5, touched = $6,
		reduction_usd = $7, percent_from_market = $8, last_updated = $9, duration_sec = $10
		WHERE symbol = $1 AND price = $2`
	prepared, err := tx.PreparexContext(qctx, stmt)
	if err != nil {
		return fmt.Errorf("store: prepare update density: %w", err)
	}
	defer prepared.Close()

	for _, r := range rows {
		if _, err := prepared.ExecContext(qctx, r.Symbol, r.Price, r.TS,
			r.CurrentSizeUSD, r.MaxSizeUSD, r.Touched, r.ReductionUSD, r.PercentFromMarket,
			r.LastUpdated, r.durationSec()); err != nil {
			return fmt.Errorf("store: update density %s@%v: %w", r.Symbol, r.Price, err)
		}
	}
	return tx.Commit()
}

// DensityKey identifies one (symbol, price_level) density record for
// deletion.
type DensityKey struct {
	Symbol string
	Price  float64
}

// DeleteDensityBatch removes density records by key.
func (s *Store) DeleteDensityBatch(ctx context.Context, keys []DensityKey) error {
	if len(keys) == 0 {
		return nil
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin delete density: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	prepared, err := tx.PreparexContext(qctx, `DELETE FROM order_density WHERE symbol = $1 AND price = $2`)
	if err != nil {
		return fmt.Errorf("store: prepare delete density: %w", err)
	}
	defer prepared.Close()

	for _, k := range keys {
		if _, err := prepared.ExecContext(qctx, k.Symbol, k.Price); err != nil {
			return fmt.Errorf("store: delete density %s@%v: %w", k.Symbol, k.Price, err)
		}
	}
	return tx.Commit()
}

// QueryDensityMatches returns density rows satisfying the order-density
// leaf's predicate: size floor, market-proximity band, minimum duration,
// observed within the last hour.
func (s *Store) QueryDensityMatches(ctx context.Context, minSizeUSD, maxPercentFromMarket float64, minDurationSec int64) ([]DensityRow, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	const sqlStr = `SELECT symbol, price, ts, order_type, current_size_usd, max_size_usd,
			touched, reduction_usd, percent_from_market, first_seen, last_updated
		FROM order_density
		WHERE current_size_usd >= $1 AND ABS(percent_from_market) <= $2 AND duration_sec >= $3
			AND ts >= NOW() - INTERVAL '1 hour'
		ORDER BY current_size_usd DESC`

	rows, err := s.db.QueryxContext(qctx, sqlStr, minSizeUSD, maxPercentFromMarket, minDurationSec)
	if err != nil {
		return nil, fmt.Errorf("store: query density matches: %w", err)
	}
	defer rows.Close()

	var out []DensityRow
	for rows.Next() {
		var r DensityRow
		if err := rows.Scan(&r.Symbol, &r.Price, &r.TS, &r.OrderType, &r.CurrentSizeUSD,
			&r.MaxSizeUSD, &r.Touched, &r.ReductionUSD, &r.PercentFromMarket,
			&r.FirstSeen, &r.LastUpdated); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
