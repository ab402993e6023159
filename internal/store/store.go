// Package store adapts the five ingested metric families plus the
// order-density table onto Postgres/TimescaleDB via sqlx and lib/pq.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Config carries the DSN plus pool bounds.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Store wraps a pooled sqlx.DB with the query timeout applied per call.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and configures the pool.
func Open(cfg Config) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{db: db, timeout: cfg.QueryTimeout}, nil
}

// NewWithDB wraps an already-open sqlx.DB, used by tests to inject
// go-sqlmock's driver without dialing a real database.
func NewWithDB(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// UpsertBatch idempotently inserts rows for a single-value family,
// keyed on (ts, symbol), newer values winning on conflict. Empty
// batches are a no-op.
func (s *Store) UpsertBatch(ctx context.Context, family Family, rows []Sample) error {
	if len(rows) == 0 {
		return nil
	}
	info, ok := tables[family]
	if !ok {
		return fmt.Errorf("store: unknown family %q", family)
	}

	qctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert %s: %w", family, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := fmt.Sprintf(
		`INSERT INTO %s (ts, symbol, %s) VALUES ($1, $2, $3)
		 ON CONFLICT (ts, symbol) DO UPDATE SET %s = EXCLUDED.%s`,
		info.table, info.column, info.column, info.column,
	)
	prepared, err := tx.PreparexContext(qctx, stmt)
	if err != nil {
		return fmt.Errorf("store: prepare upsert %s: %w", family, err)
	}
	defer prepared.Close()

	for _, row := range rows {
		if _, err := prepared.ExecContext(qctx, row.TS, row.Symbol, row.Value); err != nil {
			return fmt.Errorf("store: upsert %s row %s: %w", family, row.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert %s: %w", family, err)
	}
	log.Debug().Str("family", string(family)).Int("rows", len(rows)).Msg("store: batch upserted")
	return nil
}

// UpsertFundingBatch is UpsertBatch's funding-specific counterpart: two
// value columns instead of one.
func (s *Store) UpsertFundingBatch(ctx context.Context, rows []FundingSample) error {
	if len(rows) == 0 {
		return nil
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(qctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin upsert funding: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const stmt = `INSERT INTO funding_rate (ts, symbol, funding_rate, next_funding_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ts, symbol) DO UPDATE SET
			funding_rate = EXCLUDED.funding_rate,
			next_funding_ts = EXCLUDED.next_funding_ts`
	prepared, err := tx.PreparexContext(qctx, stmt)
	if err != nil {
		return fmt.Errorf("store: prepare upsert funding: %w", err)
	}
	defer prepared.Close()

	for _, row := range rows {
		if _, err := prepared.ExecContext(qctx, row.TS, row.Symbol, row.Rate, row.NextSettlement); err != nil {
			return fmt.Errorf("store: upsert funding row %s: %w", row.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit upsert funding: %w", err)
	}
	log.Debug().Int("rows", len(rows)).Msg("store: funding batch upserted")
	return nil
}

// QueryLatestPerSymbol returns the most recent row per symbol for family.
func (s *Store) QueryLatestPerSymbol(ctx context.Context, family Family) (map[string]Sample, error) {
	info, ok := tables[family]
	if !ok {
		return nil, fmt.Errorf("store: unknown family %q", family)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	sqlStr := fmt.Sprintf(
		`SELECT DISTINCT ON (symbol) symbol, ts, %s AS value FROM %s ORDER BY symbol, ts DESC`,
		info.column, info.table,
	)
	rows, err := s.db.QueryxContext(qctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("store: query latest %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]Sample)
	for rows.Next() {
		var symbol string
		var ts time.Time
		var value float64
		if err := rows.Scan(&symbol, &ts, &value); err != nil {
			log.Warn().Err(err).Str("family", string(family)).Msg("store: skip malformed row")
			continue
		}
		out[symbol] = Sample{TS: ts, Symbol: symbol, Value: value}
	}
	return out, rows.Err()
}

// QueryWindowSum sums value over the window anchored at each symbol's
// latest timestamp, so stalled symbols never produce phantom drops.
func (s *Store) QueryWindowSum(ctx context.Context, family Family, window time.Duration) (map[string]float64, error) {
	info, ok := tables[family]
	if !ok {
		return nil, fmt.Errorf("store: unknown family %q", family)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	sqlStr := fmt.Sprintf(`
		WITH latest AS (
			SELECT symbol, MAX(ts) AS max_ts FROM %[1]s GROUP BY symbol
		)
		SELECT t.symbol, SUM(t.%[2]s) AS total
		FROM %[1]s t
		JOIN latest l ON l.symbol = t.symbol
		WHERE t.ts > l.max_ts - $1::interval AND t.ts <= l.max_ts
		GROUP BY t.symbol`, info.table, info.column)

	rows, err := s.db.QueryxContext(qctx, sqlStr, window.String())
	if err != nil {
		return nil, fmt.Errorf("store: query window sum %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var total float64
		if err := rows.Scan(&symbol, &total); err != nil {
			continue
		}
		out[symbol] = total
	}
	return out, rows.Err()
}

// QueryWindowChangePct compares each symbol's latest value to the value
// observed at or before latest_ts - window, returning percentage change.
func (s *Store) QueryWindowChangePct(ctx context.Context, family Family, window time.Duration) (map[string]float64, error) {
	info, ok := tables[family]
	if !ok {
		return nil, fmt.Errorf("store: unknown family %q", family)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	sqlStr := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (symbol) symbol, ts AS latest_ts, %[2]s AS latest_val
			FROM %[1]s ORDER BY symbol, ts DESC
		), past AS (
			SELECT DISTINCT ON (t.symbol) t.symbol, t.%[2]s AS past_val
			FROM %[1]s t
			JOIN latest l ON l.symbol = t.symbol
			WHERE t.ts <= l.latest_ts - $1::interval
			ORDER BY t.symbol, t.ts DESC
		)
		SELECT latest.symbol, latest.latest_val, past.past_val
		FROM latest JOIN past ON past.symbol = latest.symbol`, info.table, info.column)

	rows, err := s.db.QueryxContext(qctx, sqlStr, window.String())
	if err != nil {
		return nil, fmt.Errorf("store: query window change %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var latest, past float64
		if err := rows.Scan(&symbol, &latest, &past); err != nil {
			continue
		}
		if past == 0 {
			continue
		}
		out[symbol] = (latest/past - 1) * 100
	}
	return out, rows.Err()
}

// QueryMedian returns each symbol's latest value alongside the median
// over history, anchored at the latest per-symbol timestamp. Used by the
// OI-deviation leaf.
func (s *Store) QueryMedian(ctx context.Context, family Family, history time.Duration) (map[string]MedianResult, error) {
	info, ok := tables[family]
	if !ok {
		return nil, fmt.Errorf("store: unknown family %q", family)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	sqlStr := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (symbol) symbol, ts AS latest_ts, %[2]s AS latest_val
			FROM %[1]s ORDER BY symbol, ts DESC
		), hist AS (
			SELECT l.symbol, percentile_cont(0.5) WITHIN GROUP (ORDER BY t.%[2]s) AS median_val
			FROM %[1]s t
			JOIN latest l ON l.symbol = t.symbol
			WHERE t.ts > l.latest_ts - $1::interval AND t.ts <= l.latest_ts
			GROUP BY l.symbol
		)
		SELECT latest.symbol, latest.latest_val, hist.median_val
		FROM latest JOIN hist ON hist.symbol = latest.symbol`, info.table, info.column)

	rows, err := s.db.QueryxContext(qctx, sqlStr, history.String())
	if err != nil {
		return nil, fmt.Errorf("store: query median %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]MedianResult)
	for rows.Next() {
		var symbol string
		var latest, median float64
		if err := rows.Scan(&symbol, &latest, &median); err != nil {
			continue
		}
		out[symbol] = MedianResult{Latest: latest, Median: median}
	}
	return out, rows.Err()
}

// QueryTwoWindows returns the current-window and immediately preceding
// window aggregate for each symbol, used by volume-change and
// trade-count leaves.
func (s *Store) QueryTwoWindows(ctx context.Context, family Family, window time.Duration) (map[string]TwoWindow, error) {
	info, ok := tables[family]
	if !ok {
		return nil, fmt.Errorf("store: unknown family %q", family)
	}
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	sqlStr := fmt.Sprintf(`
		WITH latest AS (
			SELECT symbol, MAX(ts) AS max_ts FROM %[1]s GROUP BY symbol
		)
		SELECT l.symbol,
			COALESCE(SUM(CASE WHEN t.ts > l.max_ts - $1::interval AND t.ts <= l.max_ts THEN t.%[2]s END), 0) AS current_val,
			COALESCE(SUM(CASE WHEN t.ts > l.max_ts - $1::interval * 2 AND t.ts <= l.max_ts - $1::interval THEN t.%[2]s END), 0) AS previous_val
		FROM %[1]s t
		JOIN latest l ON l.symbol = t.symbol
		GROUP BY l.symbol
		HAVING COALESCE(SUM(CASE WHEN t.ts > l.max_ts - $1::interval * 2 AND t.ts <= l.max_ts - $1::interval THEN t.%[2]s END), 0) > 0`,
		info.table, info.column)

	rows, err := s.db.QueryxContext(qctx, sqlStr, window.String())
	if err != nil {
		return nil, fmt.Errorf("store: query two windows %s: %w", family, err)
	}
	defer rows.Close()

	out := make(map[string]TwoWindow)
	for rows.Next() {
		var symbol string
		var cur, prev float64
		if err := rows.Scan(&symbol, &cur, &prev); err != nil {
			continue
		}
		out[symbol] = TwoWindow{Current: cur, Previous: prev}
	}
	return out, rows.Err()
}

// QueryFundingLatest returns the latest funding row per symbol whose
// next settlement is still in the future.
func (s *Store) QueryFundingLatest(ctx context.Context, now time.Time) (map[string]FundingSample, error) {
	qctx, cancel := s.ctx(ctx)
	defer cancel()

	const sqlStr = `SELECT DISTINCT ON (symbol) symbol, ts, funding_rate, next_funding_ts
		FROM funding_rate
		WHERE next_funding_ts > $1
		ORDER BY symbol, ts DESC`

	rows, err := s.db.QueryxContext(qctx, sqlStr, now)
	if err != nil {
		return nil, fmt.Errorf("store: query funding latest: %w", err)
	}
	defer rows.Close()

	out := make(map[string]FundingSample)
	for rows.Next() {
		var symbol string
		var ts, nextTS time.Time
		var rate float64
		if err := rows.Scan(&symbol, &ts, &rate, &nextTS); err != nil {
			log.Warn().Err(err).Msg("store: skip malformed funding row")
			continue
		}
		out[symbol] = FundingSample{TS: ts, Symbol: symbol, Rate: rate, NextSettlement: nextTS}
	}
	return out, rows.Err()
}
