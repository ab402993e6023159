package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// tableSpec describes a table's DDL, whether it is a Timescale
// hypertable, its supporting indexes, and its retention window.
type tableSpec struct {
	name           string
	createSQL      string
	isHypertable   bool
	indexes        []string
	retentionHours int
}

func tableSpecs() []tableSpec {
	return []tableSpec{
		{
			name: "price",
			createSQL: `CREATE TABLE IF NOT EXISTS price (
				ts TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				price DOUBLE PRECISION NOT NULL,
				PRIMARY KEY (ts, symbol)
			)`,
			isHypertable: true,
			indexes: []string{
				"CREATE INDEX IF NOT EXISTS price_symbol_ts_idx ON price (symbol, ts DESC) INCLUDE (price)",
			},
			retentionHours: 24,
		},
		{
			name: "volume",
			createSQL: `CREATE TABLE IF NOT EXISTS volume (
				ts TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				volume DOUBLE PRECISION NOT NULL,
				PRIMARY KEY (ts, symbol)
			)`,
			isHypertable:   true,
			retentionHours: 24,
		},
		{
			name: "trade_count",
			createSQL: `CREATE TABLE IF NOT EXISTS trade_count (
				ts TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				trade_count BIGINT NOT NULL,
				PRIMARY KEY (ts, symbol)
			)`,
			isHypertable: true,
			indexes: []string{
				"CREATE INDEX IF NOT EXISTS trade_count_symbol_ts_idx ON trade_count (symbol, ts DESC)",
			},
			retentionHours: 24,
		},
		{
			name: "open_interest",
			createSQL: `CREATE TABLE IF NOT EXISTS open_interest (
				ts TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				open_interest_usd DOUBLE PRECISION NOT NULL,
				PRIMARY KEY (ts, symbol)
			)`,
			isHypertable:   true,
			retentionHours: 24,
		},
		{
			name: "funding_rate",
			createSQL: `CREATE TABLE IF NOT EXISTS funding_rate (
				ts TIMESTAMPTZ NOT NULL,
				symbol TEXT NOT NULL,
				funding_rate NUMERIC(16,8) NOT NULL,
				next_funding_ts TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (ts, symbol)
			)`,
			isHypertable:   true,
			retentionHours: 48,
		},
		{
			name: "order_density",
			createSQL: `CREATE TABLE IF NOT EXISTS order_density (
				symbol TEXT NOT NULL,
				price DOUBLE PRECISION NOT NULL,
				ts TIMESTAMPTZ NOT NULL,
				order_type TEXT NOT NULL,
				current_size_usd DOUBLE PRECISION NOT NULL,
				max_size_usd DOUBLE PRECISION NOT NULL,
				touched BOOLEAN NOT NULL DEFAULT FALSE,
				reduction_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
				percent_from_market DOUBLE PRECISION NOT NULL,
				first_seen TIMESTAMPTZ NOT NULL,
				last_updated TIMESTAMPTZ NOT NULL,
				duration_sec BIGINT NOT NULL DEFAULT 0,
				PRIMARY KEY (symbol, price)
			)`,
			isHypertable: false,
			indexes: []string{
				"CREATE INDEX IF NOT EXISTS order_density_ts_idx ON order_density (ts DESC)",
				"CREATE INDEX IF NOT EXISTS order_density_touched_idx ON order_density (symbol) WHERE touched = true",
				"CREATE INDEX IF NOT EXISTS order_density_reduction_idx ON order_density (symbol) WHERE reduction_usd > 0",
			},
			retentionHours: 48, // unused: not a hypertable, no retention policy attached
		},
	}
}

// Migrate creates the extension, tables, indexes, hypertables and
// retention policies, in that order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS timescaledb`); err != nil {
		log.Warn().Err(err).Msg("store: timescaledb extension unavailable, continuing without hypertables")
	}

	for _, spec := range tableSpecs() {
		if err := s.execLogged(ctx, spec.createSQL, "create table "+spec.name); err != nil {
			return err
		}
		for _, idx := range spec.indexes {
			if err := s.execLogged(ctx, idx, "create index on "+spec.name); err != nil {
				return err
			}
		}
		if spec.isHypertable {
			ddl := fmt.Sprintf(`SELECT create_hypertable('%s', by_range('ts'), if_not_exists => TRUE)`, spec.name)
			if err := s.execLogged(ctx, ddl, "create hypertable "+spec.name); err != nil {
				log.Warn().Err(err).Str("table", spec.name).Msg("store: hypertable conversion skipped")
			}
			retention := fmt.Sprintf(`SELECT add_retention_policy('%s', INTERVAL '%d hours', if_not_exists => TRUE)`,
				spec.name, spec.retentionHours)
			if err := s.execLogged(ctx, retention, "add retention policy "+spec.name); err != nil {
				log.Warn().Err(err).Str("table", spec.name).Msg("store: retention policy skipped")
			}
		}
	}
	return nil
}

func (s *Store) execLogged(ctx context.Context, sql, description string) error {
	if _, err := s.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("store: %s: %w", description, err)
	}
	log.Debug().Str("step", description).Msg("store: migration step complete")
	return nil
}
