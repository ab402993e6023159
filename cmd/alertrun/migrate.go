package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/alertrun/internal/store"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the time-series schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)

			st, err := store.Open(store.Config{
				DSN:             cfg.Store.DSN(),
				MaxOpenConns:    cfg.Store.MaxOpenConns,
				MaxIdleConns:    cfg.Store.MaxIdleConns,
				ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
				QueryTimeout:    cfg.Store.QueryTimeout,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			log.Info().Msg("migrate: applying schema")
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("migrate: schema up to date")
			return nil
		},
	}
}
