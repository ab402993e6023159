package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/alertrun/internal/config"
	"github.com/sawpanic/alertrun/internal/telemetry"
)

const (
	appName = "alertrun"
	version = "v0.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Composite derivatives alert engine",
		Version: version,
		Long: `alertrun ingests derivatives market data, evaluates composite
boolean alert expressions against it, and pushes notifications to
subscribers over a push-channel hub and a status HTTP/WebSocket surface.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults baked in if omitted)")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newMigrateCmd(&configPath))
	rootCmd.AddCommand(newDSLCheckCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("config: load failed")
	}
	telemetry.InitLogging(cfg.LogLevel, term.IsTerminal(int(os.Stderr.Fd())))
	return cfg
}
