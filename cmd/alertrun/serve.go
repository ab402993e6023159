package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/alertrun/internal/alert"
	"github.com/sawpanic/alertrun/internal/broadcast"
	"github.com/sawpanic/alertrun/internal/config"
	"github.com/sawpanic/alertrun/internal/density"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/httpapi"
	"github.com/sawpanic/alertrun/internal/ingest"
	"github.com/sawpanic/alertrun/internal/leaf"
	"github.com/sawpanic/alertrun/internal/store"
	"github.com/sawpanic/alertrun/internal/telemetry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion, alert-evaluation, and status-surface engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			return runServe(cfg)
		},
	}
}

// runServe wires the store, exchange client, ingestion pipelines,
// density tracker, composite engine, and status surface together and
// blocks until an interrupt signal arrives, at which point every
// background goroutine is asked to stop via context cancellation.
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewRegistry(prometheus.DefaultRegisterer)

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

	var redisClient *redis.Client
	if cfg.Exchange.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Exchange.RedisAddr})
	}

	blacklist := exchange.NewBlacklist(cfg.Exchange.BlacklistTTL, redisClient)
	restClient := exchange.New(exchange.Config{
		BaseURL:     cfg.Exchange.RESTBaseURL,
		HTTPTimeout: cfg.Exchange.HTTPTimeout,
		RPS:         float64(cfg.Pipelines["price"].RPS),
		Burst:       cfg.Pipelines["price"].Burst,
		BreakerName: "exchange-rest",
	}, blacklist)

	universeCache := exchange.NewUniverseCache(cfg.Exchange.UniverseTTL, func(ctx context.Context) ([]string, error) {
		return fetchUniverseSymbols(ctx, restClient)
	})
	if _, err := universeCache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("serve: initial universe fetch failed, starting with an empty universe")
	}
	go runPeriodically(ctx, cfg.Exchange.UniverseRefresh, func() {
		if _, err := universeCache.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("serve: universe refresh failed")
		}
	})

	// Density tracking: WebSocket depth/bookTicker consumer feeding the
	// in-memory tracker, flushed to the store and swept periodically.
	tracker := density.NewTracker()
	tickerCache := density.NewTickerCache()
	consumer := density.NewConsumer(tracker, tickerCache)

	go tracker.RunFlushLoop(ctx, st)
	go tracker.RunStaleSweep(ctx)
	go tracker.RunBandSweep(ctx, func(symbol string) (float64, bool) {
		return tickerCache.Mid(symbol)
	})

	// Ingestion pipelines.
	pricePipeline := ingest.NewPricePipeline(restClient, st, cadence(cfg, "price"))
	volumePipeline := ingest.NewVolumePipeline(st, 5*time.Second)
	tradeCountPipeline := ingest.NewTradeCountPipeline(restClient, st, universeCache.Symbols, cfg.Pipelines["trade_count"].ConcurrencyCap, cadence(cfg, "trade_count"))
	openInterestPipeline := ingest.NewOpenInterestPipeline(restClient, st, universeCache.Symbols, cfg.Pipelines["open_interest"].ConcurrencyCap, cadence(cfg, "open_interest"))
	fundingPipeline := ingest.NewFundingPipeline(restClient, st, cadence(cfg, "funding"))

	if err := tradeCountPipeline.Backfill(ctx); err != nil {
		log.Warn().Err(err).Msg("serve: trade count historical backfill failed, continuing live-only")
	}

	go pricePipeline.Run(ctx)
	go volumePipeline.Run(ctx)
	go tradeCountPipeline.Run(ctx)
	go openInterestPipeline.Run(ctx)
	go fundingPipeline.Run(ctx)

	go runStreamGroups(ctx, cfg, universeCache, exchange.StreamHandlers{
		OnKline:      volumePipeline.OnKlineClose,
		OnDepth:      consumer.OnDepth,
		OnBookTicker: consumer.OnBookTicker,
	})

	// Composite alert engine.
	leaves := leaf.NewManager()
	registry := alert.NewRegistry(leaves)
	users := broadcast.NewUserHub(metrics)
	scheduler := alert.NewScheduler(registry, leaves, st, users, cfg.Scheduler.BaseStep)

	go scheduler.RunLeafLoop(ctx)
	go scheduler.RunTickLoop(ctx)

	densityHub := broadcast.NewDensityHub(tracker, metrics)
	go densityHub.RunBroadcastLoop(ctx)

	server := httpapi.NewServer(httpapi.Config{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, registry, users, densityHub)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("serve: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("serve: http server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func cadence(cfg *config.Config, name string) time.Duration {
	return time.Duration(cfg.Pipelines[name].CadenceSeconds) * time.Second
}

func runPeriodically(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

type exchangeInfoWire struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// fetchUniverseSymbols retrieves every exchangeInfo symbol with status
// TRADING and quote asset USDT, the UniverseFetcher backing
// UniverseCache. Contract type is not checked.
func fetchUniverseSymbols(ctx context.Context, client *exchange.Client) ([]string, error) {
	var wire exchangeInfoWire
	if err := client.GetJSON(ctx, "/fapi/v1/exchangeInfo", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(wire.Symbols))
	for _, s := range wire.Symbols {
		if s.Status == "TRADING" && s.QuoteAsset == "USDT" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

// runStreamGroups splits the universe into exchange.GroupSize-sized
// chunks and runs one multiplexed WebSocket StreamGroup per chunk,
// tearing down and rebuilding the whole split every ReconnectInterval
// from the then-current universe, whether or not it changed.
func runStreamGroups(ctx context.Context, cfg *config.Config, universeCache *exchange.UniverseCache, handlers exchange.StreamHandlers) {
	var lastGroupCount = -1
	for {
		if ctx.Err() != nil {
			return
		}
		symbols, err := universeCache.Symbols(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("serve: stream group universe fetch failed, retrying shortly")
			if !sleepOrDone(ctx, 5*time.Second) {
				return
			}
			continue
		}

		groups := exchange.GroupSymbols(symbols)
		if len(groups) != lastGroupCount {
			log.Info().Int("groups", len(groups)).Int("symbols", len(symbols)).Msg("serve: starting stream groups")
		}
		lastGroupCount = len(groups)

		groupCtx, cancel := context.WithCancel(ctx)
		for _, group := range groups {
			sg := exchange.NewStreamGroup(cfg.Exchange.WSBaseURL, group, handlers)
			go sg.Run(groupCtx)
		}

		// Re-derive group membership on the exchange's own reconnect
		// cadence, so universe churn is picked up without a restart.
		if !sleepOrDone(ctx, cfg.Exchange.ReconnectInterval) {
			cancel()
			return
		}
		cancel()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
