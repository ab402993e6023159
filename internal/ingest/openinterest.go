package ingest

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

type openInterestWire struct {
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

// OpenInterestPipeline polls per-symbol open interest with bounded
// concurrency and normalizes the raw coin-denominated reading to USD
// by multiplying by the latest known price.
type OpenInterestPipeline struct {
	client      *exchange.Client
	store       *store.Store
	universe    func(ctx context.Context) ([]string, error)
	concurrency int
	cadence     time.Duration
}

func NewOpenInterestPipeline(client *exchange.Client, st *store.Store, universe func(ctx context.Context) ([]string, error), concurrency int, cadence time.Duration) *OpenInterestPipeline {
	return &OpenInterestPipeline{client: client, store: st, universe: universe, concurrency: concurrency, cadence: cadence}
}

func (p *OpenInterestPipeline) Run(ctx context.Context) {
	RunLoop(ctx, "open_interest", p.cadence, p.fetch, p.upsert, nil)
}

func (p *OpenInterestPipeline) fetch(ctx context.Context) ([]store.Sample, error) {
	symbols, err := p.universe(ctx)
	if err != nil {
		return nil, err
	}
	latestPrices, err := p.store.QueryLatestPerSymbol(ctx, store.FamilyPrice)
	if err != nil {
		return nil, err
	}

	rows := fetchConcurrently(symbols, p.concurrency, func(symbol string) (store.Sample, error) {
		price, known := latestPrices[symbol]
		if !known {
			return store.Sample{}, errNoData // no reference price yet, skip this tick
		}

		var wire openInterestWire
		q := url.Values{"symbol": []string{symbol}}
		if err := p.client.GetSymbolJSON(ctx, "/fapi/v1/openInterest", symbol, q, &wire); err != nil {
			return store.Sample{}, err
		}
		oi, err := parseFloat(wire.OpenInterest)
		if err != nil {
			return store.Sample{}, err
		}
		return store.Sample{TS: time.UnixMilli(wire.Time), Symbol: symbol, Value: oi * price.Value}, nil
	}, func(symbol string, err error) {
		if errors.Is(err, exchange.ErrSymbolBlacklisted) {
			return
		}
		log.Warn().Str("pipeline", "open_interest").Str("symbol", symbol).Err(err).Msg("ingest: skip symbol")
	})
	return rows, nil
}

func (p *OpenInterestPipeline) upsert(ctx context.Context, rows []store.Sample) error {
	return p.store.UpsertBatch(ctx, store.FamilyOpenInterest, rows)
}
