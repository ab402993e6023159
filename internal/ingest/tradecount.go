package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

// BackfillMinutes is how far back the one-time startup backfill looks.
const BackfillMinutes = 20

// klineWire is one kline from the REST endpoint, which returns each
// candle as a positional JSON array (close time at index 6, trade
// count at index 8).
type klineWire struct {
	CloseTime  int64
	TradeCount int64
}

func (k *klineWire) UnmarshalJSON(raw []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if len(fields) < 9 {
		return fmt.Errorf("ingest: kline array too short (%d fields)", len(fields))
	}
	if err := json.Unmarshal(fields[6], &k.CloseTime); err != nil {
		return err
	}
	return json.Unmarshal(fields[8], &k.TradeCount)
}

func (k klineWire) MarshalJSON() ([]byte, error) {
	fields := make([]int64, 12)
	fields[6] = k.CloseTime
	fields[8] = k.TradeCount
	return json.Marshal(fields)
}

// TradeCountPipeline polls closed-minute klines per symbol with
// bounded concurrency.
type TradeCountPipeline struct {
	client      *exchange.Client
	store       *store.Store
	universe    func(ctx context.Context) ([]string, error)
	concurrency int
	cadence     time.Duration
}

func NewTradeCountPipeline(client *exchange.Client, st *store.Store, universe func(ctx context.Context) ([]string, error), concurrency int, cadence time.Duration) *TradeCountPipeline {
	return &TradeCountPipeline{client: client, store: st, universe: universe, concurrency: concurrency, cadence: cadence}
}

func (p *TradeCountPipeline) Run(ctx context.Context) {
	RunLoop(ctx, "trade_count", p.cadence, p.fetch, p.upsert, nil)
}

func (p *TradeCountPipeline) fetch(ctx context.Context) ([]store.Sample, error) {
	symbols, err := p.universe(ctx)
	if err != nil {
		return nil, err
	}

	rows := fetchConcurrently(symbols, p.concurrency, func(symbol string) (store.Sample, error) {
		var klines []klineWire
		// The newest kline is still forming; fetch two and keep the
		// closed one before it.
		q := klineQuery(symbol)
		q.Set("limit", "2")
		if err := p.client.GetSymbolJSON(ctx, "/fapi/v1/klines", symbol, q, &klines); err != nil {
			return store.Sample{}, err
		}
		if len(klines) < 2 {
			return store.Sample{}, errNoData
		}
		last := klines[len(klines)-2]
		return store.Sample{TS: time.UnixMilli(last.CloseTime), Symbol: symbol, Value: float64(last.TradeCount)}, nil
	}, func(symbol string, err error) {
		if errors.Is(err, exchange.ErrSymbolBlacklisted) {
			return
		}
		log.Warn().Str("pipeline", "trade_count").Str("symbol", symbol).Err(err).Msg("ingest: skip symbol")
	})
	return rows, nil
}

func (p *TradeCountPipeline) upsert(ctx context.Context, rows []store.Sample) error {
	return p.store.UpsertBatch(ctx, store.FamilyTradeCount, rows)
}

// Backfill loads up to BackfillMinutes of historical per-minute trade
// counts for every symbol in the universe, upserting every closed
// candle except the most recent (still-forming) one. Intended to run
// once at startup, before Run enters its steady-state poll loop.
func (p *TradeCountPipeline) Backfill(ctx context.Context) error {
	symbols, err := p.universe(ctx)
	if err != nil {
		return err
	}

	batches := fetchConcurrently(symbols, p.concurrency, func(symbol string) ([]store.Sample, error) {
		var klines []klineWire
		q := url.Values{"symbol": []string{symbol}, "interval": []string{"1m"}, "limit": []string{strconv.Itoa(BackfillMinutes)}}
		if err := p.client.GetSymbolJSON(ctx, "/fapi/v1/klines", symbol, q, &klines); err != nil {
			return nil, err
		}
		if len(klines) <= 1 {
			return nil, errNoData
		}
		out := make([]store.Sample, 0, len(klines)-1)
		for _, k := range klines[:len(klines)-1] {
			out = append(out, store.Sample{TS: time.UnixMilli(k.CloseTime), Symbol: symbol, Value: float64(k.TradeCount)})
		}
		return out, nil
	}, func(symbol string, err error) {
		log.Debug().Str("pipeline", "trade_count").Str("symbol", symbol).Err(err).Msg("ingest: backfill skip symbol")
	})

	var rows []store.Sample
	for _, b := range batches {
		rows = append(rows, b...)
	}
	if err := p.store.UpsertBatch(ctx, store.FamilyTradeCount, rows); err != nil {
		return fmt.Errorf("ingest: backfill upsert: %w", err)
	}
	log.Info().Int("rows", len(rows)).Msg("ingest: trade count historical backfill complete")
	return nil
}
