package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

type tickerPriceWire struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// PricePipeline polls the all-symbols ticker endpoint on a fast cadence
// and upserts immediately, with no batching window.
type PricePipeline struct {
	client  *exchange.Client
	store   *store.Store
	cadence time.Duration
}

func NewPricePipeline(client *exchange.Client, st *store.Store, cadence time.Duration) *PricePipeline {
	return &PricePipeline{client: client, store: st, cadence: cadence}
}

func (p *PricePipeline) Run(ctx context.Context) {
	RunLoop(ctx, "price", p.cadence, p.fetch, p.upsert, nil)
}

func (p *PricePipeline) fetch(ctx context.Context) ([]store.Sample, error) {
	var wire []tickerPriceWire
	if err := p.client.GetJSON(ctx, "/fapi/v1/ticker/price", nil, &wire); err != nil {
		return nil, err
	}

	now := time.Now()
	rows := make([]store.Sample, 0, len(wire))
	for _, t := range wire {
		price, err := parseFloat(t.Price)
		if err != nil {
			log.Warn().Str("pipeline", "price").Str("symbol", t.Symbol).Err(err).Msg("ingest: skip malformed price row")
			continue
		}
		rows = append(rows, store.Sample{TS: now, Symbol: t.Symbol, Value: price})
	}
	return rows, nil
}

func (p *PricePipeline) upsert(ctx context.Context, rows []store.Sample) error {
	return p.store.UpsertBatch(ctx, store.FamilyPrice, rows)
}
