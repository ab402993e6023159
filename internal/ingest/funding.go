package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

type premiumIndexWire struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// FundingPipeline polls the premium-index batch endpoint once per
// cadence and upserts every symbol's funding row in one call.
type FundingPipeline struct {
	client  *exchange.Client
	store   *store.Store
	cadence time.Duration
}

func NewFundingPipeline(client *exchange.Client, st *store.Store, cadence time.Duration) *FundingPipeline {
	return &FundingPipeline{client: client, store: st, cadence: cadence}
}

func (p *FundingPipeline) Run(ctx context.Context) {
	RunLoop(ctx, "funding", p.cadence, p.fetch, p.upsert, nil)
}

func (p *FundingPipeline) fetch(ctx context.Context) ([]store.FundingSample, error) {
	var wire []premiumIndexWire
	if err := p.client.GetJSON(ctx, "/fapi/v1/premiumIndex", nil, &wire); err != nil {
		return nil, err
	}

	rows := make([]store.FundingSample, 0, len(wire))
	for _, w := range wire {
		rate, err := parseFloat(w.LastFundingRate)
		if err != nil {
			log.Warn().Str("pipeline", "funding").Str("symbol", w.Symbol).Err(err).Msg("ingest: skip malformed funding row")
			continue
		}
		rows = append(rows, store.FundingSample{
			TS:             time.UnixMilli(w.Time),
			Symbol:         w.Symbol,
			Rate:           rate,
			NextSettlement: time.UnixMilli(w.NextFundingTime),
		})
	}
	return rows, nil
}

func (p *FundingPipeline) upsert(ctx context.Context, rows []store.FundingSample) error {
	return p.store.UpsertFundingBatch(ctx, rows)
}
