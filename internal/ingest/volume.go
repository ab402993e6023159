package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
	"github.com/sawpanic/alertrun/internal/store"
)

// VolumePipeline consumes closed-minute klines off the multiplexed
// WebSocket stream groups and flushes a 5-second buffer.
type VolumePipeline struct {
	store *store.Store

	mu  sync.Mutex
	buf []store.Sample

	flushEvery time.Duration
}

func NewVolumePipeline(st *store.Store, flushEvery time.Duration) *VolumePipeline {
	return &VolumePipeline{store: st, flushEvery: flushEvery}
}

// OnKlineClose is registered as the StreamGroup's OnKline handler. It
// never blocks on I/O; it only buffers.
func (p *VolumePipeline) OnKlineClose(k exchange.KlineClose) {
	if !k.Closed {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, store.Sample{TS: k.CloseTS, Symbol: k.Symbol, Value: k.QuoteVolume})
}

// Run flushes the buffered volume rows every flushEvery until ctx is
// cancelled.
func (p *VolumePipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *VolumePipeline) flush(ctx context.Context) {
	p.mu.Lock()
	rows := p.buf
	p.buf = nil
	p.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	if err := p.store.UpsertBatch(ctx, store.FamilyVolume, rows); err != nil {
		log.Warn().Err(err).Int("rows", len(rows)).Msg("ingest: volume flush failed, batch dropped")
	}
}
