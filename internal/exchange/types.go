package exchange

import "time"

// TickerSnapshot is one symbol's latest price at fetch time.
type TickerSnapshot struct {
	Symbol string
	Price  float64
	TS     time.Time
}

// KlineClose is a closed 1-minute kline, the unit consumed by the
// volume and trade-count pipelines.
type KlineClose struct {
	Symbol      string
	CloseTS     time.Time
	QuoteVolume float64
	TradeCount  int64
	Closed      bool
}

// OpenInterestReading is the raw (coin-denominated) open interest for a
// symbol; the ingestion pipeline multiplies by latest price to get USD.
type OpenInterestReading struct {
	Symbol string
	OI     float64
	TS     time.Time
}

// FundingReading is one premium-index entry.
type FundingReading struct {
	Symbol         string
	Rate           float64
	NextSettlement time.Time
	TS             time.Time
}

// DepthLevel is one (price, size) level from a depth update; its side
// is given by whether it sits in DepthUpdate.Bids or DepthUpdate.Asks.
type DepthLevel struct {
	Price float64
	Size  float64 // base-asset quantity; caller converts to USD
}

// DepthUpdate is one parsed depth-stream message.
type DepthUpdate struct {
	Symbol string
	Bids   []DepthLevel
	Asks   []DepthLevel
	TS     time.Time
}

// BookTicker is a best bid/ask update used to maintain the reference
// mid-price cache.
type BookTicker struct {
	Symbol string
	Bid    float64
	Ask    float64
	TS     time.Time
}
