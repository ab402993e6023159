// Package density implements the in-memory order-density tracker: a
// price-level map fed by WebSocket depth updates, a typed operation
// buffer flushed to the store on a fixed cadence, and two independent
// sweepers.
package density

import "time"

const (
	// MinOrderSizeUSD is the size floor below which a level is dropped.
	MinOrderSizeUSD = 100_000.0
	// MaxPriceDeviationPercent bounds the tracked band around mid-price.
	MaxPriceDeviationPercent = 10.0
	// TickerCacheTTL is how long a cached bid/ask reference stays fresh
	// before the tracker falls back to the depth message's own top of
	// book.
	TickerCacheTTL = 60 * time.Second
	// StaleAgeThreshold is the age past which the stale sweep removes a
	// record regardless of position.
	StaleAgeThreshold = time.Hour
)

// Side is LONG (bid) or SHORT (ask).
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Key identifies one density record.
type Key struct {
	Symbol string
	Price  float64
}

// Record is the in-memory order-density entry. Invariants:
// max_size_usd >= current_size_usd; touched iff current < max;
// reduction_usd = max - current when touched, else 0.
type Record struct {
	Symbol            string
	Price             float64
	Side              Side
	CurrentSizeUSD    float64
	MaxSizeUSD        float64
	Touched           bool
	ReductionUSD      float64
	PercentFromMarket float64
	FirstSeen         time.Time
	LastUpdated       time.Time
}

// DurationSeconds is how long the level has been observed.
func (r Record) DurationSeconds() int64 {
	return int64(r.LastUpdated.Sub(r.FirstSeen).Seconds())
}

// OpKind is the type of buffered database operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one buffered mutation awaiting flush.
type Op struct {
	Kind   OpKind
	Record Record // for Insert/Update
	Key    Key    // for Delete
}
