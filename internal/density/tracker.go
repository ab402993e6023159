package density

import (
	"math"
	"sync"
	"time"
)

// Tracker holds the in-memory (symbol, price_level) -> Record map and
// the pending operation buffer.
type Tracker struct {
	mu      sync.Mutex
	records map[Key]Record
	pending []Op
	nowFunc func() time.Time
}

// NewTracker builds an empty tracker. nowFunc defaults to time.Now and
// is overridable in tests.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[Key]Record), nowFunc: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

func percentFromMid(price, mid float64) float64 {
	return (price/mid - 1) * 100
}

// Process applies one depth-level observation: out-of-band or
// undersized levels drop any existing record, new qualifying levels
// insert, existing ones update size/touched/reduction. Returns true if
// a buffered op was appended (i.e. the record set changed).
func (t *Tracker) Process(symbol string, side Side, price, sizeUSD, mid float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{Symbol: symbol, Price: price}
	pct := percentFromMid(price, mid)
	now := t.now()

	if math.Abs(pct) > MaxPriceDeviationPercent {
		if _, ok := t.records[key]; ok {
			delete(t.records, key)
			t.pending = append(t.pending, Op{Kind: OpDelete, Key: key})
			return true
		}
		return false
	}

	if sizeUSD < MinOrderSizeUSD {
		if _, ok := t.records[key]; ok {
			delete(t.records, key)
			t.pending = append(t.pending, Op{Kind: OpDelete, Key: key})
			return true
		}
		return false
	}

	existing, ok := t.records[key]
	if !ok {
		rec := Record{
			Symbol: symbol, Price: price, Side: side,
			CurrentSizeUSD: sizeUSD, MaxSizeUSD: sizeUSD, Touched: false,
			ReductionUSD: 0, PercentFromMarket: pct,
			FirstSeen: now, LastUpdated: now,
		}
		t.records[key] = rec
		t.pending = append(t.pending, Op{Kind: OpInsert, Record: rec})
		return true
	}

	maxSize := existing.MaxSizeUSD
	if sizeUSD > maxSize {
		maxSize = sizeUSD
	}
	touched := sizeUSD < maxSize
	reduction := 0.0
	if touched {
		reduction = maxSize - sizeUSD
	}
	rec := Record{
		Symbol: symbol, Price: price, Side: side,
		CurrentSizeUSD: sizeUSD, MaxSizeUSD: maxSize, Touched: touched,
		ReductionUSD: reduction, PercentFromMarket: pct,
		FirstSeen: existing.FirstSeen, LastUpdated: now,
	}
	t.records[key] = rec
	t.pending = append(t.pending, Op{Kind: OpUpdate, Record: rec})
	return true
}

// DrainPending removes and returns all buffered operations, for the
// 5-second flush.
func (t *Tracker) DrainPending() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := t.pending
	t.pending = nil
	return ops
}

// Snapshot returns a copy of the current record set, for broadcast and
// leaf queries that don't want to wait on the store.
func (t *Tracker) Snapshot() map[Key]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Key]Record, len(t.records))
	for k, v := range t.records {
		out[k] = v
	}
	return out
}

// remove deletes a key directly (used by the sweepers) and queues a
// delete op. The caller holds t.mu.
func (t *Tracker) remove(key Key) {
	if _, ok := t.records[key]; ok {
		delete(t.records, key)
		t.pending = append(t.pending, Op{Kind: OpDelete, Key: key})
	}
}

// Len reports the current record count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
