package density

import (
	"sync"
	"time"
)

// tickerEntry is a cached best bid/ask pair.
type tickerEntry struct {
	bid, ask float64
	ts       time.Time
}

// TickerCache maintains a short-TTL best-bid/ask reference per symbol
// from the bookTicker stream, falling back to the depth message's own
// top of book when stale.
type TickerCache struct {
	mu      sync.RWMutex
	entries map[string]tickerEntry
}

func NewTickerCache() *TickerCache {
	return &TickerCache{entries: make(map[string]tickerEntry)}
}

// Update records a fresh bid/ask observation.
func (c *TickerCache) Update(symbol string, bid, ask float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = tickerEntry{bid: bid, ask: ask, ts: time.Now()}
}

// Mid returns the cached mid-price if fresh (within TickerCacheTTL).
func (c *TickerCache) Mid(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || time.Since(e.ts) > TickerCacheTTL {
		return 0, false
	}
	return (e.bid + e.ask) / 2, true
}

// ReferenceMid resolves a mid-price for a depth update: the cache if
// fresh, otherwise the best bid/ask carried on the depth message itself.
func (c *TickerCache) ReferenceMid(symbol string, depthBestBid, depthBestAsk float64, depthHasTopOfBook bool) (float64, bool) {
	if mid, ok := c.Mid(symbol); ok {
		return mid, true
	}
	if depthHasTopOfBook && depthBestBid > 0 && depthBestAsk > 0 {
		return (depthBestBid + depthBestAsk) / 2, true
	}
	return 0, false
}
