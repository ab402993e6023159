package density

import "github.com/sawpanic/alertrun/internal/exchange"

// Consumer wires exchange WebSocket events into the tracker and ticker
// cache, dispatching bookTicker and depth messages to their handlers.
type Consumer struct {
	tracker *Tracker
	ticker  *TickerCache
}

func NewConsumer(tracker *Tracker, ticker *TickerCache) *Consumer {
	return &Consumer{tracker: tracker, ticker: ticker}
}

// OnBookTicker refreshes the reference mid-price cache.
func (c *Consumer) OnBookTicker(b exchange.BookTicker) {
	c.ticker.Update(b.Symbol, b.Bid, b.Ask)
}

// OnDepth resolves a reference mid-price (cache, else the depth
// message's own top of book) and feeds every bid/ask level into the
// tracker.
func (c *Consumer) OnDepth(d exchange.DepthUpdate) {
	var bestBid, bestAsk float64
	if len(d.Bids) > 0 {
		bestBid = d.Bids[0].Price
	}
	if len(d.Asks) > 0 {
		bestAsk = d.Asks[0].Price
	}
	hasTop := len(d.Bids) > 0 && len(d.Asks) > 0

	mid, ok := c.ticker.ReferenceMid(d.Symbol, bestBid, bestAsk, hasTop)
	if !ok {
		return
	}

	for _, lvl := range d.Bids {
		c.tracker.Process(d.Symbol, SideLong, lvl.Price, lvl.Price*lvl.Size, mid)
	}
	for _, lvl := range d.Asks {
		c.tracker.Process(d.Symbol, SideShort, lvl.Price, lvl.Price*lvl.Size, mid)
	}
}
