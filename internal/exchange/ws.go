package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamHandlers dispatches parsed messages by stream kind. Any handler
// left nil is simply not invoked for that kind.
type StreamHandlers struct {
	OnKline      func(KlineClose)
	OnDepth      func(DepthUpdate)
	OnBookTicker func(BookTicker)
}

// GroupSize is the number of symbols multiplexed onto one socket.
const GroupSize = 50

// ReconnectInterval is the pre-emptive reconnect cadence applied even
// to a healthy connection.
const ReconnectInterval = time.Hour

// StreamGroup manages one multiplexed WebSocket connection covering a
// bounded set of symbol streams, reconnecting once a connection has
// been open for ReconnectInterval and, after a one-second pause, on error.
type StreamGroup struct {
	baseURL  string
	symbols  []string
	handlers StreamHandlers
}

// NewStreamGroup builds a group for up to GroupSize symbols.
func NewStreamGroup(baseURL string, symbols []string, handlers StreamHandlers) *StreamGroup {
	return &StreamGroup{baseURL: baseURL, symbols: symbols, handlers: handlers}
}

func (g *StreamGroup) streamURL() string {
	parts := make([]string, 0, len(g.symbols)*3)
	for _, s := range g.symbols {
		lower := strings.ToLower(s)
		parts = append(parts, lower+"@kline_1m", lower+"@depth", lower+"@bookTicker")
	}
	return g.baseURL + "?streams=" + strings.Join(parts, "/")
}

// Run connects and consumes messages until ctx is cancelled, reconnecting
// transparently on error or once a connection has been open for
// ReconnectInterval.
func (g *StreamGroup) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := g.runOnce(ctx); err != nil {
			log.Warn().Err(err).Msg("exchange: stream group disconnected, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (g *StreamGroup) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	header := http.Header{"User-Agent": []string{"alertrun/1.0"}}

	conn, _, err := dialer.DialContext(ctx, g.streamURL(), header)
	if err != nil {
		return fmt.Errorf("exchange: dial stream group: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(ReconnectInterval)
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Now().After(deadline) {
			return nil // pre-emptive hourly reconnect
		}

		_ = conn.SetReadDeadline(time.Now().Add(25 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("exchange: read stream message: %w", err)
		}
		g.dispatch(raw)
	}
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (g *StreamGroup) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Msg("exchange: malformed stream envelope, skipping")
		return
	}

	switch {
	case strings.Contains(env.Stream, "@kline_1m") && g.handlers.OnKline != nil:
		if k, ok := parseKline(env.Data); ok {
			g.handlers.OnKline(k)
		}
	case strings.Contains(env.Stream, "@depth") && g.handlers.OnDepth != nil:
		if d, ok := parseDepth(env.Data); ok {
			g.handlers.OnDepth(d)
		}
	case strings.Contains(env.Stream, "@bookTicker") && g.handlers.OnBookTicker != nil:
		if b, ok := parseBookTicker(env.Data); ok {
			g.handlers.OnBookTicker(b)
		}
	}
}

type klineWire struct {
	Symbol string `json:"s"`
	K      struct {
		CloseTime   int64  `json:"T"`
		QuoteVolume string `json:"q"`
		TradeCount  int64  `json:"n"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

func parseKline(raw json.RawMessage) (KlineClose, bool) {
	var w klineWire
	if err := json.Unmarshal(raw, &w); err != nil || !w.K.IsClosed {
		return KlineClose{}, false
	}
	var qv float64
	fmt.Sscanf(w.K.QuoteVolume, "%f", &qv)
	return KlineClose{
		Symbol:      strings.ToUpper(w.Symbol),
		CloseTS:     time.UnixMilli(w.K.CloseTime),
		QuoteVolume: qv,
		TradeCount:  w.K.TradeCount,
		Closed:      true,
	}, true
}

type depthWire struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

func parseDepth(raw json.RawMessage) (DepthUpdate, bool) {
	var w depthWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return DepthUpdate{}, false
	}
	out := DepthUpdate{Symbol: strings.ToUpper(w.Symbol), TS: time.Now()}
	out.Bids = parseLevels(w.Bids)
	out.Asks = parseLevels(w.Asks)
	return out, true
}

func parseLevels(raw [][]string) []DepthLevel {
	levels := make([]DepthLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		var price, size float64
		fmt.Sscanf(lvl[0], "%f", &price)
		fmt.Sscanf(lvl[1], "%f", &size)
		levels = append(levels, DepthLevel{Price: price, Size: size})
	}
	return levels
}

type bookTickerWire struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

func parseBookTicker(raw json.RawMessage) (BookTicker, bool) {
	var w bookTickerWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return BookTicker{}, false
	}
	var bid, ask float64
	fmt.Sscanf(w.Bid, "%f", &bid)
	fmt.Sscanf(w.Ask, "%f", &ask)
	return BookTicker{Symbol: strings.ToUpper(w.Symbol), Bid: bid, Ask: ask, TS: time.Now()}, true
}

// GroupSymbols chunks a symbol universe into GroupSize-sized groups.
func GroupSymbols(symbols []string) [][]string {
	var groups [][]string
	for i := 0; i < len(symbols); i += GroupSize {
		end := i + GroupSize
		if end > len(symbols) {
			end = len(symbols)
		}
		groups = append(groups, symbols[i:end])
	}
	return groups
}
