package exchange

import (
	"context"
	"strings"
	"sync"
	"time"
)

// quoteBlacklist holds substrings that disqualify a symbol regardless
// of trading status.
var quoteBlacklist = []string{"USDC", "BUSD"}

func isDisallowedSymbol(symbol string) bool {
	for _, bad := range quoteBlacklist {
		if strings.Contains(symbol, bad) {
			return true
		}
	}
	return false
}

// UniverseFetcher retrieves the full set of currently tradeable symbols
// from the exchange, e.g. via its exchangeInfo endpoint.
type UniverseFetcher func(ctx context.Context) ([]string, error)

// UniverseCache caches the tradeable symbol universe with a fast TTL:
// Symbols re-fetches once the TTL has elapsed. The cache runs no timer
// of its own; a slower unconditional refresh comes from its owner
// calling Refresh periodically (serve does so on
// ExchangeConfig.UniverseRefresh, hourly by default).
type UniverseCache struct {
	mu      sync.RWMutex
	symbols []string
	expiry  time.Time
	ttl     time.Duration
	fetch   UniverseFetcher
}

// NewUniverseCache builds a cache with the given TTL and fetch function.
func NewUniverseCache(ttl time.Duration, fetch UniverseFetcher) *UniverseCache {
	return &UniverseCache{ttl: ttl, fetch: fetch}
}

// Symbols returns the cached universe, refreshing it if the TTL has
// elapsed.
func (u *UniverseCache) Symbols(ctx context.Context) ([]string, error) {
	u.mu.RLock()
	if time.Now().Before(u.expiry) && u.symbols != nil {
		out := append([]string(nil), u.symbols...)
		u.mu.RUnlock()
		return out, nil
	}
	u.mu.RUnlock()
	return u.Refresh(ctx)
}

// Refresh unconditionally re-fetches and replaces the cached universe,
// filtering out disallowed quote currencies.
func (u *UniverseCache) Refresh(ctx context.Context) ([]string, error) {
	raw, err := u.fetch(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(raw))
	for _, s := range raw {
		sym := strings.ToUpper(s)
		if !isDisallowedSymbol(sym) {
			filtered = append(filtered, sym)
		}
	}

	u.mu.Lock()
	u.symbols = filtered
	u.expiry = time.Now().Add(u.ttl)
	u.mu.Unlock()

	return append([]string(nil), filtered...), nil
}
