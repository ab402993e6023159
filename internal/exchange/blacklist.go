package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrSymbolBlacklisted is returned for a request against a symbol that
// is currently blacklisted; callers treat it as a per-symbol skip.
var ErrSymbolBlacklisted = errors.New("exchange: symbol blacklisted")

// Blacklist is a TTL-bounded set of symbols the exchange has
// persistently rejected (HTTP 400/404). The authoritative state is
// in-process. A Redis client, when supplied, receives a copy of every
// entry with the same TTL; lookups consult only the in-process map, so
// entries written by another process or before a restart are not read
// back.
type Blacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time // symbol -> expiry
	ttl     time.Duration
	redis   *redis.Client
}

// NewBlacklist builds a blacklist with the given TTL. redisClient may be
// nil, in which case the blacklist is purely in-process.
func NewBlacklist(ttl time.Duration, redisClient *redis.Client) *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time), ttl: ttl, redis: redisClient}
}

// Add blacklists symbol for the configured TTL.
func (b *Blacklist) Add(ctx context.Context, symbol string) {
	b.mu.Lock()
	b.entries[symbol] = time.Now().Add(b.ttl)
	b.mu.Unlock()

	if b.redis != nil {
		if err := b.redis.Set(ctx, blacklistKey(symbol), "1", b.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("exchange: redis blacklist mirror failed")
		}
	}
}

// IsBlacklisted reports whether symbol is currently blacklisted,
// lazily expiring stale entries.
func (b *Blacklist) IsBlacklisted(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiry, ok := b.entries[symbol]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(b.entries, symbol)
		return false
	}
	return true
}

func blacklistKey(symbol string) string { return "alertrun:blacklist:" + symbol }
