// Package exchange implements the rate-limited REST client, symbol
// universe cache, and multiplexed WebSocket consumer for the upstream
// derivatives exchange.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Config configures the REST client.
type Config struct {
	BaseURL      string
	HTTPTimeout  time.Duration
	RPS          float64
	Burst        int
	BlacklistTTL time.Duration
	BreakerName  string
}

// Client wraps http.Client with a per-host rate limiter and a circuit
// breaker.
type Client struct {
	http      *http.Client
	baseURL   string
	limiter   *Limiter
	breaker   *gobreaker.CircuitBreaker
	Blacklist *Blacklist
}

// New builds a Client. blacklist may be constructed with or without a
// Redis mirror by the caller.
func New(cfg Config, blacklist *Blacklist) *Client {
	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		// A 429 is budget exhaustion, not upstream ill health; it must
		// not push the breaker toward open.
		IsSuccessful: func(err error) bool {
			var rl *RateLimitError
			return err == nil || errors.As(err, &rl)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("exchange: circuit breaker state change")
		},
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:   cfg.BaseURL,
		limiter:   NewLimiter(cfg.RPS, cfg.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
		Blacklist: blacklist,
	}
}

// GetJSON issues a rate-limited, circuit-breaker-guarded GET against
// path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	host := c.baseURL
	if err := c.limiter.Wait(ctx, host); err != nil {
		return fmt.Errorf("exchange: rate limit wait: %w", err)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doGetJSON(ctx, path, query, out)
	})
	return err
}

func (c *Client) doGetJSON(ctx context.Context, path string, query url.Values, out any) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("exchange: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: transient network error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		log.Warn().Str("path", path).Dur("retry_after", retryAfter).Msg("exchange: rate limit hit (429)")
		return &RateLimitError{Path: path, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Path: path, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return fmt.Errorf("exchange: server error %d on %s", resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("exchange: unexpected status %d on %s: %s", resp.StatusCode, path, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("exchange: decode response from %s: %w", path, err)
	}
	return nil
}

// GetSymbolJSON is GetJSON for per-symbol endpoints. It skips symbols
// that are currently blacklisted without issuing a request, and
// blacklists a symbol the upstream rejects permanently so the next
// fetch cycle leaves it alone for the blacklist TTL.
func (c *Client) GetSymbolJSON(ctx context.Context, path, symbol string, query url.Values, out any) error {
	if c.Blacklist != nil && c.Blacklist.IsBlacklisted(symbol) {
		return ErrSymbolBlacklisted
	}

	err := c.GetJSON(ctx, path, query, out)
	var perm *PermanentError
	if errors.As(err, &perm) && c.Blacklist != nil {
		log.Warn().Str("symbol", symbol).Int("status", perm.StatusCode).
			Msg("exchange: symbol permanently rejected, blacklisting")
		c.Blacklist.Add(ctx, symbol)
	}
	return err
}

// PermanentError indicates the upstream rejected the request in a way
// that will not resolve with retries.
type PermanentError struct {
	Path       string
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("exchange: permanent error %d on %s", e.StatusCode, e.Path)
}

// RateLimitError reports an upstream 429 alongside the advertised
// wait. Callers sleep the window and continue, outside their
// consecutive-failure backoff.
type RateLimitError struct {
	Path       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange: rate limited on %s, retry after %s", e.Path, e.RetryAfter)
}

// defaultRetryAfter applies when a 429 carries no usable Retry-After
// header.
const defaultRetryAfter = time.Minute

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
