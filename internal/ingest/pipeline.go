package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/alertrun/internal/exchange"
)

// FetchFunc retrieves and normalizes one batch for a cadence-driven
// pipeline. It returns the rows to upsert (already normalized to the
// family's row shape) and an error if the
// whole fetch failed; per-item parse errors should be logged and
// skipped inside FetchFunc rather than failing the batch.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// UpsertFunc writes a normalized batch to the store.
type UpsertFunc[T any] func(ctx context.Context, rows []T) error

// OnResult is invoked after each attempt (success or failure) for
// metrics/backfill bookkeeping.
type OnResult[T any] func(rows []T, err error)

// RunLoop drives one REST-poll pipeline: fetch, upsert, sleep at
// cadence; on failure, sleep per the shared backoff policy instead and
// never abort. Used directly by price, trade-count, open-interest, and
// funding; volume instead streams from a WebSocket (see volume.go).
func RunLoop[T any](ctx context.Context, name string, cadence time.Duration, fetch FetchFunc[T], upsert UpsertFunc[T], onResult OnResult[T]) {
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		rows, err := fetch(ctx)
		if err == nil {
			err = upsert(ctx, rows)
		}

		if onResult != nil {
			onResult(rows, err)
		}

		if err != nil {
			// A 429 sleeps the advertised window and continues; it is
			// not a failure and never escalates the backoff.
			var rateLimited *exchange.RateLimitError
			if errors.As(err, &rateLimited) {
				log.Warn().Str("pipeline", name).Dur("sleep", rateLimited.RetryAfter).
					Msg("ingest: rate limited, sleeping advertised window")
				if !sleepOrDone(ctx, rateLimited.RetryAfter) {
					return
				}
				continue
			}

			consecutiveFailures++
			sleep := nextBackoff(cadence, consecutiveFailures)
			log.Warn().Str("pipeline", name).Err(err).Int("consecutive_failures", consecutiveFailures).
				Dur("sleep", sleep).Msg("ingest: pipeline iteration failed, backing off")
			if !sleepOrDone(ctx, sleep) {
				return
			}
			continue
		}

		consecutiveFailures = 0
		if !sleepOrDone(ctx, cadence) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
