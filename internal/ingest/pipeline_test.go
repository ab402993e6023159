package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/exchange"
)

func TestNextBackoffExponentialUntilCap(t *testing.T) {
	cadence := time.Second
	require.Equal(t, 2*time.Second, nextBackoff(cadence, 1))
	require.Equal(t, 4*time.Second, nextBackoff(cadence, 2))
	require.Equal(t, 5*time.Second, nextBackoff(cadence, 3)) // capped at 5x cadence
}

func TestNextBackoffExtendedAfterFiveFailures(t *testing.T) {
	cadence := 10 * time.Second
	require.Equal(t, 30*time.Second, nextBackoff(cadence, 6))
}

func TestBackoffCapNeverExceeds300Seconds(t *testing.T) {
	require.Equal(t, 300*time.Second, backoffCap(time.Minute))
}

func TestRunLoopRetriesOnFailureWithoutAborting(t *testing.T) {
	var attempts int32
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	fetch := func(ctx context.Context) ([]int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return nil, errors.New("transient failure")
		}
		return []int{1}, nil
	}
	upsert := func(ctx context.Context, rows []int) error { return nil }

	RunLoop(ctx, "test", 5*time.Millisecond, fetch, upsert, nil)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

// A rate-limit error sleeps the advertised window and continues; it
// must not escalate into the consecutive-failure backoff, whose first
// step (2x the 100ms cadence) would overshoot this test's deadline.
func TestRunLoopSleepsAdvertisedWindowOnRateLimit(t *testing.T) {
	var attempts int32
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	fetch := func(ctx context.Context) ([]int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return nil, &exchange.RateLimitError{Path: "/test", RetryAfter: 5 * time.Millisecond}
		}
		return []int{1}, nil
	}
	upsert := func(ctx context.Context, rows []int) error { return nil }

	RunLoop(ctx, "test", 100*time.Millisecond, fetch, upsert, nil)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestFetchConcurrentlySkipsErroredSymbols(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	var skipped []string
	out := fetchConcurrently(symbols, 2, func(symbol string) (string, error) {
		if symbol == "B" {
			return "", errors.New("boom")
		}
		return symbol, nil
	}, func(symbol string, err error) {
		skipped = append(skipped, symbol)
	})

	require.ElementsMatch(t, []string{"A", "C"}, out)
	require.Equal(t, []string{"B"}, skipped)
}
