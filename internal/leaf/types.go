// Package leaf implements the eight leaf-listener variants: periodic,
// store-backed evaluators of one elementary predicate each, shared
// across composites through a fingerprint-keyed manager.
package leaf

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/store"
)

// DefaultPollInterval applies when a module's optional trailing
// parameter (a poll-interval override) is absent.
const DefaultPollInterval = 30 * time.Second

// Leaf is the shared contract every variant implements.
type Leaf interface {
	// Update recomputes the matched set from current store contents.
	Update(ctx context.Context, st *store.Store) error
	// MatchedSymbols returns the last-computed matched set. The
	// returned map must never be mutated by the caller; Update
	// replaces it atomically rather than mutating in place, so
	// concurrent readers always see a consistent snapshot.
	MatchedSymbols() map[string]struct{}
	// PollInterval is how often the tick scheduler should call Update.
	PollInterval() time.Duration
	// Fingerprint identifies this leaf's (module, op, params) tuple.
	Fingerprint() uint64
}

// base holds the matched-set storage and interval common to every
// variant, swapped atomically under a mutex on each Update so a reader
// never observes a partially rebuilt set.
type base struct {
	mu       sync.RWMutex
	matched  map[string]struct{}
	interval time.Duration
	fp       uint64
}

func newBase(interval time.Duration, fp uint64) base {
	return base{matched: map[string]struct{}{}, interval: interval, fp: fp}
}

func (b *base) MatchedSymbols() map[string]struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.matched
}

func (b *base) PollInterval() time.Duration { return b.interval }
func (b *base) Fingerprint() uint64         { return b.fp }

func (b *base) store(matched map[string]struct{}) {
	b.mu.Lock()
	b.matched = matched
	b.mu.Unlock()
}

// pollIntervalFromParam returns params[idx] (seconds) as a duration if
// present, else DefaultPollInterval.
func pollIntervalFromParam(params []float64, idx int) time.Duration {
	if idx < len(params) && params[idx] > 0 {
		return time.Duration(params[idx]) * time.Second
	}
	return DefaultPollInterval
}

// fingerprintFor derives a leaf's identity from its module, operator,
// and parameters: the full (family, direction, threshold, window,
// poll_interval) tuple.
func fingerprintFor(cond dsl.Condition) uint64 {
	parts := make([]string, 0, len(cond.Params)+2)
	parts = append(parts, string(cond.Module), string(cond.Op))
	for _, p := range cond.Params {
		parts = append(parts, strconv.FormatFloat(p, 'g', -1, 64))
	}
	return dsl.FingerprintParams(parts...)
}
