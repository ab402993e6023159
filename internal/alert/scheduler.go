package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alertrun/internal/leaf"
	"github.com/sawpanic/alertrun/internal/store"
)

// semaphoreFor returns the scheduler's target concurrency cap for n
// live composites: max(50, min(500, n/40)).
func semaphoreFor(n int) int {
	size := n / 40
	if size < 50 {
		size = 50
	}
	if size > 500 {
		size = 500
	}
	return size
}

// batchPolicyFor returns the batch size and inter-batch sleep for n
// live composites; batches grow and sleeps shrink with population.
func batchPolicyFor(n int) (batchSize int, sleep time.Duration) {
	switch {
	case n <= 1000:
		return 500, 100 * time.Millisecond
	case n <= 5000:
		return 1000, 50 * time.Millisecond
	case n <= 15000:
		return 1500, 20 * time.Millisecond
	default:
		return 2000, 20 * time.Millisecond
	}
}

// sizeDriftExceeds20Pct reports whether optimal differs from current
// by more than 20%, the guard against resizing the semaphore on every
// small population change.
func sizeDriftExceeds20Pct(current, optimal int) bool {
	if current == 0 {
		return true
	}
	diff := optimal - current
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) > float64(current)*0.2
}

// semaphore is a simple counting semaphore built on a buffered channel.
type semaphore struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSemaphore(n int) *semaphore {
	return &semaphore{ch: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	<-ch
}

// resize swaps in a fresh channel sized n; the new cap takes effect for
// acquisitions from this point on. release always drains the current
// channel, so a permit taken before a resize is returned to the new
// one. tick only resizes between passes, when no permit is held.
func (s *semaphore) resize(n int) {
	s.mu.Lock()
	s.ch = make(chan struct{}, n)
	s.mu.Unlock()
}

// Scheduler drives both the leaf-update loop and the composite tick
// loop: leaves refresh on their own poll intervals while due
// composites are evaluated in population-scaled, semaphore-bounded
// batches.
type Scheduler struct {
	registry *Registry
	leaves   *leaf.Manager
	store    *store.Store
	notifier Notifier
	baseStep time.Duration

	sem          *semaphore
	semSize      int
	queryTimeout time.Duration
}

// NewScheduler builds a scheduler wired to the given registry, leaf
// manager, store, notifier, and tick base step.
func NewScheduler(registry *Registry, leaves *leaf.Manager, st *store.Store, notifier Notifier, baseStep time.Duration) *Scheduler {
	return &Scheduler{
		registry:     registry,
		leaves:       leaves,
		store:        st,
		notifier:     notifier,
		baseStep:     baseStep,
		sem:          newSemaphore(50),
		semSize:      50,
		queryTimeout: 30 * time.Second,
	}
}

// RunLeafLoop runs every live leaf's Update on its own poll interval
// until ctx is cancelled. One goroutine per leaf keeps updates of a
// single leaf serialized while leaves themselves progress
// independently. New
// leaves created after RunLeafLoop starts are picked up on a short
// discovery tick so a freshly registered alert's leaf does not wait an
// arbitrary amount of time for its first evaluation.
func (s *Scheduler) RunLeafLoop(ctx context.Context) {
	type leafLoop struct {
		leaf   leaf.Leaf
		cancel context.CancelFunc
	}
	running := make(map[uint64]leafLoop)
	discovery := time.NewTicker(time.Second)
	defer discovery.Stop()

	for {
		live := make(map[uint64]struct{})
		for _, l := range s.leaves.All() {
			fp := l.Fingerprint()
			live[fp] = struct{}{}
			if cur, ok := running[fp]; ok {
				if cur.leaf == l {
					continue
				}
				// Same fingerprint, new instance: the leaf was released
				// and re-acquired between discovery ticks.
				cur.cancel()
			}
			leafCtx, cancel := context.WithCancel(ctx)
			running[fp] = leafLoop{leaf: l, cancel: cancel}
			go s.runLeaf(leafCtx, l)
		}
		// Stop update loops for leaves the manager has released.
		for fp, loop := range running {
			if _, ok := live[fp]; !ok {
				loop.cancel()
				delete(running, fp)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-discovery.C:
		}
	}
}

func (s *Scheduler) runLeaf(ctx context.Context, l leaf.Leaf) {
	ticker := time.NewTicker(l.PollInterval())
	defer ticker.Stop()

	s.updateLeafOnce(ctx, l)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateLeafOnce(ctx, l)
		}
	}
}

func (s *Scheduler) updateLeafOnce(ctx context.Context, l leaf.Leaf) {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := l.Update(qctx, s.store); err != nil {
		log.Warn().Uint64("leaf_fingerprint", l.Fingerprint()).Err(err).Msg("alert: leaf update failed")
	}
}

// RunTickLoop wakes at baseStep and processes every due composite in
// population-scaled batches bounded by the semaphore.
func (s *Scheduler) RunTickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.baseStep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	composites := s.registry.Snapshot()
	total := len(composites)
	if total == 0 {
		return
	}

	optimal := semaphoreFor(total)
	if sizeDriftExceeds20Pct(s.semSize, optimal) {
		s.sem.resize(optimal)
		s.semSize = optimal
	}

	batchSize, interBatchSleep := batchPolicyFor(total)

	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}
		batch := composites[i:end]

		var wg sync.WaitGroup
		for _, c := range batch {
			c := c
			if err := s.sem.acquire(ctx); err != nil {
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.sem.release()
				s.tickOne(ctx, c)
			}()
		}
		wg.Wait()

		if end < total {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchSleep):
			}
		}
	}
}

// tickOne evaluates one composite's plan against its leaves' current
// matched sets. A panic during evaluation is caught and logged rather
// than propagated, so one broken composite never takes down the loop.
func (s *Scheduler) tickOne(ctx context.Context, c *Composite) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Uint64("composite_fingerprint", c.Fingerprint).
				Interface("panic", r).Msg("alert: composite tick panicked, isolated")
		}
	}()

	now := time.Now()
	if !c.dueForTick(now) {
		return
	}

	ctxSet := make([]map[string]struct{}, len(c.Leaves))
	for i, l := range c.Leaves {
		ctxSet[i] = l.MatchedSymbols()
	}

	candidates := c.Plan.eval(ctxSet)
	survivors := c.applyCooldown(candidates, now)
	c.advanceDeadline(now)

	if len(survivors) > 0 && s.notifier != nil {
		s.notifier.Notify(c.Subscribers(), c.Expression, survivors)
	}
}
