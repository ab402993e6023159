// Package alert implements the composite alert engine: a
// fingerprint-keyed registry of Boolean expressions, a plan compiler
// decoupling evaluation from AST shape, and a population-scaled
// ticking scheduler.
package alert

import (
	"sync"
	"time"

	"github.com/sawpanic/alertrun/internal/leaf"
)

// Notifier fans a composite's matched-symbol survivors out to its
// subscribers. Implemented by internal/broadcast; kept as an
// interface here so the engine does not depend on the transport.
type Notifier interface {
	Notify(subscribers []string, expression string, symbols []string)
}

// Composite is one registered Boolean expression shared across every
// user who has subscribed to it verbatim.
type Composite struct {
	Fingerprint uint64
	Expression  string // raw source text, for notification display
	Leaves      []leaf.Leaf
	Plan        planNode
	Cooldown    time.Duration // zero means no cooldown
	Period      time.Duration // min(leaf.poll_interval), recomputed at build time

	mu           sync.Mutex
	subscribers  map[string]struct{}
	lastFired    map[string]time.Time
	nextDeadline time.Time
}

// Subscribers returns a snapshot of the current subscriber set.
func (c *Composite) Subscribers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribers))
	for u := range c.subscribers {
		out = append(out, u)
	}
	return out
}

func (c *Composite) addSubscriber(userID string) {
	c.mu.Lock()
	c.subscribers[userID] = struct{}{}
	c.mu.Unlock()
}

// removeSubscriber returns true when the composite has no subscribers
// left and should be torn down.
func (c *Composite) removeSubscriber(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, userID)
	return len(c.subscribers) == 0
}

func (c *Composite) subscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// SubscriberCount reports the number of users currently subscribed to
// this composite, for inbound status surfaces.
func (c *Composite) SubscriberCount() int {
	return c.subscriberCount()
}

// dueForTick reports whether the composite's next deadline has
// passed.
func (c *Composite) dueForTick(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !now.Before(c.nextDeadline)
}

// applyCooldown filters candidates whose last_fired is within the
// cooldown window of now, and records last_fired for survivors.
func (c *Composite) applyCooldown(candidates map[string]struct{}, now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	survivors := make([]string, 0, len(candidates))
	for symbol := range candidates {
		if c.Cooldown > 0 {
			if last, ok := c.lastFired[symbol]; ok && now.Sub(last) < c.Cooldown {
				continue
			}
		}
		survivors = append(survivors, symbol)
		c.lastFired[symbol] = now
	}
	return survivors
}

func (c *Composite) advanceDeadline(now time.Time) {
	c.mu.Lock()
	c.nextDeadline = now.Add(c.Period)
	c.mu.Unlock()
}
