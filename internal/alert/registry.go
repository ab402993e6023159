package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/alertrun/internal/dsl"
	"github.com/sawpanic/alertrun/internal/leaf"
)

// Registry maps composite fingerprint to composite object, tracking
// which user subscribes to what.
type Registry struct {
	mu         sync.Mutex
	composites map[uint64]*Composite
	byUser     map[string]map[uint64]struct{}
	leaves     *leaf.Manager
	now        func() time.Time
}

// NewRegistry returns an empty composite registry backed by the given
// leaf manager.
func NewRegistry(leaves *leaf.Manager) *Registry {
	return &Registry{
		composites: make(map[uint64]*Composite),
		byUser:     make(map[string]map[uint64]struct{}),
		leaves:     leaves,
		now:        time.Now,
	}
}

// AddSubscriber parses rawExpr, computes its fingerprint, and either
// joins an existing composite's subscriber set or builds a new one
// (resolving every leaf condition lazily through the leaf manager).
// Returns a user-visible error for malformed expressions without
// mutating the registry.
func (r *Registry) AddSubscriber(userID, rawExpr string) (*Composite, error) {
	root, err := dsl.Parse(rawExpr)
	if err != nil {
		return nil, fmt.Errorf("alert: invalid expression: %w", err)
	}
	fp := dsl.Fingerprint(root)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.composites[fp]; ok {
		c.addSubscriber(userID)
		r.trackUser(userID, fp)
		return c, nil
	}

	cooldownSec, hasCooldown := dsl.CooldownSeconds(root)
	inner := dsl.StripCooldown(root)

	plan, leaves, err := compile(inner, r.leaves)
	if err != nil {
		return nil, err
	}

	cooldown := time.Duration(0)
	if hasCooldown {
		cooldown = time.Duration(cooldownSec) * time.Second
	}

	c := &Composite{
		Fingerprint:  fp,
		Expression:   rawExpr,
		Leaves:       leaves,
		Plan:         plan,
		Cooldown:     cooldown,
		Period:       minPollInterval(leaves),
		subscribers:  make(map[string]struct{}),
		lastFired:    make(map[string]time.Time),
		nextDeadline: r.now(),
	}
	c.addSubscriber(userID)

	r.composites[fp] = c
	r.trackUser(userID, fp)
	return c, nil
}

func (r *Registry) trackUser(userID string, fp uint64) {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[uint64]struct{})
		r.byUser[userID] = set
	}
	set[fp] = struct{}{}
}

// RemoveSubscriber removes userID from the composite identified by fp.
// When that was the last subscriber, the composite is destroyed and
// its leaf references released.
func (r *Registry) RemoveSubscriber(userID string, fp uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.composites[fp]
	if !ok {
		return fmt.Errorf("alert: no composite with fingerprint %d", fp)
	}
	if c.removeSubscriber(userID) {
		delete(r.composites, fp)
		releaseAll(r.leaves, c.Leaves)
	}
	if set, ok := r.byUser[userID]; ok {
		delete(set, fp)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	return nil
}

// RemoveAllForUser tears down every subscription userID holds.
func (r *Registry) RemoveAllForUser(userID string) {
	r.mu.Lock()
	fps := make([]uint64, 0, len(r.byUser[userID]))
	for fp := range r.byUser[userID] {
		fps = append(fps, fp)
	}
	r.mu.Unlock()

	for _, fp := range fps {
		_ = r.RemoveSubscriber(userID, fp)
	}
}

// ListForUser returns every composite userID currently subscribes to.
func (r *Registry) ListForUser(userID string) []*Composite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Composite, 0, len(r.byUser[userID]))
	for fp := range r.byUser[userID] {
		if c, ok := r.composites[fp]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns every registered composite, for the tick scheduler.
func (r *Registry) Snapshot() []*Composite {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Composite, 0, len(r.composites))
	for _, c := range r.composites {
		out = append(out, c)
	}
	return out
}

// Count reports the number of distinct composites registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.composites)
}

// Get returns the composite identified by fp, for inbound surfaces
// resolving an alert_id back to its live composite.
func (r *Registry) Get(fp uint64) (*Composite, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.composites[fp]
	return c, ok
}
