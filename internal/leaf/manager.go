package leaf

import (
	"fmt"
	"sync"

	"github.com/sawpanic/alertrun/internal/dsl"
)

// entry pairs a leaf with the number of composites currently
// referencing it: created on first reference by any composite,
// destroyed when no composite references it.
type entry struct {
	leaf     Leaf
	refcount int
}

// Manager is the leaf registry: fingerprint -> leaf, with
// refcount-equivalent lifecycle and deduplication by parameters.
type Manager struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// NewManager returns an empty leaf registry.
func NewManager() *Manager {
	return &Manager{entries: make(map[uint64]*entry)}
}

// Acquire returns the leaf for cond, creating it lazily if this is the
// first reference, and incrementing its refcount. Two conditions with
// identical (module, op, params) always resolve to the same leaf
// instance.
func (m *Manager) Acquire(cond dsl.Condition) (Leaf, error) {
	fp := fingerprintFor(cond)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[fp]; ok {
		e.refcount++
		return e.leaf, nil
	}

	l, err := build(cond)
	if err != nil {
		return nil, err
	}
	m.entries[fp] = &entry{leaf: l, refcount: 1}
	return l, nil
}

// Release decrements the refcount for the leaf identified by fp,
// removing it from the registry once no composite references it.
func (m *Manager) Release(fp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fp]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(m.entries, fp)
	}
}

// All returns every currently registered leaf, for the tick
// scheduler's per-leaf Update pass.
func (m *Manager) All() []Leaf {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Leaf, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.leaf)
	}
	return out
}

// Count reports the number of distinct leaves currently registered.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// build constructs the concrete Leaf for cond's module.
func build(cond dsl.Condition) (Leaf, error) {
	switch cond.Module {
	case dsl.ModulePrice:
		return NewPriceLeaf(cond)
	case dsl.ModuleVolume:
		return NewVolumeLeaf(cond)
	case dsl.ModuleVolumeChange:
		return NewVolumeChangeLeaf(cond)
	case dsl.ModuleOrderNum:
		return NewTradeCountLeaf(cond)
	case dsl.ModuleOI:
		return NewOIDeviationLeaf(cond)
	case dsl.ModuleOISum:
		return NewOIAbsoluteLeaf(cond)
	case dsl.ModuleFunding:
		return NewFundingLeaf(cond)
	case dsl.ModuleOrder:
		return NewOrderDensityLeaf(cond)
	default:
		return nil, fmt.Errorf("leaf: no factory for module %q", cond.Module)
	}
}
