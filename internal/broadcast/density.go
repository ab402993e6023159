package broadcast

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alertrun/internal/density"
	"github.com/sawpanic/alertrun/internal/telemetry"
)

// Format is a density consumer's negotiated wire format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// DensityCadence is the fixed delta-broadcast interval, regardless of
// payload size.
const DensityCadence = 2 * time.Second

// DensityEntry is the wire shape of one density record, keyed by
// consumers on Key. Field names match the in-memory Record, spelled
// out rather than abbreviated.
type DensityEntry struct {
	Key               string  `json:"key"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	Price             float64 `json:"price"`
	CurrentSizeUSD    float64 `json:"current_size_usd"`
	MaxSizeUSD        float64 `json:"max_size_usd"`
	Touched           bool    `json:"touched"`
	ReductionUSD      float64 `json:"reduction_usd"`
	PercentFromMarket float64 `json:"percent_from_market"`
	DurationSeconds   int64   `json:"duration_seconds"`
}

func entryFromRecord(r density.Record) DensityEntry {
	return DensityEntry{
		Key:               densityKey(r),
		Symbol:            r.Symbol,
		Side:              string(r.Side),
		Price:             r.Price,
		CurrentSizeUSD:    r.CurrentSizeUSD,
		MaxSizeUSD:        r.MaxSizeUSD,
		Touched:           r.Touched,
		ReductionUSD:      r.ReductionUSD,
		PercentFromMarket: math.Round(r.PercentFromMarket*100) / 100,
		DurationSeconds:   r.DurationSeconds(),
	}
}

func densityKey(r density.Record) string {
	side := "S"
	if r.Side == density.SideLong {
		side = "L"
	}
	return r.Symbol + ":" + side + ":" + formatPrice(r.Price)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// Delta thresholds: a size change over $1000, a duration change over
// 10s, or any change in touched/reduction_usd over $1000.
const (
	sizeDeltaThresholdUSD      = 1000.0
	durationDeltaThresholdSec  = 10
	reductionDeltaThresholdUSD = 1000.0
)

// DensityDelta is the broadcast payload for a periodic update.
type DensityDelta struct {
	Add    []DensityEntry `json:"add"`
	Update []DensityEntry `json:"update"`
	Remove []string       `json:"remove"`
}

func computeDelta(old, new map[string]DensityEntry) DensityDelta {
	var delta DensityDelta

	for key, entry := range new {
		if _, ok := old[key]; !ok {
			delta.Add = append(delta.Add, entry)
		}
	}
	for key := range old {
		if _, ok := new[key]; !ok {
			delta.Remove = append(delta.Remove, key)
		}
	}
	for key, newEntry := range new {
		oldEntry, ok := old[key]
		if !ok {
			continue
		}
		if significantChange(oldEntry, newEntry) {
			delta.Update = append(delta.Update, newEntry)
		}
	}
	return delta
}

func significantChange(old, new DensityEntry) bool {
	if math.Abs(old.CurrentSizeUSD-new.CurrentSizeUSD) > sizeDeltaThresholdUSD {
		return true
	}
	if absInt64(old.DurationSeconds-new.DurationSeconds) > durationDeltaThresholdSec {
		return true
	}
	if old.Touched != new.Touched {
		return true
	}
	if math.Abs(old.ReductionUSD-new.ReductionUSD) > reductionDeltaThresholdUSD {
		return true
	}
	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// DensityEnvelope wraps a snapshot or delta push with a type tag and
// timestamp.
type DensityEnvelope struct {
	Type        string         `json:"type"`
	TimestampMS int64          `json:"timestamp_ms"`
	Snapshot    []DensityEntry `json:"snapshot,omitempty"`
	Delta       *DensityDelta  `json:"delta,omitempty"`
}

// DensityConsumer is one connected external consumer: a sender that
// reports its negotiated wire format.
type DensityConsumer interface {
	Sender
	Format() Format
}

// DensityHub is the density live-feed: a consumer registry fed a full
// snapshot on connect and thresholded deltas on a fixed cadence.
type DensityHub struct {
	mu        sync.Mutex
	consumers map[DensityConsumer]struct{}
	last      map[string]DensityEntry
	tracker   *density.Tracker
	metrics   *telemetry.Registry
	now       func() time.Time
}

// NewDensityHub builds a hub reading snapshots from tracker.
func NewDensityHub(tracker *density.Tracker, metrics *telemetry.Registry) *DensityHub {
	return &DensityHub{
		consumers: make(map[DensityConsumer]struct{}),
		last:      make(map[string]DensityEntry),
		tracker:   tracker,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Connect registers c and immediately sends it a full snapshot of the
// current density map.
func (h *DensityHub) Connect(c DensityConsumer) {
	snapshot := h.currentEntries()

	h.mu.Lock()
	h.consumers[c] = struct{}{}
	count := len(h.consumers)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.BroadcastConsumers.Set(float64(count))
	}

	entries := make([]DensityEntry, 0, len(snapshot))
	for _, e := range snapshot {
		entries = append(entries, e)
	}
	env := DensityEnvelope{Type: "snapshot", TimestampMS: h.now().UnixMilli(), Snapshot: entries}
	if err := c.Send(env); err != nil {
		h.drop(c)
	}
}

// Disconnect removes c, e.g. on a detected read error from the
// connection's own receive loop.
func (h *DensityHub) Disconnect(c DensityConsumer) {
	h.drop(c)
}

func (h *DensityHub) drop(c DensityConsumer) {
	h.mu.Lock()
	delete(h.consumers, c)
	count := len(h.consumers)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.BroadcastConsumers.Set(float64(count))
	}
}

func (h *DensityHub) currentEntries() map[string]DensityEntry {
	records := h.tracker.Snapshot()
	out := make(map[string]DensityEntry, len(records))
	for _, r := range records {
		e := entryFromRecord(r)
		out[e.Key] = e
	}
	return out
}

// RunBroadcastLoop computes and pushes a delta every DensityCadence
// until ctx is cancelled. A consumer whose send fails is dropped
// rather than buffered against; it reconciles state via the next
// connect's snapshot.
func (h *DensityHub) RunBroadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(DensityCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *DensityHub) tick() {
	h.mu.Lock()
	if len(h.consumers) == 0 {
		h.mu.Unlock()
		return
	}
	consumers := make([]DensityConsumer, 0, len(h.consumers))
	for c := range h.consumers {
		consumers = append(consumers, c)
	}
	h.mu.Unlock()

	current := h.currentEntries()
	delta := computeDelta(h.last, current)

	// Advance the baseline only for entries that were announced, so a
	// value drifting by less than the threshold per tick still fires
	// once its total change since the last sent state exceeds it.
	next := make(map[string]DensityEntry, len(current))
	for key, entry := range current {
		if oldEntry, ok := h.last[key]; ok && !significantChange(oldEntry, entry) {
			next[key] = oldEntry
			continue
		}
		next[key] = entry
	}
	h.last = next

	if len(delta.Add) == 0 && len(delta.Update) == 0 && len(delta.Remove) == 0 {
		return
	}

	if h.metrics != nil {
		h.metrics.DensityDeltaSize.WithLabelValues("add").Observe(float64(len(delta.Add)))
		h.metrics.DensityDeltaSize.WithLabelValues("update").Observe(float64(len(delta.Update)))
		h.metrics.DensityDeltaSize.WithLabelValues("remove").Observe(float64(len(delta.Remove)))
	}

	env := DensityEnvelope{Type: "delta", TimestampMS: h.now().UnixMilli(), Delta: &delta}
	for _, c := range consumers {
		if err := c.Send(env); err != nil {
			log.Debug().Err(err).Msg("broadcast: density send failed, dropping consumer")
			h.drop(c)
		}
	}
}
