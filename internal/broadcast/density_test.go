package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/density"
)

func TestComputeDeltaDetectsAddsUpdatesAndRemoves(t *testing.T) {
	old := map[string]DensityEntry{
		"BTCUSDT:L:100000": {Key: "BTCUSDT:L:100000", CurrentSizeUSD: 200000},
		"ETHUSDT:S:3000":   {Key: "ETHUSDT:S:3000", CurrentSizeUSD: 150000},
	}
	new := map[string]DensityEntry{
		"BTCUSDT:L:100000": {Key: "BTCUSDT:L:100000", CurrentSizeUSD: 205000}, // $5000 change, above threshold
		"SOLUSDT:L:150":    {Key: "SOLUSDT:L:150", CurrentSizeUSD: 300000},    // added
	}

	delta := computeDelta(old, new)

	assert.Len(t, delta.Add, 1)
	assert.Equal(t, "SOLUSDT:L:150", delta.Add[0].Key)
	assert.Len(t, delta.Update, 1)
	assert.Equal(t, "BTCUSDT:L:100000", delta.Update[0].Key)
	assert.ElementsMatch(t, []string{"ETHUSDT:S:3000"}, delta.Remove)
}

func TestSignificantChangeThresholds(t *testing.T) {
	base := DensityEntry{CurrentSizeUSD: 200000, DurationSeconds: 100, Touched: false, ReductionUSD: 0}

	tests := []struct {
		name    string
		mutate  func(e DensityEntry) DensityEntry
		changed bool
	}{
		{"size_below_threshold", func(e DensityEntry) DensityEntry { e.CurrentSizeUSD += 500; return e }, false},
		{"size_above_threshold", func(e DensityEntry) DensityEntry { e.CurrentSizeUSD += 1500; return e }, true},
		{"duration_below_threshold", func(e DensityEntry) DensityEntry { e.DurationSeconds += 5; return e }, false},
		{"duration_above_threshold", func(e DensityEntry) DensityEntry { e.DurationSeconds += 15; return e }, true},
		{"touched_flip", func(e DensityEntry) DensityEntry { e.Touched = true; return e }, true},
		{"reduction_above_threshold", func(e DensityEntry) DensityEntry { e.ReductionUSD += 1500; return e }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.changed, significantChange(base, tt.mutate(base)))
		})
	}
}

type fakeDensityConsumer struct {
	recordingSender
	format Format
}

func (c *fakeDensityConsumer) Format() Format { return c.format }

func TestDensityHubConnectSendsSnapshot(t *testing.T) {
	tracker := density.NewTracker()
	tracker.Process("BTCUSDT", density.SideLong, 100000, 200000, 100000)

	hub := NewDensityHub(tracker, nil)
	consumer := &fakeDensityConsumer{format: FormatJSON}

	hub.Connect(consumer)

	require.Equal(t, 1, consumer.count())
	env, ok := consumer.received[0].(DensityEnvelope)
	require.True(t, ok)
	assert.Equal(t, "snapshot", env.Type)
	assert.Len(t, env.Snapshot, 1)
	assert.Equal(t, "BTCUSDT", env.Snapshot[0].Symbol)
}

func TestDensityHubTickSkipsWhenNoConsumers(t *testing.T) {
	tracker := density.NewTracker()
	hub := NewDensityHub(tracker, nil)
	// No consumers registered; tick must be a no-op, not a panic.
	hub.tick()
}

func TestDensityHubTickBroadcastsDeltaToConsumers(t *testing.T) {
	tracker := density.NewTracker()
	hub := NewDensityHub(tracker, nil)
	consumer := &fakeDensityConsumer{format: FormatJSON}
	hub.Connect(consumer)

	tracker.Process("ETHUSDT", density.SideShort, 3000, 250000, 3100)
	hub.tick()

	require.Equal(t, 2, consumer.count(), "snapshot on connect, then one delta push")
	env, ok := consumer.received[1].(DensityEnvelope)
	require.True(t, ok)
	assert.Equal(t, "delta", env.Type)
	require.NotNil(t, env.Delta)
	assert.Len(t, env.Delta.Add, 1)
}

func TestDensityHubDropsFailingConsumerOnTick(t *testing.T) {
	tracker := density.NewTracker()
	hub := NewDensityHub(tracker, nil)
	consumer := &fakeDensityConsumer{format: FormatJSON}
	hub.Connect(consumer)

	tracker.Process("ETHUSDT", density.SideShort, 3000, 250000, 3100)
	consumer.failNext = true
	hub.tick()

	hub.mu.Lock()
	_, stillConnected := hub.consumers[consumer]
	hub.mu.Unlock()
	assert.False(t, stillConnected, "a send failure during broadcast must drop the consumer")
}
