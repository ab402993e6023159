package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphoreForClampsToRange(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"empty_population_floors_at_50", 0, 50},
		{"small_population_floors_at_50", 1200, 50},
		{"mid_population_scales_linearly", 8000, 200},
		{"large_population_caps_at_500", 50000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, semaphoreFor(tt.n))
		})
	}
}

func TestBatchPolicyForThresholds(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		wantBatch int
		wantSleep time.Duration
	}{
		{"at_1000_uses_smallest_batch", 1000, 500, 100 * time.Millisecond},
		{"just_above_1000_steps_up", 1001, 1000, 50 * time.Millisecond},
		{"at_5000_still_mid_batch", 5000, 1000, 50 * time.Millisecond},
		{"just_above_5000_steps_up", 5001, 1500, 20 * time.Millisecond},
		{"at_15000_still_third_tier", 15000, 1500, 20 * time.Millisecond},
		{"beyond_15000_uses_largest_batch", 15001, 2000, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, sleep := batchPolicyFor(tt.n)
			assert.Equal(t, tt.wantBatch, batch)
			assert.Equal(t, tt.wantSleep, sleep)
		})
	}
}

func TestSizeDriftExceeds20Pct(t *testing.T) {
	assert.True(t, sizeDriftExceeds20Pct(0, 50), "zero current size always triggers a resize")
	assert.False(t, sizeDriftExceeds20Pct(100, 110), "10% drift should not trigger a resize")
	assert.True(t, sizeDriftExceeds20Pct(100, 125), "25% drift should trigger a resize")
	assert.False(t, sizeDriftExceeds20Pct(100, 80), "exactly -20% drift should not trigger")
	assert.True(t, sizeDriftExceeds20Pct(100, 79), "just past -20% drift should trigger")
}

func TestSemaphoreAcquireReleaseRespectsCap(t *testing.T) {
	sem := newSemaphore(2)
	done := make(chan struct{})

	assert := assert.New(t)
	assert.NoError(sem.acquire(context.TODO()))
	assert.NoError(sem.acquire(context.TODO()))

	go func() {
		assert.NoError(sem.acquire(context.TODO()))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("third acquire should have blocked until a release")
	case <-time.After(50 * time.Millisecond):
	}

	sem.release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("third acquire did not unblock after release")
	}

	sem.release()
	sem.release()
}

func TestSemaphoreResizeWidensCapacity(t *testing.T) {
	sem := newSemaphore(1)
	assert.NoError(t, sem.acquire(context.TODO()))

	sem.resize(3)
	assert.NoError(t, sem.acquire(context.TODO()))
	assert.NoError(t, sem.acquire(context.TODO()))
}

func TestCompositeCooldownSuppressesRepeatFires(t *testing.T) {
	c := &Composite{
		Cooldown:    time.Minute,
		subscribers: make(map[string]struct{}),
		lastFired:   make(map[string]time.Time),
	}

	start := time.Now()
	candidates := map[string]struct{}{"BTCUSDT": {}}

	survivors := c.applyCooldown(candidates, start)
	assert.Equal(t, []string{"BTCUSDT"}, survivors)

	survivors = c.applyCooldown(candidates, start.Add(30*time.Second))
	assert.Empty(t, survivors, "within the cooldown window the symbol should not re-fire")

	survivors = c.applyCooldown(candidates, start.Add(90*time.Second))
	assert.Equal(t, []string{"BTCUSDT"}, survivors, "past the cooldown window the symbol fires again")
}

func TestCompositeDueForTick(t *testing.T) {
	now := time.Now()
	c := &Composite{
		Period:       time.Minute,
		subscribers:  make(map[string]struct{}),
		lastFired:    make(map[string]time.Time),
		nextDeadline: now,
	}

	assert.True(t, c.dueForTick(now))
	c.advanceDeadline(now)
	assert.False(t, c.dueForTick(now.Add(time.Second)))
	assert.True(t, c.dueForTick(now.Add(time.Minute)))
}
