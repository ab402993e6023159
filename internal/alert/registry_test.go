package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/leaf"
	"github.com/sawpanic/alertrun/internal/store"
)

func newTestRegistry() (*Registry, *leaf.Manager) {
	leaves := leaf.NewManager()
	return NewRegistry(leaves), leaves
}

func TestAddSubscriberDedupsAcrossUsers(t *testing.T) {
	r, leaves := newTestRegistry()

	c1, err := r.AddSubscriber("u1", "price > 5 300 & oi < 100")
	require.NoError(t, err)
	c2, err := r.AddSubscriber("u2", "price > 5 300 & oi < 100")
	require.NoError(t, err)

	require.Same(t, c1, c2, "identical expressions must share one composite")
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 2, c1.SubscriberCount())
	assert.Equal(t, 2, leaves.Count(), "one price leaf and one OI leaf")
}

func TestAddSubscriberSameUserTwiceStaysUnique(t *testing.T) {
	r, _ := newTestRegistry()

	c, err := r.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)
	_, err = r.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)

	assert.Equal(t, 1, c.SubscriberCount())
}

func TestRemoveLastSubscriberDestroysCompositeAndLeaves(t *testing.T) {
	r, leaves := newTestRegistry()

	c, err := r.AddSubscriber("u1", "price > 5 300 & oi < 100")
	require.NoError(t, err)
	_, err = r.AddSubscriber("u2", "price > 5 300 & oi < 100")
	require.NoError(t, err)

	require.NoError(t, r.RemoveSubscriber("u2", c.Fingerprint))
	assert.Equal(t, 1, r.Count(), "one subscriber left keeps the composite alive")
	assert.Equal(t, 2, leaves.Count())

	require.NoError(t, r.RemoveSubscriber("u1", c.Fingerprint))
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, leaves.Count(), "unreferenced leaves are released")
	_, ok := r.Get(c.Fingerprint)
	assert.False(t, ok)
}

func TestSharedLeafSurvivesOtherCompositeTeardown(t *testing.T) {
	r, leaves := newTestRegistry()

	c1, err := r.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)
	_, err = r.AddSubscriber("u2", "price > 5 300 & oi < 100")
	require.NoError(t, err)
	require.Equal(t, 2, leaves.Count())

	require.NoError(t, r.RemoveSubscriber("u1", c1.Fingerprint))
	assert.Equal(t, 2, leaves.Count(), "the price leaf is still referenced by the second composite")
}

func TestAddSubscriberBadExpressionLeavesRegistryUntouched(t *testing.T) {
	r, leaves := newTestRegistry()

	_, err := r.AddSubscriber("u1", "price > foo")
	require.Error(t, err)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, leaves.Count())
}

func TestAddSubscriberWiresRootCooldown(t *testing.T) {
	r, _ := newTestRegistry()

	c, err := r.AddSubscriber("u1", "price > 5 300 @60")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, c.Cooldown)
}

func TestRemoveAllForUser(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.AddSubscriber("u1", "price > 5 300")
	require.NoError(t, err)
	_, err = r.AddSubscriber("u1", "oi < 100 60")
	require.NoError(t, err)
	_, err = r.AddSubscriber("u2", "price > 5 300")
	require.NoError(t, err)

	r.RemoveAllForUser("u1")
	assert.Empty(t, r.ListForUser("u1"))
	assert.Len(t, r.ListForUser("u2"), 1)
	assert.Equal(t, 1, r.Count(), "u2's composite survives")
}

func TestPlanAndIntersectsOrUnions(t *testing.T) {
	r, _ := newTestRegistry()

	and, err := r.AddSubscriber("u1", "price > 5 300 & oi < 100")
	require.NoError(t, err)
	or, err := r.AddSubscriber("u1", "volume > 1000000 300 | funding > 0.1 600")
	require.NoError(t, err)

	andCtx := []map[string]struct{}{
		{"BTCUSDT": {}, "ETHUSDT": {}},
		{"BTCUSDT": {}, "SOLUSDT": {}},
	}
	got := and.Plan.eval(andCtx)
	assert.Equal(t, map[string]struct{}{"BTCUSDT": {}}, got)

	orCtx := []map[string]struct{}{
		{"BTCUSDT": {}},
		{"ETHUSDT": {}},
	}
	got = or.Plan.eval(orCtx)
	assert.Len(t, got, 2)
}

// stubLeaf feeds a fixed matched set into tickOne without a store.
type stubLeaf struct {
	matched map[string]struct{}
}

func (s *stubLeaf) Update(ctx context.Context, _ *store.Store) error { return nil }
func (s *stubLeaf) MatchedSymbols() map[string]struct{}              { return s.matched }
func (s *stubLeaf) PollInterval() time.Duration                      { return time.Second }
func (s *stubLeaf) Fingerprint() uint64                              { return 1 }

type recordedNotification struct {
	subscribers []string
	expression  string
	symbols     []string
}

type fakeNotifier struct {
	sent []recordedNotification
}

func (f *fakeNotifier) Notify(subscribers []string, expression string, symbols []string) {
	f.sent = append(f.sent, recordedNotification{subscribers, expression, symbols})
}

func newStubComposite(matched map[string]struct{}) *Composite {
	return &Composite{
		Fingerprint: 42,
		Expression:  "price > 5 300",
		Leaves:      []leaf.Leaf{&stubLeaf{matched: matched}},
		Plan:        condPlan{idx: 0},
		Period:      time.Second,
		subscribers: map[string]struct{}{"u7": {}},
		lastFired:   make(map[string]time.Time),
	}
}

func TestTickOneNotifiesSubscribersOnMatch(t *testing.T) {
	r, leaves := newTestRegistry()
	notifier := &fakeNotifier{}
	s := NewScheduler(r, leaves, nil, notifier, time.Second)

	c := newStubComposite(map[string]struct{}{"BTCUSDT": {}})
	s.tickOne(context.Background(), c)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []string{"u7"}, notifier.sent[0].subscribers)
	assert.Equal(t, "price > 5 300", notifier.sent[0].expression)
	assert.Equal(t, []string{"BTCUSDT"}, notifier.sent[0].symbols)
}

func TestTickOneStaysSilentWithNoMatches(t *testing.T) {
	r, leaves := newTestRegistry()
	notifier := &fakeNotifier{}
	s := NewScheduler(r, leaves, nil, notifier, time.Second)

	c := newStubComposite(map[string]struct{}{})
	s.tickOne(context.Background(), c)
	assert.Empty(t, notifier.sent)
}

func TestTickOneSkipsWhenNotDue(t *testing.T) {
	r, leaves := newTestRegistry()
	notifier := &fakeNotifier{}
	s := NewScheduler(r, leaves, nil, notifier, time.Second)

	c := newStubComposite(map[string]struct{}{"BTCUSDT": {}})
	c.advanceDeadline(time.Now().Add(time.Hour))
	s.tickOne(context.Background(), c)
	assert.Empty(t, notifier.sent)
}
