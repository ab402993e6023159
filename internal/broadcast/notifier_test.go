package broadcast

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	received []any
	failNext bool
}

func (s *recordingSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("send failed")
	}
	s.received = append(s.received, v)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestUserHubRegisterAndIsConnected(t *testing.T) {
	hub := NewUserHub(nil)
	assert.False(t, hub.IsConnected("u1"))

	sender := &recordingSender{}
	hub.Register("u1", sender)
	assert.True(t, hub.IsConnected("u1"))
	assert.Equal(t, 1, hub.Connected())

	hub.Unregister("u1", sender)
	assert.False(t, hub.IsConnected("u1"))
}

func TestUserHubUnregisterIgnoresStaleConnection(t *testing.T) {
	hub := NewUserHub(nil)
	first := &recordingSender{}
	second := &recordingSender{}

	hub.Register("u1", first)
	hub.Register("u1", second) // newer connection replaces the old one

	// A disconnect callback for the stale first connection must not
	// evict the newer second connection.
	hub.Unregister("u1", first)
	assert.True(t, hub.IsConnected("u1"))
}

func TestUserHubNotifyFansOutToEverySubscriber(t *testing.T) {
	hub := NewUserHub(nil)
	alice := &recordingSender{}
	bob := &recordingSender{}
	hub.Register("alice", alice)
	hub.Register("bob", bob)

	hub.Notify([]string{"alice", "bob", "carol"}, "price.above(100000)", []string{"BTCUSDT"})

	require.Equal(t, 1, alice.count())
	require.Equal(t, 1, bob.count())
}

func TestUserHubNotifyIsolatesFailingRecipient(t *testing.T) {
	hub := NewUserHub(nil)
	healthy := &recordingSender{}
	broken := &recordingSender{failNext: true}
	hub.Register("healthy", healthy)
	hub.Register("broken", broken)

	hub.Notify([]string{"healthy", "broken"}, "price.above(100000)", []string{"BTCUSDT"})

	assert.Equal(t, 1, healthy.count(), "a failing peer must not block delivery to a healthy one")
	assert.False(t, hub.IsConnected("broken"), "a failed send drops the channel")
	assert.True(t, hub.IsConnected("healthy"))
}

func TestUserHubNotifySkipsDisconnectedUsers(t *testing.T) {
	hub := NewUserHub(nil)
	// No senders registered at all; Notify must not panic and must be a
	// no-op rather than erroring.
	hub.Notify([]string{"ghost"}, "price.above(100000)", []string{"BTCUSDT"})
}
