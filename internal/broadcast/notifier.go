package broadcast

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alertrun/internal/telemetry"
)

// AlertMessage is one chunk of a fired composite notification pushed
// to a subscriber's channel.
type AlertMessage struct {
	Type        string   `json:"type"`
	Expression  string   `json:"expression"`
	Tickers     []string `json:"tickers"`
	Text        string   `json:"text"`
	TimestampMS int64    `json:"timestamp_ms"`
}

// Sender is the minimal interface a transport (WebSocket connection,
// chat-bot DM channel) implements to receive pushed messages.
type Sender interface {
	Send(v any) error
}

// UserHub is the per-user push-channel registry: one sender per
// connected user, best-effort fan-out with per-recipient isolation.
// Implements alert.Notifier.
type UserHub struct {
	mu      sync.RWMutex
	senders map[string]Sender
	metrics *telemetry.Registry
	now     func() time.Time
}

// NewUserHub builds an empty user push-channel registry.
func NewUserHub(metrics *telemetry.Registry) *UserHub {
	return &UserHub{senders: make(map[string]Sender), metrics: metrics, now: time.Now}
}

// Register associates userID with its active sender, replacing any
// prior connection. A user has at most one live push channel at a
// time.
func (h *UserHub) Register(userID string, s Sender) {
	h.mu.Lock()
	h.senders[userID] = s
	h.mu.Unlock()
}

// Unregister removes userID's sender if it still matches s (so a stale
// disconnect callback can't race out a newer connection).
func (h *UserHub) Unregister(userID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.senders[userID]; ok && cur == s {
		delete(h.senders, userID)
	}
}

// Connected reports how many users currently have a live push channel.
func (h *UserHub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.senders)
}

// IsConnected reports whether userID currently has a live push channel.
func (h *UserHub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.senders[userID]
	return ok
}

// Notify implements alert.Notifier: formats one message for all
// survivors and fans it out to every subscriber, isolating per-
// recipient failures so one broken connection never blocks the rest.
func (h *UserHub) Notify(subscribers []string, expression string, symbols []string) {
	text := formatAlertMessage(expression, symbols)
	chunks := chunkMessage(text)

	h.mu.RLock()
	targets := make(map[string]Sender, len(subscribers))
	for _, u := range subscribers {
		if s, ok := h.senders[u]; ok {
			targets[u] = s
		}
	}
	h.mu.RUnlock()

	now := h.now().UnixMilli()
	for userID, sender := range targets {
		for _, chunk := range chunks {
			msg := AlertMessage{Type: "alert", Expression: expression, Tickers: symbols, Text: chunk, TimestampMS: now}
			if err := sender.Send(msg); err != nil {
				log.Warn().Str("user_id", userID).Err(err).Msg("broadcast: notify failed, dropping channel")
				h.Unregister(userID, sender)
				if h.metrics != nil {
					h.metrics.NotificationsSent.WithLabelValues("failed").Inc()
				}
				break
			}
			if h.metrics != nil {
				h.metrics.NotificationsSent.WithLabelValues("sent").Inc()
			}
		}
	}
}
