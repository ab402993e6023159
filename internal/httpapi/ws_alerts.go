package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alertrun/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsCommand struct {
	Type string `json:"type"`
}

// WSAlerts serves "WS /alerts/{user_id}": one push channel per user,
// plus a small inline command set for keep-alive and status queries.
func (h *Handlers) WSAlerts(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("httpapi: alerts ws upgrade failed")
		return
	}
	defer conn.Close()

	sender := newWSSender(conn, broadcast.FormatJSON)
	h.users.Register(userID, sender)
	defer h.users.Unregister(userID, sender)

	_ = sender.Send(ConnectedEvent{Type: "connected", UserID: userID, TimestampRFC3339: nowRFC3339()})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			_ = sender.Send(WSErrorEvent{Type: "error", Message: "invalid JSON", TimestampRFC3339: nowRFC3339()})
			continue
		}

		switch cmd.Type {
		case "ping":
			_ = sender.Send(PongEvent{Type: "pong", TimestampRFC3339: nowRFC3339()})
		case "get_status":
			h.sendStatus(sender, userID)
		case "get_my_alerts":
			h.sendMyAlerts(sender, userID)
		default:
			_ = sender.Send(WSErrorEvent{Type: "error", Message: "unknown command: " + cmd.Type, TimestampRFC3339: nowRFC3339()})
		}
	}
}

func (h *Handlers) sendStatus(sender *wsSender, userID string) {
	yourAlerts := h.registry.ListForUser(userID)
	_ = sender.Send(StatusEvent{
		Type:             "status",
		ConnectedUsers:   h.users.Connected(),
		YourAlerts:       len(yourAlerts),
		TotalAlerts:      h.registry.Count(),
		TimestampRFC3339: nowRFC3339(),
	})
}

func (h *Handlers) sendMyAlerts(sender *wsSender, userID string) {
	composites := h.registry.ListForUser(userID)
	out := make([]AlertDescriptor, 0, len(composites))
	for _, c := range composites {
		out = append(out, descriptorFor(c, true))
	}
	_ = sender.Send(MyAlertsEvent{Type: "my_alerts", Alerts: out, TimestampRFC3339: nowRFC3339()})
}
