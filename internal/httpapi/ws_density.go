package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sawpanic/alertrun/internal/broadcast"
)

// WSDensities serves "WS /ws/densities?format=json|msgpack": snapshot
// on connect, then periodic deltas from the density hub, plus a
// liveness probe.
func (h *Handlers) WSDensities(w http.ResponseWriter, r *http.Request) {
	format := broadcast.Format(r.URL.Query().Get("format"))
	if format != broadcast.FormatMsgpack {
		format = broadcast.FormatJSON
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("httpapi: density ws upgrade failed")
		return
	}
	defer conn.Close()

	sender := newWSSender(conn, format)
	h.densityHub.Connect(sender)
	defer h.densityHub.Disconnect(sender)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd wsCommand
		var decodeErr error
		if msgType == websocket.BinaryMessage && format == broadcast.FormatMsgpack {
			decodeErr = msgpack.Unmarshal(raw, &cmd)
		} else {
			decodeErr = json.Unmarshal(raw, &cmd)
		}
		if decodeErr != nil {
			continue
		}

		if cmd.Type == "ping" {
			_ = sender.Send(PongEvent{Type: "pong", TimestampRFC3339: nowRFC3339()})
		}
	}
}
