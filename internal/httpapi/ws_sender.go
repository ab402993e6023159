package httpapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sawpanic/alertrun/internal/broadcast"
)

// writeTimeout bounds every outbound WS frame write.
const writeTimeout = 10 * time.Second

// wsSender adapts a gorilla websocket connection to broadcast.Sender /
// broadcast.DensityConsumer, serializing writes (gorilla connections
// are not safe for concurrent writers) and marshaling per the
// negotiated format.
type wsSender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	format broadcast.Format
}

func newWSSender(conn *websocket.Conn, format broadcast.Format) *wsSender {
	return &wsSender{conn: conn, format: format}
}

func (s *wsSender) Format() broadcast.Format { return s.format }

// Send marshals v per the negotiated format and writes it as one
// frame: json as a text frame, msgpack as a binary frame.
func (s *wsSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if s.format == broadcast.FormatMsgpack {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return err
		}
		return s.conn.WriteMessage(websocket.BinaryMessage, data)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) Close() error {
	return s.conn.Close()
}
