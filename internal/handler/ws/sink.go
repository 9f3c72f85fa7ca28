package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenchat/backend/internal/service/pipeline"
)

// outgoingFrame mirrors the SSE framing over the socket: the event name plus
// its JSON payload.
type outgoingFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsSink delivers pipeline events as JSON frames and owns the connection
// teardown.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(event pipeline.Event) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteJSON(outgoingFrame{Event: event.Name, Data: event.Data})
}

// Close sends a normal close frame and tears down the connection.
func (s *wsSink) Close() error {
	deadline := time.Now().Add(writeDeadline)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
