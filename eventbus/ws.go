package eventbus

import "github.com/gorilla/websocket"

// WSSubscriber adapts a live *websocket.Conn to the Subscriber interface,
// pushing events the way kadirpekel-hector/a2a/server.go's handleStreamTask
// streams chunks back to a client: one conn.WriteJSON call per message. The
// HTTP upgrade handshake itself is out of scope (spec.md §1) — callers
// construct a WSSubscriber from an already-upgraded connection.
type WSSubscriber struct {
	conn *websocket.Conn
}

// NewWSSubscriber wraps an upgraded WebSocket connection.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{conn: conn}
}

func (w *WSSubscriber) Send(event Event) error {
	return w.conn.WriteJSON(event)
}

func (w *WSSubscriber) Close() error {
	return w.conn.Close()
}
