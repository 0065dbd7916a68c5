package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// Connection is the part of *websocket.Conn the hub uses, so tests can
// substitute an in-memory peer.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

type wsConnection struct {
	*websocket.Conn
}

// WrapConn adapts a gorilla websocket connection
func WrapConn(conn *websocket.Conn) Connection {
	return wsConnection{Conn: conn}
}

func (c wsConnection) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
