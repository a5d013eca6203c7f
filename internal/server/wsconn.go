package server

import (
	"context"

	"github.com/coder/websocket"

	"github.com/kavachlabs/kavach/internal/broker"
)

// Compile-time assertion that wsConn satisfies the broker transport.
var _ broker.Conn = (*wsConn)(nil)

// wsConn adapts a coder/websocket connection to the broker's Conn. Frames
// are JSON envelopes; both text and binary messages are accepted on read
// so browser and native clients can frame however suits them.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) CloseNow() error {
	return c.conn.CloseNow()
}
