package relay

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsConn wraps one accepted websocket and satisfies registry.Transport.
// Writes are serialized; reads belong to the connection's own loop.
type wsConn struct {
	sock *websocket.Conn

	mu     sync.Mutex
	closed bool
}

const writeTimeout = 5 * time.Second

func newWSConn(sock *websocket.Conn) *wsConn {
	return &wsConn{sock: sock}
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return context.Canceled
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.sock, v)
}

func (c *wsConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.sock.Close(websocket.StatusNormalClosure, reason)
}
