package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport surface the Manager drives. *wsConn adapts a
// gorilla websocket connection; tests substitute an in-memory fake.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	// Ping sends a native websocket ping control frame.
	Ping(deadline time.Time) error
	Close() error
}

// Dialer opens a Conn to the push endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer builds the gorilla-backed dialer used outside tests.
func NewWebSocketDialer(handshakeTimeout time.Duration) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &wsDialer{dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
