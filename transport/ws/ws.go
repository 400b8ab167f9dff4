// Package ws adapts a gorilla/websocket connection to transport.Conn, so
// the protocol handler can run unmodified over the NATS WebSocket gateway
// (binary-framed: each Write maps to one WebSocket binary message).
package ws

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rskv-p/natscore/transport"
)

// Dialer dials a NATS WebSocket gateway ("ws://" or "wss://" URL).
type Dialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	c, _, err := dialer.DialContext(ctx, addr, d.Header)
	if err != nil {
		return nil, err
	}
	return &conn{ws: c}, nil
}

// conn adapts one websocket.Conn to the byte-stream transport.Conn
// interface by buffering partially-read binary messages, since a
// WebSocket frame boundary need not line up with a protocol control line
// or payload boundary.
type conn struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func (c *conn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf.Write(data)
	}
	return c.buf.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) Close() error { return c.ws.Close() }

func (c *conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *conn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *conn) RemoteAddr() string                 { return c.ws.RemoteAddr().String() }
