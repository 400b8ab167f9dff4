// Package transport abstracts the byte-duplex connection underneath the
// protocol engine: a plain Dial/Read/Write/Close surface the handler
// drives without caring whether the other end is a raw TCP socket, a
// TLS-upgraded one, or a WebSocket (transport/ws). The interface carries
// only what the handler needs: bytes in, bytes out, deadlines.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"
)

var (
	ErrDisconnected = errors.New("transport: not connected")
	ErrNotSupported = errors.New("transport: operation not supported")
)

// Conn is the minimal duplex byte stream the protocol handler needs.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
}

// Dialer opens a new Conn to addr: "host:port" for TCP dialers, the full
// "ws://" or "wss://" URL for WebSocket dialers.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Option configures a TCPDialer.
type Option func(*TCPDialer)

// WithTLSConfig dials directly with TLS instead of plain TCP, used when the
// caller already knows TLS is required (as opposed to the post-INFO
// opportunistic upgrade via Upgrade).
func WithTLSConfig(cfg *tls.Config) Option {
	return func(d *TCPDialer) { d.tlsConfig = cfg }
}

// WithDialTimeout bounds how long Dial waits for the TCP handshake.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *TCPDialer) { d.dialTimeout = timeout }
}

// TCPDialer is the default Dialer: plain TCP, optionally wrapped in TLS
// from the first byte (as opposed to negotiated after INFO).
type TCPDialer struct {
	tlsConfig   *tls.Config
	dialTimeout time.Duration
}

func NewTCPDialer(opts ...Option) *TCPDialer {
	d := &TCPDialer{dialTimeout: 10 * time.Second}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *TCPDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if d.tlsConfig != nil {
		tconn := tls.Client(conn, d.tlsConfig)
		if err := tconn.HandshakeContext(dctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &netConn{Conn: tconn}, nil
	}
	return &netConn{Conn: conn}, nil
}

// Upgrade wraps an already-connected plain TCP conn in TLS, for the
// opportunistic upgrade path where the server's INFO announces
// tls_required after the initial plaintext connect.
func Upgrade(c Conn, cfg *tls.Config) (Conn, error) {
	nc, ok := c.(*netConn)
	if !ok {
		return nil, ErrNotSupported
	}
	tconn := tls.Client(nc.Conn, cfg)
	if err := tconn.Handshake(); err != nil {
		return nil, err
	}
	return &netConn{Conn: tconn}, nil
}

// netConn adapts net.Conn (and *tls.Conn, which satisfies net.Conn) to
// transport.Conn.
type netConn struct {
	net.Conn
}

func (c *netConn) RemoteAddr() string { return c.Conn.RemoteAddr().String() }
