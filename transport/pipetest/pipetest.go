// Package pipetest provides an in-memory transport.Conn pair over net.Pipe,
// used by handler- and transport-level tests that need a real duplex stream
// without a TCP listener.
package pipetest

import "net"

type Conn struct {
	net.Conn
}

func (c *Conn) RemoteAddr() string { return "pipe" }

// Pair returns two connected Conns; writes to one are reads on the other.
func Pair() (client, server *Conn) {
	a, b := net.Pipe()
	return &Conn{Conn: a}, &Conn{Conn: b}
}
