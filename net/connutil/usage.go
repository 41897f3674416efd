// Package connutil holds net.Conn wrappers shared by the swarm transports.
package connutil

import (
	"net"
	"time"

	"go.uber.org/atomic"
)

// LastUsageConn tracks when the conn was last read from or written to
type LastUsageConn struct {
	net.Conn
	last atomic.Time
}

func NewLastUsageConn(conn net.Conn) *LastUsageConn {
	return &LastUsageConn{Conn: conn}
}

func (c *LastUsageConn) Read(p []byte) (int, error) {
	c.touch()
	return c.Conn.Read(p)
}

func (c *LastUsageConn) Write(p []byte) (int, error) {
	c.touch()
	return c.Conn.Write(p)
}

func (c *LastUsageConn) touch() {
	c.last.Store(time.Now())
}

func (c *LastUsageConn) LastUsage() time.Time {
	return c.last.Load()
}
