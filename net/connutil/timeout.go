package connutil

import (
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
)

var log = logger.NewNamed("net.connutil")

// TimeoutConn closes the connection when a write makes no progress within the timeout
type TimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func NewTimeout(conn net.Conn, timeout time.Duration) *TimeoutConn {
	return &TimeoutConn{conn, timeout}
}

func (c *TimeoutConn) Write(p []byte) (n int, err error) {
	for {
		if c.timeout != 0 {
			if e := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); e != nil {
				log.Warn("can't set write deadline", zap.String("remoteAddr", c.RemoteAddr().String()))
			}
		}
		var nn int
		nn, err = c.Conn.Write(p[n:])
		n += nn
		if n < len(p) && nn > 0 && errors.Is(err, os.ErrDeadlineExceeded) {
			// keep extending the deadline while the write makes progress
			continue
		}
		if c.timeout != 0 {
			_ = c.Conn.SetWriteDeadline(time.Time{})
		}
		if err != nil {
			_ = c.Conn.Close()
			log.Debug("connection write failed", zap.String("remoteAddr", c.RemoteAddr().String()), zap.Error(err))
		}
		return n, err
	}
}
