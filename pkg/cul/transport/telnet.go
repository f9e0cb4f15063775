package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/ziutek/telnet"
)

// minTelnetTimeout avoids deadlines in the past, which fail reads before
// any buffered socket data is consumed.
const minTelnetTimeout = 10 * time.Millisecond

type telnetConn struct {
	lineReader
	conn *telnet.Conn
}

func openTelnet(hostport string, opts Options) (Conn, error) {
	conn, err := telnet.DialTimeout("tcp", hostport, opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("open telnet connection %s: %w", hostport, err)
	}
	c := &telnetConn{conn: conn}
	c.src = c
	return c, nil
}

func (c *telnetConn) readTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout < minTelnetTimeout {
		timeout = minTelnetTimeout
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (c *telnetConn) WriteLine(line []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write(line)
	return err
}

func (c *telnetConn) Close() error {
	return c.conn.Close()
}
