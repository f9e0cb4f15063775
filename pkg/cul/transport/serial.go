package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

// minSerialTimeout keeps zero-timeout polls from being treated as blocking.
const minSerialTimeout = time.Millisecond

type serialConn struct {
	lineReader
	port    serial.Port
	timeout time.Duration
}

func openSerial(path string, opts Options) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	deadline := time.Now().Add(opts.BusyWait)
	for {
		port, err := serial.Open(path, mode)
		if err == nil {
			c := &serialConn{port: port, timeout: -1}
			c.src = c
			return c, nil
		}
		var portErr *serial.PortError
		if !errors.As(err, &portErr) || portErr.Code() != serial.PortBusy || time.Now().After(deadline) {
			return nil, fmt.Errorf("open serial device %s: %w", path, err)
		}
		glog.V(2).Infof("serial device %s busy, retrying", path)
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *serialConn) readTimeout(p []byte, timeout time.Duration) (int, error) {
	if timeout < minSerialTimeout {
		timeout = minSerialTimeout
	}
	if timeout != c.timeout {
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		c.timeout = timeout
	}
	return c.port.Read(p)
}

func (c *serialConn) WriteLine(line []byte) error {
	_, err := c.port.Write(line)
	return err
}

func (c *serialConn) Close() error {
	return c.port.Close()
}
