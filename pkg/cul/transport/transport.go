// Package transport opens byte-stream connections to a CUL stick and
// exposes them as line-oriented connections.
//
// Two address forms are supported:
//
//	/dev/ttyACM0              local serial device, opened at a fixed baud rate
//	telnet://192.168.1.5:2323 serial-over-telnet (e.g. ser2net, ESP-Link)
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Conn is a line-oriented connection to the device.
type Conn interface {
	// ReadLine returns the next raw line including its terminator.
	// It returns nil, nil when no complete line arrived within timeout.
	ReadLine(timeout time.Duration) ([]byte, error)
	// WriteLine writes an already framed line.
	WriteLine(line []byte) error
	// Close releases the underlying device or socket.
	Close() error
}

// Schemes
const (
	SchemeTelnet = "telnet"
)

// Defaults
const (
	DefaultBaudRate    = 38400
	DefaultBusyWait    = 2 * time.Second
	DefaultDialTimeout = 500 * time.Millisecond
)

// ErrUnsupportedScheme indicates an address with an unknown scheme prefix.
var ErrUnsupportedScheme = errors.New("unsupported address scheme")

// Options configures Open.
type Options struct {
	// BaudRate is used for local serial devices.
	BaudRate int
	// BusyWait bounds how long a busy serial device is retried.
	BusyWait time.Duration
	// DialTimeout bounds connecting to a telnet endpoint.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.BusyWait <= 0 {
		o.BusyWait = DefaultBusyWait
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

// Address is a parsed device address.
type Address struct {
	// Scheme is empty for local serial devices.
	Scheme string
	// Target is the device path or host:port.
	Target string
}

// IsNetwork indicates the address is tunneled over the network.
func (a Address) IsNetwork() bool {
	return a.Scheme != ""
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if a.Scheme == "" {
		return a.Target
	}
	return a.Scheme + "://" + a.Target
}

// ParseAddress selects the transport variant from the address form.
func ParseAddress(address string) (Address, error) {
	if !strings.Contains(address, "://") {
		if address == "" {
			return Address{}, fmt.Errorf("empty device address")
		}
		return Address{Target: address}, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return Address{}, fmt.Errorf("invalid device address %q: %w", address, err)
	}
	switch u.Scheme {
	case SchemeTelnet:
		if u.Host == "" {
			return Address{}, fmt.Errorf("invalid device address %q: missing host", address)
		}
		return Address{Scheme: u.Scheme, Target: u.Host}, nil
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Open connects to the device at address. It fails fast instead of
// blocking indefinitely.
func Open(address string, opts Options) (Conn, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if addr.IsNetwork() {
		return openTelnet(addr.Target, opts)
	}
	return openSerial(addr.Target, opts)
}
