package cul

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robotalks/cul.go/pkg/cul/transport"
)

var errBroken = errors.New("broken pipe")

// fakeDevice simulates a CUL stick shared by all connections opened on it.
type fakeDevice struct {
	lock      sync.Mutex
	inbox     []string
	written   []string
	respond   map[string][]string
	ignore    map[string]int
	readErrs  int
	writeErrs int
	openFails int
	opens     int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		respond: make(map[string][]string),
		ignore:  make(map[string]int),
	}
}

// answering configures a device which reports a version and a budget.
func answering(budgetReport string) *fakeDevice {
	dev := newFakeDevice()
	dev.respond[CommandVersion] = []string{"V 1.66 nanoCUL868"}
	dev.respond[CommandRequestBudget] = []string{budgetReport}
	return dev
}

func (d *fakeDevice) Open() (transport.Conn, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.opens++
	if d.openFails > 0 {
		d.openFails--
		return nil, errors.New("no such device")
	}
	return &fakeConn{dev: d}, nil
}

func (d *fakeDevice) inject(lines ...string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.inbox = append(d.inbox, lines...)
}

func (d *fakeDevice) update(fn func(*fakeDevice)) {
	d.lock.Lock()
	defer d.lock.Unlock()
	fn(d)
}

func (d *fakeDevice) writtenLines() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string(nil), d.written...)
}

func (d *fakeDevice) openCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.opens
}

func (d *fakeDevice) count(cmd string) (n int) {
	for _, line := range d.writtenLines() {
		if line == cmd {
			n++
		}
	}
	return
}

type fakeConn struct {
	dev    *fakeDevice
	closed bool
}

func (c *fakeConn) ReadLine(timeout time.Duration) ([]byte, error) {
	c.dev.lock.Lock()
	defer c.dev.lock.Unlock()
	if c.closed {
		return nil, errors.New("closed")
	}
	if c.dev.readErrs > 0 {
		c.dev.readErrs--
		return nil, errBroken
	}
	if len(c.dev.inbox) == 0 {
		return nil, nil
	}
	line := c.dev.inbox[0]
	c.dev.inbox = c.dev.inbox[1:]
	return []byte(line + "\r\n"), nil
}

func (c *fakeConn) WriteLine(line []byte) error {
	c.dev.lock.Lock()
	defer c.dev.lock.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.dev.writeErrs > 0 {
		c.dev.writeErrs--
		return errBroken
	}
	cmd := strings.TrimSuffix(string(line), LineTerminator)
	c.dev.written = append(c.dev.written, cmd)
	if c.dev.ignore[cmd] > 0 {
		c.dev.ignore[cmd]--
		return nil
	}
	c.dev.inbox = append(c.dev.inbox, c.dev.respond[cmd]...)
	return nil
}

func (c *fakeConn) Close() error {
	c.dev.lock.Lock()
	defer c.dev.lock.Unlock()
	c.closed = true
	return nil
}

// sleepRecorder replaces real sleeps and records every requested delay.
type sleepRecorder struct {
	lock   sync.Mutex
	sleeps []time.Duration
	// block makes sleeps of at least this long wait for cancellation.
	block time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, dur time.Duration) bool {
	r.lock.Lock()
	r.sleeps = append(r.sleeps, dur)
	r.lock.Unlock()
	if r.block > 0 && dur >= r.block {
		<-ctx.Done()
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(50 * time.Microsecond):
		return true
	}
}

// atLeast returns recorded sleeps not shorter than min, in order.
func (r *sleepRecorder) atLeast(min time.Duration) (res []time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, d := range r.sleeps {
		if d >= min {
			res = append(res, d)
		}
	}
	return
}

type clock struct {
	lock sync.Mutex
	t    time.Time
}

func (c *clock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.lock.Lock()
	c.t = t
	c.lock.Unlock()
}

type driverTestEnv struct {
	t      *testing.T
	dev    *fakeDevice
	driver *Driver
	sleeps *sleepRecorder
	clock  *clock
	sent   chan Command
}

func newDriverTestEnv(t *testing.T, dev *fakeDevice) *driverTestEnv {
	env := &driverTestEnv{
		t:      t,
		dev:    dev,
		driver: NewDriver(dev),
		sleeps: &sleepRecorder{},
		clock:  &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		sent:   make(chan Command, 64),
	}
	env.driver.sleep = env.sleeps.sleep
	env.driver.now = env.clock.now
	env.driver.OnSent = func(cmd Command) { env.sent <- cmd }
	return env
}

func (e *driverTestEnv) start() {
	go e.driver.Run(context.Background())
}

func (e *driverTestEnv) stop() {
	if err := e.driver.Stop(time.Second); err != nil {
		e.t.Fatalf("stop: %v", err)
	}
}

// connect gives the driver a connection without running the handshake.
func (e *driverTestEnv) connect() *fakeConn {
	conn := &fakeConn{dev: e.dev}
	e.driver.conn = conn
	return conn
}

type failingCommand struct{}

func (failingCommand) EncodeMessage() (string, error) {
	return "", errors.New("unknown device")
}

type panickingCommand struct{}

func (panickingCommand) EncodeMessage() (string, error) {
	panic("bad payload")
}
