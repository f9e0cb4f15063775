package cul

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cul.go/pkg/cul/transport"
)

// State is the state of the driver loop.
type State int32

// Driver states. Reconnecting is only entered from Running.
const (
	StateInit State = iota
	StateRunning
	StateReconnecting
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Opener opens a new connection to the stick.
type Opener interface {
	Open() (transport.Conn, error)
}

// OpenFunc is the func form of Opener.
type OpenFunc func() (transport.Conn, error)

// Open implements Opener.
func (f OpenFunc) Open() (transport.Conn, error) {
	return f()
}

// DeviceOpener opens address using the transport package.
func DeviceOpener(address string, opts transport.Options) Opener {
	return OpenFunc(func() (transport.Conn, error) {
		return transport.Open(address, opts)
	})
}

// Timing holds the delays used by the driver loop.
type Timing struct {
	// Tick is the pause at the end of every loop iteration.
	Tick time.Duration
	// BudgetPoll is the extra pause after querying the budget while it is
	// too low to send.
	BudgetPoll time.Duration
	// Settle follows each setup command during initialization.
	Settle time.Duration
	// Startup is the pause between opening the device and the first
	// version query.
	Startup time.Duration
	// VersionRetry is the pause between a version query and reading the
	// answer.
	VersionRetry time.Duration
	// VersionAttempts bounds the version queries.
	VersionAttempts int
	// ReadTimeout is used for every line read.
	ReadTimeout time.Duration
	// Backoff are the waits between reopen attempts.
	Backoff []time.Duration
}

// DefaultTiming is used by NewDriver.
var DefaultTiming = Timing{
	Tick:            200 * time.Millisecond,
	BudgetPoll:      time.Second,
	Settle:          300 * time.Millisecond,
	Startup:         2 * time.Second,
	VersionRetry:    time.Second,
	VersionAttempts: 10,
	Backoff: []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
	},
}

// Driver runs the communication loop with a CUL stick.
type Driver struct {
	Opener Opener
	Timing Timing
	// OnSent is invoked on the loop goroutine after a command is written.
	OnSent SentFunc

	queue   *CommandQueue
	events  *EventQueue
	budget  Budget
	version atomic.Value
	state   int32
	started int32

	conn             transport.Conn
	waitingForBudget bool
	nextReopen       time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	err      error

	now   func() time.Time
	sleep func(context.Context, time.Duration) bool
}

// NewDriver creates a Driver with default timing.
func NewDriver(opener Opener) *Driver {
	return &Driver{
		Opener: opener,
		Timing: DefaultTiming,
		queue:  NewCommandQueue(MaxQueuedCommands),
		events: NewEventQueue(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Name implements framework.Named.
func (d *Driver) Name() string {
	return "cul"
}

// Version returns the firmware version reported during initialization,
// or empty before that.
func (d *Driver) Version() string {
	v, _ := d.version.Load().(string)
	return v
}

// State returns the current loop state.
func (d *Driver) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// Budget returns the remaining transmit budget in ms.
func (d *Driver) Budget() int {
	return d.budget.Remaining()
}

// HasSendBudget tells whether the budget is enough to send anything.
func (d *Driver) HasSendBudget() bool {
	return d.budget.Sufficient()
}

// Events returns the queue of received Moritz messages.
func (d *Driver) Events() *EventQueue {
	return d.events
}

// Queue returns the send queue.
func (d *Driver) Queue() *CommandQueue {
	return d.queue
}

// Enqueue schedules cmd for sending. It is safe to call from any
// goroutine and never blocks; when the queue is full the oldest command
// is dropped.
func (d *Driver) Enqueue(cmd Command) {
	if dropped := d.queue.Enqueue(cmd); dropped != nil {
		glog.Warningf("send queue full, dropped command %v", dropped)
	}
}

// Done is closed when the loop exits.
func (d *Driver) Done() <-chan struct{} {
	return d.doneCh
}

// Err returns why the loop exited. It is nil when stop was requested and
// only valid after Done is closed.
func (d *Driver) Err() error {
	select {
	case <-d.doneCh:
		return d.err
	default:
		return nil
	}
}

// Start runs the loop on its own goroutine. A Stop issued right after
// Start waits for that loop.
func (d *Driver) Start() {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		glog.Warning("CUL driver already started")
		return
	}
	go d.loop(context.Background())
}

// Stop requests the loop to exit and waits up to timeout for it.
// A zero timeout waits forever.
func (d *Driver) Stop(timeout time.Duration) error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	if atomic.LoadInt32(&d.started) == 0 {
		return nil
	}
	if timeout <= 0 {
		<-d.doneCh
		return nil
	}
	select {
	case <-d.doneCh:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Run implements framework.Runnable. It returns when initialization
// fails, reconnecting is exhausted, Stop is called or ctx is done. Stop
// and ctx cancellation both end it with a nil error.
func (d *Driver) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return ErrAlreadyStarted
	}
	return d.loop(ctx)
}

func (d *Driver) loop(parent context.Context) error {
	var err error
	if !d.stopRequested() {
		ctx, cancel := context.WithCancel(parent)
		go func() {
			select {
			case <-d.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		err = d.run(ctx)
		cancel()
		if errors.Is(err, context.Canceled) && (d.stopRequested() || parent.Err() != nil) {
			err = nil
		}
	}
	d.closeConn()
	d.setState(StateStopped)
	d.events.Close()
	if err != nil {
		glog.Errorf("CUL driver stopped: %v", err)
	} else {
		glog.Info("CUL driver stopped")
	}
	d.err = err
	close(d.doneCh)
	return err
}

func (d *Driver) run(ctx context.Context) error {
	if err := d.initialize(ctx); err != nil {
		return err
	}
	d.setState(StateRunning)
	d.nextReopen = nextReopenAfter(d.now())
	for ctx.Err() == nil {
		if err := d.iterate(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (d *Driver) initialize(ctx context.Context) error {
	d.setState(StateInit)
	conn, err := d.Opener.Open()
	if err != nil {
		return &IOError{Op: "open", Err: err}
	}
	d.conn = conn
	if err = d.handshake(ctx); err != nil {
		d.closeConn()
		return err
	}
	return nil
}

func (d *Driver) handshake(ctx context.Context) error {
	// nanoCUL needs some time after open.
	if !d.sleep(ctx, d.Timing.Startup) {
		return ctx.Err()
	}
	version, err := d.queryVersion(ctx)
	if err != nil {
		return err
	}
	d.version.Store(version)
	for _, cmd := range []string{CommandEnableRSSI, CommandMoritzReceive, CommandDisableFHT, CommandRequestBudget} {
		if err = d.writeLine(cmd); err != nil {
			return err
		}
		if !d.sleep(ctx, d.Timing.Settle) {
			return ctx.Err()
		}
	}
	return nil
}

func (d *Driver) queryVersion(ctx context.Context) (string, error) {
	for i := 0; i < d.Timing.VersionAttempts; i++ {
		if err := d.writeLine(CommandVersion); err != nil {
			return "", err
		}
		if !d.sleep(ctx, d.Timing.VersionRetry) {
			return "", ctx.Err()
		}
		raw, err := d.conn.ReadLine(d.Timing.ReadTimeout)
		if err != nil {
			return "", &IOError{Op: "read", Err: err}
		}
		if version, ok := DecodeLine(raw); ok {
			glog.Infof("CUL reported version %s", version)
			return version, nil
		}
		glog.Info("no version from CUL reported")
	}
	return "", ErrNoVersion
}

func (d *Driver) iterate(ctx context.Context) error {
	if err := d.receiveMessages(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !d.budget.Sufficient() {
		if !d.waitingForBudget {
			glog.V(2).Info("unable to send messages, budget too low")
		}
		d.waitingForBudget = true
		if err := d.requestBudget(ctx); err != nil {
			return err
		}
		d.sleep(ctx, d.Timing.BudgetPoll)
	} else {
		d.waitingForBudget = false
		if err := d.sendPendingCommand(ctx); err != nil {
			return err
		}
	}

	if now := d.now(); !now.Before(d.nextReopen) {
		glog.Info("reopening device")
		if err := d.reconnect(ctx); err != nil {
			return err
		}
		d.nextReopen = nextReopenAfter(now)
	}

	d.sleep(ctx, d.Timing.Tick)
	return nil
}

func (d *Driver) receiveMessages(ctx context.Context) error {
	for ctx.Err() == nil {
		raw, err := d.conn.ReadLine(d.Timing.ReadTimeout)
		if err != nil {
			return d.recoverIO(ctx, &IOError{Op: "read", Err: err})
		}
		line, ok := DecodeLine(raw)
		if !ok {
			return nil
		}
		d.handleLine(line)
	}
	return nil
}

func (d *Driver) handleLine(line string) {
	switch ClassifyLine(line) {
	case LineBudget:
		ms, err := ParseBudgetReport(line)
		if err != nil {
			glog.Warningf("ignored budget report: %v", err)
			return
		}
		d.budget.Set(ms)
		glog.V(3).Infof("got pending budget: %dms", ms)
	case LineError:
		glog.Warningf("received error message from CUL stick: %q", line)
	case LineMoritz:
		glog.V(2).Infof("received new moritz message: %s", line)
		d.events.Push(line)
	default:
		glog.V(2).Infof("got unhandled response from CUL: %q", line)
	}
}

func (d *Driver) sendPendingCommand(ctx context.Context) error {
	cmd := d.queue.Pop()
	if cmd == nil {
		return nil
	}
	encoded, err := encodeCommand(cmd)
	if err != nil {
		glog.Errorf("%v, command dropped", err)
		return nil
	}
	if !d.budget.Admits(encoded) {
		d.requeue(cmd)
		return d.requestBudget(ctx)
	}
	if err = d.writeLine(encoded); err != nil {
		d.requeue(cmd)
		return d.recoverIO(ctx, err)
	}
	d.notifySent(cmd)
	d.budget.Debit(encoded)
	return nil
}

func (d *Driver) requeue(cmd Command) {
	if dropped := d.queue.Requeue(cmd); dropped != nil {
		glog.Warningf("send queue full, dropped command %v", dropped)
	}
}

func (d *Driver) notifySent(cmd Command) {
	if d.OnSent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("sent callback panic for command %v: %v", cmd, r)
		}
	}()
	d.OnSent(cmd)
}

func encodeCommand(cmd Command) (encoded string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EncodeError{Command: cmd, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	encoded, err = cmd.EncodeMessage()
	if err == nil && encoded == "" {
		err = ErrEmptyCommand
	}
	if err != nil {
		err = &EncodeError{Command: cmd, Err: err}
	}
	return
}

func (d *Driver) requestBudget(ctx context.Context) error {
	if err := d.writeLine(CommandRequestBudget); err != nil {
		return d.recoverIO(ctx, err)
	}
	return nil
}

func (d *Driver) writeLine(cmd string) error {
	if cmd != CommandRequestBudget {
		glog.V(2).Infof("writing command %s", cmd)
	}
	if err := d.conn.WriteLine(EncodeLine(cmd)); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// recoverIO reopens the device after an I/O error. A nil result means the
// loop can continue.
func (d *Driver) recoverIO(ctx context.Context, cause error) error {
	glog.Errorf("%v, try reopening device", cause)
	if err := d.reconnect(ctx); err != nil {
		if errors.Is(err, ErrReconnectExhausted) {
			glog.Error("unable to reopen device, quitting")
		}
		return err
	}
	return nil
}

// reconnect closes the connection and reopens it with backoff. The
// handshake is not repeated.
func (d *Driver) reconnect(ctx context.Context) error {
	d.setState(StateReconnecting)
	d.closeConn()
	d.budget.Reset()
	for n, wait := range d.Timing.Backoff {
		if d.reopen() {
			return nil
		}
		glog.Warningf("reopen attempt %d failed, retrying in %s", n+1, wait)
		if !d.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
	if d.reopen() {
		return nil
	}
	return ErrReconnectExhausted
}

func (d *Driver) reopen() bool {
	conn, err := d.Opener.Open()
	if err != nil {
		glog.Errorf("unable to open device: %v", err)
		return false
	}
	d.conn = conn
	d.setState(StateRunning)
	glog.Info("device reopened")
	return true
}

func (d *Driver) closeConn() {
	if d.conn == nil {
		return
	}
	if err := d.conn.Close(); err != nil {
		glog.V(2).Infof("close device: %v", err)
	}
	d.conn = nil
}

func (d *Driver) setState(s State) {
	if old := State(atomic.SwapInt32(&d.state, int32(s))); old != s {
		glog.V(2).Infof("state %s -> %s", old, s)
	}
}

func (d *Driver) stopRequested() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// nextReopenAfter returns the next UTC midnight after t.
func nextReopenAfter(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}

func sleepContext(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
