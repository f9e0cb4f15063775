// Package sh provides an interactive shell over a CUL stick.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/cul.go/pkg/cul"
	"github.com/robotalks/cul.go/pkg/env"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// SendTimeout bounds how long send waits for a command to go out.
	SendTimeout time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *DriverConn

	// NewDriver creates the driver for a device, defaults to Config.
	NewDriver func(device string) (*cul.Driver, error)
}

// DriverConn is a running driver.
type DriverConn struct {
	Device string
	Driver *cul.Driver

	lock    sync.Mutex
	pending map[*pendingCommand]struct{}
}

type pendingCommand struct {
	cul.RawCommand
	sent chan struct{}
}

const (
	shellKey           = "$shell"
	unconnectedPrompt  = "[none] > "
	defaultSendTimeout = 10 * time.Second
	stopTimeout        = 3 * time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendCmd,
		&VersionCmd,
		&BudgetCmd,
		&StateCmd,
		&QueueCmd,
		&EventsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		SendTimeout: defaultSendTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.NewDriver = s.newConfiguredDriver
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

func (s *Shell) newConfiguredDriver(device string) (*cul.Driver, error) {
	conf := *s.Config
	conf.Device = device
	return conf.NewDriver()
}

// Connect starts a driver on device, replacing the current one.
func (s *Shell) Connect(device string) error {
	drv, err := s.NewDriver(device)
	if err != nil {
		return err
	}
	conn := &DriverConn{
		Device:  device,
		Driver:  drv,
		pending: make(map[*pendingCommand]struct{}),
	}
	drv.OnSent = conn.commandSent
	s.Disconnect()
	s.Conn = conn
	drv.Start()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", device))
	return nil
}

// Disconnect stops the current driver.
func (s *Shell) Disconnect() {
	if s.Conn == nil {
		return
	}
	if err := s.Conn.Driver.Stop(stopTimeout); err != nil {
		log.Printf("stop %s: %v", s.Conn.Device, err)
	}
	s.Conn = nil
	s.Shell.SetPrompt(unconnectedPrompt)
}

// Send enqueues a raw command and waits until it is written.
func (s *Shell) Send(ctx context.Context, raw string) error {
	if s.Conn == nil {
		return fmt.Errorf("not connected")
	}
	cmd := &pendingCommand{RawCommand: cul.RawCommand(raw), sent: make(chan struct{})}
	if _, err := cmd.EncodeMessage(); err != nil {
		return err
	}
	conn := s.Conn
	conn.lock.Lock()
	conn.pending[cmd] = struct{}{}
	conn.lock.Unlock()
	defer func() {
		conn.lock.Lock()
		delete(conn.pending, cmd)
		conn.lock.Unlock()
	}()

	conn.Driver.Enqueue(cmd)
	ctx, cancel := context.WithTimeout(ctx, s.SendTimeout)
	defer cancel()
	select {
	case <-cmd.sent:
		return nil
	case <-conn.Driver.Done():
		if err := conn.Driver.Err(); err != nil {
			return err
		}
		return fmt.Errorf("driver stopped")
	case <-ctx.Done():
		return fmt.Errorf("command %q not sent: %w", raw, ctx.Err())
	}
}

func (c *DriverConn) commandSent(cmd cul.Command) {
	p, ok := cmd.(*pendingCommand)
	if !ok {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.pending[p]; ok {
		close(p.sent)
		delete(c.pending, p)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Device != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Device)
		}
		if err := s.Connect(s.Config.Device); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Device, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Print prints a value as JSON or with a text formatter.
func (s *Shell) Print(c *ishell.Context, val interface{}, text func() string) {
	if s.OutputJSON {
		out, err := json.Marshal(val)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text())
}

var (
	// ConnectCmd starts a driver.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[DEVICE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			device := s.Config.Device
			if len(c.Args) > 0 {
				device = c.Args[0]
			}
			if device == "" {
				c.Err(fmt.Errorf("device expected"))
				return
			}
			if err := s.Connect(device); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd stops the driver.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// SendCmd sends a raw command, e.g. Zs0b0100...
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "COMMAND",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("command expected"))
				return
			}
			if err := ShellFrom(c).Send(context.Background(), strings.Join(c.Args, "")); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// VersionCmd prints the firmware version.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"v"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			ver := s.Conn.Driver.Version()
			s.Print(c, map[string]string{"version": ver}, func() string {
				if ver == "" {
					return "unknown"
				}
				return ver
			})
		}),
	}

	// BudgetCmd prints the remaining transmit budget.
	BudgetCmd = ishell.Cmd{
		Name:    "budget",
		Aliases: []string{"b"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			budget := s.Conn.Driver.Budget()
			s.Print(c, map[string]int{"budget": budget}, func() string {
				return fmt.Sprintf("%d ms", budget)
			})
		}),
	}

	// StateCmd prints the driver state.
	StateCmd = ishell.Cmd{
		Name: "state",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			drv := s.Conn.Driver
			info := map[string]string{
				"device": s.Conn.Device,
				"state":  drv.State().String(),
			}
			if err := drv.Err(); err != nil {
				info["error"] = err.Error()
			}
			s.Print(c, info, func() string {
				if msg, ok := info["error"]; ok {
					return info["state"] + ": " + msg
				}
				return info["state"]
			})
		}),
	}

	// QueueCmd lists commands waiting to be sent.
	QueueCmd = ishell.Cmd{
		Name:    "queue",
		Aliases: []string{"q"},
		Help:    "",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			items := []string{}
			for _, cmd := range s.Conn.Driver.Queue().Snapshot() {
				items = append(items, fmt.Sprint(cmd))
			}
			s.Print(c, items, func() string {
				if len(items) == 0 {
					return "empty"
				}
				return strings.Join(items, "\n")
			})
		}),
	}

	// EventsCmd prints received messages, optionally waiting for them.
	EventsCmd = ishell.Cmd{
		Name:    "events",
		Aliases: []string{"e"},
		Help:    "[WAIT_SECONDS]",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			var wait time.Duration
			if len(c.Args) > 0 {
				secs, err := time.ParseDuration(c.Args[0] + "s")
				if err != nil {
					c.Err(err)
					return
				}
				wait = secs
			}
			msgs := s.collectEvents(wait)
			s.Print(c, msgs, func() string {
				return strings.Join(msgs, "\n")
			})
		}),
	}
)

func (s *Shell) collectEvents(wait time.Duration) []string {
	events := s.Conn.Driver.Events()
	msgs := []string{}
	for {
		msg, ok := events.TryPop()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	if wait <= 0 {
		return msgs
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	for {
		msg, err := events.Pop(ctx)
		if err != nil {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.MustNewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}
