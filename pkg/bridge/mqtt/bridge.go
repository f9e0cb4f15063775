package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/cul.go/pkg/cul"
)

// Topics relative to the prefix.
const (
	// TopicEvents receives every Moritz message from the stick.
	TopicEvents = "events"
	// TopicCommand accepts raw commands to enqueue.
	TopicCommand = "cmd"
	// TopicSent receives every command right after it was written.
	TopicSent = "sent"
	// TopicStatus holds the retained driver status.
	TopicStatus = "status"
)

// DefaultStatusInterval is how often the status is republished.
const DefaultStatusInterval = 30 * time.Second

// Driver is the part of cul.Driver used by the bridge.
type Driver interface {
	Enqueue(cul.Command)
	Version() string
	State() cul.State
	Budget() int
}

// Status is published retained on TopicStatus.
type Status struct {
	Online  bool   `json:"online"`
	Version string `json:"version,omitempty"`
	State   string `json:"state"`
	Budget  int    `json:"budget"`
}

// Bridge publishes received messages and enqueues commands from MQTT.
type Bridge struct {
	Client         *Client
	Driver         Driver
	StatusInterval time.Duration
}

// NewBridge creates a Bridge. clientID is used unless the URL specifies one.
func NewBridge(brokerURL, clientID string, drv Driver) (*Bridge, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}
	if opts.ClientID == "" {
		opts.SetClientID(clientID)
	}
	offline, err := json.Marshal(&Status{State: cul.StateStopped.String()})
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+TopicStatus, offline, 1, true)

	b := &Bridge{
		Driver:         drv,
		StatusInterval: DefaultStatusInterval,
	}
	b.Client = NewClient(opts, topicPrefix)
	b.Client.OnConnect = func(*Client) { b.publishStatus() }
	b.Client.Sub(TopicCommand, b.handleCommand)
	return b, nil
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "mqtt"
}

// HandleMessage implements bridge.Sink.
func (b *Bridge) HandleMessage(ctx context.Context, msg string) {
	b.Client.Pub(TopicEvents, []byte(msg))
}

// CommandSent is a cul.SentFunc publishing sent commands.
func (b *Bridge) CommandSent(cmd cul.Command) {
	encoded, err := cmd.EncodeMessage()
	if err != nil {
		return
	}
	b.Client.Pub(TopicSent, []byte(encoded))
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect: %w", err)
	}
	interval := b.StatusInterval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.publishStatus()
		case <-ctx.Done():
			b.Client.PubWith(TopicStatus, b.encodeStatus(b.status()), 1, true).WaitTimeout(time.Second)
			b.Client.Close()
			return nil
		}
	}
}

func (b *Bridge) handleCommand(_ string, payload []byte) {
	cmd := cul.RawCommand(strings.TrimSpace(string(payload)))
	if _, err := cmd.EncodeMessage(); err != nil {
		glog.Warningf("ignored MQTT command %q: %v", payload, err)
		return
	}
	glog.V(2).Infof("MQTT command %s", cmd)
	b.Driver.Enqueue(cmd)
}

func (b *Bridge) status() *Status {
	state := b.Driver.State()
	return &Status{
		Online:  state == cul.StateRunning || state == cul.StateReconnecting,
		Version: b.Driver.Version(),
		State:   state.String(),
		Budget:  b.Driver.Budget(),
	}
}

func (b *Bridge) encodeStatus(s *Status) []byte {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return data
}

func (b *Bridge) publishStatus() {
	b.Client.PubWith(TopicStatus, b.encodeStatus(b.status()), 1, true)
}
