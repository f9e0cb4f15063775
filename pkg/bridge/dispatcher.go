// Package bridge delivers messages received from a CUL stick to outer
// consumers, and feeds their commands back to the driver.
package bridge

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/robotalks/cul.go/pkg/cul"
)

// Sink consumes inbound Moritz messages.
type Sink interface {
	HandleMessage(ctx context.Context, msg string)
}

// HandleMessageFunc is the func form of Sink.
type HandleMessageFunc func(context.Context, string)

// HandleMessage implements Sink.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, msg string) {
	f(ctx, msg)
}

// Source provides inbound messages, e.g. cul.EventQueue.
type Source interface {
	Pop(ctx context.Context) (string, error)
}

// Dispatcher drains a Source and hands every message to all Sinks.
type Dispatcher struct {
	Source Source
	Sinks  []Sink
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(src Source, sinks ...Sink) *Dispatcher {
	return &Dispatcher{Source: src, Sinks: sinks}
}

// Add adds more sinks. It must be called before Run.
func (d *Dispatcher) Add(sinks ...Sink) *Dispatcher {
	d.Sinks = append(d.Sinks, sinks...)
	return d
}

// Name implements framework.Named.
func (d *Dispatcher) Name() string {
	return "dispatcher"
}

// Run implements framework.Runnable. It returns nil once the source is
// closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.Source.Pop(ctx)
		if errors.Is(err, cul.ErrQueueClosed) {
			glog.V(2).Info("event source closed")
			return nil
		}
		if err != nil {
			return err
		}
		for _, sink := range d.Sinks {
			sink.HandleMessage(ctx, msg)
		}
	}
}
