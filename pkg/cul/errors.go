package cul

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVersion indicates the stick never answered the version query.
	ErrNoVersion = errors.New("no version from CUL")
	// ErrReconnectExhausted indicates all reopen attempts failed.
	ErrReconnectExhausted = errors.New("unable to reopen device")
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("driver already started")
	// ErrStopTimeout is returned by Stop if the loop didn't exit in time.
	ErrStopTimeout = errors.New("timeout waiting for driver to stop")
	// ErrQueueClosed is returned by EventQueue.Pop after the driver stopped
	// and all pending messages are consumed.
	ErrQueueClosed = errors.New("event queue closed")
	// ErrEmptyCommand indicates a command encoded to an empty line.
	ErrEmptyCommand = errors.New("empty command")
)

// IOError wraps a transport failure.
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Op, e.Err)
}

// Unwrap returns the transport error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// EncodeError wraps a failure of Command.EncodeMessage.
type EncodeError struct {
	Command Command
	Err     error
}

// Error implements error.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %v: %v", e.Command, e.Err)
}

// Unwrap returns the encoding error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}
