package cul

import (
	"fmt"
	"strings"
)

// Well-known commands understood by the stick.
const (
	// CommandVersion queries the firmware version.
	CommandVersion = "V"
	// CommandRequestBudget queries the remaining duty cycle budget.
	CommandRequestBudget = "X"
	// CommandEnableRSSI enables reporting of signal strength.
	CommandEnableRSSI = "X21"
	// CommandMoritzReceive enables receiving Moritz messages.
	CommandMoritzReceive = "Zr"
	// CommandDisableFHT disables FHT mode by setting the station to 0000.
	CommandDisableFHT = "T01"
)

// Command is an outbound command waiting to be sent.
type Command interface {
	// EncodeMessage returns the wire line without terminator.
	EncodeMessage() (string, error)
}

// SentFunc is called on the driver loop right after a command was
// written to the device.
type SentFunc func(Command)

// RawCommand is a command which is already encoded.
type RawCommand string

// EncodeMessage implements Command.
func (c RawCommand) EncodeMessage() (string, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return "", ErrEmptyCommand
	}
	if strings.ContainsAny(s, "\r\n") {
		return "", fmt.Errorf("command %q contains line terminator", s)
	}
	return s, nil
}

// String implements fmt.Stringer.
func (c RawCommand) String() string {
	return string(c)
}
