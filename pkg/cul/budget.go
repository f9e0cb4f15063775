package cul

import (
	"strings"
	"sync/atomic"
)

const (
	// MinRequiredBudget is the budget in ms below which nothing is sent.
	MinRequiredBudget = 1500
	// CommandCharacterWeight is the budget in ms consumed per character
	// of a transmitted command.
	CommandCharacterWeight = 30
	// TransmitPrefix marks commands which key the radio.
	TransmitPrefix = "Zs"
)

// Budget tracks the remaining transmit time in ms.
// It is written by the driver loop only and may be read from anywhere.
type Budget struct {
	remaining int64
}

// Cost returns the budget an encoded command consumes when transmitted.
func Cost(encoded string) int {
	return CommandCharacterWeight * len(encoded)
}

// IsTransmit tells whether an encoded command is debited from the budget.
func IsTransmit(encoded string) bool {
	return strings.HasPrefix(encoded, TransmitPrefix)
}

// Remaining returns the remaining budget in ms.
func (b *Budget) Remaining() int {
	return int(atomic.LoadInt64(&b.remaining))
}

// Sufficient tells whether sending may be attempted at all.
func (b *Budget) Sufficient() bool {
	return b.Remaining() >= MinRequiredBudget
}

// Admits tells whether the encoded command fits into the budget.
func (b *Budget) Admits(encoded string) bool {
	return b.Remaining() > Cost(encoded)
}

// Debit consumes budget for an encoded command which was sent.
func (b *Budget) Debit(encoded string) {
	if !IsTransmit(encoded) {
		return
	}
	remaining := b.Remaining() - Cost(encoded)
	if remaining < 0 {
		remaining = 0
	}
	atomic.StoreInt64(&b.remaining, int64(remaining))
}

// Set replaces the budget with a value reported by the stick.
func (b *Budget) Set(ms int) {
	if ms < 0 {
		ms = 0
	}
	atomic.StoreInt64(&b.remaining, int64(ms))
}

// Reset drops the budget to zero, e.g. after reopening the device.
func (b *Budget) Reset() {
	atomic.StoreInt64(&b.remaining, 0)
}
