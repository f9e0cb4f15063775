// Package cul drives a CUL stick speaking the Moritz (MAX!) protocol.
//
// The Driver owns the connection to the stick and runs a single loop which
// reads and classifies inbound lines, keeps track of the remaining
// transmit budget imposed by the 1% duty cycle rule, and sends queued
// commands only when the budget admits them.
//
// Inbound lines are classified by prefix:
//
//	21...  budget report, remaining budget in units of 10ms
//	ZERR   error reported by the stick, logged only
//	Z...   Moritz message, forwarded to the event queue
//
// Connection failures never reach callers. The driver reopens the device
// with a fixed backoff, and stops only when initialization fails or all
// reopen attempts are exhausted.
package cul
