package cul

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LineTerminator terminates every outbound line.
const LineTerminator = "\r\n"

// Inbound line prefixes.
const (
	prefixBudget  = "21"
	prefixError   = "ZERR"
	prefixMoritz  = "Z"
	budgetUnitsMs = 10
)

// LineKind classifies an inbound line.
type LineKind int

// Line kinds in classification priority.
const (
	LineUnhandled LineKind = iota
	LineBudget
	LineError
	LineMoritz
)

// String implements fmt.Stringer.
func (k LineKind) String() string {
	switch k {
	case LineBudget:
		return "budget"
	case LineError:
		return "error"
	case LineMoritz:
		return "moritz"
	default:
		return "unhandled"
	}
}

// EncodeLine frames a command for writing.
func EncodeLine(cmd string) []byte {
	return []byte(cmd + LineTerminator)
}

// DecodeLine strips the terminator and surrounding whitespace. ok is false
// when nothing remains, which is the same as no line at all.
func DecodeLine(raw []byte) (line string, ok bool) {
	line = strings.TrimSpace(string(raw))
	return line, line != ""
}

// ClassifyLine determines the kind of a non-empty inbound line.
func ClassifyLine(line string) LineKind {
	switch {
	case strings.HasPrefix(line, prefixBudget):
		return LineBudget
	case strings.HasPrefix(line, prefixError):
		return LineError
	case strings.HasPrefix(line, prefixMoritz):
		return LineMoritz
	default:
		return LineUnhandled
	}
}

// ParseBudgetReport parses a budget report line into milliseconds.
// The result is at least 1 so a report is never mistaken for no data.
func ParseBudgetReport(line string) (int, error) {
	if !strings.HasPrefix(line, prefixBudget) {
		return 0, fmt.Errorf("not a budget report: %q", line)
	}
	val, err := strconv.Atoi(strings.TrimSpace(line[len(prefixBudget):]))
	if err != nil {
		return 0, fmt.Errorf("invalid budget report %q: %w", line, err)
	}
	if val > math.MaxInt/budgetUnitsMs {
		return math.MaxInt / budgetUnitsMs * budgetUnitsMs, nil
	}
	if ms := val * budgetUnitsMs; ms > 0 {
		return ms, nil
	}
	return 1, nil
}
