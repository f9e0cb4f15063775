package cul

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeLine(t *testing.T) {
	require.Equal(t, []byte("Zs0B0100\r\n"), EncodeLine("Zs0B0100"))
	require.Equal(t, []byte("X\r\n"), EncodeLine(CommandRequestBudget))
}

func TestDecodeLine(t *testing.T) {
	testCases := []struct {
		raw    string
		expect string
		ok     bool
	}{
		{"Z0B0102\r\n", "Z0B0102", true},
		{"  21  900 \n", "21  900", true},
		{"\r\n", "", false},
		{"   ", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		line, ok := DecodeLine([]byte(tc.raw))
		require.Equal(t, tc.ok, ok, "%q", tc.raw)
		require.Equal(t, tc.expect, line, "%q", tc.raw)
	}
	line, ok := DecodeLine(nil)
	require.False(t, ok)
	require.Empty(t, line)
}

func TestClassifyLine(t *testing.T) {
	testCases := []struct {
		line   string
		expect LineKind
	}{
		{"21  900", LineBudget},
		{"21", LineBudget},
		{"ZERR", LineError},
		{"ZERRxyz", LineError},
		{"Zabc", LineMoritz},
		{"Z", LineMoritz},
		{"ZER", LineMoritz},
		{"V 1.66 nanoCUL868", LineUnhandled},
		{"2", LineUnhandled},
		{"LOVF", LineUnhandled},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expect, ClassifyLine(tc.line), tc.line)
	}
}

func TestParseBudgetReport(t *testing.T) {
	testCases := []struct {
		line   string
		expect int
		err    bool
	}{
		{line: "21 50", expect: 500},
		{line: "21  900", expect: 9000},
		{line: "21 0", expect: 1},
		{line: "21 -3", expect: 1},
		{line: "21 " + strconv.Itoa(math.MaxInt), expect: math.MaxInt / 10 * 10},
		{line: "21 " + strconv.Itoa(math.MaxInt/10+1), expect: math.MaxInt / 10 * 10},
		{line: "21", err: true},
		{line: "21 x", err: true},
		{line: "Z21 5", err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			ms, err := ParseBudgetReport(tc.line)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, ms)
		})
	}
}

func TestLineKindString(t *testing.T) {
	require.Equal(t, "budget", LineBudget.String())
	require.Equal(t, "error", LineError.String())
	require.Equal(t, "moritz", LineMoritz.String())
	require.Equal(t, "unhandled", LineUnhandled.String())
}

func TestRawCommand(t *testing.T) {
	s, err := RawCommand(" Zs0B0100 ").EncodeMessage()
	require.NoError(t, err)
	require.Equal(t, "Zs0B0100", s)

	_, err = RawCommand("").EncodeMessage()
	require.Equal(t, ErrEmptyCommand, err)
	_, err = RawCommand("Zs\r\nX").EncodeMessage()
	require.Error(t, err)
}
