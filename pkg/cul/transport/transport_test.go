package transport

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		address string
		expect  Address
		network bool
		err     bool
	}{
		{address: "/dev/ttyACM0", expect: Address{Target: "/dev/ttyACM0"}},
		{address: "COM3", expect: Address{Target: "COM3"}},
		{address: "telnet://192.168.1.5:2323", expect: Address{Scheme: "telnet", Target: "192.168.1.5:2323"}, network: true},
		{address: "telnet://", err: true},
		{address: "rfc2217://host:1", err: true},
		{address: "", err: true},
	}
	for _, tc := range testCases {
		t.Run(tc.address, func(t *testing.T) {
			addr, err := ParseAddress(tc.address)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, addr)
			require.Equal(t, tc.network, addr.IsNetwork())
			require.Equal(t, tc.address, addr.String())
		})
	}
}

func TestParseAddressUnsupportedScheme(t *testing.T) {
	_, err := ParseAddress("ssh://host")
	require.True(t, errors.Is(err, ErrUnsupportedScheme))
}

type chunkSource struct {
	chunks []string
	err    error
}

func (s *chunkSource) readTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(s.chunks) == 0 {
		return 0, s.err
	}
	n := copy(p, s.chunks[0])
	if s.chunks[0] = s.chunks[0][n:]; s.chunks[0] == "" {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func TestLineReader(t *testing.T) {
	src := &chunkSource{chunks: []string{"V 1.6", "6 nanoCUL\r\nZ0B", "0102\r\n21  900\r", "\n"}}
	r := &lineReader{src: src}

	line, err := r.ReadLine(0)
	require.NoError(t, err)
	require.Equal(t, "V 1.66 nanoCUL\r\n", string(line))

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	require.Equal(t, "Z0B0102\r\n", string(line))

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	require.Equal(t, "21  900\r\n", string(line))

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	require.Nil(t, line)
}

func TestLineReaderPartialLineIsKept(t *testing.T) {
	src := &chunkSource{chunks: []string{"Z12"}}
	r := &lineReader{src: src}
	line, err := r.ReadLine(0)
	require.NoError(t, err)
	require.Nil(t, line)

	src.chunks = []string{"34\n"}
	line, err = r.ReadLine(0)
	require.NoError(t, err)
	require.Equal(t, "Z1234\n", string(line))
}

func TestLineReaderOverlongLine(t *testing.T) {
	src := &chunkSource{chunks: []string{strings.Repeat("a", 200), strings.Repeat("b", 900)}}
	r := &lineReader{src: src}
	line, err := r.ReadLine(0)
	require.NoError(t, err)
	require.Len(t, line, 1100)
}

func TestLineReaderError(t *testing.T) {
	broken := errors.New("device gone")
	r := &lineReader{src: &chunkSource{err: broken}}
	_, err := r.ReadLine(0)
	require.Equal(t, broken, err)
}

func TestTelnetConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("V 1.66 CSM868\r\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	conn, err := Open("telnet://"+ln.Addr().String(), Options{DialTimeout: time.Second})
	require.NoError(t, err)
	defer conn.Close()

	var line []byte
	for i := 0; i < 50 && line == nil; i++ {
		line, err = conn.ReadLine(20 * time.Millisecond)
		require.NoError(t, err)
	}
	require.Equal(t, "V 1.66 CSM868", strings.TrimSpace(string(line)))

	require.NoError(t, conn.WriteLine([]byte("X\r\n")))
	select {
	case got := <-received:
		require.Equal(t, "X", strings.TrimSpace(got))
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestOpenTelnetFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = Open("telnet://"+addr, Options{DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	require.True(t, time.Since(start) < 2*time.Second)
}

func TestOpenSerialMissingDevice(t *testing.T) {
	_, err := Open("/dev/cul-does-not-exist", Options{BusyWait: 10 * time.Millisecond})
	require.Error(t, err)
}
