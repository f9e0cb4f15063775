package transport

import (
	"bytes"
	"time"
)

// maxLineLength bounds buffering when the peer never sends a terminator.
const maxLineLength = 1024

// timeoutReader reads whatever is available within timeout.
// It returns 0, nil if nothing arrived.
type timeoutReader interface {
	readTimeout(p []byte, timeout time.Duration) (int, error)
}

// lineReader splits a byte stream into '\n' terminated lines, keeping
// partial lines across calls.
type lineReader struct {
	src   timeoutReader
	buf   []byte
	chunk [256]byte
}

func (r *lineReader) ReadLine(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if line := r.next(); line != nil {
			return line, nil
		}
		remain := time.Until(deadline)
		if remain < 0 {
			remain = 0
		}
		n, err := r.src.readTimeout(r.chunk[:], remain)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func (r *lineReader) next() []byte {
	n := bytes.IndexByte(r.buf, '\n') + 1
	if n == 0 {
		if len(r.buf) < maxLineLength {
			return nil
		}
		n = len(r.buf)
	}
	line := make([]byte, n)
	copy(line, r.buf[:n])
	r.buf = r.buf[n:]
	return line
}
