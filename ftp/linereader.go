package ftp

import (
	"errors"
	"fmt"
	"io"
)

// MaxLineLength is the longest command line accepted, CRLF excluded.
const MaxLineLength = 1000

// LineReader splits the control stream into CRLF terminated command lines.
type LineReader struct {
	r   io.ByteReader
	buf []byte
}

func NewLineReader(r io.ByteReader) *LineReader {
	return &LineReader{r: r, buf: make([]byte, 0, 128)}
}

// ReadLine returns the next line without its CRLF.
//
// It returns ("", io.EOF) when the peer closed before sending any byte of a new line,
// ErrConnectionClosed when it closed in the middle of one,
// ErrLineTooLong when the line exceeds MaxLineLength (the rest of the line is discarded),
// and ErrNonASCII when the line holds bytes above 0x7F.
func (lr *LineReader) ReadLine() (string, error) {
	lr.buf = lr.buf[:0]
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			return "", lr.readErr(err)
		}
		lr.buf = append(lr.buf, c)
		n := len(lr.buf)
		if n >= 2 && lr.buf[n-2] == '\r' && c == '\n' {
			line := lr.buf[:n-2]
			if !isASCII(line) {
				return "", ErrNonASCII
			}
			return string(line), nil
		}
		if n >= MaxLineLength+2 {
			return "", lr.discard(c == '\r')
		}
	}
}

// discard drops the rest of an oversized line up to its CRLF.
func (lr *LineReader) discard(prevCR bool) error {
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			return fmt.Errorf("error reading from connection: %w", err)
		}
		if prevCR && c == '\n' {
			return ErrLineTooLong
		}
		prevCR = c == '\r'
	}
}

func (lr *LineReader) readErr(err error) error {
	if errors.Is(err, io.EOF) {
		if len(lr.buf) == 0 {
			return io.EOF
		}
		return ErrConnectionClosed
	}
	return fmt.Errorf("error reading from connection: %w", err)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7F {
			return false
		}
	}
	return true
}
