package tools

import (
	"bufio"
	"context"
	"io"
	"log/slog"
)

// LogReadWriter logs the control traffic passing through an io.ReadWriter at debug level.
// Passwords are masked and unprintable bytes dropped before anything is logged.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	n, err := rw.ReadWriter.Read(b)
	if n > 0 && rw.debug() {
		rw.logger.Debug("Request", "body", RedactCommand(string(b[:n])))
	}
	return n, err
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	if rw.debug() {
		rw.logger.Debug("Respond", "body", Printable(string(b)))
	}
	return rw.ReadWriter.Write(b)
}

func (rw *LogReadWriter) debug() bool {
	return rw.logger != nil && rw.logger.Enabled(context.Background(), slog.LevelDebug)
}

// NewLogReadWriter creates a new LogReadWriter.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger}
}

// BufLogReadWriter reads through a bufio.Reader (the command parser works byte by byte)
// and writes straight to the logged connection, so every reply leaves immediately.
type BufLogReadWriter struct {
	io.Writer
	*bufio.Reader
}

// NewBufLogReadWriter wraps rw in a LogReadWriter and buffers its read side.
func NewBufLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *BufLogReadWriter {
	logged := NewLogReadWriter(rw, logger)
	return &BufLogReadWriter{
		Reader: bufio.NewReader(logged),
		Writer: logged,
	}
}
