package ftp

import "errors"

var (
	// ErrLineTooLong is returned when a command line exceeds MaxLineLength bytes.
	ErrLineTooLong = errors.New("command line too long")
	// ErrNonASCII is returned when a command line carries bytes above 0x7F.
	ErrNonASCII = errors.New("command line is not ASCII")
	// ErrConnectionClosed is returned when the peer closes in the middle of a line.
	ErrConnectionClosed = errors.New("connection closed in the middle of a command line")

	ErrPassiveNotReady = errors.New("no passive data connection")
	ErrPassiveTimeout  = errors.New("timed out waiting for the passive data connection")
	ErrBadSequence     = errors.New("bad sequence of commands")
	ErrServerClosed    = errors.New("ftp: Server closed")
)
