package ftp

import "time"

// Metrics receives the server's operational counters. Implementations must be safe for concurrent use.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	// ObserveCommand records one dispatched command with the last reply code it produced.
	ObserveCommand(verb string, code int, d time.Duration)
	// TransferBytes records payload moved over a data channel; direction is "download" or "upload".
	TransferBytes(direction string, n int64)
	PassiveTimeout()
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened() {}
func (nopMetrics) SessionClosed() {}
func (nopMetrics) ObserveCommand(string, int, time.Duration) {}
func (nopMetrics) TransferBytes(string, int64) {}
func (nopMetrics) PassiveTimeout() {}
