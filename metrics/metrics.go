// Package metrics exports the gateway's operational counters to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/telebroad/ftpgateway/ftp"
)

const namespace = "ftpgateway"

// Collector implements ftp.Metrics. All methods are nil-safe.
type Collector struct {
	// SessionsActive is the number of open control connections
	SessionsActive prometheus.Gauge
	// SessionsTotal counts accepted control connections
	SessionsTotal prometheus.Counter
	// Commands counts replies by verb and reply code
	Commands *prometheus.CounterVec
	// CommandDuration observes how long each command took, by verb
	CommandDuration *prometheus.HistogramVec
	// TransferredBytes counts passive data bytes by direction
	TransferredBytes *prometheus.CounterVec
	// PassiveTimeouts counts PASV requests the client never connected to
	PassiveTimeouts prometheus.Counter
}

var _ ftp.Metrics = &Collector{}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of open FTP control connections",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Total number of accepted FTP control connections",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of FTP commands by verb and reply code",
		}, []string{"verb", "code"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing FTP commands",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
		TransferredBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved over passive data connections",
		}, []string{"direction"}),
		PassiveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passive_timeouts_total",
			Help:      "PASV requests whose data connection was never opened",
		}),
	}

	if reg != nil {
		c.SessionsActive = registerOrReuse(reg, c.SessionsActive).(prometheus.Gauge)
		c.SessionsTotal = registerOrReuse(reg, c.SessionsTotal).(prometheus.Counter)
		c.Commands = registerOrReuse(reg, c.Commands).(*prometheus.CounterVec)
		c.CommandDuration = registerOrReuse(reg, c.CommandDuration).(*prometheus.HistogramVec)
		c.TransferredBytes = registerOrReuse(reg, c.TransferredBytes).(*prometheus.CounterVec)
		c.PassiveTimeouts = registerOrReuse(reg, c.PassiveTimeouts).(prometheus.Counter)
	}
	return c
}

// registerOrReuse registers collector, or returns the one already registered under the same name.
func registerOrReuse(reg prometheus.Registerer, collector prometheus.Collector) prometheus.Collector {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return collector
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
	c.SessionsTotal.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

func (c *Collector) ObserveCommand(verb string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(verb, strconv.Itoa(code)).Inc()
	c.CommandDuration.WithLabelValues(verb).Observe(d.Seconds())
}

func (c *Collector) TransferBytes(direction string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.TransferredBytes.WithLabelValues(direction).Add(float64(n))
}

func (c *Collector) PassiveTimeout() {
	if c == nil {
		return
	}
	c.PassiveTimeouts.Inc()
}
