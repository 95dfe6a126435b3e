// Package httphandler serves the gateway's operational endpoints: Prometheus metrics and a health check.
package httphandler

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	*http.Server
	logger *slog.Logger
}

// HealthFunc reports whether the service is healthy, nil meaning healthy.
type HealthFunc func() error

// NewServer returns a server exposing gatherer on /metrics and health on /healthz.
func NewServer(addr string, gatherer prometheus.Gatherer, health HealthFunc) *Server {
	s := &Server{}
	router := http.NewServeMux()
	router.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				s.Logger().Warn("Health check failed", "error", err)
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok\n")
	})
	s.Server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s.logger
}

// TryListenAndServe listens on Addr and serves in the background,
// returning an error only if one happens within d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error starting http server: %w", err)
	}
	return s.TryServe(ln, d)
}

// TryServe is TryListenAndServe on an existing listener.
func (s *Server) TryServe(ln net.Listener, d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.Server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger().Error("http server stopped", "error", err)
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		s.Logger().Info("http server listening", "addr", ln.Addr().String())
		return nil
	}
}
