package ftp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/telebroad/ftpgateway/filesystem"
	"github.com/telebroad/ftpgateway/tools"
)

const (
	DefaultPassiveTimeout = time.Second
	DefaultChunkSize      = 32 * 1024
	DefaultWelcomeMessage = "Hello, ftpgateway"
)

// Server accepts FTP control connections and serves each one from its own storage Provider.
type Server struct {
	// Addr is the TCP address to listen on, in the form "host:port"
	Addr string
	// NewProvider is called once per accepted connection
	NewProvider filesystem.Factory
	// PasvMinPort and PasvMaxPort bound the passive data ports, 0 means any free port
	PasvMinPort int
	PasvMaxPort int
	// PassiveTimeout is how long PASV waits for the client to open the data connection
	PassiveTimeout time.Duration
	// ChunkSize is the largest chunk an upload hands to the provider at once
	ChunkSize int
	// WelcomeMessage follows the 220 code of the greeting
	WelcomeMessage string
	// Metrics receives the operational counters, nil disables them
	Metrics Metrics

	publicIPv4      net.IP
	logger          *slog.Logger
	sessionManager  *SessionManager
	nextPassivePort atomic.Int32

	mu         sync.Mutex
	listener   net.Listener
	closed     bool
	crucialErr error
	done       chan struct{}
	doneOnce   sync.Once
	conns      sync.WaitGroup
}

// NewServer creates a new FTP server that hands every session a Provider from factory.
func NewServer(addr string, factory filesystem.Factory) (*Server, error) {
	if factory == nil {
		return nil, errors.New("a provider factory is required")
	}
	return &Server{
		Addr:           addr,
		NewProvider:    factory,
		PassiveTimeout: DefaultPassiveTimeout,
		ChunkSize:      DefaultChunkSize,
		WelcomeMessage: DefaultWelcomeMessage,
		sessionManager: NewSessionManager(),
		done:           make(chan struct{}),
	}, nil
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// SetPublicServerIPv4 sets the address announced in 227 replies, for servers behind NAT.
// An empty ip announces the local address of each control connection.
func (s *Server) SetPublicServerIPv4(ip string) error {
	if ip == "" {
		s.publicIPv4 = nil
		return nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("error parsing public ip: %w", err)
	}
	if !addr.Is4() {
		return fmt.Errorf("public ip %s is not an IPv4 address", ip)
	}
	a4 := addr.As4()
	s.publicIPv4 = net.IPv4(a4[0], a4[1], a4[2], a4[3]).To4()
	return nil
}

// ListenAndServe listens on Addr and serves until Close or a fatal accept error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		err = fmt.Errorf("error starting server: %w", err)
		s.fail(err)
		return err
	}
	return s.Serve(ln)
}

// TryListenAndServe starts serving in the background and reports an error that happens within d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		errC <- s.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts connections on ln, one goroutine per connection.
// It returns ErrServerClosed after Close; any other accept error is fatal,
// recorded as the crucial error and signalled through Done.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	if s.sessionManager == nil {
		s.sessionManager = NewSessionManager()
	}
	if s.done == nil {
		s.done = make(chan struct{})
	}
	s.mu.Unlock()

	s.Logger().Info("FTP server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			err = fmt.Errorf("error accepting connection: %w", err)
			s.fail(err)
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns.Add(1)
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

// ListenerAddr returns the address the server is listening on, nil before Serve.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener, drops every live session and waits for them to tear down.
func (s *Server) Close(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	s.Logger().Info("FTP server closing", "cause", cause)
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.sessionManager.CloseAll()
	s.conns.Wait()
	s.signalDone()
	return err
}

// Done is closed once the server stopped, by Close or by a crucial error.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// CrucialError returns the error that stopped the server on its own, if any.
func (s *Server) CrucialError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crucialErr
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	return s.sessionManager.Len()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) fail(err error) {
	s.mu.Lock()
	if s.crucialErr == nil {
		s.crucialErr = err
	}
	s.mu.Unlock()
	s.Logger().Error("FTP server stopped", "error", err)
	s.signalDone()
}

func (s *Server) signalDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func (s *Server) metrics() Metrics {
	if s.Metrics == nil {
		return nopMetrics{}
	}
	return s.Metrics
}

func (s *Server) chunkSize() int {
	if s.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

func (s *Server) passiveTimeout() time.Duration {
	if s.PassiveTimeout <= 0 {
		return DefaultPassiveTimeout
	}
	return s.PassiveTimeout
}

// handleConnection runs one control connection from greeting to teardown.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.conns.Done()

	id := uuid.NewString()
	logger := s.Logger().With("session", id, "remote", conn.RemoteAddr().String())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic", "panic", r, "stack", string(debug.Stack()))
			_ = conn.Close()
		}
	}()

	session := &Session{
		ID:         id,
		ftpServer:  s,
		conn:       conn,
		readWriter: tools.NewBufLogReadWriter(conn, logger),
		logger:     logger,
	}
	session.lines = NewLineReader(session.readWriter)

	provider, err := s.NewProvider()
	if err != nil {
		logger.Error("Error creating storage provider", "error", err)
		_ = session.reply(StatusServiceNotAvailable, StatusText(StatusServiceNotAvailable))
		_ = conn.Close()
		return
	}
	session.fs = provider
	session.handlers = session.commands()

	s.sessionManager.Add(id, session)
	s.metrics().SessionOpened()
	logger.Info("Session started")
	if s.isClosed() {
		// Close ran between Accept and Add and could not see this session
		_ = conn.Close()
	}

	defer func() {
		if err := session.teardown(); err != nil {
			logger.Warn("Error closing session", "error", err)
		}
		s.sessionManager.Remove(id)
		s.metrics().SessionClosed()
		logger.Info("Session ended")
	}()
	session.serve()
}

// teardown releases everything the session owns; errors are collected, never short circuited.
func (s *Session) teardown() error {
	s.state = stateTerminated
	var result *multierror.Error
	if err := s.closePassive(); err != nil {
		result = multierror.Append(result, fmt.Errorf("error closing data connection: %w", err))
	}
	if err := filesystem.CloseProvider(s.fs); err != nil {
		result = multierror.Append(result, fmt.Errorf("error closing storage provider: %w", err))
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("error closing control connection: %w", err))
	}
	return result.ErrorOrNil()
}
