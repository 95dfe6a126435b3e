package ftp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/telebroad/ftpgateway/filesystem"
)

// passiveChannel is one accepted passive data connection. It carries exactly one transfer.
type passiveChannel struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

func (p *passiveChannel) send(data []byte) (int64, error) {
	n, err := p.conn.Write(data)
	if err != nil {
		return int64(n), fmt.Errorf("error writing to data connection: %w", err)
	}
	return int64(n), nil
}

// chunks pulls up to size bytes at a time from the data connection until the peer closes it.
// count is increased by every chunk handed out.
func (p *passiveChannel) chunks(size int, count *int64) filesystem.ChunkSource {
	src := filesystem.ReaderChunks(p.conn, size)
	return func() ([]byte, error) {
		chunk, err := src()
		if err != nil {
			return nil, fmt.Errorf("error reading from data connection: %w", err)
		}
		*count += int64(len(chunk))
		return chunk, nil
	}
}

// Close closes the data connection; calling it again is a no-op.
func (p *passiveChannel) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// listenPassive opens the data listener on ip, on any port or inside [minPort, maxPort].
// Ports in a range are tried round-robin so consecutive sessions spread out.
func (s *Server) listenPassive(ip net.IP) (*net.TCPListener, error) {
	if s.PasvMinPort > 0 && s.PasvMaxPort >= s.PasvMinPort {
		rangeLen := int32(s.PasvMaxPort - s.PasvMinPort + 1)
		start := s.nextPassivePort.Add(1)
		for i := int32(0); i < rangeLen; i++ {
			port := s.PasvMinPort + int((start+i)%rangeLen)
			ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip, Port: port})
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports found in range %d-%d", s.PasvMinPort, s.PasvMaxPort)
	}
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("error listening for data connection: %w", err)
	}
	return ln, nil
}

// acceptPassive waits up to timeout for the single data connection, then closes ln.
func acceptPassive(ln *net.TCPListener, timeout time.Duration) (net.Conn, error) {
	defer ln.Close()
	if err := ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("error setting accept deadline: %w", err)
	}
	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrPassiveTimeout
		}
		return nil, fmt.Errorf("error accepting data connection: %w", err)
	}
	return conn, nil
}

// passiveReply formats the 227 text for ip:port.
func passiveReply(ip net.IP, port int) string {
	ip = ip.To4()
	return fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		ip[0], ip[1], ip[2], ip[3], port>>8, port&0xFF)
}

// closePassive drops a data connection that was opened but never used.
func (s *Session) closePassive() error {
	if s.pasv == nil {
		return nil
	}
	err := s.pasv.Close()
	s.pasv = nil
	return err
}

// takePassive hands the pending data connection to a transfer and clears it from the session,
// so it can serve one transfer only.
func (s *Session) takePassive() (*passiveChannel, error) {
	if s.pasv == nil {
		return nil, ErrPassiveNotReady
	}
	ch := s.pasv
	s.pasv = nil
	s.state = stateAwaitingDataTransfer
	return ch, nil
}

// PassiveModeCommand handles the PASV command from the client.
// It opens a listener next to the control connection, announces it with 227 and
// waits PassiveTimeout for the client to connect. A data connection left over from
// an earlier PASV is closed first.
func (s *Session) PassiveModeCommand(cmd, arg string) error {
	if err := s.closePassive(); err != nil {
		s.logger.Debug("Error closing stale data connection", "error", err)
	}

	var localIP net.IP
	if addr, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		localIP = addr.IP.To4()
	}
	if localIP == nil {
		return fmt.Errorf("passive mode needs an IPv4 control connection, local address is %s", s.conn.LocalAddr())
	}

	ln, err := s.ftpServer.listenPassive(localIP)
	if err != nil {
		return err
	}
	announced := localIP
	if s.ftpServer.publicIPv4 != nil {
		announced = s.ftpServer.publicIPv4
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := s.reply(StatusEnteringPassiveMode, passiveReply(announced, port)); err != nil {
		ln.Close()
		return err
	}

	s.logger.Debug("Waiting for passive connection", "port", port)
	conn, err := acceptPassive(ln, s.ftpServer.passiveTimeout())
	if err != nil {
		if errors.Is(err, ErrPassiveTimeout) {
			s.ftpServer.metrics().PassiveTimeout()
		}
		return err
	}
	s.logger.Debug("Got passive connection", "remote", conn.RemoteAddr().String())
	s.pasv = &passiveChannel{conn: conn}
	return nil
}

// passiveSend sends the bytes from produce over the pending data connection,
// framed by the begin (150) and end (226) replies. The data connection is closed
// before 226 is sent and on every failure.
func (s *Session) passiveSend(begin string, produce func() ([]byte, error), end string) error {
	ch, err := s.takePassive()
	if err != nil {
		return err
	}
	defer ch.Close()

	data, err := produce()
	if err != nil {
		return err
	}
	if err := s.reply(StatusFileStatusOK, begin); err != nil {
		return err
	}
	n, err := ch.send(data)
	s.ftpServer.metrics().TransferBytes("download", n)
	if err != nil {
		return err
	}
	if err := ch.Close(); err != nil {
		return fmt.Errorf("error closing data connection: %w", err)
	}
	return s.reply(StatusClosingDataConnection, end)
}

// passiveReceive hands consume a ChunkSource over the pending data connection that ends when
// the client closes it, framed by the begin (150) and end (226) replies.
func (s *Session) passiveReceive(begin string, consume func(filesystem.ChunkSource) error, end string) error {
	ch, err := s.takePassive()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := s.reply(StatusFileStatusOK, begin); err != nil {
		return err
	}
	var n int64
	err = consume(ch.chunks(s.ftpServer.chunkSize(), &n))
	s.ftpServer.metrics().TransferBytes("upload", n)
	if err != nil {
		return err
	}
	if err := ch.Close(); err != nil {
		return fmt.Errorf("error closing data connection: %w", err)
	}
	return s.reply(StatusClosingDataConnection, end)
}
