package ftp

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/ftpgateway/filesystem"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves factory on a loopback port until the test ends.
func startServer(t *testing.T, factory filesystem.Factory, configure ...func(*Server)) (*Server, string) {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", factory)
	require.NoError(t, err)
	srv.SetLogger(discardLogger())
	for _, c := range configure {
		c(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close(nil) })
	return srv, ln.Addr().String()
}

// startMemServer serves a shared in-memory tree.
func startMemServer(t *testing.T, configure ...func(*Server)) (*Server, string, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	srv, addr := startServer(t, filesystem.MemFactory(fs), configure...)
	return srv, addr, fs
}

// testClient speaks the raw control protocol.
type testClient struct {
	t    *testing.T
	conn net.Conn
	text *textproto.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	c := &testClient{t: t, conn: conn, text: textproto.NewConn(conn)}
	t.Cleanup(func() { c.text.Close() })
	c.expect(StatusServiceReadyForNewUser)
	return c
}

func (c *testClient) send(format string, args ...any) {
	c.t.Helper()
	require.NoError(c.t, c.text.PrintfLine(format, args...))
}

func (c *testClient) sendRaw(s string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(s))
	require.NoError(c.t, err)
}

// expect reads one reply and checks its code, returning the text.
func (c *testClient) expect(code int) string {
	c.t.Helper()
	got, msg, err := c.text.ReadCodeLine(0)
	require.NoError(c.t, err)
	require.Equal(c.t, code, got, "reply text: %s", msg)
	return msg
}

func (c *testClient) cmd(code int, format string, args ...any) string {
	c.t.Helper()
	c.send(format, args...)
	return c.expect(code)
}

// expectClosed checks that the server closed the control connection without another reply.
func (c *testClient) expectClosed() {
	c.t.Helper()
	line, err := c.text.ReadLine()
	require.ErrorIs(c.t, err, io.EOF, "unexpected line %q", line)
}

// pasv issues PASV and connects to the announced data port.
func (c *testClient) pasv() net.Conn {
	c.t.Helper()
	host, port := parsePassiveReply(c.t, c.cmd(StatusEnteringPassiveMode, "PASV"))
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(c.t, err)
	require.NoError(c.t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	c.t.Cleanup(func() { conn.Close() })
	return conn
}

func parsePassiveReply(t *testing.T, msg string) (string, int) {
	t.Helper()
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	require.True(t, start >= 0 && end > start, "bad 227 text %q", msg)
	parts := strings.Split(msg[start+1:end], ",")
	require.Len(t, parts, 6)
	p1, err := strconv.Atoi(parts[4])
	require.NoError(t, err)
	p2, err := strconv.Atoi(parts[5])
	require.NoError(t, err)
	return strings.Join(parts[:4], "."), p1<<8 | p2
}

func (c *testClient) store(name string, data []byte) {
	c.t.Helper()
	dc := c.pasv()
	c.cmd(StatusFileStatusOK, "STOR %s", name)
	_, err := dc.Write(data)
	require.NoError(c.t, err)
	require.NoError(c.t, dc.Close())
	c.expect(StatusClosingDataConnection)
}

func (c *testClient) retrieve(name string) []byte {
	c.t.Helper()
	dc := c.pasv()
	c.cmd(StatusFileStatusOK, "RETR %s", name)
	data, err := io.ReadAll(dc)
	require.NoError(c.t, err)
	c.expect(StatusClosingDataConnection)
	return data
}

func (c *testClient) list() string {
	c.t.Helper()
	dc := c.pasv()
	c.cmd(StatusFileStatusOK, "LIST")
	data, err := io.ReadAll(dc)
	require.NoError(c.t, err)
	c.expect(StatusClosingDataConnection)
	return string(data)
}

// recordingMetrics keeps every observation for assertions.
type recordingMetrics struct {
	mu       sync.Mutex
	opened   int
	closed   int
	commands []string
	bytes    map[string]int64
	timeouts int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{bytes: map[string]int64{}}
}

func (m *recordingMetrics) SessionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *recordingMetrics) SessionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) ObserveCommand(verb string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, fmt.Sprintf("%s %d", verb, code))
}

func (m *recordingMetrics) TransferBytes(direction string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += n
}

func (m *recordingMetrics) PassiveTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *recordingMetrics) snapshot() (opened, closed int, commands []string, bytes map[string]int64, timeouts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make(map[string]int64, len(m.bytes))
	for k, v := range m.bytes {
		b[k] = v
	}
	return m.opened, m.closed, append([]string(nil), m.commands...), b, m.timeouts
}
