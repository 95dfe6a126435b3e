// Package ftpfs relays a session to an upstream FTP server, making the gateway a proxy.
package ftpfs

import (
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/telebroad/ftpgateway/filesystem"
)

const DefaultTimeout = 10 * time.Second

type Config struct {
	// Addr of the upstream server, "host:port"
	Addr string
	// User and Password default to anonymous
	User     string
	Password string
	Timeout  time.Duration
	// DisableEPSV goes straight to PASV for servers that mishandle EPSV
	DisableEPSV bool
}

// Factory logs in to the upstream server once per session.
func Factory(cfg Config) (filesystem.Factory, error) {
	if cfg.Addr == "" {
		return nil, errors.New("upstream ftp address is required")
	}
	return func() (filesystem.Provider, error) {
		return Dial(cfg)
	}, nil
}

// FS is a filesystem.Provider over one upstream control connection.
type FS struct {
	conn       *ftp.ServerConn
	workingDir string
	now        func() time.Time
}

var _ filesystem.Provider = &FS{}
var _ io.Closer = &FS{}

func Dial(cfg Config) (*FS, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := ftp.Dial(cfg.Addr, ftp.DialWithTimeout(timeout), ftp.DialWithDisabledEPSV(cfg.DisableEPSV))
	if err != nil {
		return nil, fmt.Errorf("error connecting to upstream ftp server: %w", err)
	}
	user, password := cfg.User, cfg.Password
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("error logging in to upstream ftp server: %w", err)
	}
	return &FS{conn: conn, workingDir: "/", now: time.Now}, nil
}

func (f *FS) Close() error {
	if err := f.conn.Quit(); err != nil {
		return fmt.Errorf("error closing upstream connection: %w", err)
	}
	return nil
}

func (f *FS) WorkingDir() string {
	return f.workingDir
}

// ChangeDir also moves the upstream working directory, which List relies on.
func (f *FS) ChangeDir(dir string) bool {
	p, err := filesystem.Resolve(f.workingDir, dir)
	if err != nil {
		return false
	}
	if err := f.conn.ChangeDir(p); err != nil {
		return false
	}
	f.workingDir = p
	return true
}

func (f *FS) List() (string, error) {
	upstream, err := f.conn.List("")
	if err != nil {
		return "", fmt.Errorf("error listing upstream directory: %w", err)
	}
	entries := make([]filesystem.Entry, 0, len(upstream))
	for _, e := range upstream {
		if e.Name == "." || e.Name == ".." || e.Type == ftp.EntryTypeLink {
			continue
		}
		entries = append(entries, filesystem.Entry{
			Name:    e.Name,
			IsDir:   e.Type == ftp.EntryTypeFolder,
			Size:    int64(e.Size),
			ModTime: e.Time,
		})
	}
	return filesystem.FormatListing(entries, f.now()), nil
}

func (f *FS) Size(name string) (bool, string) {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return false, ""
	}
	size, err := f.conn.FileSize(p)
	if err != nil || size < 0 {
		return false, ""
	}
	return true, strconv.FormatInt(size, 10)
}

func (f *FS) Read(name string) ([]byte, error) {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return nil, err
	}
	r, err := f.conn.Retr(p)
	if err != nil {
		return nil, upstreamError("retrieving "+p, err)
	}
	data, err := io.ReadAll(r)
	closeErr := r.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading upstream file: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("error finishing upstream transfer: %w", closeErr)
	}
	return data, nil
}

func (f *FS) Write(name string, src filesystem.ChunkSource) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if err := f.conn.Stor(p, filesystem.NewChunkReader(src)); err != nil {
		return upstreamError("storing "+p, err)
	}
	return nil
}

func (f *FS) Rename(from, to string) error {
	src, err := filesystem.Resolve(f.workingDir, from)
	if err != nil {
		return err
	}
	dst, err := filesystem.Resolve(f.workingDir, to)
	if err != nil {
		return err
	}
	if err := f.conn.Rename(src, dst); err != nil {
		return upstreamError("renaming "+src, err)
	}
	return nil
}

// Delete accepts any positive completion reply, some servers answer DELE with 257.
func (f *FS) Delete(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if err := f.conn.Delete(p); err != nil && !isPositive(err) {
		return upstreamError("deleting "+p, err)
	}
	return nil
}

func (f *FS) MakeDir(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if err := f.conn.MakeDir(p); err != nil {
		return upstreamError("creating "+p, err)
	}
	return nil
}

func (f *FS) RemoveDir(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if p == "/" {
		return errors.New("refusing to remove the root directory")
	}
	if err := f.conn.RemoveDir(p); err != nil {
		return upstreamError("removing "+p, err)
	}
	return nil
}

func isPositive(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 200 && protoErr.Code < 300
}

// upstreamError maps a permanent "file unavailable" reply to ErrNotFound.
func upstreamError(op string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%s: %w: %s", op, filesystem.ErrNotFound, protoErr.Msg)
	}
	return fmt.Errorf("error %s upstream: %w", op, err)
}
