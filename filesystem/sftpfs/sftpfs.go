// Package sftpfs serves a directory of a remote SSH server as a filesystem.Provider.
package sftpfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"github.com/telebroad/ftpgateway/filesystem"
	"github.com/telebroad/ftpgateway/keys"
	"golang.org/x/crypto/ssh"
)

const DefaultTimeout = 10 * time.Second

type Config struct {
	// Addr of the SSH server, "host:port"
	Addr     string
	User     string
	Password string
	// KeyFile is a private key used for public key auth, together with or instead of Password
	KeyFile string
	// Root is the remote directory served as "/"
	Root string
	// HostKey pins the server key, in authorized_keys format. Empty accepts any key.
	HostKey string
	Timeout time.Duration
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		signer, err := keys.LoadSigner(c.KeyFile)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp backend needs a password or a key file")
	}
	hostKeyCallback, err := keys.HostKeyCallback(c.HostKey)
	if err != nil {
		return nil, err
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Factory opens a new SSH connection for every session.
func Factory(cfg Config, logger *slog.Logger) (filesystem.Factory, error) {
	if cfg.Addr == "" {
		return nil, errors.New("sftp address is required")
	}
	if _, err := cfg.clientConfig(); err != nil {
		return nil, err
	}
	if cfg.HostKey == "" {
		logger.Warn("sftp host key is not pinned, accepting any server key", "addr", cfg.Addr)
	}
	return func() (filesystem.Provider, error) {
		return Dial(cfg)
	}, nil
}

// FS is a filesystem.Provider over one SFTP session.
type FS struct {
	conn       *ssh.Client
	client     *sftp.Client
	root       string
	workingDir string
	now        func() time.Time
}

var _ filesystem.Provider = &FS{}
var _ io.Closer = &FS{}

func Dial(cfg Config) (*FS, error) {
	clientConfig, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	conn, err := ssh.Dial("tcp", cfg.Addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to sftp server: %w", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error starting sftp session: %w", err)
	}
	return &FS{
		conn:       conn,
		client:     client,
		root:       cfg.Root,
		workingDir: "/",
		now:        time.Now,
	}, nil
}

func (f *FS) Close() error {
	var result *multierror.Error
	if err := f.client.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("error closing sftp session: %w", err))
	}
	if err := f.conn.Close(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("error closing ssh connection: %w", err))
	}
	return result.ErrorOrNil()
}

func (f *FS) resolve(name string) (string, string, error) {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return "", "", err
	}
	return p, filesystem.Join(f.root, p), nil
}

func (f *FS) stat(p, remote string) (os.FileInfo, error) {
	info, err := f.client.Stat(remote)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, filesystem.ErrNotFound)
		}
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	return info, nil
}

func (f *FS) WorkingDir() string {
	return f.workingDir
}

func (f *FS) ChangeDir(dir string) bool {
	p, remote, err := f.resolve(dir)
	if err != nil {
		return false
	}
	info, err := f.stat(p, remote)
	if err != nil || !info.IsDir() {
		return false
	}
	f.workingDir = p
	return true
}

func (f *FS) List() (string, error) {
	infos, err := f.client.ReadDir(filesystem.Join(f.root, f.workingDir))
	if err != nil {
		return "", fmt.Errorf("error reading directory: %w", err)
	}
	entries := make([]filesystem.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, filesystem.Entry{
			Name:    info.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return filesystem.FormatListing(entries, f.now()), nil
}

func (f *FS) Size(name string) (bool, string) {
	p, remote, err := f.resolve(name)
	if err != nil {
		return false, ""
	}
	info, err := f.stat(p, remote)
	if err != nil || !info.Mode().IsRegular() {
		return false, ""
	}
	return true, strconv.FormatInt(info.Size(), 10)
}

func (f *FS) Read(name string) ([]byte, error) {
	remote, err := f.file(name)
	if err != nil {
		return nil, err
	}
	file, err := f.client.Open(remote)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return data, nil
}

func (f *FS) Write(name string, src filesystem.ChunkSource) error {
	p, remote, err := f.resolve(name)
	if err != nil {
		return err
	}
	if info, err := f.client.Stat(remote); err == nil && info.IsDir() {
		return fmt.Errorf("write %s: %w", p, filesystem.ErrIsDirectory)
	}
	file, err := f.client.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("creating file error: %w", err)
	}
	_, err = file.ReadFrom(filesystem.NewChunkReader(src))
	closeErr := file.Close()
	if err != nil {
		return fmt.Errorf("writing file error: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing and saving file error: %w", closeErr)
	}
	return nil
}

func (f *FS) Rename(from, to string) error {
	src, remoteSrc, err := f.resolve(from)
	if err != nil {
		return err
	}
	_, remoteDst, err := f.resolve(to)
	if err != nil {
		return err
	}
	if _, err := f.stat(src, remoteSrc); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if err := f.client.PosixRename(remoteSrc, remoteDst); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}

func (f *FS) Delete(name string) error {
	remote, err := f.file(name)
	if err != nil {
		return err
	}
	if err := f.client.Remove(remote); err != nil {
		return fmt.Errorf("error removing file: %w", err)
	}
	return nil
}

func (f *FS) MakeDir(name string) error {
	_, remote, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := f.client.MkdirAll(remote); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}

func (f *FS) RemoveDir(name string) error {
	p, remote, err := f.resolve(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return errors.New("refusing to remove the root directory")
	}
	info, err := f.stat(p, remote)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("remove %s: %w", p, filesystem.ErrNotDirectory)
	}
	children, err := f.client.ReadDir(remote)
	if err != nil {
		return fmt.Errorf("error reading directory: %w", err)
	}
	if len(children) > 0 {
		return fmt.Errorf("remove %s: %w", p, filesystem.ErrDirectoryNotEmpty)
	}
	if err := f.client.RemoveDirectory(remote); err != nil {
		return fmt.Errorf("error removing directory: %w", err)
	}
	return nil
}

// file resolves name to the remote path of an existing regular file.
func (f *FS) file(name string) (string, error) {
	p, remote, err := f.resolve(name)
	if err != nil {
		return "", err
	}
	info, err := f.stat(p, remote)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", p, filesystem.ErrIsDirectory)
	}
	return remote, nil
}
