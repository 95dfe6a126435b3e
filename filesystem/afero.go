package filesystem

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// AferoFS is a Provider over any afero.Fs. The fs is treated as the root "/".
type AferoFS struct {
	fs         afero.Fs
	workingDir string
	now        func() time.Time
}

// NewAferoFS wraps fs. Sessions that share fs see each other's changes.
func NewAferoFS(fs afero.Fs) *AferoFS {
	return &AferoFS{fs: fs, workingDir: "/", now: time.Now}
}

// NewLocalFS serves the local directory localDir as the root.
func NewLocalFS(localDir string) (*AferoFS, error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, fmt.Errorf("error checking root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q: %w", localDir, ErrNotDirectory)
	}
	return NewAferoFS(afero.NewBasePathFs(afero.NewOsFs(), localDir)), nil
}

// LocalFactory returns a Factory handing every session its own view of localDir.
func LocalFactory(localDir string) (Factory, error) {
	if _, err := NewLocalFS(localDir); err != nil {
		return nil, err
	}
	return func() (Provider, error) {
		return NewLocalFS(localDir)
	}, nil
}

// MemFactory returns a Factory whose sessions all share one in-memory tree.
func MemFactory(fs afero.Fs) Factory {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	return func() (Provider, error) {
		return NewAferoFS(fs), nil
	}
}

func (a *AferoFS) WorkingDir() string {
	return a.workingDir
}

func (a *AferoFS) ChangeDir(dir string) bool {
	p, err := Resolve(a.workingDir, dir)
	if err != nil {
		return false
	}
	ok, err := afero.DirExists(a.fs, p)
	if err != nil || !ok {
		return false
	}
	a.workingDir = p
	return true
}

func (a *AferoFS) List() (string, error) {
	infos, err := afero.ReadDir(a.fs, a.workingDir)
	if err != nil {
		return "", fmt.Errorf("error reading directory: %w", err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:    info.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return FormatListing(entries, a.now()), nil
}

func (a *AferoFS) Size(name string) (bool, string) {
	p, err := Resolve(a.workingDir, name)
	if err != nil {
		return false, ""
	}
	info, err := a.fs.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false, ""
	}
	return true, strconv.FormatInt(info.Size(), 10)
}

func (a *AferoFS) Read(name string) ([]byte, error) {
	p, err := a.file(name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(a.fs, p)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return data, nil
}

func (a *AferoFS) Write(name string, src ChunkSource) error {
	p, err := Resolve(a.workingDir, name)
	if err != nil {
		return err
	}
	if ok, _ := afero.DirExists(a.fs, p); ok {
		return fmt.Errorf("write %s: %w", p, ErrIsDirectory)
	}
	file, err := a.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("creating file error: %w", err)
	}
	_, err = io.Copy(file, NewChunkReader(src))
	closeErr := file.Close()
	if err != nil {
		return fmt.Errorf("writing file error: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing and saving file error: %w", closeErr)
	}
	return nil
}

func (a *AferoFS) Rename(from, to string) error {
	src, err := Resolve(a.workingDir, from)
	if err != nil {
		return err
	}
	dst, err := Resolve(a.workingDir, to)
	if err != nil {
		return err
	}
	if _, err := a.fs.Stat(src); err != nil {
		return fmt.Errorf("rename %s: %w", src, ErrNotFound)
	}
	if err := a.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}

func (a *AferoFS) Delete(name string) error {
	p, err := a.file(name)
	if err != nil {
		return err
	}
	if err := a.fs.Remove(p); err != nil {
		return fmt.Errorf("error removing file: %w", err)
	}
	return nil
}

func (a *AferoFS) MakeDir(name string) error {
	p, err := Resolve(a.workingDir, name)
	if err != nil {
		return err
	}
	if err := a.fs.MkdirAll(p, 0777); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}

func (a *AferoFS) RemoveDir(name string) error {
	p, err := Resolve(a.workingDir, name)
	if err != nil {
		return err
	}
	if p == "/" {
		return errors.New("refusing to remove the root directory")
	}
	ok, err := afero.DirExists(a.fs, p)
	if err != nil || !ok {
		return fmt.Errorf("remove %s: %w", p, ErrNotDirectory)
	}
	empty, err := afero.IsEmpty(a.fs, p)
	if err != nil {
		return fmt.Errorf("error reading directory: %w", err)
	}
	if !empty {
		return fmt.Errorf("remove %s: %w", p, ErrDirectoryNotEmpty)
	}
	if err := a.fs.Remove(p); err != nil {
		return fmt.Errorf("error removing directory: %w", err)
	}
	return nil
}

// file resolves name and makes sure it is an existing regular file.
func (a *AferoFS) file(name string) (string, error) {
	p, err := Resolve(a.workingDir, name)
	if err != nil {
		return "", err
	}
	info, err := a.fs.Stat(p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	return p, nil
}
