// Package filesystem defines the storage contract the FTP server talks to and
// ships the afero backed providers (local directory and in-memory).
// Remote backends live in the sub packages s3fs, sftpfs and ftpfs.
package filesystem

import "io"

// ChunkSource pulls the next chunk of an upload.
// A zero-length chunk marks the end of the data; the source must not be called after that.
type ChunkSource func() ([]byte, error)

// Provider is the storage backend a single FTP session works against.
// Every session owns its own Provider, so implementations keep the working directory
// as plain state and need no locking.
//
// All names are resolved against the working directory with "/" separators,
// and a name can never escape the provider root.
type Provider interface {
	// WorkingDir returns the absolute current directory, starting at "/"
	WorkingDir() string
	// ChangeDir moves to dir and reports whether it exists
	ChangeDir(dir string) bool
	// List returns the working directory as `ls -l` text, see FormatListing
	List() (string, error)
	// Size reports whether name is a regular file and its size in decimal
	Size(name string) (isFile bool, size string)
	// Read returns the whole content of the file
	Read(name string) ([]byte, error)
	// Write replaces the file with the chunks pulled from src until the empty chunk
	Write(name string, src ChunkSource) error
	// Rename moves from to to
	Rename(from, to string) error
	// Delete removes a file
	Delete(name string) error
	// MakeDir creates a directory
	MakeDir(name string) error
	// RemoveDir removes an empty directory
	RemoveDir(name string) error
}

// Factory builds a fresh Provider for every accepted connection.
type Factory func() (Provider, error)

// Ensure that AferoFS implements the Provider interface
var _ Provider = &AferoFS{}

// CloseProvider closes p if it holds resources (network clients, handles).
func CloseProvider(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
