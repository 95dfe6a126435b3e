package filesystem

import "errors"

var (
	ErrEmptyPath         = errors.New("empty path")
	ErrNotFound          = errors.New("no such file or directory")
	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
)
