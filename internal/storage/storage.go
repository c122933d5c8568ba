package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a named file does not exist.
var ErrNotFound = errors.New("file not found")

// ErrInvalidName is returned for names that would escape the storage root.
var ErrInvalidName = errors.New("invalid file name")

// FileInfo describes a stored file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Storage defines a flat, name-addressed file store rooted at one directory.
type Storage interface {
	// Store writes data under name and returns the number of bytes written.
	Store(ctx context.Context, name string, data io.Reader) (int64, error)

	// Read returns the full contents of name.
	Read(ctx context.Context, name string) ([]byte, error)

	// Remove deletes name. A missing file is an error.
	Remove(name string) error

	// Stat returns the on-disk size of name.
	Stat(name string) (int64, error)

	// List returns every regular file in the root.
	List() ([]FileInfo, error)
}
