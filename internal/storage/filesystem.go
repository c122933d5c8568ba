package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Compile-time check that FileSystem implements Storage.
var _ Storage = (*FileSystem)(nil)

// tempPrefix marks in-progress writes; List never reports them.
const tempPrefix = ".upload-"

// FileSystem implements Storage using one directory of the local filesystem.
// Files are stored at <basePath>/<name>.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new FileSystem storage rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

// Root returns the directory the storage is rooted at.
func (fs *FileSystem) Root() string {
	return fs.basePath
}

// Init creates the root directory if it does not exist.
func (fs *FileSystem) Init() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Reset removes the root directory with everything in it and recreates it empty.
func (fs *FileSystem) Reset() error {
	if err := os.RemoveAll(fs.basePath); err != nil {
		return fmt.Errorf("removing directory %s: %w", fs.basePath, err)
	}
	return fs.Init()
}

// Path returns the full path for name, rejecting names that are not a single
// path element.
func (fs *FileSystem) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(fs.basePath, name), nil
}

// Store writes data from the reader to disk using atomic write (temp file + rename).
// It returns the number of bytes written. The write is abandoned when ctx is done.
func (fs *FileSystem) Store(ctx context.Context, name string, data io.Reader) (int64, error) {
	dst, err := fs.Path(name)
	if err != nil {
		return 0, err
	}

	// Write to a temp file in the same directory for atomic rename.
	tmp, err := os.CreateTemp(fs.basePath, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: data})
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("renaming temp file to %s: %w", dst, err)
	}

	// Rename succeeded; prevent deferred cleanup from removing the final file.
	tmpPath = ""

	return n, nil
}

// Read returns the contents of name.
func (fs *FileSystem) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := fs.Path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}

// Remove deletes name from disk.
func (fs *FileSystem) Remove(name string) error {
	path, err := fs.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("removing file %s: %w", path, err)
	}
	return nil
}

// Stat returns the size of name on disk.
func (fs *FileSystem) Stat(name string) (int64, error) {
	path, err := fs.Path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("checking file %s: %w", path, err)
	}
	return info.Size(), nil
}

// List returns the regular files in the root sorted by name. Leftover temp
// files from interrupted writes are skipped.
func (fs *FileSystem) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", fs.basePath, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// contextReader fails reads once ctx is done, so an aborted request stops
// copying instead of draining the source.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
