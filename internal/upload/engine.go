package upload

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/leca/dt-image-store/internal/model"
	"github.com/leca/dt-image-store/internal/storage"
)

// FileInfo describes the file part of an upload before any of it is stored.
type FileInfo struct {
	FieldName   string
	FileName    string
	ContentType model.ContentType
}

// FilenameCustomizer picks the stored name for an upload from the form fields
// that preceded the file part.
type FilenameCustomizer interface {
	CustomizeFilename(form url.Values, info FileInfo) (string, error)
}

// Engine persists an upload stream under a chosen name.
type Engine interface {
	FilenameCustomizer
	WriteStream(ctx context.Context, name string, r io.Reader) (int64, error)
	RemoveFile(name string) error
}

// NamingPolicy names uploads after a client-supplied form field when
// AllowNaming is set, and after a random UUID otherwise. The extension of the
// content type is always appended.
type NamingPolicy struct {
	AllowNaming bool
	NameField   string
}

// CustomizeFilename implements FilenameCustomizer.
func (p NamingPolicy) CustomizeFilename(form url.Values, info FileInfo) (string, error) {
	base := ""
	if p.AllowNaming && p.NameField != "" {
		base = strings.TrimSpace(form.Get(p.NameField))
	}
	if base == "" {
		base = uuid.NewString()
	}
	if base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidName, base)
	}
	return base + "." + info.ContentType.Extension(), nil
}

// DiskEngine writes uploads into a storage.FileSystem.
type DiskEngine struct {
	FilenameCustomizer
	Files *storage.FileSystem
}

// NewDiskEngine returns an engine naming files with customizer and storing them in files.
func NewDiskEngine(customizer FilenameCustomizer, files *storage.FileSystem) *DiskEngine {
	return &DiskEngine{FilenameCustomizer: customizer, Files: files}
}

// WriteStream stores r under name. Nothing is left behind when it fails.
func (e *DiskEngine) WriteStream(ctx context.Context, name string, r io.Reader) (int64, error) {
	return e.Files.Store(ctx, name, r)
}

// RemoveFile deletes a stored upload.
func (e *DiskEngine) RemoveFile(name string) error {
	return e.Files.Remove(name)
}
