// Package catalog indexes the original images held in the permanent store.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/leca/dt-image-store/internal/capacity"
	"github.com/leca/dt-image-store/internal/model"
	"github.com/leca/dt-image-store/internal/storage"
)

// Catalog maps image names to their metadata. Names are unique across stored
// images and uploads still in progress.
type Catalog struct {
	files   *storage.FileSystem
	tracker *capacity.Tracker

	mu      sync.RWMutex
	images  map[string]model.Image
	pending map[string]struct{}
}

// New returns an empty catalog over files.
func New(files *storage.FileSystem, tracker *capacity.Tracker) *Catalog {
	return &Catalog{
		files:   files,
		tracker: tracker,
		images:  make(map[string]model.Image),
		pending: make(map[string]struct{}),
	}
}

// Load creates the permanent directory if needed and registers every file in
// it with a recognised image extension. Their sizes are credited to the
// tracker as permanent bytes.
func (c *Catalog) Load() error {
	if err := c.files.Init(); err != nil {
		return err
	}
	files, err := c.files.List()
	if err != nil {
		return fmt.Errorf("scanning permanent store: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, f := range files {
		ct, ok := model.ContentTypeFromExt(filepath.Ext(f.Name))
		if !ok {
			slog.Warn("skipping unrecognised file in permanent store", "file", f.Name)
			continue
		}
		c.images[f.Name] = model.Image{
			Name:        f.Name,
			ContentType: ct,
			Size:        f.Size,
			Uploaded:    f.ModTime.UTC(),
		}
		total += f.Size
	}
	c.tracker.AddPermanent(total)

	slog.Info("loaded permanent store", "images", len(c.images), "bytes", total)
	return nil
}

// Lookup returns the image stored under name.
func (c *Catalog) Lookup(name string) (model.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[name]
	return img, ok
}

// List returns every stored image sorted by name.
func (c *Catalog) List() []model.Image {
	c.mu.RLock()
	out := make([]model.Image, 0, len(c.images))
	for _, img := range c.images {
		out = append(out, img)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of stored images.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Claim reserves a name for an upload. When name is taken by a stored image or
// another upload, fallback is called until it yields a free name.
func (c *Catalog) Claim(name string, fallback func() string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.taken(name) {
		name = fallback()
	}
	c.pending[name] = struct{}{}
	return name
}

func (c *Catalog) taken(name string) bool {
	if _, ok := c.images[name]; ok {
		return true
	}
	_, ok := c.pending[name]
	return ok
}

// Register records a finished upload of size bytes under a claimed name and
// commits its reservation as permanent bytes.
func (c *Catalog) Register(name string, ct model.ContentType, size int64, r *capacity.Reservation) model.Image {
	img := model.Image{
		Name:        name,
		ContentType: ct,
		Size:        size,
		Uploaded:    time.Now().UTC(),
	}

	c.mu.Lock()
	delete(c.pending, name)
	c.images[name] = img
	c.mu.Unlock()

	r.CommitPermanent(size)
	return img
}

// Release gives back a claimed name after a failed upload.
func (c *Catalog) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, name)
}

// Read returns the original bytes of a stored image.
func (c *Catalog) Read(ctx context.Context, name string) ([]byte, error) {
	if _, ok := c.Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	return c.files.Read(ctx, name)
}
