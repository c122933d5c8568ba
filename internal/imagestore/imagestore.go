// Package imagestore composes the permanent store, the transform cache and the
// capacity tracker into the single entry point used by the HTTP layer.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/leca/dt-image-store/internal/cache"
	"github.com/leca/dt-image-store/internal/capacity"
	"github.com/leca/dt-image-store/internal/catalog"
	"github.com/leca/dt-image-store/internal/database"
	"github.com/leca/dt-image-store/internal/imageproc"
	"github.com/leca/dt-image-store/internal/model"
	"github.com/leca/dt-image-store/internal/storage"
)

// ErrImageNotFound is returned when no permanent image has the requested name.
var ErrImageNotFound = errors.New("image not found")

// InitError reports a startup failure. The store must not serve after one.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("storage init: %s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Options configures a Storage.
type Options struct {
	PermanentDir string
	CacheDir     string
	// TotalDiskBytes overrides the size of the filesystem holding PermanentDir.
	TotalDiskBytes   int64
	MaxFileSize      int64
	MaxFieldNameSize int
	// MaxInputPixels caps width*height of uploads and of sources handed to
	// the default resizer. Zero means imageproc.DefaultMaxPixels.
	MaxInputPixels int64
	Resizer        *imageproc.Resizer
	// Journal is optional. When set it is reconciled with the permanent
	// directory at startup and receives every upload.
	Journal database.Database
}

// Stats is the facade view of the store. The hit and miss figures are raw
// lookup counts since start.
type Stats struct {
	PermanentImages int            `json:"permanentImages"`
	CachedImages    int            `json:"cachedImages"`
	CacheHitRatio   int64          `json:"cacheHitRatio"`
	CacheMissRatio  int64          `json:"cacheMissRatio"`
	Usage           capacity.Usage `json:"usage"`
}

// Result is an image read through GetImage.
type Result struct {
	Image model.Image
	Data  []byte
	// Resolution is nil when the original bytes were returned.
	Resolution *model.Resolution
	Cached     bool
}

// Storage owns all image state of the process.
type Storage struct {
	opts      Options
	permanent *storage.FileSystem
	tracker   *capacity.Tracker
	cache     *cache.Cache
	catalog   *catalog.Catalog
	resizer   *imageproc.Resizer
	journal   database.Database

	resizes singleflight.Group

	// bg outlives requests so cache population finishes after the response.
	bg     context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// New prepares both directories, sizes the capacity budget and loads the
// permanent store. Any failure is an *InitError.
func New(ctx context.Context, opts Options) (*Storage, error) {
	permanent := storage.NewFileSystem(opts.PermanentDir)
	if err := permanent.Init(); err != nil {
		return nil, &InitError{Op: "create permanent directory", Err: err}
	}

	total := opts.TotalDiskBytes
	if total <= 0 {
		size, err := capacity.DiskSize(opts.PermanentDir)
		if err != nil {
			return nil, &InitError{Op: "query disk size", Err: err}
		}
		total = size
	}
	tracker := capacity.NewTracker(total)

	c := cache.New(storage.NewFileSystem(opts.CacheDir), tracker)
	if err := c.Init(); err != nil {
		return nil, &InitError{Op: "reset cache directory", Err: err}
	}

	cat := catalog.New(permanent, tracker)
	if err := cat.Load(); err != nil {
		return nil, &InitError{Op: "load permanent store", Err: err}
	}

	if opts.Journal != nil {
		added, removed, err := opts.Journal.Reconcile(cat.List())
		if err != nil {
			return nil, &InitError{Op: "reconcile journal", Err: err}
		}
		slog.Info("reconciled image journal", "added", added, "removed", removed)
	}

	resizer := opts.Resizer
	if resizer == nil {
		resizer = imageproc.NewResizer(imageproc.FitCover, opts.MaxInputPixels)
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Storage{
		opts:      opts,
		permanent: permanent,
		tracker:   tracker,
		cache:     c,
		catalog:   cat,
		resizer:   resizer,
		journal:   opts.Journal,
		bg:        bg,
		cancel:    cancel,
	}

	u := tracker.Usage()
	slog.Info("image storage ready",
		"permanentDir", opts.PermanentDir,
		"cacheDir", opts.CacheDir,
		"totalBytes", u.Total,
		"permanentBytes", u.Permanent,
		"images", cat.Len())
	return s, nil
}

// GetStats returns image counts, raw cache hit and miss counts, and the
// capacity counters.
func (s *Storage) GetStats() Stats {
	cs := s.cache.Stats()
	return Stats{
		PermanentImages: s.catalog.Len(),
		CachedImages:    cs.CachedImages,
		CacheHitRatio:   cs.Hits,
		CacheMissRatio:  cs.Misses,
		Usage:           s.tracker.Usage(),
	}
}

// GetImage returns the image stored under name. With a nil resolution the
// original bytes are returned. Otherwise a cached derivative is served when
// present; on a miss the original is resized, returned, and cached in the
// background. Caching failures never fail the read.
func (s *Storage) GetImage(ctx context.Context, name string, res *model.Resolution) (*Result, error) {
	img, ok := s.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}

	if res == nil {
		data, err := s.catalog.Read(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", name, err)
		}
		return &Result{Image: img, Data: data}, nil
	}

	if data, hit := s.cache.GetImage(ctx, img, *res); hit {
		return &Result{Image: img, Data: data, Resolution: res, Cached: true}, nil
	}

	// Cache file names can collide across images; flight keys must not.
	key := name + "\x00" + res.String()
	// Callers sharing the flight must not fail because the leader went away.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.resizes.Do(key, func() (any, error) {
		original, err := s.catalog.Read(flightCtx, name)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", name, err)
		}
		resized, err := s.resizer.Resize(original, *res)
		if err != nil {
			return nil, fmt.Errorf("resizing image %s to %s: %w", name, res, err)
		}
		s.populate(img, *res, resized)
		return resized, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Image: img, Data: v.([]byte), Resolution: res}, nil
}

// populate caches a resized image off the request path.
func (s *Storage) populate(img model.Image, res model.Resolution, data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		if err := s.cache.CacheImage(s.bg, img, res, data); err != nil {
			slog.Warn("caching resized image", "name", img.Name, "resolution", res.String(), "error", err)
		}
	}()
}

// ListImages returns one page of stored images and the total count. The
// journal is used when configured, the in-memory catalog otherwise.
func (s *Storage) ListImages(page, perPage int) ([]model.Image, int, error) {
	if s.journal != nil {
		return s.journal.ListImages(page, perPage)
	}

	all := s.catalog.List()
	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	return all[start:end], len(all), nil
}

// Wait blocks until background cache population has finished.
func (s *Storage) Wait() {
	s.pending.Wait()
}

// Close stops accepting background work, cancels what is running and waits
// for it. The journal is owned by the caller and stays open.
func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.pending.Wait()
	return nil
}
