// Package cache implements the on-disk transform cache: resized derivatives of
// permanent images, accounted against the shared capacity budget and evicted
// lowest priority first when room is needed.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leca/dt-image-store/internal/capacity"
	"github.com/leca/dt-image-store/internal/eviction"
	"github.com/leca/dt-image-store/internal/metrics"
	"github.com/leca/dt-image-store/internal/model"
	"github.com/leca/dt-image-store/internal/storage"
)

// Compile-time check that Cache can free bytes for the tracker.
var _ capacity.Evictor = (*Cache)(nil)

// Stats reports the cache counters. Hits and misses are raw counts since start.
type Stats struct {
	CachedImages int   `json:"cachedImages"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
}

type key struct {
	name string
	res  model.Resolution
}

// Cache maps (original name, resolution) to a cached file.
//
// Different keys can render to the same file name ("1x2a.png" at 3x4 and
// "x2a.png" at 3x41), so every file name has at most one owning key.
//
// mu guards the index, the in-flight set, the file owners, the orphans, the
// eviction queue, the per-name priorities and the counters. The cache never
// calls the tracker while holding mu; the tracker calls Evict while holding
// its own lock.
type Cache struct {
	files   *storage.FileSystem
	tracker *capacity.Tracker

	mu       sync.Mutex
	entries  map[key]model.CachedImage
	inflight map[key]struct{}
	// owners maps a file name to the key that is cached, being cached or
	// orphaned under it.
	owners map[string]key
	// orphans holds files whose removal failed. Their bytes stay credited
	// until the same key is cached again over them.
	orphans    map[string]int64
	queue      *eviction.Queue
	priorities map[string]int
	hits       int64
	misses     int64
}

// New returns a cache storing files through files and accounting them in tracker.
func New(files *storage.FileSystem, tracker *capacity.Tracker) *Cache {
	return &Cache{
		files:      files,
		tracker:    tracker,
		entries:    make(map[key]model.CachedImage),
		inflight:   make(map[key]struct{}),
		owners:     make(map[string]key),
		orphans:    make(map[string]int64),
		queue:      eviction.New(),
		priorities: make(map[string]int),
	}
}

// Init empties the cache directory. Cached files do not survive a restart
// because the index lives in memory.
func (c *Cache) Init() error {
	return c.files.Reset()
}

// FileName returns the cache file name for an original image at a resolution.
// The name is a pure function of its inputs so it can be recomputed anywhere.
func FileName(originalName string, res model.Resolution) string {
	return fmt.Sprintf("%dx%d%s", res.Height, res.Width, originalName)
}

// CacheImage stores data as the cached derivative of img at res. It does
// nothing when that entry is already cached or being cached, or when its file
// name belongs to another image. On failure no entry is registered and no
// bytes are credited.
func (c *Cache) CacheImage(ctx context.Context, img model.Image, res model.Resolution, data []byte) error {
	k := key{name: img.Name, res: res}
	name := FileName(img.Name, res)

	c.mu.Lock()
	_, cached := c.entries[k]
	_, pending := c.inflight[k]
	if cached || pending {
		c.mu.Unlock()
		return nil
	}
	if owner, taken := c.owners[name]; taken && owner != k {
		c.mu.Unlock()
		metrics.RecordCacheWrite("conflict")
		slog.Warn("cache file name owned by another image",
			"file", name, "image", img.Name, "owner", owner.name, "ownerResolution", owner.res.String())
		return nil
	}
	c.inflight[k] = struct{}{}
	c.owners[name] = k
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, k)
		_, registered := c.entries[k]
		_, orphaned := c.orphans[name]
		if !registered && !orphaned {
			delete(c.owners, name)
		}
		c.mu.Unlock()
	}()

	reservation, err := c.tracker.Reserve(int64(len(data)), c)
	if err != nil {
		metrics.RecordCacheWrite("rejected")
		return fmt.Errorf("admitting cached image %s: %w", name, err)
	}

	if _, err := c.files.Store(ctx, name, bytes.NewReader(data)); err != nil {
		reservation.Release()
		metrics.RecordCacheWrite("failed")
		return fmt.Errorf("writing cached image %s: %w", name, err)
	}

	size, err := c.files.Stat(name)
	if err != nil {
		// The file is there but unmeasurable; do not keep bytes we cannot account for.
		if rmErr := c.files.Remove(name); rmErr != nil {
			slog.Error("removing unmeasured cached image", "file", name, "error", rmErr)
		} else {
			c.dropOrphan(name)
		}
		reservation.Release()
		metrics.RecordCacheWrite("failed")
		return fmt.Errorf("measuring cached image %s: %w", name, err)
	}

	reservation.CommitCached(size)

	entry := model.CachedImage{
		OriginalName: img.Name,
		ContentType:  img.ContentType,
		Size:         size,
		Resolution:   res,
	}

	c.mu.Lock()
	c.entries[k] = entry
	priority, seen := c.priorities[img.Name]
	if seen {
		priority++
		c.queue.Bump(img.Name, 1)
	}
	c.priorities[img.Name] = priority
	c.queue.Insert(entry, priority)
	c.mu.Unlock()

	// The new file took the place of any orphan on disk.
	c.dropOrphan(name)

	metrics.RecordCacheWrite("stored")
	slog.Info("cached image", "file", name, "size", size, "priority", priority)
	return nil
}

// dropOrphan forgets the orphan stored under name, if any, and returns its
// bytes to the budget. The caller must not hold mu.
func (c *Cache) dropOrphan(name string) {
	c.mu.Lock()
	size, ok := c.orphans[name]
	delete(c.orphans, name)
	c.mu.Unlock()
	if ok {
		c.tracker.DropCached(size)
		slog.Info("released orphaned cached image", "file", name, "size", size)
	}
}

// GetImage returns the cached bytes of img at res. A hit bumps the priority of
// every cached resolution of img. A read failure after a hit reports false
// while the hit stays counted.
func (c *Cache) GetImage(ctx context.Context, img model.Image, res model.Resolution) ([]byte, bool) {
	k := key{name: img.Name, res: res}

	c.mu.Lock()
	if _, ok := c.entries[k]; !ok {
		c.misses++
		c.mu.Unlock()
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	c.hits++
	c.priorities[img.Name]++
	c.queue.Bump(img.Name, 1)
	c.mu.Unlock()
	metrics.RecordCacheLookup(true)

	data, err := c.files.Read(ctx, FileName(img.Name, res))
	if err != nil {
		slog.Error("reading cached image", "file", FileName(img.Name, res), "error", err)
		return nil, false
	}
	return data, true
}

// RequestMemoryClear evicts entries until at least size bytes are freed and
// reports whether it succeeded. It is meant for making room for uploads.
func (c *Cache) RequestMemoryClear(size int64) bool {
	return c.tracker.Free(size, c)
}

// Evict removes entries lowest priority first until target bytes are freed or
// nothing is left, returning the bytes freed. Entries leave the index before
// their files are deleted, so concurrent readers observe a miss.
func (c *Cache) Evict(target int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	freed, _ := c.queue.RequestEviction(target, func(img model.CachedImage) error {
		delete(c.entries, key{name: img.OriginalName, res: img.Resolution})
		name := FileName(img.OriginalName, img.Resolution)
		err := c.files.Remove(name)
		if errors.Is(err, storage.ErrNotFound) {
			// Already gone from disk, so its bytes are free.
			err = nil
		}
		metrics.RecordEviction(img.Size, err == nil)
		if err != nil {
			c.orphans[name] = img.Size
			slog.Warn("orphaned cached image", "file", name, "size", img.Size, "error", err)
			return err
		}
		delete(c.owners, name)
		return nil
	})
	if freed > 0 {
		slog.Info("evicted cached images", "target", target, "freed", freed)
	}
	return freed
}

// Contains reports whether img at res is cached.
func (c *Cache) Contains(name string, res model.Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key{name: name, res: res}]
	return ok
}

// Orphans returns the number of cached files whose removal failed and whose
// bytes are still accounted.
func (c *Cache) Orphans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orphans)
}

// Stats returns the number of cached entries and the raw hit and miss counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CachedImages: len(c.entries),
		Hits:         c.hits,
		Misses:       c.misses,
	}
}
