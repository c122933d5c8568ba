// Package eviction orders cached images for removal. The entry with the
// lowest priority is evicted first; entries of equal priority leave in the
// order they were inserted.
package eviction

import (
	"container/heap"
	"log/slog"

	"github.com/leca/dt-image-store/internal/model"
)

// Entry is a cached image together with its eviction priority.
type Entry struct {
	Image    model.CachedImage
	Priority int
	seq      uint64
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a min-heap of cache entries keyed on priority. It is not safe for
// concurrent use; the owning cache serialises access.
type Queue struct {
	entries entryHeap
	seq     uint64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return q.entries.Len()
}

// Insert adds img with the given priority.
func (q *Queue) Insert(img model.CachedImage, priority int) {
	q.seq++
	heap.Push(&q.entries, &Entry{Image: img, Priority: priority, seq: q.seq})
}

// Bump raises the priority of every entry derived from originalName by delta.
// Entries are not indexed by name, so this rescans and re-heapifies.
func (q *Queue) Bump(originalName string, delta int) {
	changed := false
	for _, e := range q.entries {
		if e.Image.OriginalName == originalName {
			e.Priority += delta
			changed = true
		}
	}
	if changed {
		heap.Init(&q.entries)
	}
}

// Peek returns the next entry to be evicted without removing it.
func (q *Queue) Peek() (Entry, bool) {
	if q.entries.Len() == 0 {
		return Entry{}, false
	}
	return *q.entries[0], true
}

// Pop removes and returns the lowest-priority entry.
func (q *Queue) Pop() (Entry, bool) {
	if q.entries.Len() == 0 {
		return Entry{}, false
	}
	return *heap.Pop(&q.entries).(*Entry), true
}

// Contains reports whether any entry derived from originalName is queued.
func (q *Queue) Contains(originalName string) bool {
	for _, e := range q.entries {
		if e.Image.OriginalName == originalName {
			return true
		}
	}
	return false
}

// RequestEviction pops entries until at least target bytes are freed or the
// queue is empty. remove deletes the backing file of an entry; when it fails
// the entry is dropped but its size is not counted as freed, since the file
// may still occupy the disk. ok reports whether target was reached.
func (q *Queue) RequestEviction(target int64, remove func(model.CachedImage) error) (freed int64, ok bool) {
	for freed < target {
		e, found := q.Pop()
		if !found {
			break
		}
		if err := remove(e.Image); err != nil {
			slog.Error("evicting cached image",
				"original", e.Image.OriginalName,
				"resolution", e.Image.Resolution.String(),
				"error", err)
			continue
		}
		freed += e.Image.Size
	}
	return freed, freed >= target
}
