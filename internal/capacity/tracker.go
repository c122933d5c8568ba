// Package capacity keeps the disk budget shared by the permanent store and the
// transform cache, and decides whether a pending write can be admitted.
package capacity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/leca/dt-image-store/internal/metrics"
)

// ErrInsufficientCapacity is returned when a write cannot fit even after
// evicting cache entries.
var ErrInsufficientCapacity = errors.New("insufficient storage capacity")

// Decision classifies an admission request.
type Decision int

const (
	// Possible means the write fits in the remaining budget.
	Possible Decision = iota
	// NeedsEviction means the write fits only if cache entries are evicted.
	NeedsEviction
	// Impossible means the write does not fit even with an empty cache.
	Impossible
)

func (d Decision) String() string {
	switch d {
	case Possible:
		return "possible"
	case NeedsEviction:
		return "needs_eviction"
	case Impossible:
		return "impossible"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Evictor frees cache bytes on behalf of the tracker. Evict returns the number
// of bytes actually removed from disk.
type Evictor interface {
	Evict(target int64) int64
}

// Usage is a snapshot of the tracker counters.
type Usage struct {
	Total     int64 `json:"totalBytes"`
	Permanent int64 `json:"permanentBytes"`
	Cached    int64 `json:"cachedBytes"`
	Reserved  int64 `json:"reservedBytes"`
}

// Tracker maintains the running totals of permanent and cached bytes against
// a fixed total. All admission work (classify, evict, reserve) happens under
// a single mutex so two writers cannot both be admitted into room for one.
//
// Lock order: Tracker.mu is taken before any lock held by an Evictor.
type Tracker struct {
	mu        sync.Mutex
	total     int64
	permanent int64
	cached    int64
	// reserved counts bytes admitted for writes that have not finished yet.
	reserved int64
}

// NewTracker returns a tracker over a budget of total bytes.
func NewTracker(total int64) *Tracker {
	t := &Tracker{total: total}
	t.publish()
	return t
}

// DiskSize returns the total size of the filesystem that holds path.
func DiskSize(path string) (int64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("querying disk size of %s: %w", path, err)
	}
	return int64(usage.Total), nil
}

// Admit classifies a write of size bytes against the current counters.
// It has no side effects.
func (t *Tracker) Admit(size int64) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classify(size)
}

func (t *Tracker) classify(size int64) Decision {
	committed := t.permanent + t.reserved
	if committed+t.cached+size < t.total {
		return Possible
	}
	if committed+size < t.total {
		return NeedsEviction
	}
	return Impossible
}

// Reserve admits a write of size bytes, evicting through ev when needed.
// The returned reservation must be committed or released by the caller.
func (t *Tracker) Reserve(size int64, ev Evictor) (*Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.classify(size) {
	case Impossible:
		return nil, fmt.Errorf("%w: %d bytes requested", ErrInsufficientCapacity, size)
	case NeedsEviction:
		// Ask for the full write size, never less than the shortfall.
		need := max(size, t.permanent+t.cached+t.reserved+size-t.total+1)
		if ev == nil {
			return nil, fmt.Errorf("%w: no evictor for %d bytes", ErrInsufficientCapacity, need)
		}
		t.freeLocked(need, ev)
		if t.classify(size) != Possible {
			return nil, fmt.Errorf("%w: could not evict %d bytes", ErrInsufficientCapacity, need)
		}
	}

	t.reserved += size
	t.publish()
	return &Reservation{tracker: t, size: size}, nil
}

// Free asks ev to evict at least target bytes and reports whether it did.
func (t *Tracker) Free(target int64, ev Evictor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freeLocked(target, ev)
}

func (t *Tracker) freeLocked(target int64, ev Evictor) bool {
	freed := ev.Evict(target)
	t.cached -= freed
	t.publish()
	return freed >= target
}

// DropCached removes n bytes from the cached counter. It is used when a
// cached file that could not be evicted is overwritten by a new write that
// was credited on its own.
func (t *Tracker) DropCached(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cached = max(t.cached-n, 0)
	t.publish()
}

// AddPermanent credits bytes already present in the permanent store. It is
// used by the startup scan.
func (t *Tracker) AddPermanent(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.permanent += n
	t.publish()
}

// Usage returns a snapshot of the counters.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{Total: t.total, Permanent: t.permanent, Cached: t.cached, Reserved: t.reserved}
}

func (t *Tracker) publish() {
	metrics.SetDiskUsage(t.total, t.permanent, t.cached, t.reserved)
}

// Reservation holds admitted bytes until the write finishes.
type Reservation struct {
	tracker *Tracker
	size    int64
	done    bool
}

// Size returns the number of reserved bytes.
func (r *Reservation) Size() int64 {
	return r.size
}

// CommitPermanent credits n bytes to the permanent store and ends the reservation.
func (r *Reservation) CommitPermanent(n int64) {
	r.settle(func(t *Tracker) { t.permanent += n })
}

// CommitCached credits n bytes to the transform cache and ends the reservation.
func (r *Reservation) CommitCached(n int64) {
	r.settle(func(t *Tracker) { t.cached += n })
}

// Release ends the reservation without crediting anything. It is a no-op
// after a commit.
func (r *Reservation) Release() {
	r.settle(nil)
}

func (r *Reservation) settle(credit func(*Tracker)) {
	if r == nil {
		return
	}
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	t.reserved -= r.size
	if credit != nil {
		credit(t)
	}
	t.publish()
}
