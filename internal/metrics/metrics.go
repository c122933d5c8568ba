// Package metrics provides Prometheus metrics for the image store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dtimages"

var (
	// CacheLookups counts transform cache lookups by result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of transform cache lookups",
		},
		[]string{"result"},
	)

	// CacheWrites counts transform cache population attempts by status.
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of transform cache writes",
		},
		[]string{"status"},
	)

	// EvictedBytes counts bytes freed by evicting cache entries.
	EvictedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Total number of bytes freed by cache eviction",
		},
	)

	// EvictedEntries counts evicted cache entries by status (removed, failed).
	EvictedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_entries_total",
			Help:      "Total number of cache entries popped for eviction",
		},
		[]string{"status"},
	)

	// Uploads counts upload attempts by status.
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of image uploads",
		},
		[]string{"status"},
	)

	// DiskBytes tracks the capacity budget by kind (total, permanent, cached, reserved).
	DiskBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_bytes",
			Help:      "Bytes accounted by the capacity tracker",
		},
		[]string{"kind"},
	)
)

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// RecordCacheWrite records the outcome of a cache write.
func RecordCacheWrite(status string) {
	CacheWrites.WithLabelValues(status).Inc()
}

// RecordEviction records one popped eviction entry.
func RecordEviction(size int64, removed bool) {
	if !removed {
		EvictedEntries.WithLabelValues("failed").Inc()
		return
	}
	EvictedEntries.WithLabelValues("removed").Inc()
	EvictedBytes.Add(float64(size))
}

// RecordUpload records the outcome of an upload.
func RecordUpload(status string) {
	Uploads.WithLabelValues(status).Inc()
}

// SetDiskUsage publishes the capacity counters.
func SetDiskUsage(total, permanent, cached, reserved int64) {
	DiskBytes.WithLabelValues("total").Set(float64(total))
	DiskBytes.WithLabelValues("permanent").Set(float64(permanent))
	DiskBytes.WithLabelValues("cached").Set(float64(cached))
	DiskBytes.WithLabelValues("reserved").Set(float64(reserved))
}
