package metrics

import (
	"sync/atomic"
	"time"
)

const (
	// HistogramBuckets is the number of fixed latency buckets (≤5ms … +Inf).
	HistogramBuckets = 8
	cacheLineSize    = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [HistogramBuckets]uint64
}

// Registry holds a fixed number of counters and latency histograms addressed
// by dense integer ids.
type Registry struct {
	counters   []paddedCounter
	histograms []histogram
}

func NewRegistry(counters, histograms int) *Registry {
	if counters < 0 {
		counters = 0
	}
	if histograms < 0 {
		histograms = 0
	}
	return &Registry{
		counters:   make([]paddedCounter, counters),
		histograms: make([]histogram, histograms),
	}
}

func (r *Registry) Inc(id int) {
	if r == nil || id < 0 || id >= len(r.counters) {
		return
	}
	atomic.AddUint64(&r.counters[id].value, 1)
}

func (r *Registry) Value(id int) uint64 {
	if r == nil || id < 0 || id >= len(r.counters) {
		return 0
	}
	return atomic.LoadUint64(&r.counters[id].value)
}

func (r *Registry) Observe(id int, d time.Duration) {
	if r == nil || id < 0 || id >= len(r.histograms) {
		return
	}
	atomic.AddUint64(&r.histograms[id].buckets[BucketIndex(d)], 1)
}

// Buckets returns the non-cumulative bucket counts for histogram id.
func (r *Registry) Buckets(id int) []uint64 {
	out := make([]uint64, HistogramBuckets)
	if r == nil || id < 0 || id >= len(r.histograms) {
		return out
	}
	for i := range out {
		out[i] = atomic.LoadUint64(&r.histograms[id].buckets[i])
	}
	return out
}

func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
