// Package window — window.go
//
// Event-time sliding window over per-second buckets.
//
// Each zone owns two Window instances (60 s and 300 s). A window maps
// secondKey = floor(eventTimestamp/1000) to a {sum, count} bucket and keeps
// running totals so Average() is O(1).
//
// Eviction anchor:
//   - Add() evicts relative to the *incoming* event's second, never wall
//     time. The same ordered event sequence therefore always produces the
//     same window contents — replay gives identical averages.
//
// Late arrivals:
//   - An event whose own second already lies outside the window anchored at
//     the newest data is still inserted, because eviction is anchored at the
//     incoming second: it lands in a freshly created past bucket, which the
//     next in-window event then evicts. The transient effect on the average
//     is tiny but real. This is the intended behaviour; do not "fix" it.
//
// Drift:
//   - totalSum accumulates incrementally. Every rebuildEvery insertions it
//     is recomputed from the bucket sums so rounding error cannot grow
//     without bound on long-lived zones.
//
// Invariants (violations are programming errors and panic):
//   - totalCount ≥ 0 at all times.
//   - after Add at event-time t, every bucket key k satisfies
//     floor(t/1000) − k < sizeSeconds.

package window

import "fmt"

// rebuildEvery is the insertion interval at which totalSum is recomputed
// from bucket sums. 2^20 (1 048 576) keeps the rebuild (≤ sizeSeconds
// terms) far off the hot path while capping the incremental updates
// between rebuilds at about 10⁶.
const rebuildEvery = 1 << 20

// bucket accumulates load for a single event-time second.
type bucket struct {
	sum   float64
	count int64
}

// Window is a bucketed event-time sliding aggregation of load samples.
// Not safe for concurrent use; each instance is owned by one worker.
type Window struct {
	sizeSeconds int64
	buckets     map[int64]*bucket
	totalSum    float64
	totalCount  int64
	adds        uint64
}

// New creates a Window covering the trailing sizeSeconds of event time.
// sizeSeconds must be positive.
func New(sizeSeconds int64) *Window {
	if sizeSeconds <= 0 {
		panic(fmt.Sprintf("window.New: non-positive size %d", sizeSeconds))
	}
	return &Window{
		sizeSeconds: sizeSeconds,
		buckets:     make(map[int64]*bucket),
	}
}

// Add inserts one load sample at the given event timestamp (ms since
// epoch). Buckets that fall out of the window anchored at the incoming
// event's second are evicted first.
func (w *Window) Add(eventTimestampMS int64, load float64) {
	k := eventTimestampMS / 1000

	for key, b := range w.buckets {
		if k-key >= w.sizeSeconds {
			w.totalSum -= b.sum
			w.totalCount -= b.count
			delete(w.buckets, key)
		}
	}
	if w.totalCount < 0 {
		panic(fmt.Sprintf("window: negative totalCount %d after eviction at second %d", w.totalCount, k))
	}

	b := w.buckets[k]
	if b == nil {
		b = &bucket{}
		w.buckets[k] = b
	}
	b.sum += load
	b.count++
	w.totalSum += load
	w.totalCount++

	w.adds++
	if w.adds%rebuildEvery == 0 {
		w.rebuild()
	}
}

// Average returns totalSum/totalCount, or 0 for an empty window.
func (w *Window) Average() float64 {
	if w.totalCount == 0 {
		return 0
	}
	return w.totalSum / float64(w.totalCount)
}

// Count returns the number of samples currently inside the window.
func (w *Window) Count() int64 {
	return w.totalCount
}

// BucketSeconds returns the secondKeys of all live buckets. Test hook.
func (w *Window) BucketSeconds() []int64 {
	keys := make([]int64, 0, len(w.buckets))
	for k := range w.buckets {
		keys = append(keys, k)
	}
	return keys
}

// rebuild recomputes the running totals from the bucket contents.
func (w *Window) rebuild() {
	var sum float64
	var count int64
	for _, b := range w.buckets {
		sum += b.sum
		count += b.count
	}
	w.totalSum = sum
	w.totalCount = count
}
