// Package dispatch — offsets.go
//
// Per-partition completion tracking for at-least-once commits.
//
// Workers complete events out of arrival order across zones of the same
// partition (different zones, different workers). A Kafka commit is "all
// offsets up to X are consumed", so committing an offset whose
// predecessors are still in flight would lose them on a crash. The tracker
// therefore keeps, per partition, the lowest offset not yet completed and
// a set of completed offsets above it; the commit target is always the
// highest contiguous completed offset. Nothing is ever committed past a
// gap.

package dispatch

import "sync"

// CommitTarget names one partition offset safe to commit: every offset up
// to and including Offset has completed.
type CommitTarget struct {
	Topic     string
	Partition int
	Offset    int64
}

// OffsetTracker maintains per-partition contiguous completion watermarks.
// Safe for concurrent use by the ingress loop and all workers.
type OffsetTracker struct {
	mu    sync.Mutex
	topic string
	parts map[int]*partitionProgress
}

type partitionProgress struct {
	// next is the lowest offset not yet completed.
	next int64

	// done holds completed offsets ≥ next (the out-of-order tail).
	done map[int64]struct{}

	// committed is the last offset handed out as a commit target.
	committed int64

	dirty bool
}

// NewOffsetTracker creates a tracker for one subscribed topic.
func NewOffsetTracker(topic string) *OffsetTracker {
	return &OffsetTracker{
		topic: topic,
		parts: make(map[int]*partitionProgress),
	}
}

// Observe registers a fetched offset before it is dispatched. The first
// observation of a partition anchors its watermark; a redelivered offset
// below the watermark (group rebalance) re-anchors it.
func (t *OffsetTracker) Observe(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.parts[partition]
	if !ok {
		t.parts[partition] = &partitionProgress{
			next:      offset,
			done:      make(map[int64]struct{}),
			committed: offset - 1,
		}
		return
	}
	if offset < p.next {
		p.next = offset
	}
}

// Done marks an offset completed and advances the watermark across any
// now-contiguous run.
func (t *OffsetTracker) Done(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.parts[partition]
	if !ok {
		// Done before Observe is a programming error upstream; tolerate a
		// re-completion of an already-committed offset after rebalance.
		return
	}
	if offset < p.next {
		return
	}
	p.done[offset] = struct{}{}
	for {
		if _, ok := p.done[p.next]; !ok {
			break
		}
		delete(p.done, p.next)
		p.next++
		p.dirty = true
	}
}

// CommitTargets returns, for every partition whose watermark moved since
// the last call, the highest contiguous completed offset.
func (t *OffsetTracker) CommitTargets() []CommitTarget {
	t.mu.Lock()
	defer t.mu.Unlock()

	var targets []CommitTarget
	for partition, p := range t.parts {
		if !p.dirty {
			continue
		}
		target := p.next - 1
		if target <= p.committed {
			p.dirty = false
			continue
		}
		targets = append(targets, CommitTarget{
			Topic:     t.topic,
			Partition: partition,
			Offset:    target,
		})
		p.committed = target
		p.dirty = false
	}
	return targets
}

// Lag reports processed-but-uncommitted plus out-of-order pending offsets
// summed over all partitions. Feeds the commit-lag gauge.
func (t *OffsetTracker) Lag() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lag int64
	for _, p := range t.parts {
		lag += (p.next - 1 - p.committed) + int64(len(p.done))
	}
	return lag
}
