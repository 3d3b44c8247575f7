// Package ring implements the bounded, monotonically-id'd packet log (C3).
// A single writer pushes records; many readers take consistent snapshots.
package ring

import (
	"sync"

	"netscope/dissect"
	"netscope/filter"
)

const (
	// DefaultCapacity is the ring's default size, per spec.md §4.3.
	DefaultCapacity = 50_000
	// evictionFraction sizes the compaction batch: the window drops its
	// logically-evicted prefix in one slice copy every time that prefix
	// grows to this fraction of capacity, instead of copying on every push.
	evictionFraction = 0.2
)

// Buffer is the ring buffer. Zero value is not usable; use New.
//
// Capacity is enforced exactly on every push (spec.md §8's boundary law:
// capacity C after C+1 pushes holds exactly C records). head marks how many
// leading entries of records are logically evicted but not yet physically
// dropped; draining them in compactBatch-sized batches amortizes the slice
// copy instead of paying it on every single push.
type Buffer struct {
	mu           sync.RWMutex
	capacity     int
	compactBatch int
	records      []dissect.Record
	head         int
	nextID       uint64
}

// New constructs a Buffer with the given capacity. capacity <= 0 means
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	compactBatch := int(float64(capacity) * evictionFraction)
	if compactBatch < 1 {
		compactBatch = 1
	}
	return &Buffer{
		capacity:     capacity,
		compactBatch: compactBatch,
		records:      make([]dissect.Record, 0, capacity),
		nextID:       1,
	}
}

// Push stamps the next id onto rec, appends it, evicts as needed, and
// returns the stamped id.
func (b *Buffer) Push(rec dissect.Record) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec.ID = b.nextID
	b.nextID++
	b.records = append(b.records, rec)

	if len(b.records)-b.head > b.capacity {
		b.head++
	}
	if b.head >= b.compactBatch {
		b.records = append(b.records[:0:0], b.records[b.head:]...)
		b.head = 0
	}

	return rec.ID
}

// Snapshot returns up to limit records with id >= offset satisfying pred,
// in id-ascending order. A consistent read: no torn records.
func (b *Buffer) Snapshot(pred filter.Predicate, offset uint64, limit int) []dissect.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 {
		limit = len(b.records)
	}

	out := make([]dissect.Record, 0, limit)
	for i := b.head; i < len(b.records); i++ {
		r := &b.records[i]
		if r.ID < offset {
			continue
		}
		if !pred.Match(r) {
			continue
		}
		out = append(out, *r)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Clear drops all records but preserves the next-id counter: the next push
// after Clear returns an id greater than every id issued before it.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = b.records[:0]
	b.head = 0
}

// Len returns the current number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) - b.head
}

// NextID returns the id that would be assigned to the next pushed record,
// without mutating state.
func (b *Buffer) NextID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextID
}
