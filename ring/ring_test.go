package ring

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"netscope/dissect"
	"netscope/filter"
)

func push(b *Buffer, n int) {
	for i := 0; i < n; i++ {
		b.Push(dissect.Record{Timestamp: time.Now()})
	}
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	b := New(100)
	var last uint64
	for i := 0; i < 50; i++ {
		id := b.Push(dissect.Record{Timestamp: time.Now()})
		if id <= last {
			t.Fatalf("id %d did not increase past %d", id, last)
		}
		last = id
	}
}

func TestOverflowEvictsSingleOldest(t *testing.T) {
	b := New(10)
	push(b, 11)
	if b.Len() != 10 {
		t.Fatalf("want 10 records retained, got %d", b.Len())
	}
	all := b.Snapshot(filter.Predicate{}, 0, 0)
	// a single push past capacity evicts exactly the one record over, per
	// the boundary law: capacity C after C+1 pushes holds exactly C records.
	if all[0].ID != 2 {
		t.Fatalf("want first surviving id 2, got %d", all[0].ID)
	}
}

func TestOverflowCompactsInBatches(t *testing.T) {
	b := New(10)
	push(b, 30)
	if b.Len() != 10 {
		t.Fatalf("want 10 records retained, got %d", b.Len())
	}
	all := b.Snapshot(filter.Predicate{}, 0, 0)
	if all[0].ID != 21 {
		t.Fatalf("want first surviving id 21, got %d", all[0].ID)
	}
	if all[len(all)-1].ID != 30 {
		t.Fatalf("want last surviving id 30, got %d", all[len(all)-1].ID)
	}
}

func TestClearPreservesNextID(t *testing.T) {
	b := New(10)
	push(b, 5)
	before := b.NextID()
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("want 0 records after clear, got %d", b.Len())
	}
	id := b.Push(dissect.Record{Timestamp: time.Now()})
	if id < before {
		t.Fatalf("next id %d must be >= pre-clear next id %d", id, before)
	}
}

func TestSnapshotOffsetAndLimit(t *testing.T) {
	b := New(100)
	push(b, 20)
	p, _ := filter.Compile("")
	out := b.Snapshot(p, 5, 3)

	var gotIDs []uint64
	for _, r := range out {
		gotIDs = append(gotIDs, r.ID)
	}
	wantIDs := []uint64{5, 6, 7}
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Fatalf("snapshot ids mismatch (-want +got):\n%s", diff)
	}
}
