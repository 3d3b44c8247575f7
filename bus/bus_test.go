package bus

import (
	"testing"
	"time"

	"netscope/dissect"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	s := b.Subscribe()
	for i := 1; i <= 5; i++ {
		rec := dissect.Record{ID: uint64(i)}
		b.Publish(&rec)
	}

	var lastID uint64
	for i := 0; i < 5; i++ {
		ev := <-s.Recv()
		if ev.Record == nil {
			t.Fatalf("unexpected closed event")
		}
		if ev.Record.ID <= lastID {
			t.Fatalf("ids not strictly increasing: %d after %d", ev.Record.ID, lastID)
		}
		lastID = ev.Record.ID
	}
}

func TestOverflowIncrementsDroppedByOne(t *testing.T) {
	b := New()
	s := b.Subscribe()
	// Fill the queue completely without draining.
	for i := 0; i < DefaultQueueDepth; i++ {
		rec := dissect.Record{ID: uint64(i)}
		b.Publish(&rec)
	}
	if s.Dropped() != 0 {
		t.Fatalf("queue should not have overflowed yet, dropped=%d", s.Dropped())
	}
	rec := dissect.Record{ID: 999999}
	b.Publish(&rec)
	if s.Dropped() != 1 {
		t.Fatalf("want dropped=1 after exactly one overflow, got %d", s.Dropped())
	}
}

func TestSlowConsumerClosedAfterThreshold(t *testing.T) {
	b := New()
	s := b.Subscribe()
	// Fill the queue once, then publish enough additional records to cross
	// the drop threshold without ever draining the subscriber.
	total := DefaultQueueDepth + dropThreshold + 1
	for i := 0; i < total; i++ {
		rec := dissect.Record{ID: uint64(i)}
		b.Publish(&rec)
	}

	// Drain until we see the terminal sentinel.
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-s.Recv():
			if !ok {
				t.Fatalf("channel closed without sentinel event")
			}
			if ev.Closed {
				if ev.Reason != "closed: slow consumer" {
					t.Fatalf("unexpected close reason %q", ev.Reason)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for slow-consumer closure")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Unsubscribe(s.ID)
	if b.Count() != 0 {
		t.Fatalf("want 0 subscribers after unsubscribe, got %d", b.Count())
	}
}
